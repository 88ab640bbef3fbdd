package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	insightsclient "github.com/Apurer/go-annotation-service/internal/clients/http/insights"

	"github.com/Apurer/go-annotation-service/internal/domains/annotations/adapters/external/insights"
	annotationhttp "github.com/Apurer/go-annotation-service/internal/domains/annotations/adapters/http"
	annotationmemory "github.com/Apurer/go-annotation-service/internal/domains/annotations/adapters/memory"
	annotationobs "github.com/Apurer/go-annotation-service/internal/domains/annotations/adapters/observability"
	annotationpostgres "github.com/Apurer/go-annotation-service/internal/domains/annotations/adapters/persistence/postgres"
	annotationredis "github.com/Apurer/go-annotation-service/internal/domains/annotations/adapters/persistence/redis"
	annotationapp "github.com/Apurer/go-annotation-service/internal/domains/annotations/application"
	"github.com/Apurer/go-annotation-service/internal/domains/annotations/domain"
	annotationports "github.com/Apurer/go-annotation-service/internal/domains/annotations/ports"
	"github.com/Apurer/go-annotation-service/internal/platform/migrations"
	platformobservability "github.com/Apurer/go-annotation-service/internal/platform/observability"
	platformpostgres "github.com/Apurer/go-annotation-service/internal/platform/postgres"
	"github.com/Apurer/go-annotation-service/internal/shared/ratelimit"
)

// Run boots the annotation HTTP API with observability, cache store, and remote source wired.
func Run(ctx context.Context) error {
	const serviceName = "annotation-api"
	instruments, shutdown, err := platformobservability.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			instruments.Logger.Error("failed to shutdown observability", slog.String("error", err.Error()))
		}
	}()
	logger := instruments.Logger

	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	cacheStore, cleanupStore := buildCacheStore(ctx, cfg, logger)
	defer cleanupStore()

	client, err := insightsclient.NewClient(cfg.InsightsBaseURL,
		insightsclient.WithHTTPClient(&http.Client{Timeout: cfg.InsightsTimeout}))
	if err != nil {
		return fmt.Errorf("failed to configure insights client: %w", err)
	}

	gate := ratelimit.NewGate()
	sourceOpts := []insights.Option{insights.WithLogger(logger)}
	if cfg.FetchRPS > 0 {
		sourceOpts = append(sourceOpts, insights.WithPacer(rate.NewLimiter(rate.Limit(cfg.FetchRPS), 1)))
		logger.Info("outgoing fetches paced", slog.Float64("rps", cfg.FetchRPS))
	}
	source := insights.NewSource(client, gate, sourceOpts...)

	coreService := annotationapp.NewService(cacheStore, source, gate,
		annotationapp.WithParams(domain.FetchParams{WindowDays: cfg.WindowDays, SampleLimit: cfg.SampleLimit}),
		annotationapp.WithTTL(cfg.AnnotationTTL),
		annotationapp.WithMaxRetries(cfg.MaxRetries),
		annotationapp.WithBackoffCap(cfg.BackoffCap),
		annotationapp.WithGiveUpCooldown(cfg.GiveUpCooldown),
		annotationapp.WithLogger(logger),
		annotationapp.WithListener(annotationobs.NewListener(logger)),
	)
	service := annotationobs.New(
		coreService,
		annotationobs.WithLogger(logger),
		annotationobs.WithTracer(instruments.Tracer("internal.annotations.application")),
		annotationobs.WithMeter(instruments.Meter("internal.annotations.application")),
	)

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))
	annotationhttp.NewAnnotationAPI(service).Register(router)

	addr := ":" + cfg.Port
	logger.Info("annotation API listening", slog.String("addr", addr))
	if err := router.Run(addr); err != nil {
		logger.Error("annotation API server exited", slog.String("addr", addr), slog.String("error", err.Error()))
		return err
	}
	return nil
}

// buildCacheStore picks the first reachable store: redis, then postgres,
// then process-local memory.
func buildCacheStore(ctx context.Context, cfg Config, logger *slog.Logger) (annotationports.CacheStore, func()) {
	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			logger.Info("annotation cache store configured with redis", slog.String("addr", cfg.RedisAddr))
			return annotationredis.NewCacheStore(rdb, annotationredis.WithMaxAge(cfg.AnnotationTTL)),
				func() { _ = rdb.Close() }
		}
		logger.Warn("failed to connect to redis, trying postgres", slog.String("error", err.Error()))
		_ = rdb.Close()
	}
	if cfg.PostgresDSN != "" {
		db, err := platformpostgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Warn("failed to connect to postgres, falling back to in-memory cache store", slog.String("error", err.Error()))
		} else if sqlDB, dbErr := db.DB(); dbErr != nil {
			logger.Warn("failed to unwrap postgres connection, falling back to in-memory cache store", slog.String("error", dbErr.Error()))
		} else if migrateErr := migrations.Run(db); migrateErr != nil {
			logger.Warn("failed to run migrations, falling back to in-memory cache store", slog.String("error", migrateErr.Error()))
			_ = sqlDB.Close()
		} else {
			logger.Info("annotation cache store configured with postgres")
			return annotationpostgres.NewCacheStore(db), func() { _ = sqlDB.Close() }
		}
	}
	logger.Warn("no durable store configured, using in-memory annotation cache")
	return annotationmemory.NewCacheStore(), func() {}
}
