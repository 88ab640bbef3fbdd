package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	annotationpostgres "github.com/Apurer/go-annotation-service/internal/domains/annotations/adapters/persistence/postgres"
	platformpostgres "github.com/Apurer/go-annotation-service/internal/platform/postgres"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	db, cleanup := platformpostgres.ConnectFromEnv(ctx, logger)
	defer cleanup()
	if db == nil {
		log.Fatal("POSTGRES_DSN not set or connection failed; cannot purge annotations")
	}

	store := annotationpostgres.NewCacheStore(db)
	removed, err := store.PurgeExpired(ctx, annotationTTLFromEnv())
	if err != nil {
		log.Fatalf("failed to purge annotations: %v", err)
	}
	log.Printf("annotation purge completed, removed %d rows", removed)
}

func annotationTTLFromEnv() time.Duration {
	raw := strings.TrimSpace(os.Getenv("ANNOTATION_TTL_HOURS"))
	if raw == "" {
		return annotationpostgres.DefaultAnnotationTTL
	}
	hours, err := strconv.Atoi(raw)
	if err != nil || hours <= 0 {
		return annotationpostgres.DefaultAnnotationTTL
	}
	return time.Duration(hours) * time.Hour
}
