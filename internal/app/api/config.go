package api

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries environment-driven settings for the API process.
type Config struct {
	Port            string
	PostgresDSN     string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	InsightsBaseURL string
	InsightsTimeout time.Duration
	AnnotationTTL   time.Duration
	MaxRetries      int
	BackoffCap      time.Duration
	GiveUpCooldown  time.Duration
	WindowDays      int
	SampleLimit     int
	FetchRPS        float64
}

// LoadConfig reads environment variables, applies defaults, and validates basic constraints.
func LoadConfig() (Config, error) {
	cfg := Config{
		Port:            envDefault("PORT", "8080"),
		PostgresDSN:     strings.TrimSpace(os.Getenv("POSTGRES_DSN")),
		RedisAddr:       strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		InsightsBaseURL: strings.TrimSpace(os.Getenv("INSIGHTS_BASE_URL")),
	}
	if cfg.InsightsBaseURL == "" {
		return Config{}, fmt.Errorf("INSIGHTS_BASE_URL is required")
	}

	redisDB, err := envNonNegativeInt("REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.RedisDB = redisDB

	timeoutSeconds, err := envPositiveInt("INSIGHTS_TIMEOUT_SECONDS", 10)
	if err != nil {
		return Config{}, err
	}
	cfg.InsightsTimeout = time.Duration(timeoutSeconds) * time.Second

	ttlHours, err := envPositiveInt("ANNOTATION_TTL_HOURS", 168)
	if err != nil {
		return Config{}, err
	}
	cfg.AnnotationTTL = time.Duration(ttlHours) * time.Hour

	maxRetries, err := envPositiveInt("MAX_RETRIES", 5)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxRetries = maxRetries

	backoffCapSeconds, err := envPositiveInt("RETRY_BACKOFF_CAP_SECONDS", 60)
	if err != nil {
		return Config{}, err
	}
	cfg.BackoffCap = time.Duration(backoffCapSeconds) * time.Second

	cooldownMinutes, err := envPositiveInt("GIVEUP_COOLDOWN_MINUTES", 15)
	if err != nil {
		return Config{}, err
	}
	cfg.GiveUpCooldown = time.Duration(cooldownMinutes) * time.Minute

	windowDays, err := envPositiveInt("REMARK_WINDOW_DAYS", 90)
	if err != nil {
		return Config{}, err
	}
	cfg.WindowDays = windowDays

	sampleLimit, err := envPositiveInt("REMARK_SAMPLE_LIMIT", 200)
	if err != nil {
		return Config{}, err
	}
	cfg.SampleLimit = sampleLimit

	if raw := strings.TrimSpace(os.Getenv("FETCH_RPS")); raw != "" {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil || rps < 0 {
			return Config{}, fmt.Errorf("FETCH_RPS must be a non-negative number")
		}
		cfg.FetchRPS = rps
	}

	return cfg, nil
}

func envDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func envPositiveInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return n, nil
}

func envNonNegativeInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}
