package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MigrationsPath  string
}

type StripeConfig struct {
	SecretKey      string
	WebhookSecret  string
	APIBaseURL     string
	RequestTimeout time.Duration
}

type Config struct {
	App struct {
		Port string
	}
	Postgres    PostgresConfig
	Stripe      StripeConfig
	FrontendURL string
	OTLP        struct {
		Endpoint string
	}
}

// Load reads configuration from the environment. If path is non-empty the
// .env file at that path is loaded first; missing file is not an error so
// containerized deployments can rely on real env vars only.
func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: failed to load %s: %w", path, err)
		}
	}

	cfg := &Config{}

	cfg.App.Port = getEnv("APP_PORT", "8080")

	cfg.Postgres.Host = os.Getenv("DB_HOST")
	cfg.Postgres.Port = getEnv("DB_PORT", "5432")
	cfg.Postgres.User = os.Getenv("DB_USER")
	cfg.Postgres.Password = os.Getenv("DB_PASSWORD")
	cfg.Postgres.DBName = os.Getenv("DB_NAME")
	cfg.Postgres.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Postgres.MigrationsPath = getEnv("DB_MIGRATIONS_PATH", "internal/db/migrations")

	maxConns, err := getEnvInt("DB_MAX_CONNS", 10)
	if err != nil {
		return nil, err
	}
	cfg.Postgres.MaxConns = int32(maxConns)

	minConns, err := getEnvInt("DB_MIN_CONNS", 2)
	if err != nil {
		return nil, err
	}
	cfg.Postgres.MinConns = int32(minConns)

	lifetimeMin, err := getEnvInt("DB_MAX_CONN_LIFETIME_MIN", 30)
	if err != nil {
		return nil, err
	}
	cfg.Postgres.MaxConnLifetime = time.Duration(lifetimeMin) * time.Minute

	cfg.Stripe.SecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.Stripe.WebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	cfg.Stripe.APIBaseURL = getEnv("STRIPE_API_BASE_URL", "https://api.stripe.com")

	timeoutSec, err := getEnvInt("STRIPE_TIMEOUT_SEC", 10)
	if err != nil {
		return nil, err
	}
	cfg.Stripe.RequestTimeout = time.Duration(timeoutSec) * time.Second

	cfg.FrontendURL = os.Getenv("FRONTEND_URL")
	cfg.OTLP.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")

	for name, value := range map[string]string{
		"DB_HOST":               cfg.Postgres.Host,
		"DB_USER":               cfg.Postgres.User,
		"DB_PASSWORD":           cfg.Postgres.Password,
		"DB_NAME":               cfg.Postgres.DBName,
		"STRIPE_SECRET_KEY":     cfg.Stripe.SecretKey,
		"STRIPE_WEBHOOK_SECRET": cfg.Stripe.WebhookSecret,
		"FRONTEND_URL":          cfg.FrontendURL,
	} {
		if value == "" {
			return nil, fmt.Errorf("config: %s is required", name)
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q", key, raw)
	}
	return value, nil
}
