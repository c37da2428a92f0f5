package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"p2precon/internal/bybit"
)

type Config struct {
	RunAddress  string
	DatabaseURI string
	JWTSecret   string
	KVPath      string
	LogLevel    slog.Level

	BybitBaseURL   string
	BybitAPIKey    string
	BybitAPISecret string
	BybitUseAPI    bool

	SyncInterval      time.Duration
	SyncMaxPages      int
	SyncPageSize      int
	RetryCount        int
	RetryDelay        time.Duration
	DetailConcurrency int

	AdminLogin    string
	AdminPassword string
}

func New() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := Load(os.Args[1:])
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	return cfg
}

// Load reads flags from args, then lets environment variables override them.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	fs := flag.NewFlagSet("p2precon", flag.ContinueOnError)

	var testnet bool
	var logLevel string
	fs.StringVar(&cfg.RunAddress, "a", "localhost:8080", "server address and port")
	fs.StringVar(&cfg.DatabaseURI, "d", "sqlite://p2precon.db", "database URI (postgres://... or sqlite://path)")
	fs.StringVar(&cfg.JWTSecret, "s", "super-secret-jwt-key", "jwt signing key")
	fs.StringVar(&cfg.KVPath, "k", "data/kv", "pebble directory for overrides and settings")
	fs.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.BybitBaseURL, "bybit-url", "", "exchange API base URL")
	fs.BoolVar(&testnet, "testnet", false, "use the exchange testnet")
	fs.DurationVar(&cfg.SyncInterval, "sync-interval", 5*time.Minute, "background sync interval")
	fs.IntVar(&cfg.SyncMaxPages, "sync-max-pages", 5, "max list pages per sync pass")
	fs.IntVar(&cfg.SyncPageSize, "sync-page-size", 50, "orders per list page")
	fs.IntVar(&cfg.RetryCount, "retry-count", bybit.DefaultRetries, "retries per exchange request")
	fs.DurationVar(&cfg.RetryDelay, "retry-delay", bybit.DefaultRetryDelay, "delay between retries")
	fs.IntVar(&cfg.DetailConcurrency, "detail-concurrency", 4, "concurrent order detail requests")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.RunAddress = getEnv("RUN_ADDRESS", cfg.RunAddress)
	cfg.DatabaseURI = getEnv("DATABASE_URI", cfg.DatabaseURI)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.KVPath = getEnv("KV_PATH", cfg.KVPath)
	cfg.BybitBaseURL = getEnv("BYBIT_BASE_URL", cfg.BybitBaseURL)
	cfg.BybitAPIKey = getEnv("BYBIT_API_KEY", "")
	cfg.BybitAPISecret = getEnv("BYBIT_API_SECRET", "")
	cfg.AdminLogin = getEnv("ADMIN_LOGIN", "")
	cfg.AdminPassword = getEnv("ADMIN_PASSWORD", "")
	logLevel = getEnv("LOG_LEVEL", logLevel)

	var err error
	if cfg.BybitUseAPI, err = getEnvBool("BYBIT_USE_API", cfg.BybitAPIKey != ""); err != nil {
		return nil, err
	}
	if testnet, err = getEnvBool("BYBIT_TESTNET", testnet); err != nil {
		return nil, err
	}
	if cfg.SyncInterval, err = getEnvDuration("SYNC_INTERVAL", cfg.SyncInterval); err != nil {
		return nil, err
	}
	if cfg.RetryDelay, err = getEnvDuration("RETRY_DELAY", cfg.RetryDelay); err != nil {
		return nil, err
	}
	if cfg.SyncMaxPages, err = getEnvInt("SYNC_MAX_PAGES", cfg.SyncMaxPages); err != nil {
		return nil, err
	}
	if cfg.SyncPageSize, err = getEnvInt("SYNC_PAGE_SIZE", cfg.SyncPageSize); err != nil {
		return nil, err
	}
	if cfg.RetryCount, err = getEnvInt("RETRY_COUNT", cfg.RetryCount); err != nil {
		return nil, err
	}
	if cfg.DetailConcurrency, err = getEnvInt("DETAIL_CONCURRENCY", cfg.DetailConcurrency); err != nil {
		return nil, err
	}

	if cfg.BybitBaseURL == "" {
		cfg.BybitBaseURL = bybit.MainnetURL
		if testnet {
			cfg.BybitBaseURL = bybit.TestnetURL
		}
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

// BybitOptions maps retry settings onto client options; a zero retry count disables retrying.
func (c *Config) BybitOptions() bybit.Options {
	retries := c.RetryCount
	if retries == 0 {
		retries = -1
	}
	return bybit.Options{
		BaseURL:    c.BybitBaseURL,
		Retries:    retries,
		RetryDelay: c.RetryDelay,
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
