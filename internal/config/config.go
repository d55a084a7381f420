package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is read from an optional YAML file named by CONFIG_FILE and then
// from the environment; a non-empty environment variable wins.
type Config struct {
	Port                  string `yaml:"port"`
	AllowedOrigin         string `yaml:"allowed_origin"`
	DatabaseURL           string `yaml:"database_url"`
	RedisAddr             string `yaml:"redis_addr"`
	RedisPassword         string `yaml:"redis_password"`
	RedisDB               int    `yaml:"redis_db"`
	NatsURL               string `yaml:"nats_url"`
	NatsClusterID         string `yaml:"nats_cluster_id"`
	NotifyBackend         string `yaml:"notify_backend"`
	StoreID               string `yaml:"store_id"`
	TerminalID            string `yaml:"terminal_id"`
	QueuePath             string `yaml:"queue_path"`
	SyncIntervalSeconds   int    `yaml:"sync_interval_seconds"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	MaxTransactionCents   int64  `yaml:"max_transaction_cents"`
	ConflictRule          string `yaml:"conflict_rule"`
	AuthSecret            string `yaml:"auth_secret"`
	AccessTokenTTLMinutes int    `yaml:"access_token_ttl_minutes"`
	ManagerPIN            string `yaml:"manager_pin"`
	LogDev                bool   `yaml:"log_dev"`
}

const (
	NotifyNone  = "none"
	NotifyRedis = "redis"
	NotifyStan  = "stan"
)

func defaults() Config {
	return Config{
		Port:                  "8080",
		AllowedOrigin:         "http://127.0.0.1:3000",
		NatsClusterID:         "kasirinaja",
		StoreID:               "main-store",
		TerminalID:            "T-01",
		SyncIntervalSeconds:   5,
		RequestTimeoutSeconds: 8,
		MaxTransactionCents:   10_000_000_000,
		ConflictRule:          "reject_if_server_newer",
		AccessTokenTTLMinutes: 480,
	}
}

func Load() (Config, error) {
	return LoadFrom(os.Getenv("CONFIG_FILE"))
}

// LoadFrom reads the YAML file at path, when path is not empty, and applies
// the environment on top.
func LoadFrom(path string) (Config, error) {
	cfg := defaults()

	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.AllowedOrigin = getEnv("ALLOWED_ORIGIN", cfg.AllowedOrigin)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.NatsURL = getEnv("NATS_URL", cfg.NatsURL)
	cfg.NatsClusterID = getEnv("NATS_CLUSTER_ID", cfg.NatsClusterID)
	cfg.NotifyBackend = getEnv("NOTIFY_BACKEND", cfg.NotifyBackend)
	cfg.StoreID = getEnv("DEFAULT_STORE_ID", cfg.StoreID)
	cfg.TerminalID = getEnv("TERMINAL_ID", cfg.TerminalID)
	cfg.QueuePath = getEnv("QUEUE_PATH", cfg.QueuePath)
	cfg.SyncIntervalSeconds = getEnvInt("SYNC_INTERVAL_SECONDS", cfg.SyncIntervalSeconds)
	cfg.RequestTimeoutSeconds = getEnvInt("REQUEST_TIMEOUT_SECONDS", cfg.RequestTimeoutSeconds)
	cfg.MaxTransactionCents = int64(getEnvInt("MAX_TRANSACTION_CENTS", int(cfg.MaxTransactionCents)))
	cfg.ConflictRule = getEnv("CONFLICT_RULE", cfg.ConflictRule)
	cfg.AuthSecret = strings.TrimSpace(getEnv("AUTH_SECRET", cfg.AuthSecret))
	cfg.AccessTokenTTLMinutes = getEnvInt("ACCESS_TOKEN_TTL_MINUTES", cfg.AccessTokenTTLMinutes)
	cfg.ManagerPIN = strings.TrimSpace(getEnv("MANAGER_PIN", cfg.ManagerPIN))
	cfg.LogDev = getEnvBool("LOG_DEV", cfg.LogDev)

	if cfg.NotifyBackend == "" {
		cfg.NotifyBackend = NotifyNone
		if cfg.RedisAddr != "" {
			cfg.NotifyBackend = NotifyRedis
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.SyncIntervalSeconds < 1 {
		errs = append(errs, errors.New("SYNC_INTERVAL_SECONDS must be at least 1"))
	}
	if c.RequestTimeoutSeconds < 1 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT_SECONDS must be at least 1"))
	}
	if c.MaxTransactionCents < 1 {
		errs = append(errs, errors.New("MAX_TRANSACTION_CENTS must be positive"))
	}
	if c.AccessTokenTTLMinutes < 1 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL_MINUTES must be at least 1"))
	}
	switch c.ConflictRule {
	case "reject_if_server_newer", "force_apply":
	default:
		errs = append(errs, fmt.Errorf("CONFLICT_RULE %q is not supported", c.ConflictRule))
	}
	switch c.NotifyBackend {
	case NotifyNone:
	case NotifyRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("NOTIFY_BACKEND=redis requires REDIS_ADDR"))
		}
	case NotifyStan:
		if c.NatsURL == "" {
			errs = append(errs, errors.New("NOTIFY_BACKEND=stan requires NATS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("NOTIFY_BACKEND %q is not supported", c.NotifyBackend))
	}
	return errors.Join(errs...)
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(val))
	if err != nil {
		return fallback
	}
	return b
}
