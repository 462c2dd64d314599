package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the orchestrator.
// Values are loaded from environment variables; see the serve command usage
// for the full list.
type Config struct {
	HTTPAddr   string `json:"http_addr"`
	RoutesPath string `json:"routes_path"`

	ServiceName string `json:"service_name"`
	Env         string `json:"env"`

	LedgerBackend string `json:"ledger_backend"` // "memory", "redis" or "postgres"
	RedisAddr     string `json:"redis_addr,omitempty"`
	DatabaseURL   string `json:"database_url,omitempty"`

	LedgerRetention    time.Duration `json:"-"`
	LedgerRetentionStr string        `json:"ledger_retention"`

	SweepInterval    time.Duration `json:"-"`
	SweepIntervalStr string        `json:"sweep_interval"`
	SweepSchedule    string        `json:"sweep_schedule,omitempty"`

	DeliveryTimeout    time.Duration `json:"-"`
	DeliveryTimeoutStr string        `json:"delivery_timeout"`

	FanoutMaxPerEnvelope int `json:"fanout_max_per_envelope"`
	FanoutMaxGlobal      int `json:"fanout_max_global"`

	ConsumerWorkers int `json:"consumer_workers"`
	QueueBufferSize int `json:"queue_buffer_size"`

	DrainTimeout    time.Duration `json:"-"`
	DrainTimeoutStr string        `json:"drain_timeout"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		HTTPAddr:                  os.Getenv("HTTP_ADDR"),
		RoutesPath:                os.Getenv("ROUTES_PATH"),
		ServiceName:               os.Getenv("SERVICE_NAME"),
		Env:                       os.Getenv("ENV"),
		LedgerBackend:             os.Getenv("LEDGER_BACKEND"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		LedgerRetentionStr:        os.Getenv("LEDGER_RETENTION"),
		SweepIntervalStr:          os.Getenv("SWEEP_INTERVAL"),
		SweepSchedule:             os.Getenv("SWEEP_SCHEDULE"),
		DeliveryTimeoutStr:        os.Getenv("DELIVERY_TIMEOUT"),
		DrainTimeoutStr:           os.Getenv("DRAIN_TIMEOUT"),
		HTTPShutdownTimeoutStr:    os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsEnabled:            os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:               os.Getenv("METRICS_PATH"),
		MetricsPort:               os.Getenv("METRICS_PORT"),
		CircuitBreakerCooldownStr: os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		DBOpTimeoutStr:            os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:      os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:      os.Getenv("DB_CONN_MAX_IDLE_TIME"),
	}

	cfg.FanoutMaxPerEnvelope = envInt("FANOUT_MAX_PER_ENVELOPE", 4)
	cfg.FanoutMaxGlobal = envInt("FANOUT_MAX_GLOBAL", 64)
	cfg.ConsumerWorkers = envInt("CONSUMER_WORKERS", 4)
	cfg.QueueBufferSize = envInt("QUEUE_BUFFER_SIZE", 100)
	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)

	if threshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); threshStr != "" {
		if n, err := strconv.Atoi(threshStr); err == nil && n >= 0 {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", threshStr)
			cfg.CircuitBreakerThreshold = 5
		}
	} else {
		cfg.CircuitBreakerThreshold = 5
	}

	if cfg.LedgerBackend == "" {
		cfg.LedgerBackend = "memory"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "orchestrator"
	}
	if cfg.Env == "" {
		cfg.Env = "prod"
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.LedgerRetentionStr == "" {
		cfg.LedgerRetentionStr = "24h"
	}
	if cfg.SweepIntervalStr == "" {
		cfg.SweepIntervalStr = "5m"
	}
	if cfg.DeliveryTimeoutStr == "" {
		cfg.DeliveryTimeoutStr = "30s"
	}
	if cfg.DrainTimeoutStr == "" {
		cfg.DrainTimeoutStr = "30s"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.LedgerRetentionStr); err == nil {
		cfg.LedgerRetention = d
	}
	if d, err := time.ParseDuration(cfg.SweepIntervalStr); err == nil {
		cfg.SweepInterval = d
	}
	if d, err := time.ParseDuration(cfg.DeliveryTimeoutStr); err == nil {
		cfg.DeliveryTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DrainTimeoutStr); err == nil {
		cfg.DrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}

	return cfg
}

func envInt(name string, fallback int) int {
	s := os.Getenv(name)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		log.Printf("config: invalid %s %q (must be a positive integer), using default %d", name, s, fallback)
		return fallback
	}
	return n
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
