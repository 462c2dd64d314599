package config

import (
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"
)

func clearEnv() {
	for _, name := range []string{
		"HTTP_ADDR", "PORT", "ROUTES_PATH", "SERVICE_NAME", "ENV",
		"LEDGER_BACKEND", "REDIS_ADDR", "DATABASE_URL", "LEDGER_RETENTION",
		"SWEEP_INTERVAL", "SWEEP_SCHEDULE", "DELIVERY_TIMEOUT",
		"FANOUT_MAX_PER_ENVELOPE", "FANOUT_MAX_GLOBAL",
		"CONSUMER_WORKERS", "QUEUE_BUFFER_SIZE", "DRAIN_TIMEOUT",
		"HTTP_SHUTDOWN_TIMEOUT", "METRICS_ENABLED", "METRICS_PATH", "METRICS_PORT",
		"CIRCUIT_BREAKER_THRESHOLD", "CIRCUIT_BREAKER_COOLDOWN",
		"DB_OP_TIMEOUT", "DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS",
		"DB_CONN_MAX_LIFETIME", "DB_CONN_MAX_IDLE_TIME",
	} {
		os.Unsetenv(name)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv()
	cfg := Load()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr: got %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.LedgerBackend != "memory" {
		t.Errorf("LedgerBackend: got %q, want memory", cfg.LedgerBackend)
	}
	if cfg.ServiceName != "orchestrator" {
		t.Errorf("ServiceName: got %q, want orchestrator", cfg.ServiceName)
	}
	if cfg.Env != "prod" {
		t.Errorf("Env: got %q, want prod", cfg.Env)
	}
	if cfg.LedgerRetention != 24*time.Hour {
		t.Errorf("LedgerRetention: got %v, want 24h", cfg.LedgerRetention)
	}
	if cfg.SweepInterval != 5*time.Minute {
		t.Errorf("SweepInterval: got %v, want 5m", cfg.SweepInterval)
	}
	if cfg.DeliveryTimeout != 30*time.Second {
		t.Errorf("DeliveryTimeout: got %v, want 30s", cfg.DeliveryTimeout)
	}
	if cfg.FanoutMaxPerEnvelope != 4 || cfg.FanoutMaxGlobal != 64 {
		t.Errorf("fanout bounds: got %d/%d, want 4/64", cfg.FanoutMaxPerEnvelope, cfg.FanoutMaxGlobal)
	}
	if cfg.ConsumerWorkers != 4 || cfg.QueueBufferSize != 100 {
		t.Errorf("consumer: got workers=%d buffer=%d, want 4/100", cfg.ConsumerWorkers, cfg.QueueBufferSize)
	}
	if cfg.CircuitBreakerThreshold != 5 {
		t.Errorf("CircuitBreakerThreshold: got %d, want 5", cfg.CircuitBreakerThreshold)
	}
	if cfg.MetricsEnabled {
		t.Error("MetricsEnabled: expected false by default")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv()
	os.Setenv("LEDGER_BACKEND", "redis")
	os.Setenv("REDIS_ADDR", "localhost:6379")
	os.Setenv("LEDGER_RETENTION", "1h")
	os.Setenv("FANOUT_MAX_PER_ENVELOPE", "8")
	os.Setenv("METRICS_ENABLED", "true")
	defer clearEnv()

	cfg := Load()

	if cfg.LedgerBackend != "redis" {
		t.Errorf("LedgerBackend: got %q, want redis", cfg.LedgerBackend)
	}
	if cfg.LedgerRetention != time.Hour {
		t.Errorf("LedgerRetention: got %v, want 1h", cfg.LedgerRetention)
	}
	if cfg.FanoutMaxPerEnvelope != 8 {
		t.Errorf("FanoutMaxPerEnvelope: got %d, want 8", cfg.FanoutMaxPerEnvelope)
	}
	if !cfg.MetricsEnabled {
		t.Error("MetricsEnabled: expected true")
	}
}

func TestLoad_PortFallback(t *testing.T) {
	clearEnv()
	os.Setenv("PORT", "3000")
	defer clearEnv()

	cfg := Load()
	if cfg.HTTPAddr != ":3000" {
		t.Errorf("HTTPAddr: got %q, want :3000", cfg.HTTPAddr)
	}
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	clearEnv()
	os.Setenv("CONSUMER_WORKERS", "banana")
	os.Setenv("QUEUE_BUFFER_SIZE", "-5")
	defer clearEnv()

	cfg := Load()
	if cfg.ConsumerWorkers != 4 {
		t.Errorf("ConsumerWorkers: got %d, want default 4", cfg.ConsumerWorkers)
	}
	if cfg.QueueBufferSize != 100 {
		t.Errorf("QueueBufferSize: got %d, want default 100", cfg.QueueBufferSize)
	}
}

func TestMaskedJSON_MasksDatabaseURL(t *testing.T) {
	clearEnv()
	os.Setenv("DATABASE_URL", "postgres://user:hunter2@db:5432/orchestrator")
	defer clearEnv()

	cfg := Load()
	data, err := cfg.MaskedJSON()
	if err != nil {
		t.Fatalf("MaskedJSON failed: %v", err)
	}

	if strings.Contains(string(data), "hunter2") {
		t.Error("masked output contains the database password")
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("masked output is not valid JSON: %v", err)
	}
	if decoded["database_url"] != "postgres://***" {
		t.Errorf("database_url: got %v, want postgres://***", decoded["database_url"])
	}
}
