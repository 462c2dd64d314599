package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/EzalB/serverless-data-processing-pipeline/internal/api"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/circuitbreaker"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/config"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/consumer"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/dispatch"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/engine"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/ledger"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/metrics"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/router"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/store/postgres"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/sweeper"
	"github.com/EzalB/serverless-data-processing-pipeline/internal/transport/channel"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`orchestrator - schema-routed event dispatch service

Usage:
  orchestrator <command>

Commands:
  serve      Start the HTTP boundary, queue consumer and sweeper
  validate   Validate configuration and routes file (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  ROUTES_PATH               Path to the routes JSON file (required)
  HTTP_ADDR                 HTTP server address (default: ":8080")
  SERVICE_NAME              Service name in responses (default: "orchestrator")
  ENV                       Environment label in responses (default: "prod")

  LEDGER_BACKEND            Ledger backend: memory, redis or postgres (default: "memory")
  REDIS_ADDR                Redis address (required for redis ledger or redis targets)
  DATABASE_URL              PostgreSQL connection string (required for postgres ledger)
  LEDGER_RETENTION          Age after which terminal records are evicted (default: "24h")

  SWEEP_INTERVAL            How often the retention sweep runs (default: "5m")
  SWEEP_SCHEDULE            Optional cron expression overriding SWEEP_INTERVAL

  DELIVERY_TIMEOUT          Per-delivery-attempt timeout (default: "30s")
  FANOUT_MAX_PER_ENVELOPE   Max concurrent deliveries per envelope (default: "4")
  FANOUT_MAX_GLOBAL         Max concurrent deliveries process-wide (default: "64")
  CIRCUIT_BREAKER_THRESHOLD Consecutive webhook failures before opening (default: "5", 0 disables)
  CIRCUIT_BREAKER_COOLDOWN  Open-state cooldown (default: "2m")

  CONSUMER_WORKERS          Concurrent queue message handlers (default: "4")
  QUEUE_BUFFER_SIZE         Queue bus buffer capacity (default: "100")
  DRAIN_TIMEOUT             Consumer drain timeout at shutdown (default: "30s")
  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

Signals:
  SIGHUP                    Reload routing rules from ROUTES_PATH
  SIGINT, SIGTERM           Graceful shutdown`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	routesFile, rules, err := router.LoadFile(cfg.RoutesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "routes error: %v\n", err)
		return exitInvalidConfig
	}
	rtr := router.New(rules)

	// Shared Redis client: serves redis targets and the redis ledger.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}

	registry, err := buildRegistry(routesFile, cfg, redisClient)
	if err != nil {
		fmt.Fprintf(os.Stderr, "targets error: %v\n", err)
		return exitInvalidConfig
	}

	led, db, err := buildLedger(cfg, redisClient)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntimeError
	}
	if db != nil {
		defer db.Close()
	}

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("orchestrator: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("orchestrator: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("orchestrator: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("orchestrator: METRICS_ENABLED not set; metrics disabled")
	}

	fanout := dispatch.NewFanout(dispatch.Config{
		MaxPerEnvelope:  cfg.FanoutMaxPerEnvelope,
		MaxGlobal:       cfg.FanoutMaxGlobal,
		DeliveryTimeout: cfg.DeliveryTimeout,
	})
	if metricsSink != nil {
		fanout = fanout.WithMetrics(metricsSink)
	}

	eng := engine.New(led, rtr, registry, fanout)
	if metricsSink != nil {
		eng = eng.WithMetrics(metricsSink)
	}

	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewBus(cfg.QueueBufferSize, busOpts...)

	cons := consumer.New(eng, bus).
		WithWorkers(cfg.ConsumerWorkers).
		WithDrainTimeout(cfg.DrainTimeout)
	if metricsSink != nil {
		cons = cons.WithMetrics(metricsSink)
	}

	sweep := sweeper.New(sweeper.Config{
		Interval:  cfg.SweepInterval,
		Schedule:  cfg.SweepSchedule,
		Retention: cfg.LedgerRetention,
	}, led)
	if metricsSink != nil {
		sweep = sweep.WithMetrics(metricsSink)
	}

	handler := api.NewHandler(eng, bus, led, cfg.ServiceName, cfg.Env)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler.Routes(),
	}

	go func() {
		log.Printf("orchestrator: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("orchestrator: http server error: %v", err)
		}
	}()

	// Separate contexts for consumer and sweeper to enable ordered shutdown.
	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	sweeperCtx, cancelSweeper := context.WithCancel(context.Background())

	var consumerWg sync.WaitGroup
	var sweeperWg sync.WaitGroup

	consumerWg.Add(1)
	go func() {
		defer consumerWg.Done()
		cons.Run(consumerCtx, bus.Channel())
	}()

	sweeperWg.Add(1)
	go func() {
		defer sweeperWg.Done()
		sweep.Run(sweeperCtx)
	}()

	log.Printf("orchestrator: started (ledger=%s, rules=%d, http=%s)",
		cfg.LedgerBackend, len(rules), cfg.HTTPAddr)

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			reloadRoutes(cfg.RoutesPath, rtr, registry)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("orchestrator: received signal %v, shutting down", received)
	signal.Stop(reload)
	close(reload)

	// Phase 1: Stop HTTP server (no new submissions or enqueues)
	log.Println("orchestrator: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("orchestrator: http server shutdown error: %v", err)
	}
	log.Println("orchestrator: http server stopped")

	// Phase 2: Stop consumer (will drain buffered messages before returning)
	log.Println("orchestrator: stopping consumer (draining messages)...")
	cancelConsumer()
	consumerWg.Wait()
	log.Println("orchestrator: consumer stopped")

	// Phase 3: Stop sweeper
	log.Println("orchestrator: stopping sweeper...")
	cancelSweeper()
	sweeperWg.Wait()
	log.Println("orchestrator: sweeper stopped")

	// Phase 4: Stop metrics server if running
	if metricsServer != nil {
		log.Println("orchestrator: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("orchestrator: metrics server shutdown error: %v", err)
		}
		log.Println("orchestrator: metrics server stopped")
	}

	log.Println("orchestrator: stopped")
	return exitSuccess
}

// buildRegistry constructs dispatch targets from the routes file declarations.
func buildRegistry(file router.RoutesFile, cfg config.Config, redisClient *redis.Client) (*dispatch.Registry, error) {
	var breaker *circuitbreaker.CircuitBreaker
	if cfg.CircuitBreakerThreshold > 0 {
		breaker = circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	targets := make([]dispatch.Target, 0, len(file.Targets))
	for _, tc := range file.Targets {
		switch tc.Type {
		case "webhook":
			wt := dispatch.NewWebhookTarget(tc.Name, tc.URL, tc.Secret)
			if breaker != nil {
				wt = wt.WithBreaker(breaker)
			}
			targets = append(targets, wt)
		case "redis":
			if redisClient == nil {
				return nil, fmt.Errorf("target %q requires REDIS_ADDR", tc.Name)
			}
			targets = append(targets, dispatch.NewRedisTarget(tc.Name, tc.List, redisClient))
		default:
			return nil, fmt.Errorf("target %q: unknown type %q", tc.Name, tc.Type)
		}
	}
	return dispatch.NewRegistry(targets...), nil
}

// buildLedger selects the ledger backend. The returned *sql.DB is non-nil
// only for the postgres backend and must be closed by the caller.
func buildLedger(cfg config.Config, redisClient *redis.Client) (ledger.Ledger, *sql.DB, error) {
	switch cfg.LedgerBackend {
	case "memory":
		log.Println("orchestrator: using in-memory ledger")
		return ledger.NewMemoryLedger(), nil, nil

	case "redis":
		if redisClient == nil {
			return nil, nil, fmt.Errorf("redis ledger requires REDIS_ADDR")
		}
		log.Printf("orchestrator: using redis ledger (addr=%s, retention=%s)", cfg.RedisAddr, cfg.LedgerRetention)
		return ledger.NewRedisLedger(redisClient, cfg.LedgerRetention), nil, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

		log.Printf("orchestrator: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
			cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Println("orchestrator: using postgres ledger")
		return postgres.New(db, cfg.DBOpTimeout), db, nil

	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}

// reloadRoutes re-reads the routes file and swaps the rule set. Targets are
// built once at startup; a reload may only reference already-declared names.
func reloadRoutes(path string, rtr *router.Router, registry *dispatch.Registry) {
	_, rules, err := router.LoadFile(path)
	if err != nil {
		log.Printf("orchestrator: reload failed, keeping current rules: %v", err)
		return
	}
	for _, rule := range rules {
		for _, name := range rule.Targets {
			if _, ok := registry.Lookup(name); !ok {
				log.Printf("orchestrator: reload failed, rule %q references target %q not built at startup", rule.Pattern, name)
				return
			}
		}
	}
	rtr.Reload(rules)
	log.Printf("orchestrator: routes reloaded (%d rules)", len(rules))
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	if _, rules, err := router.LoadFile(cfg.RoutesPath); err != nil {
		fmt.Fprintf(os.Stderr, "routes error: %v\n", err)
		return exitInvalidConfig
	} else {
		fmt.Printf("configuration valid (%d routing rules)\n", len(rules))
	}
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("orchestrator version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
