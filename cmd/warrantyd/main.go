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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/slotshare/warranty/internal/analytics"
	"github.com/slotshare/warranty/internal/api"
	"github.com/slotshare/warranty/internal/browser"
	"github.com/slotshare/warranty/internal/circuitbreaker"
	"github.com/slotshare/warranty/internal/config"
	"github.com/slotshare/warranty/internal/cron"
	"github.com/slotshare/warranty/internal/leaderelection"
	"github.com/slotshare/warranty/internal/metrics"
	"github.com/slotshare/warranty/internal/pool"
	"github.com/slotshare/warranty/internal/probe"
	"github.com/slotshare/warranty/internal/store/postgres"
	"github.com/slotshare/warranty/internal/sweeper"
	"github.com/slotshare/warranty/internal/transport/channel"
	"github.com/slotshare/warranty/internal/warranty"

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
	fmt.Println(`warrantyd - warranty account-replacement service

Usage:
  warrantyd <command>

Commands:
  serve      Start the warranty HTTP server and background workers
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  BROWSER_ADDR              Browser-automation sidecar base URL (required)
  REDIS_ADDR                Redis address for outcome analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")

  BROWSER_CALL_TIMEOUT      Per-call sidecar timeout (default: "15s")
  PROBE_STEP_DELAY          Settle pause between browser steps (default: "1s")

  DB_OP_TIMEOUT             Database startup ping timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  STREAM_HEARTBEAT          SSE keepalive interval (default: "15s")
  STREAM_BUFFER_SIZE        Per-subscriber event buffer (default: "16")
  STREAM_PUBLISH_TIMEOUT    Max wait on a full subscriber (default: "2s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  SWEEP_ENABLED             Enable the pool sweeper (default: "false")
  SWEEP_SCHEDULE            Sweep cron expression (default: "0 * * * *")
  SWEEP_TIMEZONE            Sweep schedule timezone (default: "UTC")
  SWEEP_BATCH_SIZE          Max accounts probed per sweep (default: "50")

  CIRCUIT_BREAKER_THRESHOLD Sidecar failures before opening ("0" disables, default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Open-state cooldown (default: "2m")

  ANALYTICS_WINDOW          Outcome counter bucket size (default: "1h")
  ANALYTICS_RETENTION       Outcome counter TTL (default: "2160h")

  LEADER_LOCK_KEY           Advisory lock key shared by all instances
  LEADER_RETRY_INTERVAL     Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection ping interval (default: "2s")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("warrantyd: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), cfg.DBOpTimeout)
	err = db.PingContext(pingCtx)
	cancelPing()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db)

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("warrantyd: metrics enabled (path=%s)", cfg.MetricsPath)
	} else {
		log.Println("warrantyd: METRICS_ENABLED not set; metrics disabled")
	}

	// Browser sidecar client and session prober
	factory := browser.NewRemoteFactory(cfg.BrowserAddr).WithCallTimeout(cfg.BrowserCallTimeout)
	prober := probe.New(factory).WithStepDelay(cfg.ProbeStepDelay)
	if cfg.CircuitBreakerThreshold > 0 {
		cb := circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
		prober = prober.WithBreaker(cb, factory.BaseURL())
		log.Printf("warrantyd: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}
	if metricsSink != nil {
		prober = prober.WithMetrics(metricsSink)
	}

	// Account pool
	accounts := pool.New(store)
	if metricsSink != nil {
		accounts = accounts.WithMetrics(metricsSink)
		seedPoolGauge(accounts, metricsSink)
	}

	// Progress stream registry
	busOpts := []channel.Option{
		channel.WithSubscriberBuffer(cfg.StreamBufferSize),
		channel.WithPublishTimeout(cfg.StreamPublishTimeout),
	}
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	registry := channel.NewRegistry(busOpts...)

	// Orchestrator
	orch := warranty.New(store, accounts, prober, registry)
	if metricsSink != nil {
		orch = orch.WithMetrics(metricsSink)
	}

	// Wire analytics if Redis is configured
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		sink := analytics.NewRedisSink(redisClient).
			WithWindow(cfg.AnalyticsWindow).
			WithRetention(cfg.AnalyticsRetention)
		orch = orch.WithAnalytics(sink)
		log.Printf("warrantyd: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("warrantyd: REDIS_ADDR not set; analytics disabled")
	}

	// Runs started by stream requests detach onto this context so client
	// disconnects never abort a migration in flight.
	runCtx, cancelRuns := context.WithCancel(context.Background())

	apiHandler := api.NewHandler(store, orch, registry).
		WithHeartbeat(cfg.StreamHeartbeat).
		WithBaseContext(runCtx).
		WithHealthCheck("database", store).
		WithHealthCheck("browser", factory)
	if redisClient != nil {
		apiHandler.WithHealthCheck("redis", api.HealthCheckFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}

	mux := http.NewServeMux()
	if metricsSink != nil {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", apiHandler)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("warrantyd: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("warrantyd: http server error: %v", err)
		}
	}()

	// Start the pool sweeper behind leader election if enabled.
	var sweeperWg sync.WaitGroup
	var cancelSweeper context.CancelFunc
	if cfg.SweepEnabled {
		sched, err := cron.NewParser().Parse(cfg.SweepSchedule, cfg.SweepTimezone)
		if err != nil {
			// Validate() already vetted the expression.
			fmt.Fprintf(os.Stderr, "failed to parse sweep schedule: %v\n", err)
			cancelRuns()
			return exitInvalidConfig
		}

		elector := leaderelection.New(db, cfg.LeaderLockKey, cfg.LeaderRetryInterval, cfg.LeaderHeartbeatInterval)
		if metricsSink != nil {
			elector = elector.WithMetrics(metricsSink)
		}

		sw := sweeper.New(sweeper.Config{BatchSize: cfg.SweepBatchSize}, sched, accounts, prober).
			WithLeaderGate(elector)
		if metricsSink != nil {
			sw = sw.WithMetrics(metricsSink)
		}

		var sweeperCtx context.Context
		sweeperCtx, cancelSweeper = context.WithCancel(context.Background())
		sweeperWg.Add(2)
		go func() {
			defer sweeperWg.Done()
			elector.Run(sweeperCtx)
		}()
		go func() {
			defer sweeperWg.Done()
			sw.Run(sweeperCtx)
		}()
		log.Printf("warrantyd: sweeper enabled (schedule=%q, tz=%s, batch=%d)",
			cfg.SweepSchedule, cfg.SweepTimezone, cfg.SweepBatchSize)
	} else {
		log.Println("warrantyd: SWEEP_ENABLED not set; sweeper disabled")
	}

	log.Printf("warrantyd: started (http=%s, browser=%s)", cfg.HTTPAddr, cfg.BrowserAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("warrantyd: received signal %v, shutting down", received)

	// Phase 1: Stop the sweeper and release leadership (no new sweeps)
	if cancelSweeper != nil {
		log.Println("warrantyd: stopping sweeper...")
		cancelSweeper()
		sweeperWg.Wait()
		log.Println("warrantyd: sweeper stopped")
	}

	// Phase 2: Stop HTTP server with graceful shutdown (open streams end)
	log.Println("warrantyd: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("warrantyd: http server shutdown error: %v", err)
	}
	log.Println("warrantyd: http server stopped")

	// Phase 3: Cancel detached warranty runs. Any run caught mid-migration
	// aborts on its next store call; the migration transaction keeps the
	// order consistent either way.
	log.Println("warrantyd: stopping warranty runs...")
	cancelRuns()

	log.Println("warrantyd: stopped")
	return exitSuccess
}

// seedPoolGauge initializes the pool-size gauge at startup; claim and
// discard deltas keep it current afterwards.
func seedPoolGauge(accounts *pool.Pool, sink *metrics.PrometheusSink) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	size, err := accounts.Size(ctx)
	if err != nil {
		log.Printf("warrantyd: failed to read initial pool size: %v", err)
		return
	}
	sink.PoolSizeUpdate(size)
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
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
	fmt.Printf("warrantyd version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
