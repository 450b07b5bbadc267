package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/djlord-it/formrelay/internal/api"
	"github.com/djlord-it/formrelay/internal/circuitbreaker"
	"github.com/djlord-it/formrelay/internal/config"
	"github.com/djlord-it/formrelay/internal/cron"
	"github.com/djlord-it/formrelay/internal/dispatcher"
	"github.com/djlord-it/formrelay/internal/eventlog"
	"github.com/djlord-it/formrelay/internal/logger"
	"github.com/djlord-it/formrelay/internal/metrics"
	"github.com/djlord-it/formrelay/internal/reporter"
	bus "github.com/djlord-it/formrelay/internal/transport/channel"
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

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(exitInvalidConfig)
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
	fmt.Println(`formrelay - form submission integration dispatcher

Usage:
  formrelay <command>

Commands:
  serve      Start the HTTP API and dispatcher
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables (a .env file in the working directory is read first):
  SERVICE_ENVIRONMENT         "production" for JSON logs (default: "development")
  HTTP_ADDR                   HTTP server address (default: ":8080", or ":$PORT")
  STORE_BACKEND               Config store: "memory" or "postgres" (default: "memory")
  EVENTLOG_BACKEND            Event log: "memory", "redis" or "postgres" (default: STORE_BACKEND)
  DATABASE_URL                PostgreSQL connection string (required for postgres backends)
  REDIS_ADDR                  Redis address (required for the redis event log)

  DB_OP_TIMEOUT               Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS           Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS           Max idle database connections (default: "5")

  DISPATCH_MODE               "sync" dispatches in the request, "async" queues (default: "sync")
  DISPATCH_WORKERS            Channels run concurrently per submission (default: "4")
  CHANNEL_TIMEOUT             Per-channel call timeout, 0 disables (default: "10s")
  EVENTBUS_BUFFER_SIZE        Async intake buffer (default: "100")
  DISPATCHER_DRAIN_TIMEOUT    Async drain timeout on shutdown (default: "30s")
  HTTP_SHUTDOWN_TIMEOUT       Graceful HTTP shutdown timeout (default: "10s")

  RETRY_MAX_ATTEMPTS          Attempts per channel call, 0 or 1 disables (default: "0")
  RETRY_INITIAL_DELAY         First retry backoff (default: "200ms")
  CIRCUIT_BREAKER_THRESHOLD   Consecutive failures that open a breaker, 0 disables (default: "0")
  CIRCUIT_BREAKER_COOLDOWN    Time an open breaker rejects calls (default: "2m")

  SMTP_HOST, SMTP_PORT, SMTP_USERNAME, SMTP_PASSWORD, SMTP_FROM
                              SMTP relay for the email channel (email fails without SMTP_HOST)
  RECORD_STORE_DSN            PostgreSQL DSN for the record-store channel (fails when unset)
  SHEETS_CREDENTIALS_FILE     Service account JSON for the spreadsheet channel (fails when unset)

  METRICS_ENABLED             Enable Prometheus metrics (default: "false")
  METRICS_PATH                Metrics endpoint path (default: "/metrics")
  METRICS_PORT                Serve metrics on a separate port (default: API listener)
  REPORT_SCHEDULE             Reliability report cron spec, empty disables (default: "@every 5m")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return exitRuntimeError
	}
	defer log.Sync()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	logConfigWarnings(log, &cfg)

	ctx := context.Background()

	stores, err := openBackends(ctx, cfg, log)
	if err != nil {
		log.Error("formrelay: failed to open backends", zap.Error(err))
		return exitRuntimeError
	}
	defer stores.Close(log)

	registry, closeExecutors, err := buildRegistry(ctx, cfg, log)
	if err != nil {
		log.Error("formrelay: failed to build executors", zap.Error(err))
		return exitRuntimeError
	}
	defer closeExecutors()

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Info("formrelay: metrics enabled",
			zap.String("path", cfg.MetricsPath),
			zap.String("port", cfg.MetricsPort))
	}

	events := eventlog.New(stores.events)

	disp := dispatcher.New(stores.configs, events, registry).
		WithWorkers(cfg.DispatchWorkers).
		WithChannelTimeout(cfg.ChannelTimeout).
		WithDrainTimeout(cfg.DispatcherDrainTimeout).
		WithLogger(log)
	if cfg.CircuitBreakerThreshold > 0 {
		disp = disp.WithCircuitBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		log.Info("formrelay: circuit breaker enabled",
			zap.Int("threshold", cfg.CircuitBreakerThreshold),
			zap.Duration("cooldown", cfg.CircuitBreakerCooldown))
	}
	if metricsSink != nil {
		disp = disp.WithMetrics(metricsSink, metrics.ClassifyOutcome)
	}

	apiHandler := api.NewHandler(stores.configs, events, disp, log)
	for name, check := range stores.checks {
		apiHandler.WithHealthCheck(name, check)
	}

	// Async mode: the bus decouples intake from delivery.
	var submissions *bus.SubmissionBus
	if cfg.DispatchMode == "async" {
		var busOpts []bus.Option
		if metricsSink != nil {
			busOpts = append(busOpts, bus.WithMetrics(metricsSink))
		}
		submissions = bus.NewSubmissionBus(cfg.EventBusBufferSize, busOpts...)
		apiHandler.WithEnqueuer(submissions)
	}

	var rep *reporter.Reporter
	if cfg.ReportSchedule != "" {
		schedule, err := cron.NewParser().Parse(cfg.ReportSchedule, "UTC")
		if err != nil {
			log.Error("formrelay: invalid report schedule", zap.Error(err))
			return exitInvalidConfig
		}
		rep = reporter.New(schedule, stores.configs, events).WithLogger(log)
		if metricsSink != nil {
			rep = rep.WithMetrics(metricsSink)
		}
	}

	var rootHandler http.Handler = apiHandler
	var metricsServer *http.Server
	if metricsSink != nil {
		if cfg.MetricsPort != "" {
			metricsMux := http.NewServeMux()
			metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
			metricsServer = &http.Server{
				Addr:    ":" + cfg.MetricsPort,
				Handler: metricsMux,
			}
			go func() {
				log.Info("formrelay: metrics server listening", zap.String("addr", metricsServer.Addr))
				if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("formrelay: metrics server error", zap.Error(err))
				}
			}()
		} else {
			mux := http.NewServeMux()
			mux.Handle(cfg.MetricsPath, promhttp.Handler())
			mux.Handle("/", apiHandler)
			rootHandler = mux
		}
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: rootHandler,
	}

	go func() {
		log.Info("formrelay: http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("formrelay: http server error", zap.Error(err))
		}
	}()

	// Separate contexts so the dispatcher drains after intake stops.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	reporterCtx, cancelReporter := context.WithCancel(context.Background())
	defer cancelReporter()

	var dispatcherWg sync.WaitGroup
	var reporterWg sync.WaitGroup

	if submissions != nil {
		dispatcherWg.Add(1)
		go func() {
			defer dispatcherWg.Done()
			disp.Run(dispatcherCtx, submissions.Channel())
		}()
	}

	if rep != nil {
		reporterWg.Add(1)
		go func() {
			defer reporterWg.Done()
			rep.Run(reporterCtx)
		}()
	}

	log.Info("formrelay: started",
		zap.String("version", version),
		zap.String("http", cfg.HTTPAddr),
		zap.String("dispatch_mode", cfg.DispatchMode),
		zap.Strings("channels", channelNames(registry.Types())))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Info("formrelay: shutting down", zap.String("signal", received.String()))

	// Phase 1: Stop HTTP intake (no new submissions accepted)
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Error("formrelay: http server shutdown error", zap.Error(err))
	}
	log.Info("formrelay: http server stopped")

	// Phase 2: Stop dispatcher (drains buffered submissions before returning)
	if submissions != nil {
		log.Info("formrelay: stopping dispatcher (draining submissions)")
		submissions.Close()
		cancelDispatcher()
		dispatcherWg.Wait()
		log.Info("formrelay: dispatcher stopped")
	}
	cancelDispatcher()

	// Phase 3: Stop reporter
	cancelReporter()
	reporterWg.Wait()

	// Phase 4: Stop metrics server if running
	if metricsServer != nil {
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Error("formrelay: metrics server shutdown error", zap.Error(err))
		}
	}

	log.Info("formrelay: stopped")
	return exitSuccess
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
	fmt.Printf("formrelay version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
