package main

import (
	"context"
	"database/sql"
	"errors"
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

	"github.com/djlord-it/printfleet/internal/advisor"
	"github.com/djlord-it/printfleet/internal/analytics"
	"github.com/djlord-it/printfleet/internal/api"
	"github.com/djlord-it/printfleet/internal/checkpoint"
	"github.com/djlord-it/printfleet/internal/circuitbreaker"
	"github.com/djlord-it/printfleet/internal/config"
	"github.com/djlord-it/printfleet/internal/cron"
	"github.com/djlord-it/printfleet/internal/dispatcher"
	"github.com/djlord-it/printfleet/internal/domain"
	"github.com/djlord-it/printfleet/internal/fleet"
	"github.com/djlord-it/printfleet/internal/leaderelection"
	"github.com/djlord-it/printfleet/internal/metrics"
	"github.com/djlord-it/printfleet/internal/reconciler"
	"github.com/djlord-it/printfleet/internal/schedule"
	"github.com/djlord-it/printfleet/internal/store/postgres"
	"github.com/djlord-it/printfleet/internal/transport/channel"

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
	fmt.Println(`printfleet - print job scheduler for a fleet of machines

Usage:
  printfleet <command>

Commands:
  serve      Start the API, status refresh loop and journal dispatcher
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL                PostgreSQL connection string for journal and checkpoints (optional)
  REDIS_ADDR                  Redis address for analytics (optional)
  HTTP_ADDR                   HTTP server address (default: ":8080", falls back to PORT)
  FLEET_FILE                  YAML file of machines registered at startup (optional)

  DB_OP_TIMEOUT               Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS           Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS           Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME        Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME       Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT       Graceful HTTP shutdown timeout (default: "10s")
  DISPATCHER_DRAIN_TIMEOUT    Journal dispatcher drain timeout (default: "30s")

  METRICS_ENABLED             Enable Prometheus metrics (default: "false")
  METRICS_PATH                Metrics endpoint path (default: "/metrics")
  METRICS_PORT                Metrics server port (default: "9090")

  STATUS_REFRESH_INTERVAL     How often machine statuses are re-derived (default: "30s")
  PENDING_GRACE               Unconfirmed time past start before a job is stale (default: "15m")

  CHECKPOINT_SCHEDULE         Cron expression for schedule snapshots (default: "*/5 * * * *")
  CHECKPOINT_TIMEZONE         Timezone for CHECKPOINT_SCHEDULE (default: "UTC")
  CHECKPOINT_TICK             How often the checkpoint schedule is checked (default: "30s")

  ADVISOR_URL                 External placement advisor endpoint (optional)
  ADVISOR_SECRET              HMAC secret for advisor requests (required with ADVISOR_URL)
  ADVISOR_TIMEOUT             Per-attempt advisor timeout (default: "30s")
  ADVISOR_MAX_ATTEMPTS        Advisor attempts per request (default: "4")
  CIRCUIT_BREAKER_THRESHOLD   Consecutive advisor failures before opening, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN    Time before an open breaker admits a probe (default: "2m")

  EVENTBUS_BUFFER_SIZE        Schedule event buffer between API and journal (default: "100")
  ANALYTICS_RETENTION         TTL for analytics counters (default: "168h")

  LEADER_LOCK_KEY             Advisory lock key shared by instances of one journal (default: "738140")
  LEADER_RETRY_INTERVAL       How often a standby retries journal ownership (default: "5s")
  LEADER_HEARTBEAT_INTERVAL   Ping interval for the lock connection (default: "2s")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("printfleet: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("printfleet: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("printfleet: metrics server error: %v", err)
			}
		}()
	}

	schedStore := schedule.New()

	var (
		db           *sql.DB
		store        *postgres.Store
		checkpointer *checkpoint.Checkpointer

		// nil without a database, so the shutdown select never fires on it
		ownershipLost chan string
		stopElector   = func() {}
	)

	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
			return exitRuntimeError
		}
		defer db.Close()

		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

		log.Printf("printfleet: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
			cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

		if err := db.Ping(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
			return exitRuntimeError
		}

		// Only one instance may write the journal. Standbys block here.
		owned := make(chan struct{})
		var ownedOnce sync.Once
		ownershipLost = make(chan string, 1)
		elector := leaderelection.New(db,
			leaderelection.Config{
				LockKey:           cfg.LeaderLockKey,
				RetryInterval:     cfg.LeaderRetryInterval,
				HeartbeatInterval: cfg.LeaderHeartbeatInterval,
			},
			func(context.Context) { ownedOnce.Do(func() { close(owned) }) },
			func(reason string) {
				select {
				case ownershipLost <- reason:
				default:
				}
			},
		)
		if metricsSink != nil {
			elector = elector.WithMetrics(metricsSink)
		}
		electorCtx, cancelElector := context.WithCancel(context.Background())
		var electorWg sync.WaitGroup
		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(electorCtx)
		}()
		stopElector = func() {
			cancelElector()
			electorWg.Wait()
		}
		defer stopElector()

		log.Printf("printfleet: waiting for journal ownership (lock_key=%d)", cfg.LeaderLockKey)
		select {
		case <-owned:
		case received := <-sig:
			log.Printf("printfleet: received signal %v while on standby, exiting", received)
			return exitSuccess
		}

		store = postgres.New(db).WithOpTimeout(cfg.DBOpTimeout)

		startupCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := store.Migrate(startupCtx); err != nil {
			cancel()
			fmt.Fprintf(os.Stderr, "failed to migrate database: %v\n", err)
			return exitRuntimeError
		}
		revision, err := checkpoint.Recover(startupCtx, store, store, schedStore)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to recover schedule: %v\n", err)
			return exitRuntimeError
		}

		sched, err := cron.NewParser().Parse(cfg.CheckpointSchedule, cfg.CheckpointTimezone)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid checkpoint schedule: %v\n", err)
			return exitInvalidConfig
		}
		checkpointer = checkpoint.New(
			checkpoint.Config{TickInterval: cfg.CheckpointTick},
			store,
			schedStore,
			sched,
		).WithPruner(store)
		if metricsSink != nil {
			checkpointer = checkpointer.WithMetrics(metricsSink)
		}
		checkpointer.MarkPersisted(revision)
	}

	// Create event bus with optional metrics
	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewEventBus(cfg.EventBusBufferSize, busOpts...)

	var journal dispatcher.Journal
	if store != nil {
		journal = store
	}
	disp := dispatcher.New(journal).
		WithDrainTimeout(cfg.DispatcherDrainTimeout)
	if metricsSink != nil {
		disp = disp.WithMetrics(metricsSink)
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		defer redisClient.Close()
		sink := analytics.NewRedisSink(redisClient).WithRetention(cfg.AnalyticsRetention)
		disp = disp.WithAnalytics(sink)
		log.Printf("printfleet: analytics enabled (redis=%s)", cfg.RedisAddr)
	}

	svc := fleet.New(schedStore).WithEmitter(bus)
	if metricsSink != nil {
		svc = svc.WithMetrics(metricsSink)
	}

	if cfg.AdvisorURL != "" {
		client := advisor.NewClient(cfg.AdvisorURL, cfg.AdvisorSecret).
			WithTimeout(cfg.AdvisorTimeout).
			WithMaxAttempts(cfg.AdvisorMaxAttempts)
		if cfg.CircuitBreakerThreshold > 0 {
			client = client.WithCircuitBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		}
		if metricsSink != nil {
			client = client.WithMetrics(metricsSink)
		}
		svc = svc.WithAdvisor(client)
		log.Printf("printfleet: advisor enabled (url=%s, attempts=%d)", cfg.AdvisorURL, cfg.AdvisorMaxAttempts)
	}

	// Dispatcher starts before seeding so registration events reach the journal.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	var dispatcherWg sync.WaitGroup
	dispatcherWg.Add(1)
	go func() {
		defer dispatcherWg.Done()
		disp.Run(dispatcherCtx, bus.Channel())
	}()

	if cfg.FleetFile != "" {
		if err := seedFleet(svc, cfg.FleetFile); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load fleet: %v\n", err)
			return exitRuntimeError
		}
	}

	recon := reconciler.New(
		reconciler.Config{
			Interval:     cfg.StatusRefreshInterval,
			PendingGrace: cfg.PendingGrace,
		},
		svc,
		svc.Deriver(),
	)
	if metricsSink != nil {
		recon = recon.WithMetrics(metricsSink)
	}

	handler := api.NewHandler(svc)
	if db != nil {
		handler = handler.WithHealthChecker(db)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler,
	}

	go func() {
		log.Printf("printfleet: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("printfleet: http server error: %v", err)
		}
	}()

	// Separate contexts per loop for ordered shutdown.
	reconcilerCtx, cancelReconciler := context.WithCancel(context.Background())
	var reconcilerWg sync.WaitGroup
	reconcilerWg.Add(1)
	go func() {
		defer reconcilerWg.Done()
		recon.Run(reconcilerCtx)
	}()

	var checkpointerWg sync.WaitGroup
	cancelCheckpointer := func() {}
	if checkpointer != nil {
		var checkpointerCtx context.Context
		checkpointerCtx, cancelCheckpointer = context.WithCancel(context.Background())
		checkpointerWg.Add(1)
		go func() {
			defer checkpointerWg.Done()
			if err := checkpointer.Run(checkpointerCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("printfleet: checkpointer error: %v", err)
			}
		}()
		log.Printf("printfleet: checkpoints enabled (schedule=%q, tz=%s)", cfg.CheckpointSchedule, cfg.CheckpointTimezone)
	}

	log.Printf("printfleet: started (revision=%d, http=%s)", schedStore.Revision(), cfg.HTTPAddr)

	lost := false
	select {
	case received := <-sig:
		log.Printf("printfleet: received signal %v, shutting down", received)
	case reason := <-ownershipLost:
		// Another instance may already be writing the journal.
		lost = true
		log.Printf("printfleet: lost journal ownership (reason=%s), shutting down", reason)
	}

	// Phase 1: Stop HTTP server (no new commands, no new events)
	log.Println("printfleet: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("printfleet: http server shutdown error: %v", err)
	}
	log.Println("printfleet: http server stopped")

	// Phase 2: Stop background loops
	cancelReconciler()
	reconcilerWg.Wait()
	cancelCheckpointer()
	checkpointerWg.Wait()
	log.Println("printfleet: background loops stopped")

	// Phase 3: Close the bus and let the dispatcher journal what is buffered
	log.Println("printfleet: stopping dispatcher (draining events)...")
	bus.Close()
	drained := make(chan struct{})
	go func() {
		dispatcherWg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(cfg.DispatcherDrainTimeout):
		log.Println("printfleet: dispatcher drain timed out")
		cancelDispatcher()
		<-drained
	}
	log.Println("printfleet: dispatcher stopped")

	// Phase 4: Final checkpoint, then hand the journal to a standby
	if checkpointer != nil && !lost {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		if err := checkpointer.Flush(flushCtx); err != nil {
			log.Printf("printfleet: final checkpoint failed: %v", err)
		}
		flushCancel()
	}
	stopElector()

	// Phase 5: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("printfleet: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("printfleet: metrics server shutdown error: %v", err)
		}
		log.Println("printfleet: metrics server stopped")
	}

	log.Println("printfleet: stopped")
	return exitSuccess
}

// seedFleet registers the machines from path. Machines restored from a
// checkpoint are left as they are.
func seedFleet(svc *fleet.Service, path string) error {
	machines, err := config.LoadFleet(path)
	if err != nil {
		return err
	}

	added := 0
	for _, m := range machines {
		_, err := svc.AddMachine(context.Background(), m)
		if errors.Is(err, domain.ErrMachineExists) {
			continue
		}
		if err != nil {
			return fmt.Errorf("machine %s: %w", m.ID, err)
		}
		added++
	}
	log.Printf("printfleet: fleet loaded (file=%s, machines=%d, added=%d)", path, len(machines), added)
	return nil
}

// logConfigWarnings reports deployment choices that trade durability or
// visibility for simplicity.
func logConfigWarnings(cfg *config.Config) {
	if cfg.DatabaseURL == "" {
		log.Println("WARNING [P0]: DATABASE_URL not set; the schedule is held in memory only and is lost on restart")
	}
	if !cfg.MetricsEnabled {
		log.Println("WARNING [P1]: METRICS_ENABLED=false; fleet and journal metrics are not exported")
	}
	if cfg.AdvisorURL != "" && cfg.CircuitBreakerThreshold == 0 {
		log.Println("WARNING [P1]: CIRCUIT_BREAKER_THRESHOLD=0; every advisor request retries a failing endpoint")
	}
	if cfg.AdvisorURL == "" {
		log.Println("INFO: ADVISOR_URL not set; advisor requests are disabled")
	}
	if cfg.RedisAddr == "" {
		log.Println("INFO: REDIS_ADDR not set; analytics disabled")
	}
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	if cfg.FleetFile != "" {
		machines, err := config.LoadFleet(cfg.FleetFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return exitInvalidConfig
		}
		fmt.Printf("fleet file valid (%d machines)\n", len(machines))
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
	fmt.Printf("printfleet version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
