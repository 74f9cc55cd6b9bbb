package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/betbot/botvisor/internal/auth"
	"github.com/betbot/botvisor/internal/controlplane/server"
	"github.com/betbot/botvisor/internal/infrastructure/badgerlog"
	"github.com/betbot/botvisor/internal/infrastructure/sqlite"
	"github.com/betbot/botvisor/internal/logstream"
	"github.com/betbot/botvisor/internal/metrics"
	"github.com/betbot/botvisor/internal/ports"
	"github.com/betbot/botvisor/internal/supervisor"
	"github.com/betbot/botvisor/pkg/config"
	"github.com/betbot/botvisor/pkg/logger"
	"github.com/betbot/botvisor/pkg/shutdown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "botvisor: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	getenv := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}

	var (
		configPath = flag.String("config", getenv("BOTVISOR_CONFIG", "configs/botvisor.yaml"), "YAML config file (optional)")
		listenAddr = flag.String("listen", "", "HTTP listen address (overrides config)")
		dbPath     = flag.String("db", "", "SQLite db file path (overrides config)")
		logsDir    = flag.String("logs-dir", "", "base directory of bot sink files (overrides config)")
		logBackend = flag.String("log-backend", "", "log persistence backend: sqlite | badger (overrides config)")
		debugAddr  = flag.String("debug-listen", "", "expvar/pprof listen address (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	override(&cfg.Server.Listen, *listenAddr)
	override(&cfg.Storage.DBPath, *dbPath)
	override(&cfg.Supervisor.LogsDir, *logsDir)
	override(&cfg.Storage.LogBackend, *logBackend)
	override(&cfg.Server.DebugListen, *debugAddr)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := logger.WithComponent("main")

	db, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	bots := sqlite.NewBotStore(db)

	logs, closeLogs, err := openLogStore(cfg, db)
	if err != nil {
		_ = db.Close()
		return err
	}

	supCfg := supervisor.Config{
		LogsDir:          cfg.Supervisor.LogsDir,
		WorkDir:          cfg.Supervisor.WorkDir,
		GracePeriod:      cfg.Supervisor.GracePeriod,
		RestartCooldown:  cfg.Supervisor.RestartCooldown,
		AutoRestartDelay: cfg.Supervisor.AutoRestartDelay,
		WaitDelay:        cfg.Supervisor.WaitDelay,
		StopOnShutdown:   cfg.Supervisor.StopOnShutdown,
		CaptureQueueSize: cfg.Supervisor.CaptureQueueSize,
	}
	sup := supervisor.New(supCfg, bots, logs, logger.WithComponent("supervisor"))
	monitor := supervisor.NewMonitor(sup, cfg.Supervisor.MonitorInterval, logger.WithComponent("monitor"))
	feed := logstream.New(bots, logstream.Options{
		LogsDir:      cfg.Supervisor.LogsDir,
		MaxTailBytes: cfg.Stream.MaxTailBytes,
		KeepAlive:    cfg.Stream.KeepAlive,
		PollInterval: cfg.Stream.PollInterval,
	}, logger.WithComponent("logstream"))

	srv, err := server.New(server.Config{
		LogsDir:        cfg.Supervisor.LogsDir,
		StopTimeout:    cfg.Supervisor.GracePeriod + cfg.Supervisor.RestartCooldown + 15*time.Second,
		WSPingInterval: cfg.Stream.KeepAlive,
		Debug:          strings.EqualFold(cfg.Log.Level, "debug"),
	}, sup, bots, logs, feed, auth.New(cfg.Auth.Secret, cfg.Auth.Algorithm), logger.WithComponent("http"))
	if err != nil {
		return err
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor.Run(bgCtx)
	}()

	if cfg.Server.DebugListen != "" {
		ds, err := metrics.StartAsync(bgCtx, cfg.Server.DebugListen, logger.WithComponent("debug"))
		if err != nil {
			log.WithError(err).Warn("debug server not started")
		} else {
			log.WithField("addr", ds.Addr).Info("debug server listening")
		}
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
	}
	httpSrv := &http.Server{
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.WithField("addr", ln.Addr().String()).Info("control plane listening")
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server error")
		}
	}()

	sm := shutdown.NewManager()
	sm.OnShutdown("http", shutdown.StageIngress, httpSrv.Shutdown)
	sm.OnShutdown("monitor", shutdown.StageWorkers, func(ctx context.Context) error {
		bgCancel()
		select {
		case <-monitorDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	sm.OnShutdown("supervisor", shutdown.StageWorkers, sup.Close)
	sm.OnShutdown("log-store", shutdown.StageStorage, func(context.Context) error { return closeLogs() })
	sm.OnShutdown("db", shutdown.StageStorage, func(context.Context) error { return db.Close() })
	sm.OnShutdown("logger", shutdown.StageFinalize, func(context.Context) error { return logger.Close() })

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP, syscall.SIGUSR1)
	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			if err := logger.Rotate(); err != nil {
				log.WithError(err).Warn("rotate log file")
			}
			continue
		case syscall.SIGUSR1:
			monitor.Trigger()
			continue
		}
		log.WithField("signal", sig.String()).Info("shutting down")
		break
	}
	signal.Stop(sigCh)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	sm.Shutdown(ctx)
	return nil
}

// openLogStore 日志持久化后端：默认与 bots 同库，可切到 badger
func openLogStore(cfg *config.Config, db *sqlite.DB) (ports.LogStore, func() error, error) {
	switch strings.ToLower(cfg.Storage.LogBackend) {
	case config.LogBackendBadger:
		st, err := badgerlog.Open(badgerlog.OpenOptions{
			Path:          cfg.Storage.BadgerDir,
			EncryptionKey: []byte(cfg.Storage.BadgerKey),
			Logger:        logger.WithComponent("badger"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open badger log store: %w", err)
		}
		return st, st.Close, nil
	default:
		return sqlite.NewLogStore(db), func() error { return nil }, nil
	}
}

func override(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
