package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/okian/standings/internal/adapters/archive"
	"github.com/okian/standings/internal/adapters/http/api"
	"github.com/okian/standings/internal/adapters/notify"
	"github.com/okian/standings/internal/adapters/repository"
	app "github.com/okian/standings/internal/app"
	"github.com/okian/standings/internal/config"
	"github.com/okian/standings/internal/scheduler"
	"github.com/okian/standings/pkg/logger"
	"github.com/okian/standings/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	os.Exit(start())
}

func start() int {
	// Only our own system metrics are exported.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// A missing .env is fine; real deployments use the environment.
	_ = godotenv.Load()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	if err := logger.InitWithOptions(logger.Options{Format: cfg.LogFormat}); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "standings exited with error", logger.Error(err))
		return 1
	}
	return 0
}

// run starts every component and blocks until ctx is done.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	store, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn(ctx, "error closing store", logger.Error(err))
		}
	}()

	opts, err := serviceOptions(ctx, cfg, log)
	if err != nil {
		return err
	}
	svc := app.New(append(opts, app.WithStore(store))...)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			log.Warn(stopCtx, "service did not stop cleanly", logger.Error(err))
		}
	}()

	go metrics.CollectSystem(ctx)

	sched, err := scheduler.New(svc, cfg.SnapshotPruneCron, scheduler.WithLogger(log.Named("scheduler")))
	if err != nil {
		return err
	}
	sched.Start()
	defer func() { _ = sched.Stop() }()

	srv := newHTTPServer(cfg, svc, log)
	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// serviceOptions translates configuration into service options, including
// the optional archive and Telegram escalation.
func serviceOptions(ctx context.Context, cfg *config.Config, log logger.Logger) ([]app.Option, error) {
	opts := []app.Option{
		app.WithLogger(log),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithMaxAttempts(cfg.MaxAttempts),
		app.WithBackoff(cfg.BackoffBase(), cfg.BackoffMax()),
		app.WithJobTimeout(cfg.JobTimeout()),
		app.WithHistorySize(cfg.HistorySize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithManualPriority(cfg.Priority()),
		app.WithCollationLanguage(cfg.CollationLanguage),
		app.WithSnapshotRetention(cfg.SnapshotRetention()),
	}

	if cfg.ArchiveBucket != "" {
		a, err := archive.NewFromEnv(ctx, cfg.ArchiveBucket, cfg.ArchiveRegion,
			archive.WithPrefix(cfg.ArchivePrefix),
			archive.WithLogger(log.Named("archive")),
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, app.WithArchiver(a))
	}

	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			return nil, err
		}
		opts = append(opts, app.WithNotifier(tg))
	}
	return opts, nil
}

func newHTTPServer(cfg *config.Config, svc *app.Service, log logger.Logger) *http.Server {
	apiServer := api.NewServer(svc,
		api.WithOrigins(cfg.Origins()...),
		api.WithLogger(log.Named("http")),
		api.WithMaxHistory(cfg.HistorySize),
	)
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           apiServer.Handler(),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}
