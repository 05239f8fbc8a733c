package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/mediafetch/internal/backend"
	"github.com/italolelis/mediafetch/internal/backend/inproc"
	"github.com/italolelis/mediafetch/internal/backend/ytdlp"
	"github.com/italolelis/mediafetch/internal/cleanup"
	"github.com/italolelis/mediafetch/internal/config"
	"github.com/italolelis/mediafetch/internal/downloader"
	"github.com/italolelis/mediafetch/internal/events"
	"github.com/italolelis/mediafetch/internal/http/rest"
	"github.com/italolelis/mediafetch/internal/logctx"
	"github.com/italolelis/mediafetch/internal/media"
	"github.com/italolelis/mediafetch/internal/notifier"
	"github.com/italolelis/mediafetch/internal/orchestrator"
	"github.com/italolelis/mediafetch/internal/postprocess"
	"github.com/italolelis/mediafetch/internal/storage"
	"github.com/italolelis/mediafetch/internal/storage/sqlite"
	"github.com/italolelis/mediafetch/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// version is set at build time.
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewContextHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("mediafetch starting...", "version", version, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(sctx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	history := sqlite.NewInstrumentedOutcomeRepository(database, tel)

	// =========================================================================
	// Start Orchestrator
	strategy, err := cfg.ParsedStrategy()
	if err != nil {
		return err
	}

	inprocBackend := inproc.NewDefault()

	orch, err := orchestrator.New(
		strategy,
		[]backend.Backend{
			inprocBackend,
			ytdlp.New(cfg.YtDlpPath, ytdlp.WithProbeTimeout(cfg.ToolProbeTimeout)),
		},
		postprocess.NewCoordinator(
			postprocess.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath, cfg.ToolProbeTimeout),
			postprocess.ID3Tagger{},
		),
		orchestrator.WithGate(history),
		orchestrator.WithTelemetry(tel),
		orchestrator.WithConvertTimeout(cfg.ConvertTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	// =========================================================================
	// Start Downloader
	admission, err := cfg.ParsedAdmission()
	if err != nil {
		return err
	}

	bus := events.NewBus()

	manager := downloader.NewManager(ctx, orch,
		downloader.WithRecorder(history),
		downloader.WithAdmission(admission, cfg.MaxParallel),
		downloader.WithSink(bus),
		downloader.WithTelemetry(tel),
		downloader.WithRetention(cfg.JobRetention),
	)

	logger = logger.With("instance_id", manager.InstanceID())
	ctx = logctx.WithLogger(ctx, logger)

	// =========================================================================
	// Start Cleanup
	if n, err := cleanup.RemoveStalePartials(ctx, cfg.DownloadDir, cfg.PartialMaxAge); err != nil {
		logger.Warn("failed to sweep stale partial files", "dir", cfg.DownloadDir, "err", err)
	} else if n > 0 {
		logger.Info("swept stale partial files", "count", n)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		watchNotifications(gctx, manager, notifier.NewDiscordNotifier(cfg.DiscordWebhookURL))

		return nil
	})

	if cfg.KeepDownloadedFor > 0 {
		g.Go(func() error {
			runCleanup(gctx, history, cfg)

			return nil
		})
	}

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, cfg, manager, history, bus, inprocBackend, tel)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	logger.Info("waiting for downloads...",
		"download_dir", cfg.DownloadDir,
		"strategy", strategy.String(),
		"max_parallel", cfg.MaxParallel,
		"admission", admission,
	)

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(sctx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		if err := manager.Shutdown(sctx); err != nil {
			return fmt.Errorf("could not stop downloads: %w", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	return ctx.Err()
}

func watchNotifications(ctx context.Context, manager *downloader.Manager, notif *notifier.DiscordNotifier) {
	logger := logctx.LoggerFromContext(ctx)

	notify := func(job *downloader.Job, message func(string, media.Outcome) string) {
		if notif == nil {
			return
		}

		out, _ := job.Outcome()

		if err := notif.Notify(ctx, message(job.Request.URL, out)); err != nil {
			logger.Error("failed to send notification", "download_id", job.ID, "err", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-manager.OnJobFinished:
			if !ok {
				return
			}

			notify(job, notifier.FinishedMessage)
		case job, ok := <-manager.OnJobFailed:
			if !ok {
				return
			}

			notify(job, notifier.FailedMessage)
		}
	}
}

func runCleanup(ctx context.Context, history storage.OutcomeReadRepository, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	cleanupTicker := time.NewTicker(cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-cleanupTicker.C:
			tracked, err := history.List(ctx, storage.Filter{Status: storage.StatusSucceeded, Limit: storage.MaxListLimit})
			if err != nil {
				logger.Error("failed to get recorded downloads for cleanup", "err", err)

				continue
			}

			if err := cleanup.DeleteExpiredFiles(ctx, tracked, cfg.DownloadDir, cfg.KeepDownloadedFor); err != nil {
				logger.Error("failed to delete expired files", "err", err)
			}
		}
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	manager *downloader.Manager,
	history storage.OutcomeRepository,
	bus *events.Bus,
	info rest.InfoFetcher,
	tel *telemetry.Telemetry,
) *http.Server {
	mw := telemetry.NewHTTPMiddleware(tel)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID, mw.Tracing, telemetry.HTTPLogging, mw.Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", rest.NewDownloadHandler(manager, history, bus, info, cfg.DownloadDir).Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
