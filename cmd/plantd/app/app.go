package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/roman-kulish/plant-telemetry/internal/ingest"
	"github.com/roman-kulish/plant-telemetry/internal/mailbox"
	"github.com/roman-kulish/plant-telemetry/internal/metrics"
	"github.com/roman-kulish/plant-telemetry/internal/queue"
	"github.com/roman-kulish/plant-telemetry/internal/server"
	"github.com/roman-kulish/plant-telemetry/internal/session"
	"github.com/roman-kulish/plant-telemetry/internal/storage"
	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
	"github.com/roman-kulish/plant-telemetry/internal/writer"
)

// Run starts the telemetry pipeline and serves until ctx is cancelled.
//
// Startup: schema creation, recovery of experiments left running, then the
// writer and the HTTP listener. Shutdown: the listener stops accepting
// batches, the writer receives its shutdown marker and gets the configured
// grace period, the open experiment is closed and the store is released.
func Run(ctx context.Context, config *Config, logger *slog.Logger) (err error) {
	store, err := openStore(ctx, &config.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("closing storage: %w", cerr))
		}
	}()

	manager, err := session.NewManager(store,
		session.WithLogger(logger),
		session.WithCacheSize(config.Cache.MaxExperiments))
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}

	if _, err = manager.StartupRecovery(ctx); err != nil {
		return err
	}

	if config.Session.AutoStart {
		if _, err = manager.StartNewExperiment(ctx); err != nil {
			return err
		}
	}

	viewer, err := queue.New[telemetry.Reading]("viewer", config.Queues.ViewerCapacity)
	if err != nil {
		return fmt.Errorf("creating viewer queue: %w", err)
	}
	persistence, err := queue.New[writer.Message]("persistence", config.Queues.PersistenceCapacity)
	if err != nil {
		return fmt.Errorf("creating persistence queue: %w", err)
	}

	collector := metrics.NewCollector()
	collector.RegisterQueue(viewer)
	collector.RegisterQueue(persistence)

	logger.Info("queues ready",
		slog.String("viewerCapacity", humanize.Comma(int64(viewer.Cap()))),
		slog.String("persistenceCapacity", humanize.Comma(int64(persistence.Cap()))))

	w := writer.New(persistence, manager, writer.WithLogger(logger), writer.WithMetrics(collector))

	// the writer outlives ctx: it exits on the shutdown marker sent below
	if err = w.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("starting writer: %w", err)
	}

	mb := mailbox.New()
	handler := ingest.NewHandler(viewer, persistence, manager, mb,
		ingest.WithLogger(logger),
		ingest.WithMetrics(collector),
		ingest.WithMaxBodyBytes(config.Server.MaxBodyBytes))

	srv := server.New(manager, mb, viewer, handler,
		server.WithLogger(logger),
		server.WithMetrics(collector),
		server.WithTimeouts(config.Server.ReadTimeout.Std(), config.Server.WriteTimeout.Std()),
		server.WithShutdownTimeout(config.Server.ShutdownTimeout.Std()))

	serveErr := srv.ListenAndServe(ctx, config.Server.Listen)

	if err = w.Stop(config.Writer.ShutdownGrace.Std()); err != nil {
		logger.Warn("persistence writer did not stop in time",
			slog.Duration("grace", config.Writer.ShutdownGrace.Std()),
			slog.Int("pending", persistence.Len()))
	}

	if err = manager.CloseCurrentExperiment(context.WithoutCancel(ctx)); err != nil {
		logger.Error("closing experiment on shutdown", slog.String("error", err.Error()))
	}

	logger.Info("pipeline stopped",
		slog.Uint64("written", w.Written()),
		slog.Uint64("failed", w.Failed()),
		slog.Uint64("persistenceDropped", persistence.Stats().Dropped))

	return serveErr
}

// openStore opens and initialises the store at the configured path
func openStore(ctx context.Context, config *StorageConfig) (*storage.SqliteStore, error) {
	store := storage.NewSqliteStore(config.Path)
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initialising storage: %w", err)
	}
	return store, nil
}
