package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/amanmem/internal/config"
	"github.com/Aman-CERP/amanmem/internal/embed"
	"github.com/Aman-CERP/amanmem/internal/ingest"
	"github.com/Aman-CERP/amanmem/internal/search"
	"github.com/Aman-CERP/amanmem/internal/state"
	"github.com/Aman-CERP/amanmem/internal/telemetry"
	"github.com/Aman-CERP/amanmem/internal/transcript"
	"github.com/Aman-CERP/amanmem/internal/vector"
)

// app holds the components one command works with.
type app struct {
	cfg       *config.Config
	runtime   *config.Runtime
	logger    *slog.Logger
	state     *state.Store
	vectors   vector.Store
	embedders *embed.Set
	source    *transcript.Source
	metricsDB *telemetry.Store
	metrics   *telemetry.Metrics
	search    *search.Orchestrator
}

// openApp opens the stores under the loaded configuration. Close releases
// them, so callers defer it right after a successful open.
func openApp(ctx context.Context) (*app, error) {
	cfg := loaded
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	logger := slog.Default()
	a := &app{cfg: cfg, runtime: config.NewRuntime(cfg), logger: logger}

	opts := []state.Option{
		state.WithAllowedRoots(cfg.Roots()...),
		state.WithLockTimeout(cfg.State.LockTimeout),
		state.WithLeaseTTL(cfg.State.LeaseTTL),
		state.WithCorruptRecovery(cfg.State.RecoverCorrupt),
		state.WithLogger(logger),
	}
	if cfg.State.Locker == "memory" {
		opts = append(opts, state.WithLocker(state.NewMemoryLocker(cfg.StatePath())))
	}
	st, err := state.Open(ctx, cfg.StatePath(), opts...)
	if err != nil {
		return nil, err
	}
	a.state = st

	vs, err := vector.Open(cfg.Vector.Backend, cfg.VectorPath(), vector.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	a.vectors = vs
	a.embedders = embed.NewSet(cfg.Embeddings, logger)
	a.source = transcript.NewSource(cfg.Paths.Sources, cfg.Ingest.Pattern, logger)

	searchOpts := []search.Option{search.WithLogger(logger)}
	if cfg.Telemetry.Enabled {
		db, err := telemetry.Open(cfg.TelemetryPath())
		if err != nil {
			// Metrics are optional; search still works without them.
			logger.Warn("telemetry_unavailable", slog.String("error", err.Error()))
		} else {
			a.metricsDB = db
			a.metrics = telemetry.New(db, telemetry.DefaultConfig(), logger)
			searchOpts = append(searchOpts, search.WithMetrics(a.metrics))
		}
	}
	a.search = search.New(a.runtime, vs, a.embedders, st, searchOpts...)
	return a, nil
}

// scheduler builds an ingestion scheduler over the app's stores.
func (a *app) scheduler() (*ingest.Scheduler, error) {
	return ingest.New(a.runtime, a.source, a.state, a.vectors, a.embedders, ingest.WithLogger(a.logger))
}

// Close flushes metrics and closes every store.
func (a *app) Close() {
	if a.metrics != nil {
		if err := a.metrics.Close(); err != nil {
			a.logger.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
		}
	}
	if a.metricsDB != nil {
		_ = a.metricsDB.Close()
	}
	if a.embedders != nil {
		_ = a.embedders.Close()
	}
	if a.vectors != nil {
		if err := a.vectors.Close(); err != nil {
			a.logger.Warn("vector_store_close_failed", slog.String("error", err.Error()))
		}
	}
}
