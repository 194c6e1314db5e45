package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanmem/internal/config"
	"github.com/Aman-CERP/amanmem/internal/transcript"
)

// newWatchCmd creates the watch command.
func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the index current until interrupted",
		Long: `Run the hot, warm and cold import lanes on their poll cadences and
queue a transcript into the hot lane as soon as it is written.

Send SIGHUP to reload the configuration; a changed embeddings.mode applies
to every write after the reload.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd)
		},
	}
	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := a.scheduler()
	if err != nil {
		return err
	}
	defer sched.Close()

	w, err := transcript.NewWatcher(a.source, 0, func(path string) {
		if err := sched.Nudge(ctx, path); err != nil {
			a.logger.Warn("nudge_failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}, a.logger)
	if err != nil {
		return err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Watching %d roots (mode %s). Press Ctrl+C to stop.\n",
		len(a.source.Roots()), a.runtime.EmbeddingMode())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				reload(a.runtime, a.logger)
			}
		}
	})
	return g.Wait()
}

// reload re-reads the configuration and applies the embedding mode, the
// only setting that changes at runtime.
func reload(rt *config.Runtime, logger *slog.Logger) {
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Warn("config_reload_failed", slog.String("error", err.Error()))
		return
	}
	if err := rt.SetEmbeddingMode(cfg.Embeddings.Mode); err != nil {
		logger.Warn("config_reload_failed", slog.String("error", err.Error()))
		return
	}
	logger.Info("config_reloaded", slog.String("mode", rt.EmbeddingMode()))
}
