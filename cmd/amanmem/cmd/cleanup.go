package cmd

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanmem/internal/chunk"
	"github.com/Aman-CERP/amanmem/internal/output"
	"github.com/Aman-CERP/amanmem/internal/vector"
)

// newCleanupCmd creates the cleanup command.
func newCleanupCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Forget transcripts imported long ago",
		Long: `Remove state records imported more than --older-than-days days ago,
together with their points in the vector store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if days <= 0 {
				days = a.cfg.State.RetentionDays
			}
			removed, err := a.state.Cleanup(cmd.Context(), days)
			if err != nil {
				return err
			}

			points := 0
			for _, rec := range removed {
				if rec.Collection == "" || rec.Chunks == 0 {
					continue
				}
				ids := make([]string, rec.Chunks)
				for i := range ids {
					ids[i] = chunk.PointID(rec.Path, i)
				}
				err := a.vectors.Delete(cmd.Context(), rec.Collection, ids)
				if err != nil && !errors.Is(err, vector.ErrCollectionNotFound) {
					a.logger.Warn("cleanup_points_not_deleted",
						slog.String("path", rec.Path),
						slog.String("collection", rec.Collection),
						slog.String("error", err.Error()))
					continue
				}
				points += len(ids)
			}

			output.New(cmd.OutOrStdout()).Successf("Removed %d records and %d points older than %d days",
				len(removed), points, days)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "older-than-days", 0, "Age threshold in days (default state.retention_days)")

	return cmd
}
