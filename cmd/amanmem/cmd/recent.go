package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanmem/internal/search"
	"github.com/Aman-CERP/amanmem/internal/ui"
)

// newRecentCmd creates the recent command.
func newRecentCmd() *cobra.Command {
	var (
		project    string
		since      time.Duration
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the newest conversation chunks and notes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			scope := search.Scope{Project: project, All: project == ""}
			results, err := a.search.Recent(cmd.Context(), scope, time.Now().Add(-since), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return ui.NewStatusRenderer(out, true).RenderJSON(results)
			}
			return ui.NewResultRenderer(out, ui.NoColorFor(out)).RenderRecent(results)
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "Limit to one project")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "How far back to look")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum results (default from config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	return cmd
}

// newTimelineCmd creates the timeline command.
func newTimelineCmd() *cobra.Command {
	var (
		project    string
		days       int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Show activity per day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			to := time.Now()
			from := to.Add(-time.Duration(days) * 24 * time.Hour)
			scope := search.Scope{Project: project, All: project == ""}
			tl, err := a.search.Timeline(cmd.Context(), scope, from, to)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return ui.NewStatusRenderer(out, true).RenderJSON(tl)
			}
			return ui.NewResultRenderer(out, ui.NoColorFor(out)).RenderTimeline(tl)
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "Limit to one project")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the timeline as JSON")

	return cmd
}
