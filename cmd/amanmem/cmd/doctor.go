package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanmem/internal/preflight"
	"github.com/Aman-CERP/amanmem/internal/ui"
)

// newDoctorCmd creates the doctor command.
func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that amanmem can run here",
		Long: `Check the configuration, the data directory, the transcript roots and
the embedding settings. Exits non-zero when a required check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			checker := preflight.New(preflight.WithOutput(out), preflight.WithVerbose(verbose))
			results := checker.RunAll(cmd.Context(), loaded)

			if jsonOutput {
				if err := ui.NewStatusRenderer(out, true).RenderJSON(results); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}
			if checker.HasCriticalFailures(results) {
				return errors.New("required checks failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for every check")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	return cmd
}
