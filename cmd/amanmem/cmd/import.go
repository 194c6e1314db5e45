package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanmem/internal/output"
)

// newImportCmd creates the import command.
func newImportCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import every new or changed transcript once",
		Long: `Scan the configured transcript roots, import every file that is new,
modified, pending or due for a retry, and exit when all lanes are drained.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			sched, err := a.scheduler()
			if err != nil {
				return err
			}
			defer sched.Close()

			report, err := sched.RunOnce(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			w := output.New(out)
			w.Successf("Imported %d files (%d chunks)", report.Files-report.Failed, report.Chunks)
			if report.Skipped > 0 {
				w.Statusf("", "%d malformed records skipped", report.Skipped)
			}
			if report.Failed > 0 {
				w.Warningf("%d files failed", report.Failed)
				w.Status("💡", "Run 'amanmem status' to see the files that need attention")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the run report as JSON")

	return cmd
}
