package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanmem/internal/search"
	"github.com/Aman-CERP/amanmem/internal/ui"
)

// newSearchCmd creates the search command.
func newSearchCmd() *cobra.Command {
	var (
		project    string
		all        bool
		mode       string
		limit      int
		offset     int
		minScore   float64
		detail     string
		notes      bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search past conversations",
		Long: `Search imported conversations, ranking hits by similarity weighted
toward recent content. Without --project every project is searched.

Examples:
  amanmem search "why did the lease expire"
  amanmem search --project api --detail aggregate "retry backoff"
  amanmem search --mode local "notes from before the switch"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := search.ParseDetail(detail)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			scope := search.Scope{Project: project, All: all || project == "", Mode: mode}
			resp, err := a.search.Search(cmd.Context(), strings.Join(args, " "), scope, search.Options{
				Limit:        limit,
				Offset:       offset,
				MinScore:     minScore,
				Detail:       d,
				IncludeNotes: notes,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return ui.NewStatusRenderer(out, true).RenderJSON(resp)
			}
			return ui.NewResultRenderer(out, ui.NoColorFor(out)).RenderSearch(resp)
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "Search one project")
	cmd.Flags().BoolVar(&all, "all", false, "Search every project")
	cmd.Flags().StringVar(&mode, "mode", "", "Embedding mode to search (default: current mode)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum results (default from config)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many ranked results")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Drop results whose decayed score is lower")
	cmd.Flags().StringVar(&detail, "detail", "full", "Output detail: full, summary or aggregate")
	cmd.Flags().BoolVar(&notes, "notes", true, "Include stored notes")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	return cmd
}
