package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanmem/internal/output"
)

// newNoteCmd creates the note command.
func newNoteCmd() *cobra.Command {
	var (
		project string
		tags    []string
	)

	cmd := &cobra.Command{
		Use:   "note <text>",
		Short: "Store a note alongside the conversations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			note, err := a.search.StoreNote(cmd.Context(), project, strings.Join(args, " "), tags)
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Stored note %s in %s", note.ID, note.Collection)
			return nil
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "Project the note belongs to (empty for a global note)")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "Tag the note (repeatable)")

	return cmd
}
