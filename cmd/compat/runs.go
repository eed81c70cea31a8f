package main

import (
	"github.com/spf13/cobra"

	"compat-backend/internal/analyses"
)

func newRunsCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:         "runs <workspace>",
		Short:       "List recorded analysis runs for a workspace, newest first",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{needsService: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := opts.svc.ListRuns(cmd.Context(), workspaceArg(args), limit)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts.output, analyses.NewRunViews(list))
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}
