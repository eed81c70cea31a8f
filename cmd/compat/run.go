package main

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"compat-backend/internal/analyses"
	"compat-backend/internal/runs"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var stream bool

	cmd := &cobra.Command{
		Use:         "run <workspace>",
		Short:       "Run the analysis engine for a workspace and print the report",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{needsService: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceID := workspaceArg(args)
			if stream {
				var mu sync.Mutex
				errOut := cmd.ErrOrStderr()
				opts.svc.LineSink = func(stream, line string) {
					mu.Lock()
					defer mu.Unlock()
					fmt.Fprintf(errOut, "[%s] %s\n", stream, line)
				}
			}

			ctx := analyses.WithTrigger(cmd.Context(), runs.TriggerCLI)
			rep, err := opts.svc.RunAnalysis(ctx, workspaceID)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), opts.output, analyses.NewReportResponse(workspaceID, rep))
		},
	}
	cmd.Flags().BoolVar(&stream, "stream", false, "echo engine output to stderr while it runs")
	return cmd
}
