package main

import (
	"github.com/spf13/cobra"

	"compat-backend/internal/analyses"
	"compat-backend/internal/reports"
)

func newReportCmd(opts *rootOptions) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:         "report <workspace>",
		Short:       "Print the last report of a workspace, or an archived run's report",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{needsService: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceID := workspaceArg(args)
			var (
				rep *reports.Report
				err error
			)
			if runID != "" {
				rep, err = opts.svc.RunReport(cmd.Context(), workspaceID, runID)
			} else {
				rep, err = opts.svc.FetchReport(cmd.Context(), workspaceID)
			}
			if err != nil {
				return err
			}
			resp := analyses.NewReportResponse(workspaceID, rep)
			resp.RunID = runID
			return writeOutput(cmd.OutOrStdout(), opts.output, resp)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "read the archived report of this run id")
	return cmd
}
