package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"compat-backend/internal/analyses"
	"compat-backend/internal/bootstrap"
	"compat-backend/internal/shared/config"
	"compat-backend/internal/shared/storage/db"
	"compat-backend/internal/shared/telemetry"
)

// serviceBuilder constructs the analyses service and a cleanup func.
type serviceBuilder func(ctx context.Context) (*analyses.Service, func() error, error)

func defaultBuilder(ctx context.Context) (*analyses.Service, func() error, error) {
	cfg := config.Load()
	dbOpts := db.DefaultWorkerOptions()
	app, err := bootstrap.BuildWith(ctx, cfg, bootstrap.Options{DBOptions: &dbOpts, SkipRouter: true})
	if err != nil {
		return nil, nil, err
	}
	return app.AnalysesService, app.Close, nil
}

const needsService = "needs-service"

type rootOptions struct {
	build    serviceBuilder
	output   string
	logLevel string

	svc     *analyses.Service
	cleanup func() error
}

func newRootCmd(build serviceBuilder) *cobra.Command {
	opts := &rootOptions{build: build}

	root := &cobra.Command{
		Use:           "compat",
		Short:         "Run and inspect requirements compatibility analyses",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries reports; logs go to stderr.
			telemetry.SetOutput(cmd.ErrOrStderr())
			if opts.logLevel != "" {
				telemetry.SetLevel(opts.logLevel)
			}
			if err := validateFormat(opts.output); err != nil {
				return err
			}
			if cmd.Annotations[needsService] == "" {
				return nil
			}
			svc, cleanup, err := opts.build(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
			opts.svc = svc
			opts.cleanup = cleanup
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.cleanup == nil {
				return nil
			}
			return opts.cleanup()
		},
	}

	root.PersistentFlags().StringVarP(&opts.output, "output", "o", formatJSON, "output format: json or yaml")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override LOG_LEVEL")

	root.AddCommand(
		newRunCmd(opts),
		newReportCmd(opts),
		newRunsCmd(opts),
	)
	return root
}

// exitCode maps failures caused by the workspace contents to 2 and
// everything else to 1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var tagged *analyses.Error
	if errors.As(err, &tagged) {
		switch tagged.Code {
		case analyses.CodeInvalidWorkspace,
			analyses.CodeRequirementsMissing,
			analyses.CodeSourceCodeMissing,
			analyses.CodeReportNotFound:
			return 2
		}
	}
	return 1
}

func workspaceArg(args []string) string {
	return strings.TrimSpace(args[0])
}
