package main

import (
	"github.com/phrazzld/pdfscan/internal/platform/virustotal"
	"github.com/phrazzld/pdfscan/internal/task"
	"github.com/spf13/cobra"
)

func newWorkerCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the scan worker pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			if err := cfg.RequireAnalysisKey(); err != nil {
				return err
			}

			app, err := newApplication(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer app.cleanup()

			client := virustotal.New(virustotal.Config{
				APIKey:            cfg.Analysis.APIKey,
				BaseURL:           cfg.Analysis.BaseURL,
				RequestsPerMinute: cfg.Analysis.RequestsPerMinute,
				Timeout:           cfg.Analysis.Timeout,
				MaxPollRetries:    cfg.Analysis.MaxPollRetries,
			}, log)

			processor := task.NewProcessor(client, app.content, app.reports, log)
			pool := task.NewWorkerPool(app.tasks, processor, task.WorkerPoolConfig{
				WorkerCount: cfg.Worker.Count,
				LeaseTTL:    cfg.Worker.LeaseTTL,
				IdleBackoff: cfg.Worker.IdleBackoff,
			}, log)

			return pool.Run(cmd.Context())
		},
	}
}
