package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/facility-locator/internal/jobs"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker for locate workflows",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		eng, err := buildEngine(ctx, "worker")
		if err != nil {
			return err
		}
		defer eng.Close() //nolint:errcheck

		c, err := jobs.Dial(cfg.Temporal)
		if err != nil {
			return err
		}
		defer c.Close()

		w := jobs.NewWorker(c, cfg.Temporal.TaskQueue, &jobs.Activities{Engine: eng})
		zap.L().Info("starting worker",
			zap.String("host", cfg.Temporal.HostPort),
			zap.String("task_queue", cfg.Temporal.TaskQueue),
		)
		if err := w.Run(worker.InterruptCh()); err != nil {
			return eris.Wrap(err, "worker run")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
