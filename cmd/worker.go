package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-intake/internal/jobs"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the campaign dispatch worker",
	Long:  "Polls the job queue and executes campaign dispatch jobs until interrupted. Safe to run multiple instances against the same database.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := migrateStores(ctx, env); err != nil {
			return eris.Wrap(err, "migrate stores")
		}

		w := jobs.NewWorker(env.Jobs,
			time.Duration(cfg.Worker.PollSecs)*time.Second,
			cfg.Worker.Concurrency,
			cfg.Worker.BatchSize,
		)
		w.Register(jobs.KindCampaignDispatch,
			jobs.NewCampaignHandler(env.Leads, env.Quotas, jobs.LogDispatcher{}).Handle)

		return w.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
