package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/saltfish/freqsweep/internal/scheduler"
)

func newScheduleCmd(st *state) *cobra.Command {
	flags := &runFlags{}
	var cronSpec, timezone string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run a batch on a cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cronSpec != "" {
				st.cfg.Schedule.Cron = cronSpec
			}
			if timezone != "" {
				st.cfg.Schedule.Timezone = timezone
			}
			opts, err := flags.apply(st.cfg)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context(), st.logger)
			defer stop()

			a, err := newApp(ctx, st.cfg, st.logger, st.out)
			if err != nil {
				return err
			}
			defer a.Close()

			sched, err := scheduler.NewBatchScheduler(st.cfg.Schedule, func(ctx context.Context) error {
				_, err := a.runBatch(ctx, opts)
				return err
			}, st.logger)
			if err != nil {
				return err
			}

			st.logger.Info("Waiting for scheduled batches",
				zap.Int("units", len(opts.units)),
				zap.Time("next_run", sched.NextRun()),
			)
			sched.Start(ctx)
			<-ctx.Done()
			sched.Stop()
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&cronSpec, "cron", "", "cron expression, e.g. \"0 2 * * 0\" or @weekly")
	cmd.Flags().StringVar(&timezone, "timezone", "", "timezone the cron expression is evaluated in")
	return cmd
}
