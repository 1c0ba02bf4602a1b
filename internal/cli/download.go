package cli

import (
	"github.com/spf13/cobra"

	"github.com/saltfish/freqsweep/internal/config"
	"github.com/saltfish/freqsweep/internal/pipeline"
)

func newDownloadCmd(st *state) *cobra.Command {
	var (
		timeframes []string
		pairs      []string
		timerange  string
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download market data for the configured pairs and timeframes",
		RunE: func(cmd *cobra.Command, args []string) error {
			r := &st.cfg.Runner
			if len(timeframes) > 0 {
				r.Timeframes = timeframes
			}
			if len(pairs) > 0 {
				r.Pairs = pairs
			}
			if timerange != "" {
				r.DataRange = timerange
			}
			if err := config.ValidateRunner(r); err != nil {
				return err
			}

			params := r.Params()
			if err := pipeline.CheckToolConfig(params.ConfigPath, r.ExampleConfig); err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context(), st.logger)
			defer stop()

			a, err := newApp(ctx, st.cfg, st.logger, st.out)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.download(ctx, params)
		},
	}
	cmd.Flags().StringSliceVar(&timeframes, "timeframe", nil, "timeframes to download")
	cmd.Flags().StringSliceVar(&pairs, "pairs", nil, "pairs to download")
	cmd.Flags().StringVar(&timerange, "timerange", "", "data range, e.g. 20200101-20251031")
	return cmd
}
