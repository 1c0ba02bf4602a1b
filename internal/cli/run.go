package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/saltfish/freqsweep/internal/config"
	"github.com/saltfish/freqsweep/internal/domain"
	"github.com/saltfish/freqsweep/internal/report"
)

// runFlags are the flags shared by run and schedule.
type runFlags struct {
	strategies    []string
	timeframes    []string
	pairs         []string
	epochs        int
	loss          string
	dataRange     string
	hyperoptRange string
	backtestRange string
	stakeAmount   float64
	toolConfig    string
	timeout       string
	download      bool
	format        string
	topN          int
	results       string
	saveResults   bool
	exportDir     string
	httpAddr      string
}

func (f *runFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringSliceVar(&f.strategies, "strategy", nil, "strategies to run (replaces the configured list)")
	fs.StringSliceVar(&f.timeframes, "timeframe", nil, "timeframes to run, e.g. 4h,12h,1d")
	fs.StringSliceVar(&f.pairs, "pairs", nil, "trading pairs, e.g. BTC/USDT,ETH/USDT")
	fs.IntVar(&f.epochs, "epochs", 0, "hyperopt epochs per unit")
	fs.StringVar(&f.loss, "loss", "", "hyperopt loss function")
	fs.StringVar(&f.dataRange, "data-timerange", "", "download time range, YYYYMMDD-YYYYMMDD")
	fs.StringVar(&f.hyperoptRange, "hyperopt-timerange", "", "optimization time range, YYYYMMDD-YYYYMMDD")
	fs.StringVar(&f.backtestRange, "backtest-timerange", "", "validation time range, YYYYMMDD-YYYYMMDD")
	fs.Float64Var(&f.stakeAmount, "stake-amount", 0, "stake amount per trade")
	fs.StringVar(&f.toolConfig, "config", "", "freqtrade config file path")
	fs.StringVar(&f.timeout, "stage-timeout", "", "limit for a single stage, 0 disables")
	fs.BoolVar(&f.download, "download", false, "download market data before the batch")
	fs.StringVar(&f.format, "format", "table", "summary format: table, markdown, json")
	fs.IntVar(&f.topN, "top", 0, "number of ranked units in the summary")
	fs.StringVar(&f.results, "results", "", "results file path")
	fs.BoolVar(&f.saveResults, "save-results", false, "write the full batch result to the results file")
	fs.StringVar(&f.exportDir, "export-dir", "", "write summary, CSV and XLSX exports to this directory")
	fs.StringVar(&f.httpAddr, "http", "", "serve live status on this address, e.g. :8080")
}

// apply copies set flags onto cfg and revalidates the runner section.
func (f *runFlags) apply(cfg *config.Config) (batchOptions, error) {
	r := &cfg.Runner
	if len(f.strategies) > 0 {
		r.Strategies = f.strategies
	}
	if len(f.timeframes) > 0 {
		r.Timeframes = f.timeframes
	}
	if len(f.pairs) > 0 {
		r.Pairs = f.pairs
	}
	if f.epochs > 0 {
		r.Epochs = f.epochs
	}
	if f.loss != "" {
		r.Loss = f.loss
	}
	if f.dataRange != "" {
		r.DataRange = f.dataRange
	}
	if f.hyperoptRange != "" {
		r.HyperoptRange = f.hyperoptRange
	}
	if f.backtestRange != "" {
		r.BacktestRange = f.backtestRange
	}
	if f.stakeAmount > 0 {
		r.StakeAmount = f.stakeAmount
	}
	if f.toolConfig != "" {
		r.ConfigPath = f.toolConfig
	}
	if f.timeout != "" {
		r.StageTimeout = f.timeout
	}
	if f.topN > 0 {
		r.TopN = f.topN
	}
	if f.results != "" {
		r.ResultsPath = f.results
	}
	if f.saveResults {
		r.SaveResults = true
	}
	if f.exportDir != "" {
		r.ExportDir = f.exportDir
	}
	if f.httpAddr != "" {
		cfg.HTTP.Addr = f.httpAddr
	}

	if err := config.ValidateRunner(r); err != nil {
		return batchOptions{}, err
	}
	format, err := report.ParseFormat(f.format)
	if err != nil {
		return batchOptions{}, err
	}

	return batchOptions{
		units:    domain.BuildUnits(r.Strategies, r.Timeframes),
		params:   r.Params(),
		download: f.download,
		save:     r.SaveResults,
		format:   format,
		topN:     r.TopN,
	}, nil
}

func newRunCmd(st *state) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Optimize and validate every strategy and timeframe, then rank the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.apply(st.cfg)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context(), st.logger)
			defer stop()

			return st.run(ctx, opts)
		},
	}
	flags.register(cmd)
	return cmd
}

func (st *state) run(ctx context.Context, opts batchOptions) error {
	a, err := newApp(ctx, st.cfg, st.logger, st.out)
	if err != nil {
		return err
	}
	defer a.Close()

	st.logger.Info("Starting batch",
		zap.Int("units", len(opts.units)),
		zap.String("executor", st.cfg.Executor.Mode),
		zap.Duration("stage_timeout", opts.params.StageTimeout),
	)

	_, err = a.runBatch(ctx, opts)
	return err
}
