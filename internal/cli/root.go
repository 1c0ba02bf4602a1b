// Package cli implements the freqsweep command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/saltfish/freqsweep/internal/config"
)

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// state is shared by all subcommands. It is filled in by the root command's
// PersistentPreRunE.
type state struct {
	settings  string
	logLevel  string
	traceFile string

	cfg           *config.Config
	logger        *zap.Logger
	out           io.Writer
	shutdownTrace func(context.Context) error
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&state{})
}

func newRootCmd(st *state) *cobra.Command {
	root := &cobra.Command{
		Use:           "freqsweep",
		Short:         "Batch hyperopt and backtest sweeps over freqtrade strategies",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return st.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			st.finish()
		},
	}
	root.PersistentFlags().StringVar(&st.settings, "settings", "freqsweep.yaml", "settings file path (YAML)")
	root.PersistentFlags().StringVar(&st.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&st.traceFile, "trace-file", "", "write OpenTelemetry spans to this file")

	root.AddCommand(newRunCmd(st))
	root.AddCommand(newDownloadCmd(st))
	root.AddCommand(newReportCmd(st))
	root.AddCommand(newHistoryCmd(st))
	root.AddCommand(newWatchCmd(st))
	root.AddCommand(newScheduleCmd(st))
	root.AddCommand(newVersionCmd())
	return root
}

func (st *state) init(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}

	cfg, err := config.Load(st.settings)
	if err != nil {
		return err
	}
	if st.logLevel != "" {
		cfg.Logging.Level = st.logLevel
	}

	logger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	st.cfg = cfg
	st.logger = logger
	st.out = cmd.OutOrStdout()

	if st.traceFile != "" {
		shutdown, err := initTracing(st.traceFile)
		if err != nil {
			return err
		}
		st.shutdownTrace = shutdown
	}

	logger.Debug("Configuration loaded",
		zap.String("settings", st.settings),
		zap.String("environment", cfg.Env),
		zap.String("log_level", cfg.Logging.Level),
	)
	return nil
}

func (st *state) finish() {
	if st.shutdownTrace != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := st.shutdownTrace(ctx); err != nil && st.logger != nil {
			st.logger.Warn("Failed to flush traces", zap.Error(err))
		}
		cancel()
		st.shutdownTrace = nil
	}
	if st.logger != nil {
		_ = st.logger.Sync()
	}
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	st := &state{}
	err := newRootCmd(st).Execute()
	st.finish()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
