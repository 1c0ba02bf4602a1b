package cli

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/saltfish/freqsweep/internal/report"
)

func newReportCmd(st *state) *cobra.Command {
	var (
		results   string
		format    string
		topN      int
		exportDir string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the summary of a saved results file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if results == "" {
				results = st.cfg.Runner.ResultsPath
			}
			if topN <= 0 {
				topN = st.cfg.Runner.TopN
			}
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}

			result, err := report.Load(results)
			if err != nil {
				return err
			}
			if err := report.WriteSummary(st.out, result, topN, f, st.logger); err != nil {
				return err
			}

			if exportDir == "" {
				return nil
			}
			if _, err := report.WriteSummaryFile(exportDir, result, st.cfg.Runner.Params(), time.Now()); err != nil {
				return err
			}
			if _, err := report.ExportCSV(exportDir, result); err != nil {
				return err
			}
			path, err := report.ExportXLSX(exportDir, result)
			if err != nil {
				return err
			}
			st.logger.Info("Exports written", zap.String("dir", exportDir), zap.String("xlsx", path))
			return nil
		},
	}
	cmd.Flags().StringVar(&results, "results", "", "results file path")
	cmd.Flags().StringVar(&format, "format", "table", "summary format: table, markdown, json")
	cmd.Flags().IntVar(&topN, "top", 0, "number of ranked units")
	cmd.Flags().StringVar(&exportDir, "export-dir", "", "also write summary, CSV and XLSX exports here")
	return cmd
}
