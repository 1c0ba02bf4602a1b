package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/saltfish/freqsweep/internal/domain"
)

// Format selects how a summary is rendered.
type Format string

const (
	FormatTable    Format = "table"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat converts a string to Format. An empty string selects FormatTable.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatMarkdown, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown report format %q", domain.ErrInvalidInput, s)
	}
}

// Disposition is one unit's final state as shown in a summary.
type Disposition struct {
	Unit            string           `json:"unit"`
	State           domain.UnitState `json:"state"`
	OptimizeSuccess bool             `json:"hyperopt_success"`
	ValidateSuccess bool             `json:"backtest_success"`
	Duration        time.Duration    `json:"duration"`
	Error           string           `json:"error,omitempty"`
}

// Summary is the rendered view of a batch.
type Summary struct {
	BatchID   string             `json:"batch_id"`
	Elapsed   time.Duration      `json:"elapsed"`
	Counts    domain.BatchCounts `json:"counts"`
	Top       []TopEntry         `json:"top"`
	Failures  []string           `json:"failures"`
	Cancelled []string           `json:"cancelled"`
	Units     []Disposition      `json:"units"`
}

// TopEntry is a ranked unit with its metrics.
type TopEntry struct {
	Ranked
	Metrics domain.Metrics `json:"metrics"`
}

// Summarize ranks the batch and collects every unit's disposition.
func Summarize(result *domain.BatchResult, topN int, logger *zap.Logger) *Summary {
	s := &Summary{
		BatchID:   result.ID.String(),
		Elapsed:   result.Elapsed,
		Counts:    result.Counts(),
		Failures:  Failures(result),
		Cancelled: Cancelled(result),
	}
	for _, r := range Top(Rank(result, logger), topN) {
		s.Top = append(s.Top, TopEntry{Ranked: r, Metrics: r.Outcome.Metrics})
	}
	for _, o := range result.Ordered() {
		s.Units = append(s.Units, Disposition{
			Unit:            o.Unit.ID(),
			State:           o.State,
			OptimizeSuccess: o.OptimizeSuccess,
			ValidateSuccess: o.ValidateSuccess,
			Duration:        o.Duration(),
			Error:           firstLine(o.Error),
		})
	}
	return s
}

// WriteSummary renders the top units, the failures and every unit's disposition.
func WriteSummary(w io.Writer, result *domain.BatchResult, topN int, format Format, logger *zap.Logger) error {
	s := Summarize(result, topN, logger)

	switch format {
	case FormatMarkdown:
		return writeMarkdown(s, w)
	case FormatJSON:
		return writeJSON(s, w)
	default:
		return writeTable(s, w)
	}
}

func writeTable(s *Summary, w io.Writer) error {
	rule := strings.Repeat("=", 70)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "BATCH SUMMARY %s\n", s.BatchID)
	fmt.Fprintf(w, "Total time: %s\n", s.Elapsed.Round(time.Second))
	fmt.Fprintf(w, "Units: %d | validated %d | failed %d | cancelled %d\n",
		s.Counts.Total, s.Counts.Validated, s.Counts.Failed, s.Counts.Cancelled)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "TOP %d\n", len(s.Top))
	fmt.Fprintln(tw, "RANK\tUNIT\tPROFIT\tWIN RATE\tDRAWDOWN\tTRADES")
	for _, e := range s.Top {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", e.Rank, e.Unit,
			metricOrNA(e.Metrics, domain.MetricTotalProfit),
			metricOrNA(e.Metrics, domain.MetricWinRate),
			metricOrNA(e.Metrics, domain.MetricMaxDrawdown),
			metricOrNA(e.Metrics, domain.MetricTrades))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(s.Failures) > 0 {
		fmt.Fprintf(w, "\nFAILED: %s\n", strings.Join(s.Failures, ", "))
	}
	if len(s.Cancelled) > 0 {
		fmt.Fprintf(w, "CANCELLED: %s\n", strings.Join(s.Cancelled, ", "))
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tSTATE\tOPTIMIZE\tVALIDATE\tDURATION\tERROR")
	for _, d := range s.Units {
		opt, val := stageLabels(d.State, d.OptimizeSuccess, d.ValidateSuccess)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", d.Unit, d.State, opt, val,
			d.Duration.Round(time.Second), d.Error)
	}
	return tw.Flush()
}

func writeMarkdown(s *Summary, w io.Writer) error {
	fmt.Fprintf(w, "## Batch %s\n\n", s.BatchID)
	fmt.Fprintf(w, "Total time: %s. Units: %d, validated %d, failed %d, cancelled %d.\n\n",
		s.Elapsed.Round(time.Second), s.Counts.Total, s.Counts.Validated, s.Counts.Failed, s.Counts.Cancelled)

	fmt.Fprintln(w, "| Rank | Unit | Profit | Win Rate | Drawdown | Trades |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|")
	for _, e := range s.Top {
		fmt.Fprintf(w, "| %d | %s | %s | %s | %s | %s |\n", e.Rank, e.Unit,
			metricOrNA(e.Metrics, domain.MetricTotalProfit),
			metricOrNA(e.Metrics, domain.MetricWinRate),
			metricOrNA(e.Metrics, domain.MetricMaxDrawdown),
			metricOrNA(e.Metrics, domain.MetricTrades))
	}

	if len(s.Failures) > 0 {
		fmt.Fprintf(w, "\n**Failed:** %s\n", strings.Join(s.Failures, ", "))
	}
	if len(s.Cancelled) > 0 {
		fmt.Fprintf(w, "\n**Cancelled:** %s\n", strings.Join(s.Cancelled, ", "))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Unit | State | Optimize | Validate | Duration |")
	fmt.Fprintln(w, "|---|---|---|---|---|")
	for _, d := range s.Units {
		opt, val := stageLabels(d.State, d.OptimizeSuccess, d.ValidateSuccess)
		fmt.Fprintf(w, "| %s | %s | %s | %s | %s |\n", d.Unit, d.State, opt, val, d.Duration.Round(time.Second))
	}
	return nil
}

func writeJSON(s *Summary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// WriteSummaryFile writes a plain-text summary with the run parameters and every
// unit's metrics to dir/complete_summary.txt.
func WriteSummaryFile(dir string, result *domain.BatchResult, params domain.RunParams, generated time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(dir, "complete_summary.txt")

	var b strings.Builder
	rule := strings.Repeat("=", 70)
	b.WriteString("Complete Optimize & Validate Summary\n")
	fmt.Fprintf(&b, "Generated: %s\n", generated.Format("2006-01-02 15:04:05"))
	b.WriteString(rule + "\n\n")
	fmt.Fprintf(&b, "Epochs: %d\n", params.Epochs)
	fmt.Fprintf(&b, "Loss: %s\n", params.Loss)
	fmt.Fprintf(&b, "Timeframes: %s\n", strings.Join(params.Timeframes, ", "))
	fmt.Fprintf(&b, "Pairs: %s\n", strings.Join(params.Pairs, ", "))
	fmt.Fprintf(&b, "Train Period: %s\n", params.HyperoptRange)
	fmt.Fprintf(&b, "Test Period: %s\n\n", params.BacktestRange)

	b.WriteString(rule + "\nRESULTS BY UNIT\n" + rule + "\n")
	for _, o := range result.Ordered() {
		fmt.Fprintf(&b, "\n%s\n", o.Unit.ID())
		fmt.Fprintf(&b, "  State: %s\n", o.State)
		opt, val := stageLabels(o.State, o.OptimizeSuccess, o.ValidateSuccess)
		fmt.Fprintf(&b, "  Optimize: %s\n", opt)
		fmt.Fprintf(&b, "  Validate: %s\n", val)
		if len(o.Metrics) > 0 {
			b.WriteString("  Metrics:\n")
			for _, name := range metricColumns(result) {
				if v, ok := o.Metrics.Get(name); ok {
					fmt.Fprintf(&b, "    %s: %s\n", name, v)
				}
			}
		}
		if o.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", firstLine(o.Error))
		}
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write summary file: %w", err)
	}
	return path, nil
}

func metricOrNA(m domain.Metrics, name string) string {
	if v, ok := m.Get(name); ok {
		return v
	}
	return "N/A"
}

// stageLabels describes the optimize and validate stages of a unit.
func stageLabels(state domain.UnitState, optimizeOK, validateOK bool) (string, string) {
	switch state {
	case domain.UnitStateCancelled, domain.UnitStatePending:
		return "skipped", "skipped"
	case domain.UnitStateOptimizeFailed:
		return "failed", "skipped"
	}
	opt, val := "ok", "ok"
	if !optimizeOK {
		opt = "failed"
	}
	if !validateOK {
		val = "failed"
	}
	return opt, val
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
