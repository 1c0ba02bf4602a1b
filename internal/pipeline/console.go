package pipeline

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/saltfish/freqsweep/internal/domain"
	"github.com/saltfish/freqsweep/internal/parser"
)

// epochReportInterval is how many epoch lines pass between progress prints.
const epochReportInterval = 10

// ConsoleObserver prints human-readable progress, including failure excerpts as
// soon as a stage fails.
type ConsoleObserver struct {
	NopObserver

	w      io.Writer
	epochs int
	seen   int
}

// NewConsoleObserver writes to w. epochs is the configured optimize iteration count.
func NewConsoleObserver(w io.Writer, epochs int) *ConsoleObserver {
	return &ConsoleObserver{w: w, epochs: epochs}
}

func (c *ConsoleObserver) BatchStarted(batchID uuid.UUID, units []domain.ExperimentUnit) {
	fmt.Fprintf(c.w, "Batch %s: %d unit(s)\n", batchID, len(units))
}

func (c *ConsoleObserver) UnitStarted(unit domain.ExperimentUnit, index, total int) {
	fmt.Fprintf(c.w, "\n[%d/%d] %s\n", index, total, unit.ID())
}

func (c *ConsoleObserver) StageStarted(unit domain.ExperimentUnit, stage domain.StageKind) {
	c.seen = 0
	fmt.Fprintf(c.w, "  %s (%s)...\n", stage, stage.Subcommand())
}

func (c *ConsoleObserver) StageProgress(unit domain.ExperimentUnit, stage domain.StageKind, p parser.Progress) {
	switch p.Kind {
	case parser.ProgressBestResult, parser.ProgressObjective:
		fmt.Fprintf(c.w, "    %s\n", p.Line)
	case parser.ProgressEpoch:
		c.seen++
		if c.seen%epochReportInterval != 0 {
			return
		}
		total := c.epochs
		if p.Total > 0 {
			total = p.Total
		}
		fmt.Fprintf(c.w, "    Progress: %d/%d epochs\n", c.seen, total)
	}
}

func (c *ConsoleObserver) StageFinished(unit domain.ExperimentUnit, outcome *domain.StageOutcome) {
	if outcome.Success {
		fmt.Fprintf(c.w, "  %s done in %s\n", outcome.Stage, outcome.Duration().Round(time.Second))
		return
	}
	reason := fmt.Sprintf("exit code %d", outcome.ExitCode)
	if outcome.TimedOut {
		reason = "timed out"
	}
	fmt.Fprintf(c.w, "  %s FAILED (%s)\n", outcome.Stage, reason)
	if outcome.Excerpt != "" {
		fmt.Fprintf(c.w, "    %s\n", outcome.Excerpt)
	}
}

func (c *ConsoleObserver) UnitFinished(outcome *domain.UnitOutcome, p Progress) {
	if outcome.State == domain.UnitStateValidated {
		if v, ok := outcome.Metrics.Get(domain.MetricTotalProfit); ok {
			fmt.Fprintf(c.w, "  profit: %s\n", v)
		}
	}
	fmt.Fprintf(c.w, "  Progress: %d/%d units | validated %d | failed %d | elapsed %s\n",
		p.Done, p.Total, p.Counts.Validated, p.Counts.Failed, p.Elapsed.Round(time.Second))
}

// Ensure interface compliance at compile time.
var _ Observer = (*ConsoleObserver)(nil)
