package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Metric names extracted from a validation report.
const (
	MetricTotalProfit = "total_profit"
	MetricWinRate     = "win_rate"
	MetricMaxDrawdown = "max_drawdown"
	MetricTrades      = "trades"
	MetricAvgDuration = "avg_duration"
)

// MetricNames lists the known metrics in report column order.
var MetricNames = []string{
	MetricTotalProfit,
	MetricWinRate,
	MetricMaxDrawdown,
	MetricTrades,
	MetricAvgDuration,
}

// Metrics maps a metric name to its textual value. Any subset may be present.
type Metrics map[string]string

// Get returns the value for name and whether it was present.
func (m Metrics) Get(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[name]
	return v, ok
}

// Clone returns a copy of the metrics.
func (m Metrics) Clone() Metrics {
	if m == nil {
		return nil
	}
	out := make(Metrics, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// StageOutcome is the result of one external tool invocation.
type StageOutcome struct {
	Stage      StageKind `json:"stage"`
	Success    bool      `json:"success"`
	ExitCode   int       `json:"exit_code"`
	TimedOut   bool      `json:"timed_out,omitempty"`
	Excerpt    string    `json:"excerpt,omitempty"`
	Metrics    Metrics   `json:"metrics,omitempty"`
	BestResult string    `json:"best_result,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Output is the raw captured text. It is kept only until the outcome is folded
	// into a UnitOutcome.
	Output string `json:"-"`
}

// Duration returns how long the stage ran.
func (o *StageOutcome) Duration() time.Duration {
	if o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

// Err returns a StageError for a failed stage and nil otherwise.
func (o *StageOutcome) Err() error {
	if o.Success {
		return nil
	}
	return &StageError{
		Stage:    o.Stage,
		ExitCode: o.ExitCode,
		Excerpt:  o.Excerpt,
		TimedOut: o.TimedOut,
	}
}

// UnitOutcome is the recorded result of one experiment unit.
type UnitOutcome struct {
	Unit             ExperimentUnit `json:"unit"`
	State            UnitState      `json:"state"`
	OptimizeSuccess  bool           `json:"hyperopt_success"`
	ValidateSuccess  bool           `json:"backtest_success"`
	Metrics          Metrics        `json:"metrics"`
	BestResult       string         `json:"best_result,omitempty"`
	Error            string         `json:"error,omitempty"`
	OptimizeDuration time.Duration  `json:"optimize_duration"`
	ValidateDuration time.Duration  `json:"validate_duration"`
}

// NewUnitOutcome creates a pending outcome for unit.
func NewUnitOutcome(unit ExperimentUnit) *UnitOutcome {
	return &UnitOutcome{
		Unit:  unit,
		State: UnitStatePending,
	}
}

// Duration returns the time spent in the unit's stages.
func (o *UnitOutcome) Duration() time.Duration {
	return o.OptimizeDuration + o.ValidateDuration
}

// BatchResult maps every unit of a batch to its outcome.
type BatchResult struct {
	ID         uuid.UUID               `json:"batch_id"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
	Elapsed    time.Duration           `json:"elapsed"`
	Order      []string                `json:"order"`
	Outcomes   map[string]*UnitOutcome `json:"units"`
}

// NewBatchResult creates an empty BatchResult.
func NewBatchResult(startedAt time.Time) *BatchResult {
	return &BatchResult{
		ID:        uuid.New(),
		StartedAt: startedAt,
		Outcomes:  make(map[string]*UnitOutcome),
	}
}

// Record stores the outcome of a unit. Each unit may be recorded once.
func (b *BatchResult) Record(outcome *UnitOutcome) error {
	id := outcome.Unit.ID()
	if _, ok := b.Outcomes[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateOutcome, id)
	}
	if b.Outcomes == nil {
		b.Outcomes = make(map[string]*UnitOutcome)
	}
	b.Outcomes[id] = outcome
	b.Order = append(b.Order, id)
	return nil
}

// Get returns the outcome recorded for a unit ID.
func (b *BatchResult) Get(id string) (*UnitOutcome, bool) {
	o, ok := b.Outcomes[id]
	return o, ok
}

// Len returns the number of recorded outcomes.
func (b *BatchResult) Len() int {
	return len(b.Outcomes)
}

// Ordered returns the outcomes in the order the units ran.
func (b *BatchResult) Ordered() []*UnitOutcome {
	out := make([]*UnitOutcome, 0, len(b.Order))
	for _, id := range b.Order {
		if o, ok := b.Outcomes[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

// BatchCounts summarizes unit dispositions.
type BatchCounts struct {
	Total     int `json:"total"`
	Validated int `json:"validated"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Counts tallies the recorded outcomes by disposition.
func (b *BatchResult) Counts() BatchCounts {
	c := BatchCounts{Total: len(b.Outcomes)}
	for _, o := range b.Outcomes {
		switch {
		case o.State == UnitStateValidated:
			c.Validated++
		case o.State.IsFailure():
			c.Failed++
		case o.State == UnitStateCancelled:
			c.Cancelled++
		}
	}
	return c
}
