package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saltfish/freqsweep/internal/domain"
	"github.com/saltfish/freqsweep/internal/parser"
)

// Status is a point-in-time view of the running batch.
type Status struct {
	BatchID      uuid.UUID             `json:"batch_id"`
	Running      bool                  `json:"running"`
	StartedAt    time.Time             `json:"started_at"`
	FinishedAt   time.Time             `json:"finished_at,omitempty"`
	Total        int                   `json:"total"`
	Done         int                   `json:"done"`
	CurrentUnit  string                `json:"current_unit,omitempty"`
	CurrentStage domain.StageKind      `json:"current_stage,omitempty"`
	LastProgress string                `json:"last_progress,omitempty"`
	Counts       domain.BatchCounts    `json:"counts"`
	Outcomes     []*domain.UnitOutcome `json:"outcomes"`
}

// Tracker keeps the latest batch Status for concurrent readers.
type Tracker struct {
	mu     sync.RWMutex
	status Status
	now    func() time.Time
}

// NewTracker creates an idle Tracker.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Snapshot returns a copy of the current status.
func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.status
	s.Outcomes = append([]*domain.UnitOutcome(nil), t.status.Outcomes...)
	return s
}

func (t *Tracker) BatchStarted(batchID uuid.UUID, units []domain.ExperimentUnit) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status = Status{
		BatchID:   batchID,
		Running:   true,
		StartedAt: t.now(),
		Total:     len(units),
	}
}

func (t *Tracker) UnitStarted(unit domain.ExperimentUnit, index, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.CurrentUnit = unit.ID()
	t.status.CurrentStage = ""
	t.status.LastProgress = ""
}

func (t *Tracker) StageStarted(unit domain.ExperimentUnit, stage domain.StageKind) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.CurrentStage = stage
}

func (t *Tracker) StageProgress(unit domain.ExperimentUnit, stage domain.StageKind, p parser.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.LastProgress = p.Line
}

func (t *Tracker) StageFinished(domain.ExperimentUnit, *domain.StageOutcome) {}

func (t *Tracker) UnitFinished(outcome *domain.UnitOutcome, p Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()

	copied := *outcome
	copied.Metrics = outcome.Metrics.Clone()
	t.status.Outcomes = append(t.status.Outcomes, &copied)
	t.status.Done = p.Done
	t.status.Counts = p.Counts
	t.status.CurrentUnit = ""
	t.status.CurrentStage = ""
}

func (t *Tracker) BatchFinished(result *domain.BatchResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.Running = false
	t.status.FinishedAt = result.FinishedAt
	t.status.Counts = result.Counts()
}

// Ensure interface compliance at compile time.
var _ Observer = (*Tracker)(nil)
