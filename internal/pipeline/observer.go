// Package pipeline sequences experiment units through the optimize and validate stages.
package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/saltfish/freqsweep/internal/domain"
	"github.com/saltfish/freqsweep/internal/parser"
)

// Progress is the batch position reported after each unit.
type Progress struct {
	BatchID uuid.UUID          `json:"batch_id"`
	Done    int                `json:"done"`
	Total   int                `json:"total"`
	Counts  domain.BatchCounts `json:"counts"`
	Elapsed time.Duration      `json:"elapsed"`
}

// Observer receives batch lifecycle notifications. Calls are made from the
// batch goroutine, one at a time.
type Observer interface {
	BatchStarted(batchID uuid.UUID, units []domain.ExperimentUnit)
	UnitStarted(unit domain.ExperimentUnit, index, total int)
	StageStarted(unit domain.ExperimentUnit, stage domain.StageKind)
	StageProgress(unit domain.ExperimentUnit, stage domain.StageKind, progress parser.Progress)
	StageFinished(unit domain.ExperimentUnit, outcome *domain.StageOutcome)
	UnitFinished(outcome *domain.UnitOutcome, progress Progress)
	BatchFinished(result *domain.BatchResult)
}

// NopObserver ignores every notification. Embed it to implement a subset of Observer.
type NopObserver struct{}

func (NopObserver) BatchStarted(uuid.UUID, []domain.ExperimentUnit) {}
func (NopObserver) UnitStarted(domain.ExperimentUnit, int, int) {}
func (NopObserver) StageStarted(domain.ExperimentUnit, domain.StageKind) {}
func (NopObserver) StageProgress(domain.ExperimentUnit, domain.StageKind, parser.Progress) {}
func (NopObserver) StageFinished(domain.ExperimentUnit, *domain.StageOutcome) {}
func (NopObserver) UnitFinished(*domain.UnitOutcome, Progress) {}
func (NopObserver) BatchFinished(*domain.BatchResult) {}

// Observers fans notifications out to each observer in order.
type Observers []Observer

func (o Observers) BatchStarted(batchID uuid.UUID, units []domain.ExperimentUnit) {
	for _, obs := range o {
		obs.BatchStarted(batchID, units)
	}
}

func (o Observers) UnitStarted(unit domain.ExperimentUnit, index, total int) {
	for _, obs := range o {
		obs.UnitStarted(unit, index, total)
	}
}

func (o Observers) StageStarted(unit domain.ExperimentUnit, stage domain.StageKind) {
	for _, obs := range o {
		obs.StageStarted(unit, stage)
	}
}

func (o Observers) StageProgress(unit domain.ExperimentUnit, stage domain.StageKind, progress parser.Progress) {
	for _, obs := range o {
		obs.StageProgress(unit, stage, progress)
	}
}

func (o Observers) StageFinished(unit domain.ExperimentUnit, outcome *domain.StageOutcome) {
	for _, obs := range o {
		obs.StageFinished(unit, outcome)
	}
}

func (o Observers) UnitFinished(outcome *domain.UnitOutcome, progress Progress) {
	for _, obs := range o {
		obs.UnitFinished(outcome, progress)
	}
}

func (o Observers) BatchFinished(result *domain.BatchResult) {
	for _, obs := range o {
		obs.BatchFinished(result)
	}
}

// Ensure interface compliance at compile time.
var (
	_ Observer = NopObserver{}
	_ Observer = Observers(nil)
)
