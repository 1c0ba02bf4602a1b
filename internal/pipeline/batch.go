package pipeline

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/saltfish/freqsweep/internal/domain"
)

// Batch runs units one after another and records exactly one outcome per unit.
type Batch struct {
	units    UnitRunner
	observer Observer
	now      func() time.Time
	logger   *zap.Logger
}

// BatchOption configures a Batch.
type BatchOption func(*Batch)

// WithBatchClock overrides the clock used for batch timing.
func WithBatchClock(now func() time.Time) BatchOption {
	return func(b *Batch) { b.now = now }
}

// NewBatch creates a Batch. A nil observer is replaced by NopObserver.
func NewBatch(units UnitRunner, observer Observer, logger *zap.Logger, opts ...BatchOption) *Batch {
	if observer == nil {
		observer = NopObserver{}
	}
	b := &Batch{
		units:    units,
		observer: observer,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run processes units in order. Cancellation of ctx is honoured only between
// units; units that never start are recorded as cancelled. A running stage is
// bounded by its own timeout instead.
func (b *Batch) Run(ctx context.Context, units []domain.ExperimentUnit, params domain.RunParams) *domain.BatchResult {
	units = uniqueUnits(units, b.logger)
	result := domain.NewBatchResult(b.now())
	total := len(units)

	b.logger.Info("Batch started",
		zap.String("batch_id", result.ID.String()),
		zap.Int("units", total),
	)
	b.observer.BatchStarted(result.ID, units)

	for i, unit := range units {
		var outcome *domain.UnitOutcome
		if ctx.Err() != nil {
			outcome = domain.NewUnitOutcome(unit)
			outcome.State = domain.UnitStateCancelled
			outcome.Error = "batch cancelled before unit started"
		} else {
			b.observer.UnitStarted(unit, i+1, total)
			outcome = b.units.RunUnit(context.WithoutCancel(ctx), unit, params)
		}

		if err := result.Record(outcome); err != nil {
			b.logger.Error("Failed to record unit outcome", zap.Error(err))
			continue
		}

		b.observer.UnitFinished(outcome, Progress{
			BatchID: result.ID,
			Done:    i + 1,
			Total:   total,
			Counts:  result.Counts(),
			Elapsed: b.now().Sub(result.StartedAt),
		})
	}

	result.FinishedAt = b.now()
	result.Elapsed = result.FinishedAt.Sub(result.StartedAt)

	counts := result.Counts()
	b.logger.Info("Batch finished",
		zap.String("batch_id", result.ID.String()),
		zap.Int("validated", counts.Validated),
		zap.Int("failed", counts.Failed),
		zap.Int("cancelled", counts.Cancelled),
		zap.Duration("elapsed", result.Elapsed),
	)
	b.observer.BatchFinished(result)

	return result
}

// uniqueUnits drops repeated unit identities so each maps to one outcome.
func uniqueUnits(units []domain.ExperimentUnit, logger *zap.Logger) []domain.ExperimentUnit {
	seen := make(map[string]domain.ExperimentUnit, len(units))
	out := make([]domain.ExperimentUnit, 0, len(units))
	for _, u := range units {
		if prev, ok := seen[u.ID()]; ok {
			if prev != u {
				logger.Error("Skipping unit whose id is already taken by another unit",
					zap.String("unit", u.ID()),
					zap.String("strategy", u.Strategy),
					zap.String("timeframe", u.Timeframe),
					zap.String("taken_by", prev.Strategy+" "+prev.Timeframe),
				)
				continue
			}
			logger.Warn("Skipping repeated unit", zap.String("unit", u.ID()))
			continue
		}
		seen[u.ID()] = u
		out = append(out, u)
	}
	return out
}

// CheckToolConfig verifies that the tool configuration exists before any stage runs.
func CheckToolConfig(path, example string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return domain.ConfigNotFoundError{Path: path, Example: example}
	}
	return nil
}
