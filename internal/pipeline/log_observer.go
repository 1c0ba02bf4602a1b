package pipeline

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saltfish/freqsweep/internal/domain"
)

// LogObserver writes batch notifications to a zap logger.
type LogObserver struct {
	NopObserver

	logger *zap.Logger
}

// NewLogObserver creates a LogObserver.
func NewLogObserver(logger *zap.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (l *LogObserver) BatchStarted(batchID uuid.UUID, units []domain.ExperimentUnit) {
	l.logger.Info("Batch started",
		zap.String("batch_id", batchID.String()),
		zap.Int("units", len(units)),
	)
}

func (l *LogObserver) StageStarted(unit domain.ExperimentUnit, stage domain.StageKind) {
	l.logger.Debug("Stage started",
		zap.String("unit", unit.ID()),
		zap.String("stage", stage.String()),
	)
}

func (l *LogObserver) StageFinished(unit domain.ExperimentUnit, outcome *domain.StageOutcome) {
	fields := []zap.Field{
		zap.String("unit", unit.ID()),
		zap.String("stage", outcome.Stage.String()),
		zap.Duration("duration", outcome.Duration()),
	}
	if outcome.Success {
		l.logger.Info("Stage succeeded", fields...)
		return
	}
	l.logger.Warn("Stage failed", append(fields,
		zap.Int("exit_code", outcome.ExitCode),
		zap.Bool("timed_out", outcome.TimedOut),
	)...)
}

func (l *LogObserver) UnitFinished(outcome *domain.UnitOutcome, p Progress) {
	l.logger.Info("Unit finished",
		zap.String("unit", outcome.Unit.ID()),
		zap.String("state", outcome.State.String()),
		zap.Int("done", p.Done),
		zap.Int("total", p.Total),
	)
}

func (l *LogObserver) BatchFinished(result *domain.BatchResult) {
	c := result.Counts()
	l.logger.Info("Batch finished",
		zap.String("batch_id", result.ID.String()),
		zap.Duration("elapsed", result.Elapsed),
		zap.Int("validated", c.Validated),
		zap.Int("failed", c.Failed),
		zap.Int("cancelled", c.Cancelled),
	)
}

var _ Observer = (*LogObserver)(nil)
