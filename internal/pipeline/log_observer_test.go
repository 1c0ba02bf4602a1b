package pipeline

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saltfish/freqsweep/internal/domain"
)

func TestLogObserver(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := NewLogObserver(zap.New(core))
	unit := domain.ExperimentUnit{Strategy: "GodStra", Timeframe: "4h"}

	l.BatchStarted(uuid.New(), []domain.ExperimentUnit{unit})
	l.StageStarted(unit, domain.StageOptimize)
	l.StageFinished(unit, &domain.StageOutcome{Stage: domain.StageOptimize, ExitCode: 2})

	outcome := domain.NewUnitOutcome(unit)
	outcome.State = domain.UnitStateOptimizeFailed
	l.UnitFinished(outcome, Progress{Done: 1, Total: 1})
	l.BatchFinished(domain.NewBatchResult(time.Now()))

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	assert.Equal(t, "Batch started", entries[0].Message)
	assert.Equal(t, "Stage failed", entries[1].Message)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, int64(2), entries[1].ContextMap()["exit_code"])
	assert.Equal(t, "optimize_failed", entries[2].ContextMap()["state"])
	assert.Equal(t, "Batch finished", entries[3].Message)
}
