package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltfish/freqsweep/internal/domain"
	"github.com/saltfish/freqsweep/internal/pipeline"
)

func TestCollector_RecordsBatch(t *testing.T) {
	c := NewCollector()
	unit := domain.ExperimentUnit{Strategy: "GodStra", Timeframe: "4h"}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	c.BatchStarted(uuid.New(), []domain.ExperimentUnit{unit, {Strategy: "MultiMa"}})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.batchRunning))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.batchTotal))

	c.StageFinished(unit, &domain.StageOutcome{
		Stage: domain.StageOptimize, Success: true, StartedAt: start, FinishedAt: start.Add(time.Minute),
	})
	c.StageFinished(unit, &domain.StageOutcome{Stage: domain.StageValidate, TimedOut: true})
	c.StageFinished(unit, &domain.StageOutcome{Stage: domain.StageOptimize, ExitCode: 1})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.stageRuns.WithLabelValues("optimize", statusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stageRuns.WithLabelValues("optimize", statusFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stageRuns.WithLabelValues("validate", statusTimeout)))

	outcome := domain.NewUnitOutcome(unit)
	outcome.State = domain.UnitStateValidated
	outcome.Metrics = domain.Metrics{domain.MetricTotalProfit: "15.2%"}
	c.UnitFinished(outcome, pipeline.Progress{Done: 1, Total: 2})

	failed := domain.NewUnitOutcome(domain.ExperimentUnit{Strategy: "MultiMa"})
	failed.State = domain.UnitStateOptimizeFailed
	c.UnitFinished(failed, pipeline.Progress{Done: 2, Total: 2})

	assert.Equal(t, 15.2, testutil.ToFloat64(c.unitProfit.WithLabelValues("GodStra_4h")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.units.WithLabelValues("validated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.units.WithLabelValues("optimize_failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.batchDone))

	c.BatchFinished(domain.NewBatchResult(start))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.batchRunning))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.BatchStarted(uuid.New(), nil)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "freqsweep_batches_total 1")
}
