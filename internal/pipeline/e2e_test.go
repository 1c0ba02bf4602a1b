package pipeline_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saltfish/freqsweep/internal/domain"
	"github.com/saltfish/freqsweep/internal/executor"
	"github.com/saltfish/freqsweep/internal/parser"
	"github.com/saltfish/freqsweep/internal/pipeline"
	"github.com/saltfish/freqsweep/internal/report"
	"github.com/saltfish/freqsweep/internal/stage"
)

const validationReport = `
│ Total profit %        │ 15.2%          │
│ Total/Daily Avg Trades│ 42 / 0.1       │
│ Max Drawdown          │ 3.1%           │
`

// scriptedExecutor plays canned tool runs and advances a shared clock.
type scriptedExecutor struct {
	now  time.Time
	runs map[string]scriptedRun
}

type scriptedRun struct {
	exitCode int
	output   string
	took     time.Duration
}

func (e *scriptedExecutor) clock() time.Time { return e.now }

func (e *scriptedExecutor) Execute(ctx context.Context, cmd executor.Command, onLine executor.LineHandler) (*executor.Execution, error) {
	run := e.runs[cmd.Labels["freqsweep.unit"]+"/"+cmd.Subcommand]
	e.now = e.now.Add(run.took)
	if onLine != nil {
		onLine(run.output)
	}
	return &executor.Execution{ExitCode: run.exitCode, Output: run.output, Duration: run.took}, nil
}

func (e *scriptedExecutor) Close() error { return nil }

func TestBatchEndToEnd(t *testing.T) {
	logger := zaptest.NewLogger(t)
	exec := &scriptedExecutor{
		now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		runs: map[string]scriptedRun{
			"A/hyperopt":    {exitCode: 0, output: "Best result: 1/10", took: 30 * time.Minute},
			"A/backtesting": {exitCode: 0, output: validationReport, took: 4 * time.Minute},
			"B/hyperopt":    {exitCode: 1, output: "ERROR - No data found", took: 2 * time.Minute},
			"B/backtesting": {exitCode: 0, output: validationReport, took: time.Hour},
		},
	}

	runner := stage.NewToolRunner(exec, parser.NewParser(logger), parser.LayoutPipe, logger, stage.WithClock(exec.clock))
	orch := pipeline.NewOrchestrator(runner, nil, logger)
	batch := pipeline.NewBatch(orch, nil, logger, pipeline.WithBatchClock(exec.clock))

	result := batch.Run(context.Background(),
		[]domain.ExperimentUnit{{Strategy: "A"}, {Strategy: "B"}},
		domain.RunParams{Epochs: 10})

	require.Equal(t, 2, result.Len())
	assert.Equal(t, 36*time.Minute, result.Elapsed)

	ranked := report.Rank(result, logger)
	require.Len(t, ranked, 1)
	assert.Equal(t, "A", ranked[0].Unit)
	assert.InDelta(t, 15.2, ranked[0].Profit, 1e-9)
	assert.Equal(t, []string{"B"}, report.Failures(result))

	b, _ := result.Get("B")
	assert.Nil(t, b.Metrics)
	assert.Equal(t, time.Duration(0), b.ValidateDuration)

	var buf bytes.Buffer
	require.NoError(t, report.WriteSummary(&buf, result, report.DefaultTopN, report.FormatTable, logger))
	assert.Contains(t, buf.String(), "Total time: 36m0s")
	assert.Contains(t, buf.String(), "FAILED: B")
}
