package pipeline

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saltfish/freqsweep/internal/domain"
	"github.com/saltfish/freqsweep/internal/parser"
	"github.com/saltfish/freqsweep/internal/stage"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// scriptedStage is the canned result of one stage for one unit.
type scriptedStage struct {
	success  bool
	duration time.Duration
	metrics  domain.Metrics
	lines    []string
	excerpt  string
}

// fakeRunner plays scripted stages and advances the clock by their duration.
type fakeRunner struct {
	clock   *fakeClock
	scripts map[string]scriptedStage
	calls   []string
	modes   map[string]stage.Mode
	ctxErrs []error
}

func newFakeRunner(clock *fakeClock) *fakeRunner {
	return &fakeRunner{
		clock:   clock,
		scripts: make(map[string]scriptedStage),
		modes:   make(map[string]stage.Mode),
	}
}

func key(unit string, kind domain.StageKind) string {
	return unit + "/" + kind.String()
}

func (f *fakeRunner) script(unit string, kind domain.StageKind, s scriptedStage) {
	f.scripts[key(unit, kind)] = s
}

func (f *fakeRunner) count(unit string, kind domain.StageKind) int {
	n := 0
	for _, c := range f.calls {
		if c == key(unit, kind) {
			n++
		}
	}
	return n
}

func (f *fakeRunner) Run(ctx context.Context, req stage.Request) *domain.StageOutcome {
	k := key(req.Unit.ID(), req.Stage)
	f.calls = append(f.calls, k)
	f.modes[k] = req.Mode
	f.ctxErrs = append(f.ctxErrs, ctx.Err())

	s, ok := f.scripts[k]
	if !ok {
		s = scriptedStage{success: true, duration: time.Minute}
	}
	if req.OnLine != nil {
		for _, l := range s.lines {
			req.OnLine(l)
		}
	}

	out := &domain.StageOutcome{Stage: req.Stage, StartedAt: f.clock.Now()}
	f.clock.Advance(s.duration)
	out.FinishedAt = f.clock.Now()
	out.Success = s.success
	if s.success {
		if req.Stage == domain.StageValidate {
			out.Metrics = s.metrics
		}
	} else {
		out.ExitCode = 1
		out.Excerpt = s.excerpt
	}
	return out
}

// recordingObserver captures notifications for assertions.
type recordingObserver struct {
	NopObserver
	events   []string
	progress []parser.Progress
}

func (r *recordingObserver) StageStarted(unit domain.ExperimentUnit, kind domain.StageKind) {
	r.events = append(r.events, "start "+key(unit.ID(), kind))
}

func (r *recordingObserver) StageProgress(unit domain.ExperimentUnit, kind domain.StageKind, p parser.Progress) {
	r.progress = append(r.progress, p)
}

func (r *recordingObserver) StageFinished(unit domain.ExperimentUnit, out *domain.StageOutcome) {
	r.events = append(r.events, "finish "+key(unit.ID(), out.Stage))
}

func TestRunUnit_Validated(t *testing.T) {
	clock := newFakeClock()
	runner := newFakeRunner(clock)
	runner.script("GodStra_4h", domain.StageOptimize, scriptedStage{success: true, duration: 10 * time.Minute})
	runner.script("GodStra_4h", domain.StageValidate, scriptedStage{
		success:  true,
		duration: 2 * time.Minute,
		metrics:  domain.Metrics{domain.MetricTotalProfit: "15.2%"},
	})
	obs := &recordingObserver{}
	o := NewOrchestrator(runner, obs, zaptest.NewLogger(t))

	out := o.RunUnit(context.Background(), domain.ExperimentUnit{Strategy: "GodStra", Timeframe: "4h"}, domain.RunParams{})

	assert.Equal(t, domain.UnitStateValidated, out.State)
	assert.True(t, out.OptimizeSuccess)
	assert.True(t, out.ValidateSuccess)
	assert.Equal(t, "15.2%", out.Metrics[domain.MetricTotalProfit])
	assert.Equal(t, 10*time.Minute, out.OptimizeDuration)
	assert.Equal(t, 2*time.Minute, out.ValidateDuration)
	assert.Equal(t, stage.ModeStream, runner.modes["GodStra_4h/optimize"])
	assert.Equal(t, stage.ModeCapture, runner.modes["GodStra_4h/validate"])
	assert.Equal(t, []string{
		"start GodStra_4h/optimize",
		"finish GodStra_4h/optimize",
		"start GodStra_4h/validate",
		"finish GodStra_4h/validate",
	}, obs.events)
}

func TestRunUnit_OptimizeFailureSkipsValidation(t *testing.T) {
	runner := newFakeRunner(newFakeClock())
	runner.script("MultiMa", domain.StageOptimize, scriptedStage{success: false, duration: time.Minute, excerpt: "No data found"})
	o := NewOrchestrator(runner, nil, zaptest.NewLogger(t))

	out := o.RunUnit(context.Background(), domain.ExperimentUnit{Strategy: "MultiMa"}, domain.RunParams{})

	assert.Equal(t, domain.UnitStateOptimizeFailed, out.State)
	assert.False(t, out.OptimizeSuccess)
	assert.False(t, out.ValidateSuccess)
	assert.Nil(t, out.Metrics)
	assert.Equal(t, "No data found", out.Error)
	assert.Equal(t, 0, runner.count("MultiMa", domain.StageValidate))
	assert.Equal(t, time.Duration(0), out.ValidateDuration)
}

func TestRunUnit_ValidateFailure(t *testing.T) {
	runner := newFakeRunner(newFakeClock())
	runner.script("Supertrend", domain.StageValidate, scriptedStage{success: false, duration: time.Minute, excerpt: "boom"})
	o := NewOrchestrator(runner, nil, zaptest.NewLogger(t))

	out := o.RunUnit(context.Background(), domain.ExperimentUnit{Strategy: "Supertrend"}, domain.RunParams{})

	assert.Equal(t, domain.UnitStateValidateFailed, out.State)
	assert.True(t, out.OptimizeSuccess)
	assert.False(t, out.ValidateSuccess)
	assert.Nil(t, out.Metrics)
	assert.Equal(t, "boom", out.Error)
}

func TestRunUnit_ValidatedWithoutParsedFieldsHasEmptyMetrics(t *testing.T) {
	runner := newFakeRunner(newFakeClock())
	o := NewOrchestrator(runner, nil, zaptest.NewLogger(t))

	out := o.RunUnit(context.Background(), domain.ExperimentUnit{Strategy: "TemplateStrategy"}, domain.RunParams{})

	assert.Equal(t, domain.UnitStateValidated, out.State)
	require.NotNil(t, out.Metrics)
	assert.Empty(t, out.Metrics)
}

func TestRunUnit_StreamsProgress(t *testing.T) {
	runner := newFakeRunner(newFakeClock())
	runner.script("GodStra", domain.StageOptimize, scriptedStage{
		success:  true,
		duration: time.Minute,
		lines:    []string{"loading", "Epoch 1/100", "Best result:", "Objective: -2.1"},
	})
	obs := &recordingObserver{}
	o := NewOrchestrator(runner, obs, zaptest.NewLogger(t))

	o.RunUnit(context.Background(), domain.ExperimentUnit{Strategy: "GodStra"}, domain.RunParams{})

	require.Len(t, obs.progress, 3)
	assert.Equal(t, parser.ProgressEpoch, obs.progress[0].Kind)
	assert.Equal(t, parser.ProgressBestResult, obs.progress[1].Kind)
	assert.Equal(t, parser.ProgressObjective, obs.progress[2].Kind)
}

func TestConsoleObserver_PrintsFailuresAndEpochProgress(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleObserver(&buf, 100)
	unit := domain.ExperimentUnit{Strategy: "GodStra"}

	c.StageStarted(unit, domain.StageOptimize)
	for i := 1; i <= 20; i++ {
		c.StageProgress(unit, domain.StageOptimize, parser.Progress{Kind: parser.ProgressEpoch})
	}
	c.StageFinished(unit, &domain.StageOutcome{Stage: domain.StageOptimize, ExitCode: 2, Excerpt: "Traceback: boom"})

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "Progress:"))
	assert.Contains(t, out, "Progress: 20/100 epochs")
	assert.Contains(t, out, "optimize FAILED (exit code 2)")
	assert.Contains(t, out, "Traceback: boom")
}
