package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/saltfish/freqsweep/internal/domain"
	"github.com/saltfish/freqsweep/internal/parser"
	"github.com/saltfish/freqsweep/internal/stage"
)

const tracerName = "github.com/saltfish/freqsweep/internal/pipeline"

// UnitRunner runs one experiment unit to a terminal state.
type UnitRunner interface {
	RunUnit(ctx context.Context, unit domain.ExperimentUnit, params domain.RunParams) *domain.UnitOutcome
}

// Orchestrator drives one unit through optimize then validate.
type Orchestrator struct {
	runner   stage.Runner
	observer Observer
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewOrchestrator creates an Orchestrator. A nil observer is replaced by NopObserver.
func NewOrchestrator(runner stage.Runner, observer Observer, logger *zap.Logger) *Orchestrator {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Orchestrator{
		runner:   runner,
		observer: observer,
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}
}

// RunUnit runs the unit's stages and always returns its outcome.
// A failed optimize stage ends the unit without running validation.
func (o *Orchestrator) RunUnit(ctx context.Context, unit domain.ExperimentUnit, params domain.RunParams) *domain.UnitOutcome {
	ctx, span := o.tracer.Start(ctx, "pipeline.unit", trace.WithAttributes(
		attribute.String("unit.id", unit.ID()),
		attribute.String("unit.strategy", unit.Strategy),
		attribute.String("unit.timeframe", unit.Timeframe),
	))
	defer span.End()

	outcome := domain.NewUnitOutcome(unit)
	logger := o.logger.With(zap.String("unit", unit.ID()))

	outcome.State = domain.UnitStateOptimizing
	logger.Info("Optimizing", zap.Int("epochs", params.Epochs), zap.String("loss", params.Loss))

	opt := o.runStage(ctx, unit, params, domain.StageOptimize, stage.ModeStream)
	outcome.OptimizeSuccess = opt.Success
	outcome.OptimizeDuration = opt.Duration()
	outcome.BestResult = opt.BestResult

	if !opt.Success {
		outcome.State = domain.UnitStateOptimizeFailed
		outcome.Error = opt.Excerpt
		span.SetStatus(codes.Error, "optimize failed")
		logger.Warn("Optimization failed, skipping validation", zap.Error(opt.Err()))
		return o.finish(span, outcome)
	}

	outcome.State = domain.UnitStateValidating
	logger.Info("Validating", zap.String("timerange", params.BacktestRange))

	val := o.runStage(ctx, unit, params, domain.StageValidate, stage.ModeCapture)
	outcome.ValidateSuccess = val.Success
	outcome.ValidateDuration = val.Duration()

	if !val.Success {
		outcome.State = domain.UnitStateValidateFailed
		outcome.Error = val.Excerpt
		span.SetStatus(codes.Error, "validate failed")
		logger.Warn("Validation failed", zap.Error(val.Err()))
		return o.finish(span, outcome)
	}

	outcome.State = domain.UnitStateValidated
	outcome.Metrics = val.Metrics
	if outcome.Metrics == nil {
		outcome.Metrics = domain.Metrics{}
	}
	logger.Info("Unit validated", zap.Any("metrics", outcome.Metrics))

	return o.finish(span, outcome)
}

func (o *Orchestrator) finish(span trace.Span, outcome *domain.UnitOutcome) *domain.UnitOutcome {
	span.SetAttributes(
		attribute.String("unit.state", outcome.State.String()),
		attribute.Int64("unit.duration_ms", outcome.Duration().Milliseconds()),
	)
	return outcome
}

func (o *Orchestrator) runStage(ctx context.Context, unit domain.ExperimentUnit, params domain.RunParams, kind domain.StageKind, mode stage.Mode) *domain.StageOutcome {
	ctx, span := o.tracer.Start(ctx, "pipeline.stage."+kind.String(), trace.WithAttributes(
		attribute.String("stage.mode", mode.String()),
	))
	defer span.End()

	o.observer.StageStarted(unit, kind)

	req := stage.Request{
		Stage:  kind,
		Unit:   unit,
		Params: params,
		Mode:   mode,
	}
	if mode == stage.ModeStream {
		req.OnLine = func(line string) {
			if p := parser.ClassifyProgress(line); p.Kind != parser.ProgressNone {
				o.observer.StageProgress(unit, kind, p)
			}
		}
	}

	out := o.runner.Run(ctx, req)

	span.SetAttributes(
		attribute.Bool("stage.success", out.Success),
		attribute.Int("stage.exit_code", out.ExitCode),
	)
	if !out.Success {
		span.SetStatus(codes.Error, out.Excerpt)
	}

	o.observer.StageFinished(unit, out)
	return out
}

// Ensure interface compliance at compile time.
var _ UnitRunner = (*Orchestrator)(nil)
