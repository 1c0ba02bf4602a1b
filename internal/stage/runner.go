// Package stage runs single external tool operations and classifies their outcome.
package stage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/saltfish/freqsweep/internal/domain"
	"github.com/saltfish/freqsweep/internal/executor"
	"github.com/saltfish/freqsweep/internal/parser"
)

// Mode selects how a stage's output is consumed.
type Mode int

const (
	// ModeCapture waits for the process to exit and returns its full output.
	ModeCapture Mode = iota
	// ModeStream additionally delivers every line as it is produced.
	ModeStream
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	if m == ModeStream {
		return "stream"
	}
	return "capture"
}

// Request describes one stage invocation.
type Request struct {
	Stage  domain.StageKind
	Unit   domain.ExperimentUnit
	Params domain.RunParams
	Mode   Mode

	// OnLine receives output lines in ModeStream. It is ignored in ModeCapture.
	OnLine func(line string)
}

// Runner executes one stage and always returns an outcome.
type Runner interface {
	Run(ctx context.Context, req Request) *domain.StageOutcome
}

// Option configures a ToolRunner.
type Option func(*ToolRunner)

// WithClock overrides the time source used to stamp outcomes.
func WithClock(now func() time.Time) Option {
	return func(r *ToolRunner) { r.now = now }
}

// WithExcerptLength sets how many characters of error output are kept.
func WithExcerptLength(n int) Option {
	return func(r *ToolRunner) { r.excerptLen = n }
}

// ToolRunner runs stages through an Executor. Exit status is the only success signal.
type ToolRunner struct {
	executor   executor.Executor
	parser     *parser.Parser
	layout     parser.Layout
	excerptLen int
	now        func() time.Time
	logger     *zap.Logger
}

// NewToolRunner creates a ToolRunner. Validation reports are parsed with layout.
func NewToolRunner(exec executor.Executor, p *parser.Parser, layout parser.Layout, logger *zap.Logger, opts ...Option) *ToolRunner {
	r := &ToolRunner{
		executor:   exec,
		parser:     p,
		layout:     layout,
		excerptLen: parser.DefaultExcerptLength,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the stage described by req.
func (r *ToolRunner) Run(ctx context.Context, req Request) *domain.StageOutcome {
	cmd := BuildCommand(req)

	stageCtx := ctx
	if req.Params.StageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, req.Params.StageTimeout)
		defer cancel()
	}

	var (
		onLine executor.LineHandler
		best   bestResultTracker
	)
	if req.Mode == ModeStream {
		onLine = func(line string) {
			best.observe(line)
			if req.OnLine != nil {
				req.OnLine(line)
			}
		}
	}

	outcome := &domain.StageOutcome{
		Stage:     req.Stage,
		StartedAt: r.now(),
	}

	res, err := r.executor.Execute(stageCtx, cmd, onLine)
	outcome.FinishedAt = r.now()

	if err != nil {
		outcome.ExitCode = -1
		outcome.Excerpt = parser.Excerpt(err.Error(), r.excerptLen)
		r.logger.Warn("Stage could not be executed",
			zap.String("stage", req.Stage.String()),
			zap.String("unit", req.Unit.ID()),
			zap.Error(err),
		)
		return outcome
	}

	outcome.ExitCode = res.ExitCode
	outcome.Output = res.Output
	outcome.BestResult = best.result

	switch {
	case res.ExitCode == 0:
		outcome.Success = true
		if req.Stage == domain.StageValidate {
			outcome.Metrics = r.parser.Parse(res.Output, r.layout)
		}
	case errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		outcome.TimedOut = true
		outcome.Excerpt = parser.Excerpt(
			fmt.Sprintf("stage timed out after %s\n%s", req.Params.StageTimeout,
				parser.TailExcerpt(res.Output, r.excerptLen)),
			r.excerptLen,
		)
	default:
		outcome.Excerpt = r.errorExcerpt(res)
	}

	r.logger.Info("Stage finished",
		zap.String("stage", req.Stage.String()),
		zap.String("unit", req.Unit.ID()),
		zap.String("mode", req.Mode.String()),
		zap.Bool("success", outcome.Success),
		zap.Int("exit_code", outcome.ExitCode),
		zap.Duration("duration", outcome.Duration()),
	)

	return outcome
}

// errorExcerpt prefers the start of stderr and falls back to the end of the output.
func (r *ToolRunner) errorExcerpt(res *executor.Execution) string {
	if strings.TrimSpace(res.Stderr) != "" {
		return parser.Excerpt(res.Stderr, r.excerptLen)
	}
	return parser.TailExcerpt(res.Output, r.excerptLen)
}

// BuildCommand maps a stage request onto the tool's argument contract.
func BuildCommand(req Request) executor.Command {
	p := req.Params
	u := req.Unit

	var args []string
	switch req.Stage {
	case domain.StageDownload:
		args = append(args, "--exchange", p.Exchange)
		if len(p.Pairs) > 0 {
			args = append(args, "--pairs")
			args = append(args, p.Pairs...)
		}
		if len(p.Timeframes) > 0 {
			args = append(args, "--timeframes")
			args = append(args, p.Timeframes...)
		}
		if p.DataRange != "" {
			args = append(args, "--timerange", p.DataRange)
		}
	case domain.StageOptimize:
		args = append(args,
			"--strategy", u.Strategy,
			"--epochs", strconv.Itoa(p.Epochs),
		)
		if len(p.Spaces) > 0 {
			args = append(args, "--spaces")
			args = append(args, p.Spaces...)
		}
		args = append(args,
			"--hyperopt-loss", p.Loss,
			"--random-state", strconv.Itoa(p.RandomState),
		)
		if u.Timeframe != "" {
			args = append(args, "--timeframe", u.Timeframe)
		}
		if p.HyperoptRange != "" {
			args = append(args, "--timerange", p.HyperoptRange)
		}
	case domain.StageValidate:
		args = append(args, "--strategy", u.Strategy)
		if u.Timeframe != "" {
			args = append(args, "--timeframe", u.Timeframe)
		}
		if p.BacktestRange != "" {
			args = append(args, "--timerange", p.BacktestRange)
		}
		args = append(args,
			"--stake-amount", strconv.FormatFloat(p.StakeAmount, 'f', -1, 64),
			"--export", "trades",
		)
	}

	name := req.Stage.String()
	labels := map[string]string{"freqsweep.stage": req.Stage.String()}
	if u.Strategy != "" {
		name += " " + u.ID()
		labels["freqsweep.unit"] = u.ID()
	}

	return executor.Command{
		Name:       name,
		Subcommand: req.Stage.Subcommand(),
		Args:       args,
		ConfigPath: p.ConfigPath,
		UserDir:    p.UserDir,
		Labels:     labels,
	}
}

// bestResultTracker remembers the result line reported after a "Best result:" marker.
type bestResultTracker struct {
	pending bool
	result  string
}

func (t *bestResultTracker) observe(line string) {
	progress := parser.ClassifyProgress(line)
	if progress.Kind == parser.ProgressBestResult {
		rest := strings.TrimSpace(line[strings.Index(line, "Best result:")+len("Best result:"):])
		if rest != "" {
			t.result = rest
			t.pending = false
			return
		}
		t.pending = true
		return
	}
	if t.pending && progress.Line != "" {
		t.result = progress.Line
		t.pending = false
	}
}

// Ensure interface compliance at compile time.
var _ Runner = (*ToolRunner)(nil)
