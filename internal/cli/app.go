package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/saltfish/freqsweep/internal/api/http"
	"github.com/saltfish/freqsweep/internal/config"
	"github.com/saltfish/freqsweep/internal/db/repository"
	"github.com/saltfish/freqsweep/internal/domain"
	"github.com/saltfish/freqsweep/internal/events"
	"github.com/saltfish/freqsweep/internal/executor"
	"github.com/saltfish/freqsweep/internal/metrics"
	"github.com/saltfish/freqsweep/internal/parser"
	"github.com/saltfish/freqsweep/internal/pipeline"
	"github.com/saltfish/freqsweep/internal/report"
	"github.com/saltfish/freqsweep/internal/stage"
)

// staleContainerAge is used for container cleanup when stages are unbounded.
const staleContainerAge = 24 * time.Hour

// newExecutor is replaced in tests.
var newExecutor = func(cfg *config.Config, logger *zap.Logger) (executor.Executor, error) {
	switch cfg.Executor.Mode {
	case "docker":
		return executor.NewDockerExecutor(&cfg.Executor.Docker, cfg.Runner.Tool, logger)
	default:
		return executor.NewLocalExecutor(cfg.Runner.Tool, logger), nil
	}
}

// app holds the components one or more batches run with.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer

	exec      executor.Executor
	runner    *stage.ToolRunner
	tracker   *pipeline.Tracker
	collector *metrics.Collector
	hub       *httpapi.Hub
	publisher events.Publisher
	store     *repository.Store
	server    *httpapi.Server
}

// newApp builds the components selected by cfg. Optional integrations that
// cannot connect are logged and left out.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer) (*app, error) {
	layout, err := parser.ParseLayout(cfg.Runner.ReportLayout)
	if err != nil {
		return nil, err
	}

	exec, err := newExecutor(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	if d, ok := exec.(*executor.DockerExecutor); ok {
		maxAge := cfg.Runner.StageTimeoutDuration()
		if maxAge == 0 {
			maxAge = staleContainerAge
		}
		if n, err := d.CleanupStaleContainers(ctx, maxAge); err != nil {
			logger.Warn("Failed to clean up stale containers", zap.Error(err))
		} else if n > 0 {
			logger.Info("Removed stale containers", zap.Int("count", n))
		}
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		out:       out,
		exec:      exec,
		runner:    stage.NewToolRunner(exec, parser.NewParser(logger), layout, logger),
		tracker:   pipeline.NewTracker(),
		collector: metrics.NewCollector(),
		publisher: events.NewNoOpPublisher(),
	}

	if cfg.RabbitMQ.URL != "" {
		publisher, err := events.NewRabbitMQPublisher(&cfg.RabbitMQ, logger)
		if err != nil {
			logger.Warn("Failed to connect to RabbitMQ, using no-op publisher", zap.Error(err))
		} else {
			a.publisher = publisher
		}
	}

	store, err := repository.Open(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Warn("Failed to open result history, batches will not be recorded",
			zap.String("driver", cfg.Database.Driver),
			zap.Error(err),
		)
	} else {
		a.store = store
	}

	if cfg.HTTP.Addr != "" {
		httpapi.Version = Version
		a.hub = httpapi.NewHub(logger)
		go a.hub.Run()

		deps := httpapi.Deps{
			Tracker: a.tracker,
			Hub:     a.hub,
			Metrics: a.collector.Handler(),
		}
		if a.store != nil {
			deps.Batches = a.store.Batches
			deps.DB = a.store
		}
		a.server = httpapi.NewServer(cfg.HTTP.Addr, deps, logger)
		go func() {
			if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", zap.Error(err))
			}
		}()
	}

	return a, nil
}

// observers returns the fan-out every batch reports to.
func (a *app) observers() pipeline.Observers {
	obs := pipeline.Observers{
		pipeline.NewConsoleObserver(a.out, a.cfg.Runner.Epochs),
		pipeline.NewLogObserver(a.logger),
		a.tracker,
		a.collector,
		events.NewObserver(a.publisher, a.logger),
	}
	if a.hub != nil {
		obs = append(obs, a.hub)
	}
	return obs
}

// download fetches market data for every pair and timeframe.
func (a *app) download(ctx context.Context, params domain.RunParams) error {
	fmt.Fprintf(a.out, "Downloading %s data for %d pair(s), timeframes %v, range %s\n",
		params.Exchange, len(params.Pairs), params.Timeframes, params.DataRange)

	outcome := a.runner.Run(ctx, stage.Request{
		Stage:  domain.StageDownload,
		Params: params,
		Mode:   stage.ModeStream,
		OnLine: func(line string) {
			a.logger.Debug("download-data", zap.String("line", line))
		},
	})
	if err := outcome.Err(); err != nil {
		if outcome.Excerpt != "" {
			fmt.Fprintf(a.out, "Download failed:\n%s\n", outcome.Excerpt)
		}
		return err
	}
	fmt.Fprintf(a.out, "Download finished in %s\n", outcome.Duration().Round(time.Second))
	return nil
}

// batchOptions are the per-invocation settings of runBatch.
type batchOptions struct {
	units    []domain.ExperimentUnit
	params   domain.RunParams
	download bool
	save     bool
	format   report.Format
	topN     int
}

// runBatch runs one batch, prints its summary and records its result. The
// returned error is set when the batch could not start, or when the summary or
// the requested results file could not be written.
func (a *app) runBatch(ctx context.Context, opts batchOptions) (*domain.BatchResult, error) {
	if err := domain.CheckUnitIDs(opts.units); err != nil {
		return nil, err
	}
	if err := pipeline.CheckToolConfig(opts.params.ConfigPath, a.cfg.Runner.ExampleConfig); err != nil {
		return nil, err
	}

	if opts.download {
		if err := a.download(ctx, opts.params); err != nil {
			return nil, err
		}
	}

	obs := a.observers()
	orch := pipeline.NewOrchestrator(a.runner, obs, a.logger)
	batch := pipeline.NewBatch(orch, obs, a.logger)
	result := batch.Run(ctx, opts.units, opts.params)

	fmt.Fprintln(a.out)
	summaryErr := report.WriteSummary(a.out, result, opts.topN, opts.format, a.logger)

	var saveErr error
	if opts.save {
		if err := report.Save(a.cfg.Runner.ResultsPath, result); err != nil {
			a.logger.Error("Failed to save results",
				zap.String("path", a.cfg.Runner.ResultsPath),
				zap.Error(err),
			)
			saveErr = err
		} else {
			a.logger.Info("Results saved", zap.String("path", a.cfg.Runner.ResultsPath))
		}
	}

	if dir := a.cfg.Runner.ExportDir; dir != "" {
		a.export(dir, result, opts.params)
	}

	if a.store != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := a.store.Batches.Save(saveCtx, result); err != nil {
			a.logger.Error("Failed to record batch history",
				zap.String("batch_id", result.ID.String()),
				zap.Error(err),
			)
		}
	}
	return result, errors.Join(summaryErr, saveErr)
}

// export writes the summary file and metric spreadsheets. Failures are logged.
func (a *app) export(dir string, result *domain.BatchResult, params domain.RunParams) {
	writers := []struct {
		name string
		fn   func() (string, error)
	}{
		{"summary", func() (string, error) { return report.WriteSummaryFile(dir, result, params, time.Now()) }},
		{"csv", func() (string, error) { return report.ExportCSV(dir, result) }},
		{"xlsx", func() (string, error) { return report.ExportXLSX(dir, result) }},
	}

	var g errgroup.Group
	for _, w := range writers {
		g.Go(func() error {
			path, err := w.fn()
			if err != nil {
				a.logger.Error("Export failed", zap.String("kind", w.name), zap.Error(err))
				return nil
			}
			a.logger.Info("Exported", zap.String("kind", w.name), zap.String("path", filepath.Clean(path)))
			return nil
		})
	}
	_ = g.Wait()
}

// Close stops the server and releases every connection.
func (a *app) Close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.server.Stop(ctx); err != nil {
			a.logger.Error("Error stopping HTTP server", zap.Error(err))
		}
		cancel()
	}
	if a.hub != nil {
		a.hub.Shutdown()
	}
	if err := a.publisher.Close(); err != nil {
		a.logger.Warn("Error closing event publisher", zap.Error(err))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Error closing result history", zap.Error(err))
		}
	}
	if err := a.exec.Close(); err != nil {
		a.logger.Warn("Error closing executor", zap.Error(err))
	}
}
