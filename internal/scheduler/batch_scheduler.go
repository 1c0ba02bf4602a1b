// Package scheduler starts batches on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saltfish/freqsweep/internal/config"
)

// RunFunc runs one batch. It is called with the scheduler's context.
type RunFunc func(ctx context.Context) error

// Option configures a BatchScheduler.
type Option func(*BatchScheduler)

// WithClock replaces the scheduler's clock.
func WithClock(now func() time.Time) Option {
	return func(s *BatchScheduler) { s.now = now }
}

// WithPollInterval sets how often the schedule is checked.
func WithPollInterval(d time.Duration) Option {
	return func(s *BatchScheduler) { s.pollInterval = d }
}

// BatchScheduler runs a batch whenever its cron expression is due. A tick
// that arrives while the previous batch is still running is skipped.
type BatchScheduler struct {
	spec     string
	schedule cron.Schedule
	location *time.Location
	run      RunFunc
	logger   *zap.Logger

	now          func() time.Time
	pollInterval time.Duration

	mu      sync.Mutex
	nextRun time.Time
	running bool
	runs    int
	skipped int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBatchScheduler parses cfg and returns a stopped scheduler.
func NewBatchScheduler(cfg config.ScheduleConfig, run RunFunc, logger *zap.Logger, opts ...Option) (*BatchScheduler, error) {
	if cfg.Cron == "" {
		return nil, errors.New("cron expression is required")
	}

	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(cfg.Cron)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cron expression: %w", err)
	}

	s := &BatchScheduler{
		spec:         cfg.Cron,
		schedule:     schedule,
		location:     loc,
		run:          run,
		logger:       logger,
		now:          time.Now,
		pollInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.nextRun = s.next(s.now())
	return s, nil
}

func (s *BatchScheduler) next(after time.Time) time.Time {
	return s.schedule.Next(after.In(s.location))
}

// NextRun returns when the next batch is due.
func (s *BatchScheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// Runs returns how many batches were started and how many ticks were skipped.
func (s *BatchScheduler) Runs() (started, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs, s.skipped
}

// Start begins polling the schedule. Cancelling ctx has the same effect as Stop.
func (s *BatchScheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("Batch scheduler started",
		zap.String("cron", s.spec),
		zap.String("timezone", s.location.String()),
		zap.Time("next_run", s.NextRun()),
	)

	s.wg.Add(1)
	go s.loop()
}

// Stop stops polling and waits for a running batch to return.
func (s *BatchScheduler) Stop() {
	s.logger.Info("Stopping batch scheduler")
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Batch scheduler stopped")
}

func (s *BatchScheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick starts a batch when one is due.
func (s *BatchScheduler) tick() {
	now := s.now()

	s.mu.Lock()
	if now.Before(s.nextRun) {
		s.mu.Unlock()
		return
	}
	due := s.nextRun
	s.nextRun = s.next(now)
	if s.running {
		s.skipped++
		next := s.nextRun
		s.mu.Unlock()
		s.logger.Warn("Previous batch still running, skipping scheduled run",
			zap.Time("due", due),
			zap.Time("next_run", next),
		)
		return
	}
	s.running = true
	s.runs++
	s.mu.Unlock()

	s.logger.Info("Starting scheduled batch", zap.Time("due", due))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()

		if err := s.run(s.ctx); err != nil {
			s.logger.Error("Scheduled batch failed", zap.Error(err))
			return
		}
		s.logger.Info("Scheduled batch finished", zap.Time("next_run", s.NextRun()))
	}()
}
