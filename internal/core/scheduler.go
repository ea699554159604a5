package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"newswatch/internal/health"
	"newswatch/internal/logging"
	"newswatch/internal/market"
	"newswatch/internal/platforms"
	"newswatch/internal/storage"
	"newswatch/internal/utils"
)

const (
	DefaultOpenCycle   = 10 * time.Second
	DefaultClosedCycle = 10 * time.Minute
	DefaultOpenFloor   = 6 * time.Second
	DefaultCooldown    = 60 * time.Second

	// closedWakeInterval bounds an off-market sleep so the loop never skips a
	// trigger minute or the opening bell.
	closedWakeInterval = 15 * time.Minute
)

// State is the scheduler's bookkeeping. Only the scheduler mutates it.
type State struct {
	LastDailyClearDate  string
	LastHealthCheckTime time.Time
	LastWeeklyReset     time.Time
}

type SchedulerConfig struct {
	Name        string
	Tickers     []string
	BatchSize   int
	BatchPause  time.Duration
	OpenCycle   time.Duration
	ClosedCycle time.Duration
	OpenFloor   time.Duration
	Cooldown    time.Duration
	Calendar    *market.Calendar
	Pipeline    *Pipeline
	Checker     *health.Checker
	Store       storage.Store
	Notifier    platforms.Notifier
	Clock       utils.Clock
	Logger      *slog.Logger
}

type Scheduler struct {
	name        string
	tickers     []string
	batchSize   int
	batchPause  time.Duration
	openCycle   time.Duration
	closedCycle time.Duration
	openFloor   time.Duration
	cooldown    time.Duration
	calendar    *market.Calendar
	pipeline    *Pipeline
	checker     *health.Checker
	store       storage.Store
	notifier    platforms.Notifier
	clock       utils.Clock
	logger      *slog.Logger

	mu      sync.RWMutex
	running bool
	state   State
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Name == "" {
		cfg.Name = "newswatch"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.OpenCycle == 0 {
		cfg.OpenCycle = DefaultOpenCycle
	}
	if cfg.ClosedCycle == 0 {
		cfg.ClosedCycle = DefaultClosedCycle
	}
	if cfg.OpenFloor == 0 {
		cfg.OpenFloor = DefaultOpenFloor
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = utils.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Scheduler{
		name:        cfg.Name,
		tickers:     cfg.Tickers,
		batchSize:   cfg.BatchSize,
		batchPause:  cfg.BatchPause,
		openCycle:   cfg.OpenCycle,
		closedCycle: cfg.ClosedCycle,
		openFloor:   cfg.OpenFloor,
		cooldown:    cfg.Cooldown,
		calendar:    cfg.Calendar,
		pipeline:    cfg.Pipeline,
		checker:     cfg.Checker,
		store:       cfg.Store,
		notifier:    cfg.Notifier,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}
}

func (s *Scheduler) Name() string {
	return s.name
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Start runs cycles until ctx is cancelled. A failed cycle never ends the
// loop; it is reported and followed by a cooldown.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.mu.Unlock()
	defer s.markStopped()

	s.loadIndex(ctx)
	s.logger.Info("Scheduler started", "name", s.name, "tickers", len(s.tickers), "batch_size", s.batchSize)

	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("Scheduler stopping", "name", s.name)
			return err
		}

		wait := s.step(ctx)
		s.logger.Debug("Sleeping until next cycle", "duration", wait)
		if err := s.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// RunOnce loads the index and runs a single cycle without the trailing sleep.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.loadIndex(ctx)
	_, err := s.safeCycle(ctx)
	return err
}

// CheckOnce runs one full health check outside the schedule.
func (s *Scheduler) CheckOnce(ctx context.Context) (*health.Result, bool) {
	s.loadIndex(ctx)
	return s.checker.Run(ctx)
}

func (s *Scheduler) loadIndex(ctx context.Context) {
	index, err := s.store.LoadIndex(ctx)
	if err != nil {
		s.logger.Error("Failed to load ticker index, starting empty", "error", err)
		return
	}
	s.logger.Info("Loaded ticker index", "tickers", len(index))
}

// step runs one cycle and returns how long to sleep before the next.
func (s *Scheduler) step(ctx context.Context) time.Duration {
	wait, err := s.safeCycle(ctx)
	if err == nil || ctx.Err() != nil {
		return wait
	}

	logging.Critical(ctx, s.logger, "Cycle failed", "error", err, "cooldown", s.cooldown)
	s.checker.RecordIncident(fmt.Sprintf("cycle failed: %v", err))
	s.notifier.Send(ctx, fmt.Sprintf("🚨 **CRITICAL**: cycle failed: %v\nCooling down for %s.", err, s.cooldown), fmt.Sprintf("cycle-%d", s.clock.Now().Unix()))
	return s.cooldown
}

func (s *Scheduler) safeCycle(ctx context.Context) (wait time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.cycle(ctx)
}

func (s *Scheduler) cycle(ctx context.Context) (time.Duration, error) {
	start := s.clock.Now()
	open := s.calendar.IsOpen(start)

	s.maybeReset(ctx, start)

	var stats BatchStats
	for i, batch := range utils.Chunk(s.tickers, s.batchSize) {
		if i > 0 && s.batchPause > 0 {
			if err := s.clock.Sleep(ctx, s.batchPause); err != nil {
				return 0, err
			}
		}
		stats.add(s.pipeline.ProcessBatch(ctx, batch))
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.logger.Info("Cycle processed",
		"market_open", open,
		"fetched", stats.Fetched,
		"new", stats.New,
		"duplicates", stats.Duplicates,
		"failed", stats.Failed,
	)

	if open {
		s.checker.CheckMissingNews(ctx)
	}

	if s.healthCheckDue(start) {
		s.mu.Lock()
		s.state.LastHealthCheckTime = start
		s.mu.Unlock()

		result, ok := s.checker.Run(ctx)
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if !ok {
			status := health.StatusFailed
			if result != nil {
				status = result.Status
			}
			s.logger.Error("Health check failed, cooling down", "status", status, "cooldown", s.cooldown)
			s.notifier.Send(ctx, fmt.Sprintf("🚨 Health check reported **%s**. Pausing for %s.", status, s.cooldown), fmt.Sprintf("health-%d", start.Unix()))
			if err := s.clock.Sleep(ctx, s.cooldown); err != nil {
				return 0, err
			}
		}
	}

	return s.nextWait(start, open), nil
}

func (s *Scheduler) maybeReset(ctx context.Context, now time.Time) {
	minute := now.Truncate(time.Minute)

	s.mu.Lock()
	weekly := s.calendar.IsWeeklyReset(now) && !s.state.LastWeeklyReset.Equal(minute)
	if weekly {
		s.state.LastWeeklyReset = minute
	}
	today := s.calendar.Date(now)
	daily := s.calendar.InDailyResetWindow(now) && s.state.LastDailyClearDate != today
	if daily {
		s.state.LastDailyClearDate = today
	}
	s.mu.Unlock()

	switch {
	case weekly:
		s.wipe(ctx, "weekly")
	case daily:
		s.wipe(ctx, "daily")
	}
}

func (s *Scheduler) wipe(ctx context.Context, reason string) {
	s.logger.Warn("Clearing storage", "reason", reason)
	if err := s.store.Wipe(ctx); err != nil {
		s.logger.Error("Failed to clear storage", "reason", reason, "error", err)
		s.checker.RecordIncident(fmt.Sprintf("%s reset failed: %v", reason, err))
		return
	}
	s.logger.Info("Storage cleared", "reason", reason)
}

func (s *Scheduler) healthCheckDue(now time.Time) bool {
	if !s.calendar.IsHealthCheckTime(now) {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.state.LastHealthCheckTime.Truncate(time.Minute).Equal(now.Truncate(time.Minute))
}

// nextWait is max(target - elapsed, 0), floored while open and capped while
// closed so the next trigger minute is not skipped.
func (s *Scheduler) nextWait(start time.Time, open bool) time.Duration {
	now := s.clock.Now()
	elapsed := now.Sub(start)

	if open {
		return max(s.openCycle-elapsed, s.openFloor)
	}

	wait := max(s.closedCycle-elapsed, 0)
	if untilWake := now.Truncate(closedWakeInterval).Add(closedWakeInterval).Sub(now); untilWake < wait {
		wait = untilWake
	}
	return wait
}

func (s *Scheduler) markStopped() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsCancelled reports whether err is a shutdown rather than a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
