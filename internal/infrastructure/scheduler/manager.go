// Package scheduler runs the registry's periodic jobs on gocron v2.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/orris-inc/sidecar/internal/shared/goroutine"
	"github.com/orris-inc/sidecar/internal/shared/logger"
)

// SchedulerManager owns a single gocron scheduler. Every job gets a context
// that is cancelled when the manager stops.
type SchedulerManager struct {
	scheduler gocron.Scheduler
	logger    logger.Interface

	ctx    context.Context
	cancel context.CancelFunc

	// Track whether the scheduler has been started
	started   bool
	startedMu sync.RWMutex
}

// NewSchedulerManager creates a new SchedulerManager instance.
func NewSchedulerManager(log logger.Interface) (*SchedulerManager, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SchedulerManager{
		scheduler: scheduler,
		logger:    log,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Every registers fn to run each interval. With a positive jitter each run is
// scheduled at a random point in [interval-jitter, interval+jitter]. A run
// that is still going when the next one is due is skipped.
func (m *SchedulerManager) Every(name string, interval, jitter time.Duration, fn func(ctx context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}

	definition := gocron.DurationJob(interval)
	if jitter > 0 {
		low := max(interval-jitter, time.Millisecond)
		definition = gocron.DurationRandomJob(low, interval+jitter)
	}

	_, err := m.scheduler.NewJob(
		definition,
		gocron.NewTask(goroutine.Guard(m.logger, name, func() {
			fn(m.ctx)
		})),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("registry"),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", name, err)
	}

	m.logger.Infow("registered scheduled job",
		"name", name,
		"interval", interval,
		"jitter", jitter,
	)
	return nil
}

// ========================================
// Scheduler Lifecycle Methods
// ========================================

// Start starts the scheduler and all registered jobs.
func (m *SchedulerManager) Start() {
	m.startedMu.Lock()
	defer m.startedMu.Unlock()

	if m.started {
		return
	}

	m.scheduler.Start()
	m.started = true
	m.logger.Infow("scheduler manager started", "job_count", len(m.scheduler.Jobs()))
}

// Stop cancels running jobs and waits for them to return.
func (m *SchedulerManager) Stop() error {
	m.startedMu.Lock()
	defer m.startedMu.Unlock()

	if !m.started {
		return nil
	}

	m.logger.Infow("stopping scheduler manager")

	m.cancel()
	err := m.scheduler.Shutdown()
	m.started = false

	if err != nil {
		m.logger.Errorw("scheduler manager shutdown with error", "error", err)
		return err
	}

	m.logger.Infow("scheduler manager stopped")
	return nil
}

// IsStarted returns whether the scheduler is running.
func (m *SchedulerManager) IsStarted() bool {
	m.startedMu.RLock()
	defer m.startedMu.RUnlock()
	return m.started
}

// Jobs returns all registered jobs for inspection.
func (m *SchedulerManager) Jobs() []gocron.Job {
	return m.scheduler.Jobs()
}
