package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bnema/venue-concierge/internal/ports"
)

// MaintenanceTask is one periodic housekeeping job. Errors are logged and
// the task simply runs again on its next tick.
type MaintenanceTask struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Maintenance struct {
	tasks  []MaintenanceTask
	logger *slog.Logger
	clock  ports.TickerClock
}

func NewMaintenance(logger *slog.Logger, clock ports.TickerClock, tasks ...MaintenanceTask) *Maintenance {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Maintenance{
		tasks:  tasks,
		logger: logger,
		clock:  clock,
	}
}

// StandardMaintenance schedules the three sweeps with independent periods.
func StandardMaintenance(logger *slog.Logger, clock ports.TickerClock, cache *CatalogCache, grants *GrantWorkflow, grantInterval time.Duration, sessions *SessionRegistry, sessionInterval, idleMax time.Duration) *Maintenance {
	return NewMaintenance(logger, clock,
		MaintenanceTask{
			Name:     "catalog-refresh",
			Interval: cache.TTL(),
			Run:      cache.RefreshAll,
		},
		MaintenanceTask{
			Name:     "grant-expiry",
			Interval: grantInterval,
			Run: func(ctx context.Context) error {
				_, err := grants.SweepExpired(ctx)
				return err
			},
		},
		MaintenanceTask{
			Name:     "session-idle",
			Interval: sessionInterval,
			Run: func(ctx context.Context) error {
				_, err := sessions.SweepIdle(ctx, idleMax)
				return err
			},
		},
	)
}

// Run blocks until ctx is done, running each task on its own ticker.
func (m *Maintenance) Run(ctx context.Context) error {
	for _, task := range m.tasks {
		if task.Interval <= 0 {
			return fmt.Errorf("maintenance task %s: interval must be positive", task.Name)
		}
	}

	var wg sync.WaitGroup
	for _, task := range m.tasks {
		wg.Add(1)
		go func(task MaintenanceTask) {
			defer wg.Done()
			m.loop(ctx, task)
		}(task)
	}
	wg.Wait()
	return ctx.Err()
}

func (m *Maintenance) loop(ctx context.Context, task MaintenanceTask) {
	ticks, stop := m.clock.NewTicker(task.Interval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			m.runOnce(ctx, task)
		}
	}
}

func (m *Maintenance) runOnce(ctx context.Context, task MaintenanceTask) {
	defer func() {
		if recovered := recover(); recovered != nil {
			m.logger.Error("maintenance task panicked", "task", task.Name, "panic", recovered)
		}
	}()

	started := m.clock.Now()
	if err := task.Run(ctx); err != nil {
		m.logger.Warn("maintenance task failed", "task", task.Name, "error", err)
		return
	}
	m.logger.Debug("maintenance task done", "task", task.Name, "elapsed", m.clock.Now().Sub(started).String())
}
