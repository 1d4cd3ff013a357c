// Package engine fires scheduled automations and runs them on demand.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"buildingops/internal/automation"
	"buildingops/internal/models"
	"buildingops/internal/mqtt"
	"buildingops/internal/utils"
)

// SweepJob is the scheduler job name of the periodic sweep
const SweepJob = "automation-sweep"

// Store is the persistence the engine needs
type Store interface {
	GetAutomation(ctx context.Context, id string) (*models.Automation, error)
	ListEnabledByTriggerType(ctx context.Context, t models.TriggerType) ([]models.Automation, error)
	UpdateAutomationLastRun(ctx context.Context, id string, at time.Time) error
	AppendAutomationHistory(ctx context.Context, h *models.AutomationHistory) error
}

// Publisher delivers action payloads to devices
type Publisher interface {
	Publish(topic string, payload any, opts ...mqtt.PublishOptions) error
	IsConnected() bool
}

// Scheduler runs the periodic sweep
type Scheduler interface {
	AddJob(name, spec string, fn func()) error
	RemoveJob(name string)
}

// Recorder observes executions and sweeps
type Recorder interface {
	AutomationExecution(trigger, result string)
	SweepDuration(d time.Duration)
}

// Options tune the engine. Zero values fall back to defaults.
type Options struct {
	SweepInterval time.Duration
	Concurrency   int
	Location      *time.Location
}

// Engine is the core control engine
type Engine struct {
	store     Store
	publisher Publisher
	scheduler Scheduler
	recorder  Recorder
	logger    *slog.Logger

	interval    time.Duration
	concurrency int
	loc         *time.Location
	now         func() time.Time

	inFlightMu sync.Mutex
	inFlight   map[string]struct{}
	stopped    bool
	running    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine creates a new engine instance. recorder may be nil.
func NewEngine(store Store, publisher Publisher, sched Scheduler, recorder Recorder, opts Options, logger *slog.Logger) *Engine {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:       store,
		publisher:   publisher,
		scheduler:   sched,
		recorder:    recorder,
		logger:      utils.Component(logger, "engine"),
		interval:    opts.SweepInterval,
		concurrency: opts.Concurrency,
		loc:         opts.Location,
		now:         time.Now,
		inFlight:    make(map[string]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start registers the periodic sweep
func (e *Engine) Start() error {
	spec := fmt.Sprintf("@every %s", e.interval)
	if err := e.scheduler.AddJob(SweepJob, spec, func() { e.Sweep(e.ctx) }); err != nil {
		return fmt.Errorf("register sweep: %w", err)
	}
	e.logger.Info("ENGINE: started", "interval", e.interval, "concurrency", e.concurrency, "location", e.loc.String())
	return nil
}

// Stop unregisters the sweep, refuses new executions and waits for the
// ones in flight.
func (e *Engine) Stop() {
	if e.scheduler != nil {
		e.scheduler.RemoveJob(SweepJob)
	}
	e.inFlightMu.Lock()
	e.stopped = true
	e.inFlightMu.Unlock()
	e.running.Wait()
	e.cancel()
	e.logger.Info("ENGINE: stopped")
}

// ExecuteManually runs an enabled automation immediately regardless of its
// trigger. A failed action is recorded in history and returned as an
// *automation.ExecutionError.
func (e *Engine) ExecuteManually(ctx context.Context, id string) (*models.AutomationHistory, error) {
	a, err := e.store.GetAutomation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("automation %s: %w", id, err)
	}
	if !a.Enabled {
		return nil, fmt.Errorf("automation %s: %w", id, automation.ErrAutomationDisabled)
	}
	if err := e.acquire(a.ID); err != nil {
		return nil, fmt.Errorf("automation %s: %w", id, err)
	}
	defer e.release(a.ID)

	e.logger.Info("ENGINE: manual execution", "automation", a.ID, "name", a.Name)
	return e.execute(ctx, *a, models.TriggerManual)
}

func (e *Engine) acquire(id string) error {
	e.inFlightMu.Lock()
	defer e.inFlightMu.Unlock()
	if e.stopped {
		return automation.ErrEngineStopped
	}
	if _, busy := e.inFlight[id]; busy {
		return automation.ErrExecutionInFlight
	}
	e.inFlight[id] = struct{}{}
	e.running.Add(1)
	return nil
}

func (e *Engine) release(id string) {
	e.inFlightMu.Lock()
	delete(e.inFlight, id)
	e.inFlightMu.Unlock()
	e.running.Done()
}

func (e *Engine) record(trigger models.TriggerType, err error) {
	if e.recorder == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
		if errors.Is(err, automation.ErrExecutionInFlight) {
			result = "skipped"
		}
	}
	e.recorder.AutomationExecution(string(trigger), result)
}
