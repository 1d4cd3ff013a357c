package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"buildingops/internal/utils"

	"github.com/robfig/cron/v3"
)

// Scheduler runs named recurring jobs. Specs accept an optional seconds
// field and descriptors such as @every 30s or @daily.
type Scheduler struct {
	cron      *cron.Cron
	jobMap    map[string]cron.EntryID // job name to cron entry
	jobMapMux sync.RWMutex
	logger    *slog.Logger
}

// NewScheduler creates a scheduler that evaluates specs in loc
func NewScheduler(loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	logger = utils.Component(logger, "scheduler")
	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		jobMap: make(map[string]cron.EntryID),
		logger: logger,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("SCHEDULER: Cron scheduler started", "jobs", s.GetScheduledJobCount())
}

// Stop stops the scheduler and waits for running jobs to return
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("SCHEDULER: Cron scheduler stopped")
}

// AddJob schedules fn under name, replacing any job already using that name.
func (s *Scheduler) AddJob(name, spec string, fn func()) error {
	s.jobMapMux.Lock()
	defer s.jobMapMux.Unlock()

	entryID, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("schedule %s with %q: %w", name, spec, err)
	}
	if old, exists := s.jobMap[name]; exists {
		s.cron.Remove(old)
	}
	s.jobMap[name] = entryID
	s.logger.Info("SCHEDULER: Added job", "job", name, "spec", spec, "entry", entryID)
	return nil
}

// RemoveJob removes a job by name; unknown names are ignored
func (s *Scheduler) RemoveJob(name string) {
	s.jobMapMux.Lock()
	defer s.jobMapMux.Unlock()

	if entryID, exists := s.jobMap[name]; exists {
		s.cron.Remove(entryID)
		delete(s.jobMap, name)
		s.logger.Info("SCHEDULER: Removed job", "job", name, "entry", entryID)
	}
}

// NextRun returns when the named job fires next.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.jobMapMux.RLock()
	entryID, exists := s.jobMap[name]
	s.jobMapMux.RUnlock()
	if !exists {
		return time.Time{}, false
	}
	return s.cron.Entry(entryID).Next, true
}

// GetScheduledJobCount returns the number of currently scheduled jobs
func (s *Scheduler) GetScheduledJobCount() int {
	s.jobMapMux.RLock()
	defer s.jobMapMux.RUnlock()
	return len(s.jobMap)
}

// cronLogger routes cron's own logging (including recovered panics) to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("SCHEDULER: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("SCHEDULER: "+msg, append(keysAndValues, "error", err)...)
}
