package engine

import (
	"context"
	"sync/atomic"
	"time"

	"buildingops/internal/automation"
	"buildingops/internal/models"

	"golang.org/x/sync/errgroup"
)

// SweepResult summarises one pass over the scheduled automations
type SweepResult struct {
	Evaluated int
	Due       int
	Executed  int
	Failed    int
	Skipped   int
}

// Sweep fires every enabled SCHEDULE automation that is due. An automation
// still executing from an earlier sweep is skipped, and one failing rule
// does not stop the others.
func (e *Engine) Sweep(ctx context.Context) SweepResult {
	started := e.now()
	var res SweepResult
	defer func() {
		if e.recorder != nil {
			e.recorder.SweepDuration(time.Since(started))
		}
	}()

	rules, err := e.store.ListEnabledByTriggerType(ctx, models.TriggerSchedule)
	if err != nil {
		e.logger.Error("ENGINE: sweep could not list automations", "error", err)
		return res
	}
	now := started.In(e.loc)

	var executed, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(e.concurrency)

	for _, a := range rules {
		res.Evaluated++
		if a.Cron == nil {
			e.logger.Warn("ENGINE: scheduled automation has no cron expression", "automation", a.ID)
			continue
		}
		due, err := automation.IsDue(*a.Cron, a.LastRunAt, now)
		if err != nil {
			e.logger.Warn("ENGINE: unparsable cron expression", "automation", a.ID, "cron", *a.Cron, "error", err)
			continue
		}
		if !due {
			continue
		}
		res.Due++
		if err := e.acquire(a.ID); err != nil {
			res.Skipped++
			e.logger.Debug("ENGINE: automation skipped", "automation", a.ID, "reason", err)
			e.record(models.TriggerSchedule, automation.ErrExecutionInFlight)
			continue
		}

		rule := a
		g.Go(func() error {
			defer e.release(rule.ID)
			if _, err := e.execute(ctx, rule, models.TriggerSchedule); err != nil {
				failed.Add(1)
				e.logger.Error("ENGINE: scheduled execution failed", "automation", rule.ID, "name", rule.Name, "error", err)
				return nil
			}
			executed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res.Executed = int(executed.Load())
	res.Failed = int(failed.Load())
	if res.Due > 0 {
		e.logger.Info("ENGINE: sweep complete",
			"evaluated", res.Evaluated, "due", res.Due, "executed", res.Executed,
			"failed", res.Failed, "skipped", res.Skipped)
	}
	return res
}
