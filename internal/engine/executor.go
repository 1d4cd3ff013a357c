package engine

import (
	"context"
	"fmt"
	"time"

	"buildingops/internal/automation"
	"buildingops/internal/models"
	"buildingops/internal/mqtt"

	"github.com/google/uuid"
)

// execute performs a's action and records the outcome. lastRunAt is the
// execution start time and only advances on success.
func (e *Engine) execute(ctx context.Context, a models.Automation, trigger models.TriggerType) (*models.AutomationHistory, error) {
	executedAt := e.now().UTC()

	note, err := e.perform(a)
	if err == nil {
		if uerr := e.store.UpdateAutomationLastRun(ctx, a.ID, executedAt); uerr != nil {
			err = fmt.Errorf("record last run: %w", uerr)
		}
	}
	e.record(trigger, err)

	if err != nil {
		e.appendHistory(ctx, a.ID, executedAt, false, "Error: "+err.Error())
		return nil, &automation.ExecutionError{AutomationID: a.ID, Err: err}
	}

	line := "Executed successfully at " + executedAt.Format(time.RFC3339)
	if note != "" {
		line += " (" + note + ")"
	}
	h := e.appendHistory(ctx, a.ID, executedAt, true, line)
	e.logger.Info("ENGINE: automation executed", "automation", a.ID, "trigger", trigger)
	return h, nil
}

// perform dispatches the action. The returned note qualifies a success.
func (e *Engine) perform(a models.Automation) (string, error) {
	action, err := automation.ParseAction(a.Action)
	if err != nil {
		return "", err
	}
	if action.Topic == "" {
		return "no topic, nothing published", nil
	}

	opts := mqtt.PublishOptions{Retain: action.Retain}
	if action.QoS != nil {
		opts.QoS = *action.QoS
	}
	note := ""
	if !e.publisher.IsConnected() {
		note = "transport offline, publish skipped"
	}
	if err := e.publisher.Publish(action.Topic, action.PublishPayload(), opts); err != nil {
		return "", fmt.Errorf("publish to %s: %w", action.Topic, err)
	}
	return note, nil
}

func (e *Engine) appendHistory(ctx context.Context, automationID string, at time.Time, success bool, log string) *models.AutomationHistory {
	h := &models.AutomationHistory{
		ID:           uuid.NewString(),
		AutomationID: automationID,
		Timestamp:    at,
		Success:      success,
		Log:          log,
	}
	if err := e.store.AppendAutomationHistory(ctx, h); err != nil {
		e.logger.Error("ENGINE: could not append history", "automation", automationID, "success", success, "error", err)
	}
	return h
}
