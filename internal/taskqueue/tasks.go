package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TypeEnergyRetention deletes energy readings older than the retention window
const TypeEnergyRetention = "energy:retention"

// RetentionPayload for energy retention tasks
type RetentionPayload struct {
	DaysToKeep int `json:"daysToKeep"`
}

// Cleaner removes readings older than daysToKeep days
type Cleaner interface {
	Cleanup(ctx context.Context, daysToKeep int) (int64, error)
}

// NewEnergyRetentionTask builds a retention task. At most one can be queued
// per hour.
func NewEnergyRetentionTask(daysToKeep int) (*asynq.Task, error) {
	if daysToKeep < 1 {
		return nil, fmt.Errorf("daysToKeep must be at least 1, got %d", daysToKeep)
	}
	payload, err := json.Marshal(RetentionPayload{DaysToKeep: daysToKeep})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEnergyRetention, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
		asynq.Unique(time.Hour),
	), nil
}

// handleEnergyRetention runs a retention task
func handleEnergyRetention(cleaner Cleaner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload RetentionPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			logger.Error("TASKQUEUE: Failed to unmarshal retention payload", "error", err)
			return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
		}
		if payload.DaysToKeep < 1 {
			return fmt.Errorf("daysToKeep must be at least 1: %w", asynq.SkipRetry)
		}

		started := time.Now()
		deleted, err := cleaner.Cleanup(ctx, payload.DaysToKeep)
		if err != nil {
			logger.Error("TASKQUEUE: Energy retention failed", "daysToKeep", payload.DaysToKeep, "error", err)
			return err
		}
		logger.Info("TASKQUEUE: Energy retention complete",
			"daysToKeep", payload.DaysToKeep, "deleted", deleted, "took", time.Since(started))
		return nil
	}
}
