package taskqueue

import (
	"context"
	"fmt"
	"log/slog"

	"buildingops/internal/utils"

	"github.com/hibiken/asynq"
)

// Queue runs maintenance tasks. With Redis configured tasks go through
// asynq workers; without it they run inline in the caller.
type Queue struct {
	client  *asynq.Client
	server  *asynq.Server
	mux     *asynq.ServeMux
	handler asynq.HandlerFunc
	logger  *slog.Logger
}

// NewQueue creates a queue. redisOpt may be nil.
func NewQueue(redisOpt asynq.RedisConnOpt, concurrency int, cleaner Cleaner, logger *slog.Logger) *Queue {
	logger = utils.Component(logger, "taskqueue")
	q := &Queue{
		mux:     asynq.NewServeMux(),
		handler: handleEnergyRetention(cleaner, logger),
		logger:  logger,
	}
	q.mux.Handle(TypeEnergyRetention, q.handler)

	if redisOpt == nil {
		logger.Warn("TASKQUEUE: No Redis configured, tasks run inline")
		return q
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	q.client = asynq.NewClient(redisOpt)
	q.server = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Logger:      asynqLogger{logger: logger},
	})
	return q
}

// Inline reports whether tasks bypass Redis
func (q *Queue) Inline() bool { return q.client == nil }

// Start starts the workers without blocking
func (q *Queue) Start() error {
	if q.server == nil {
		return nil
	}
	q.logger.Info("TASKQUEUE: Starting Asynq workers")
	if err := q.server.Start(q.mux); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}
	return nil
}

// Stop stops workers
func (q *Queue) Stop() {
	if q.server != nil {
		q.logger.Info("TASKQUEUE: Stopping workers...")
		q.server.Shutdown()
	}
	if q.client != nil {
		_ = q.client.Close()
	}
	q.logger.Info("TASKQUEUE: Workers stopped")
}

// EnqueueRetention queues an energy retention run.
func (q *Queue) EnqueueRetention(ctx context.Context, daysToKeep int) error {
	task, err := NewEnergyRetentionTask(daysToKeep)
	if err != nil {
		return err
	}
	if q.client == nil {
		return q.handler(ctx, task)
	}
	info, err := q.client.EnqueueContext(ctx, task)
	if err != nil {
		q.logger.Error("TASKQUEUE: Failed to enqueue retention", "error", err)
		return fmt.Errorf("enqueue %s: %w", TypeEnergyRetention, err)
	}
	q.logger.Info("TASKQUEUE: Enqueued retention", "task", info.ID, "queue", info.Queue)
	return nil
}

type asynqLogger struct {
	logger *slog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }
