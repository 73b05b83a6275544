package asynqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/kirillkom/docpipe/internal/core/domain"
)

// Consume runs an asynq server with one handler per stage until ctx ends.
func (q *Queue) Consume(ctx context.Context, handler func(context.Context, domain.StageTask) error) error {
	server := asynq.NewServer(q.redis, asynq.Config{
		Concurrency: q.concurrency,
		Queues:      map[string]int{queueName: 1},
		RetryDelayFunc: func(int, error, *asynq.Task) time.Duration {
			return redeliveryDelay
		},
	})
	if err := server.Start(q.mux(handler)); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	q.logger.Info("consumer_started", "backend", "asynq", "concurrency", q.concurrency)

	<-ctx.Done()
	server.Shutdown()
	return nil
}

func (q *Queue) mux(handler func(context.Context, domain.StageTask) error) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for _, stage := range domain.Stages() {
		mux.HandleFunc(taskType(stage), func(ctx context.Context, t *asynq.Task) error {
			var task domain.StageTask
			if err := json.Unmarshal(t.Payload(), &task); err != nil {
				q.logger.Error("task_decode_failed", "type", t.Type(), "error", err)
				return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
			}
			if err := handler(ctx, task); err != nil {
				q.logger.Warn("task_redelivery_requested",
					"document_id", task.DocumentID,
					"stage", task.Stage,
					"attempt", task.Attempt,
					"error", err,
				)
				return err
			}
			return nil
		})
	}
	return mux
}
