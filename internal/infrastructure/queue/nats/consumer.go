package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docpipe/internal/core/domain"
)

const redeliveryDelay = 5 * time.Second

// Consume subscribes a durable queue consumer per stage and runs handler on
// a bounded pool until ctx is cancelled.
func (q *Queue) Consume(ctx context.Context, handler func(context.Context, domain.StageTask) error) error {
	slots := make(chan struct{}, q.concurrency)
	var wg sync.WaitGroup

	subs := make([]*nats.Subscription, 0, len(domain.Stages()))
	for _, stage := range domain.Stages() {
		group := "pipeline-" + string(stage)
		sub, err := q.js.QueueSubscribe(subjectFor(q.subjectPrefix, stage), group, func(msg *nats.Msg) {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-slots }()
				q.deliver(ctx, msg, handler)
			}()
		},
			nats.Durable(group),
			nats.BindStream(q.stream),
			nats.ManualAck(),
			nats.AckWait(q.ackWait),
			nats.DeliverAll(),
			nats.MaxAckPending(q.concurrency*2),
		)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return fmt.Errorf("nats subscribe %s: %w", stage, err)
		}
		subs = append(subs, sub)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	q.logger.Info("consumer_started", "stream", q.stream, "concurrency", q.concurrency)

	<-ctx.Done()
	var drainErr error
	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			drainErr = errors.Join(drainErr, fmt.Errorf("nats drain subscription: %w", err))
		}
	}
	wg.Wait()
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		drainErr = errors.Join(drainErr, fmt.Errorf("nats flush after drain: %w", err))
	}
	return drainErr
}

func (q *Queue) deliver(ctx context.Context, msg *nats.Msg, handler func(context.Context, domain.StageTask) error) {
	task, err := decodeTask(msg.Data)
	if err != nil {
		q.logger.Error("task_decode_failed", "subject", msg.Subject, "error", err)
		_ = msg.Term()
		return
	}

	if wait := holdFor(task, q.now()); wait > 0 {
		// Not due yet: hand it back to the server to redeliver later.
		_ = msg.NakWithDelay(wait)
		return
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go q.keepAlive(handlerCtx, msg)

	if err := handler(handlerCtx, task); err != nil {
		q.logger.Warn("task_redelivery_requested",
			"document_id", task.DocumentID,
			"stage", task.Stage,
			"attempt", task.Attempt,
			"error", err,
		)
		_ = msg.NakWithDelay(redeliveryDelay)
		return
	}
	if err := msg.Ack(); err != nil {
		q.logger.Warn("task_ack_failed", "document_id", task.DocumentID, "stage", task.Stage, "error", err)
	}
}

// keepAlive extends the ack deadline while a long stage is running.
func (q *Queue) keepAlive(ctx context.Context, msg *nats.Msg) {
	ticker := time.NewTicker(q.ackWait / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = msg.InProgress()
		}
	}
}

// holdFor returns how long a task must still wait before it may run.
func holdFor(task domain.StageTask, now time.Time) time.Duration {
	if task.NotBefore.IsZero() {
		return 0
	}
	wait := task.NotBefore.Sub(now)
	if wait <= 0 {
		return 0
	}
	return wait
}
