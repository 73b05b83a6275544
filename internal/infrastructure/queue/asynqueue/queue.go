// Package asynqueue dispatches stage tasks through asynq on Redis.
package asynqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/kirillkom/docpipe/internal/core/domain"
	"github.com/kirillkom/docpipe/internal/infrastructure/resilience"
)

const (
	taskPrefix = "docpipe:"
	queueName  = "docpipe"
	// Handler errors mean the store was unavailable; asynq keeps retrying.
	redeliveryLimit = 20
	redeliveryDelay = 5 * time.Second
)

type Options struct {
	Addr        string
	Password    string
	DB          int
	Concurrency int
	Executor    *resilience.Executor
	Logger      *slog.Logger
}

type Queue struct {
	redis       asynq.RedisClientOpt
	client      *asynq.Client
	concurrency int
	executor    *resilience.Executor
	logger      *slog.Logger
}

func New(options Options) *Queue {
	redisOpt := asynq.RedisClientOpt{
		Addr:     options.Addr,
		Password: options.Password,
		DB:       options.DB,
	}
	concurrency := options.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		redis:       redisOpt,
		client:      asynq.NewClient(redisOpt),
		concurrency: concurrency,
		executor:    options.Executor,
		logger:      logger,
	}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, task domain.StageTask) error {
	asynqTask, opts, err := newTask(task)
	if err != nil {
		return err
	}
	err = q.executor.Execute(ctx, "asynq.enqueue", func(ctx context.Context) error {
		_, err := q.client.EnqueueContext(ctx, asynqTask, opts...)
		return err
	}, classify)
	switch {
	case err == nil:
	case errors.Is(err, asynq.ErrTaskIDConflict), errors.Is(err, asynq.ErrDuplicateTask):
		q.logger.Info("task_already_queued", "document_id", task.DocumentID, "stage", task.Stage, "attempt", task.Attempt)
	default:
		return domain.WrapError(domain.ErrTemporary, "enqueue task", err)
	}
	return nil
}

func newTask(task domain.StageTask) (*asynq.Task, []asynq.Option, error) {
	if task.DocumentID == "" {
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "encode task", errors.New("document id is empty"))
	}
	if _, err := domain.ParseStage(string(task.Stage)); err != nil {
		return nil, nil, err
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal task: %w", err)
	}
	opts := []asynq.Option{
		asynq.Queue(queueName),
		asynq.TaskID(task.Key()),
		asynq.MaxRetry(redeliveryLimit),
	}
	if !task.NotBefore.IsZero() {
		opts = append(opts, asynq.ProcessAt(task.NotBefore))
	}
	return asynq.NewTask(taskType(task.Stage), payload), opts, nil
}

func taskType(stage domain.Stage) string {
	return taskPrefix + string(stage)
}

func classify(err error) resilience.ErrorClassification {
	switch {
	case err == nil,
		errors.Is(err, asynq.ErrTaskIDConflict),
		errors.Is(err, asynq.ErrDuplicateTask),
		errors.Is(err, context.Canceled):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err):
		return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	default:
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
}
