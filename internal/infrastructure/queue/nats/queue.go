package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docpipe/internal/core/domain"
	"github.com/kirillkom/docpipe/internal/infrastructure/resilience"
)

// Queue dispatches stage tasks over JetStream, one subject per stage.
type Queue struct {
	conn          *nats.Conn
	js            nats.JetStreamContext
	stream        string
	subjectPrefix string
	ackWait       time.Duration
	concurrency   int
	executor      *resilience.Executor
	logger        *slog.Logger
	now           func() time.Time
}

type Options struct {
	Stream               string
	SubjectPrefix        string
	AckWait              time.Duration
	Concurrency          int
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func NewWithOptions(url string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("docpipe"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open jetstream context: %w", err)
	}

	q := &Queue{
		conn:          conn,
		js:            js,
		stream:        defaultString(options.Stream, "DOCPIPE"),
		subjectPrefix: strings.TrimSuffix(defaultString(options.SubjectPrefix, "docpipe"), "."),
		ackWait:       options.AckWait,
		concurrency:   options.Concurrency,
		executor:      options.ResilienceExecutor,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
	if q.ackWait <= 0 {
		q.ackWait = 10 * time.Minute
	}
	if q.concurrency <= 0 {
		q.concurrency = 4
	}
	return q, nil
}

// EnsureStream creates the work-queue stream when it does not exist.
func (q *Queue) EnsureStream() error {
	_, err := q.js.StreamInfo(q.stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("lookup stream %s: %w", q.stream, err)
	}
	_, err = q.js.AddStream(&nats.StreamConfig{
		Name:      q.stream,
		Subjects:  []string{q.subjectPrefix + ".>"},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", q.stream, err)
	}
	return nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) Enqueue(ctx context.Context, task domain.StageTask) error {
	data, err := encodeTask(task)
	if err != nil {
		return err
	}
	subject := subjectFor(q.subjectPrefix, task.Stage)

	call := func(ctx context.Context) error {
		ack, err := q.js.Publish(subject, data, nats.MsgId(messageID(task)), nats.Context(ctx))
		if err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		if ack != nil && ack.Duplicate {
			q.logger.Info("task_already_queued", "document_id", task.DocumentID, "stage", task.Stage, "attempt", task.Attempt)
		}
		return nil
	}
	if err := q.executor.Execute(ctx, "nats.publish", call, classifyPublish); err != nil {
		return publishError(task, err)
	}
	q.logger.Debug("task_enqueued",
		"document_id", task.DocumentID,
		"stage", task.Stage,
		"attempt", task.Attempt,
		"not_before", task.NotBefore,
	)
	return nil
}

func subjectFor(prefix string, stage domain.Stage) string {
	return prefix + "." + string(stage)
}

// messageID lets JetStream drop duplicate publishes of the same attempt.
func messageID(task domain.StageTask) string {
	return task.Key()
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
