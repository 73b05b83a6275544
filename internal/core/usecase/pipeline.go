package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docpipe/internal/core/domain"
	"github.com/kirillkom/docpipe/internal/core/ports"
)

// failureRecordTimeout bounds recording a failure once the stage context is gone.
const failureRecordTimeout = 10 * time.Second

type StageOutcome string

const (
	OutcomeAdvanced  StageOutcome = "advanced"
	OutcomeRefreshed StageOutcome = "refreshed"
	OutcomeSkipped   StageOutcome = "skipped"
	OutcomeRetrying  StageOutcome = "retrying"
	OutcomeFailed    StageOutcome = "failed"
)

type admission int

const (
	admitRun admission = iota
	admitRevive
	admitRefresh
	admitSkip
)

// DocumentPipeline drives a document through extraction, generation and
// reconciliation. Each stage is a separate task; the next one is dispatched
// only after the current stage's result is persisted and verified.
type DocumentPipeline struct {
	store      ports.DocumentStore
	storage    ports.ObjectStorage
	extractors ports.ExtractorResolver
	prompts    ports.PromptBuilder
	llms       ports.LLMResolver
	reconciler ports.ResponseReconciler
	dispatcher ports.Dispatcher
	policy     RetryPolicy
	metrics    ports.StageMetrics
	logger     *slog.Logger
	now        func() time.Time
}

type PipelineOption func(*DocumentPipeline)

func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *DocumentPipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithStageMetrics(metrics ports.StageMetrics) PipelineOption {
	return func(p *DocumentPipeline) {
		if metrics != nil {
			p.metrics = metrics
		}
	}
}

func WithClock(now func() time.Time) PipelineOption {
	return func(p *DocumentPipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func NewDocumentPipeline(
	store ports.DocumentStore,
	storage ports.ObjectStorage,
	extractors ports.ExtractorResolver,
	prompts ports.PromptBuilder,
	llms ports.LLMResolver,
	reconciler ports.ResponseReconciler,
	dispatcher ports.Dispatcher,
	policy RetryPolicy,
	opts ...PipelineOption,
) *DocumentPipeline {
	p := &DocumentPipeline{
		store:      store,
		storage:    storage,
		extractors: extractors,
		prompts:    prompts,
		llms:       llms,
		reconciler: reconciler,
		dispatcher: dispatcher,
		policy:     policy,
		metrics:    nopStageMetrics{},
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StartPipeline enqueues the extraction stage for a stored document.
func (p *DocumentPipeline) StartPipeline(ctx context.Context, documentID string) error {
	task := domain.StageTask{DocumentID: documentID, Stage: domain.StageExtract}
	if err := p.dispatcher.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Stage, err)
	}
	return nil
}

// Restart re-enqueues the stage a document is waiting on. Documents in ERROR
// restart their failed stage as a new run with the full retry budget.
func (p *DocumentPipeline) Restart(ctx context.Context, documentID string) (domain.Stage, error) {
	doc, err := p.store.GetByID(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("fetch document by id: %w", err)
	}

	task := domain.StageTask{DocumentID: doc.ID, Run: uuid.NewString()}
	switch doc.Status {
	case domain.StatusCompleted:
		return "", domain.WrapError(domain.ErrInvalidInput, "restart pipeline", errors.New("document already completed"))
	case domain.StatusError:
		if doc.FailedStage == "" {
			return "", domain.WrapError(domain.ErrInvalidInput, "restart pipeline", errors.New("failed stage is unknown"))
		}
		task.Stage = doc.FailedStage
	default:
		stage, ok := domain.StageForStatus(doc.Status)
		if !ok {
			return "", domain.WrapError(domain.ErrInvalidInput, "restart pipeline", fmt.Errorf("unexpected status %q", doc.Status))
		}
		task.Stage = stage
	}

	if err := p.dispatcher.Enqueue(ctx, task); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", task.Stage, err)
	}
	p.logger.Info("pipeline_restarted", "document_id", doc.ID, "stage", task.Stage, "status", doc.Status, "run", task.Run)
	return task.Stage, nil
}

// HandleTask runs one stage task. It returns an error only when the task
// should be redelivered by the queue; stage failures are recorded on the
// document and retried by the pipeline itself.
func (p *DocumentPipeline) HandleTask(ctx context.Context, task domain.StageTask) error {
	started := time.Now()
	p.metrics.StageStarted(task.Stage)
	outcome, err := p.RunStage(ctx, task)
	if outcome == "" {
		outcome = OutcomeFailed
	}
	p.metrics.StageFinished(task.Stage, string(outcome), time.Since(started).Seconds())
	return err
}

func (p *DocumentPipeline) RunStage(ctx context.Context, task domain.StageTask) (StageOutcome, error) {
	logger := p.logger.With("document_id", task.DocumentID, "stage", task.Stage, "attempt", task.Attempt)
	if task.IsRestart() {
		logger = logger.With("run", task.Run)
	}

	doc, err := p.store.GetByID(ctx, task.DocumentID)
	if err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) {
			logger.Warn("stage_document_missing")
			return OutcomeSkipped, nil
		}
		return "", fmt.Errorf("fetch document by id: %w", err)
	}

	mode, reason := admit(doc, task)
	if mode == admitSkip {
		logger.Info("stage_skipped", "status", doc.Status, "reason", reason)
		return OutcomeSkipped, nil
	}
	logger.Info("stage_started", "status", doc.Status)

	patch, runErr := p.execute(ctx, task.Stage, doc, mode)
	if runErr != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !domain.IsKind(runErr, domain.ErrTimeout) {
		runErr = domain.WrapError(domain.ErrTimeout, "run "+string(task.Stage), runErr)
	}
	if mode == admitRefresh {
		return p.refresh(ctx, logger, doc, patch, runErr), nil
	}
	if runErr != nil {
		return p.fail(ctx, logger, doc, task, runErr)
	}

	p.advance(&patch, doc, task.Stage, mode)
	if err := p.persist(ctx, logger, doc.ID, patch); err != nil {
		return p.fail(ctx, logger, doc, task, err)
	}
	logger.Info("stage_completed", "status", *patch.Status)

	if next, ok := task.Stage.Next(); ok {
		nextTask := domain.StageTask{DocumentID: doc.ID, Stage: next, Run: task.Run}
		if err := p.dispatcher.Enqueue(ctx, nextTask); err != nil {
			// The document stays parked at its committed status and shows up as stuck.
			logger.Error("dispatch_failed", "next_stage", next, "error", err, "critical", true)
		}
	}
	return OutcomeAdvanced, nil
}

func admit(doc *domain.Document, task domain.StageTask) (admission, string) {
	input := task.Stage.InputStatus()
	if input == "" {
		return admitSkip, "unknown stage"
	}
	if doc.Status == domain.StatusError {
		if (task.IsRetry() || task.IsRestart()) && doc.FailedStage == task.Stage {
			return admitRevive, ""
		}
		return admitSkip, "document is in error"
	}
	if task.IsRetry() {
		return admitSkip, "retry is no longer pending"
	}
	switch {
	case doc.Status == input:
		return admitRun, ""
	case doc.Status.Rank() > input.Rank():
		return admitRefresh, ""
	default:
		return admitSkip, "document has not reached this stage"
	}
}

func (p *DocumentPipeline) execute(ctx context.Context, stage domain.Stage, doc *domain.Document, mode admission) (domain.DocumentPatch, error) {
	switch stage {
	case domain.StageExtract:
		return p.extractText(ctx, doc)
	case domain.StageGenerate:
		if mode == admitRefresh {
			// The prompt actually sent is an audit record and is never regenerated.
			return domain.DocumentPatch{}, nil
		}
		return p.generate(ctx, doc)
	case domain.StageReconcile:
		return p.reconcile(doc)
	default:
		return domain.DocumentPatch{}, domain.WrapError(domain.ErrInvalidInput, "run stage", fmt.Errorf("unknown stage %q", stage))
	}
}

// advance completes the patch with the status change and terminal bookkeeping.
func (p *DocumentPipeline) advance(patch *domain.DocumentPatch, doc *domain.Document, stage domain.Stage, mode admission) {
	patch.Status = domain.Ptr(stage.OutputStatus())
	if mode == admitRevive {
		patch.ErrorMessage = domain.Ptr("")
		patch.FailedStage = domain.Ptr(domain.Stage(""))
		patch.ClearCompletedAt = true
	}
	if stage.IsFinal() {
		patch.ClearCompletedAt = false
		patch.CompletedAt = domain.Ptr(p.now())
	}
}

// refresh rewrites the outputs of a stage the document already passed. It
// never changes status or dispatches, and never turns a document into ERROR.
func (p *DocumentPipeline) refresh(ctx context.Context, logger *slog.Logger, doc *domain.Document, patch domain.DocumentPatch, runErr error) StageOutcome {
	if runErr != nil {
		logger.Warn("stage_refresh_failed", "status", doc.Status, "error", runErr)
		return OutcomeSkipped
	}
	if patch.IsEmpty() {
		logger.Info("stage_skipped", "status", doc.Status, "reason", "stage output is immutable")
		return OutcomeSkipped
	}
	if err := p.persist(ctx, logger, doc.ID, patch); err != nil {
		logger.Warn("stage_refresh_failed", "status", doc.Status, "error", err)
		return OutcomeSkipped
	}
	logger.Info("stage_refreshed", "status", doc.Status)
	return OutcomeRefreshed
}

// fail records the failure and schedules a retry. It runs on a context detached
// from ctx so that a stage which ran out of time still gets its ERROR recorded.
func (p *DocumentPipeline) fail(ctx context.Context, logger *slog.Logger, doc *domain.Document, task domain.StageTask, cause error) (StageOutcome, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureRecordTimeout)
	defer cancel()

	now := p.now()
	patch := domain.DocumentPatch{
		Status:       domain.Ptr(domain.StatusError),
		ErrorMessage: domain.Ptr(cause.Error()),
		FailedStage:  domain.Ptr(task.Stage),
		CompletedAt:  domain.Ptr(now),
	}
	if err := p.persist(ctx, logger, doc.ID, patch); err != nil {
		logger.Error("stage_failure_not_recorded", "cause", cause, "error", err)
		return OutcomeFailed, fmt.Errorf("record %s failure: %w", task.Stage, err)
	}

	next := task.Attempt + 1
	if !domain.IsRetryable(cause) || !p.policy.Allows(next) {
		logger.Error("stage_failed", "error", cause, "retryable", domain.IsRetryable(cause), "terminal", true)
		return OutcomeFailed, nil
	}

	delay := p.policy.Delay(next)
	retry := domain.StageTask{
		DocumentID: doc.ID,
		Stage:      task.Stage,
		Attempt:    next,
		NotBefore:  now.Add(delay),
		Run:        task.Run,
	}
	if err := p.dispatcher.Enqueue(ctx, retry); err != nil {
		logger.Error("retry_dispatch_failed", "error", err, "cause", cause)
		return OutcomeFailed, nil
	}
	p.metrics.RetryScheduled(task.Stage)
	logger.Warn("retry_scheduled", "error", cause, "retry", next, "delay", delay.String())
	return OutcomeRetrying, nil
}

// persist writes the patch, reads it back and rewrites once if the write did not land.
func (p *DocumentPipeline) persist(ctx context.Context, logger *slog.Logger, id string, patch domain.DocumentPatch) error {
	if err := p.store.Update(ctx, id, patch); err != nil {
		return fmt.Errorf("persist document: %w", err)
	}
	for rewrite := 0; ; rewrite++ {
		stored, err := p.store.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("verify document: %w", err)
		}
		if patch.AppliedTo(stored) {
			return nil
		}
		if rewrite > 0 {
			logger.Error("persist_verify_failed", "critical", true)
			return domain.WrapError(domain.ErrTemporary, "verify document", errors.New("write did not land after corrective rewrite"))
		}
		logger.Warn("persist_verify_mismatch")
		if err := p.store.Update(ctx, id, patch); err != nil {
			return fmt.Errorf("rewrite document: %w", err)
		}
	}
}

type nopStageMetrics struct{}

func (nopStageMetrics) StageStarted(domain.Stage)                   {}
func (nopStageMetrics) StageFinished(domain.Stage, string, float64) {}
func (nopStageMetrics) RetryScheduled(domain.Stage)                 {}
