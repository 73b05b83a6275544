package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/docpipe/internal/core/domain"
	"github.com/kirillkom/docpipe/internal/core/ports"
)

type pipelineFixture struct {
	store      *memStore
	storage    *storageFake
	extractor  *extractorFake
	local      *localLLMFake
	cloud      *cloudLLMFake
	reconciler *reconcilerFake
	dispatcher *dispatcherFake
	metrics    *metricsFake
	pipeline   *DocumentPipeline
}

func newPipelineFixture(doc domain.Document) *pipelineFixture {
	f := &pipelineFixture{
		store:      newMemStore(doc),
		storage:    &storageFake{},
		extractor:  &extractorFake{results: []extractResult{{text: "  Nota fiscal 123  "}}},
		local:      &localLLMFake{llmClientFake: llmClientFake{reply: " CNPJ: 1 "}},
		cloud:      &cloudLLMFake{llmClientFake: llmClientFake{reply: "cloud reply"}},
		reconciler: &reconcilerFake{},
		dispatcher: &dispatcherFake{},
		metrics:    &metricsFake{},
	}
	f.pipeline = NewDocumentPipeline(
		f.store,
		f.storage,
		extractorResolverFake{extractor: f.extractor},
		promptFake{},
		llmResolverFake{
			domain.ProviderOllama: f.local,
			domain.ProviderGemini: f.cloud,
		},
		f.reconciler,
		f.dispatcher,
		DefaultRetryPolicy(),
		WithClock(fixedClock),
		WithStageMetrics(f.metrics),
	)
	return f
}

func (f *pipelineFixture) drain(t *testing.T) int {
	t.Helper()
	runs := 0
	for {
		task, ok := f.dispatcher.pop()
		if !ok {
			return runs
		}
		runs++
		if runs > 20 {
			t.Fatalf("pipeline did not settle")
		}
		if err := f.pipeline.HandleTask(context.Background(), task); err != nil {
			t.Fatalf("HandleTask(%+v) error = %v", task, err)
		}
	}
}

func uploadedDoc() domain.Document {
	return domain.Document{
		ID:             "doc-1",
		Filename:       "nota.pdf",
		FileKind:       "pdf",
		StoragePath:    "doc-1_nota.pdf",
		Status:         domain.StatusUploaded,
		Prompt:         "Qual o CNPJ?",
		FormatResponse: `[{"CNPJ":""}]`,
		Provider:       domain.ProviderOllama,
		Model:          "llama3",
		CreatedAt:      testNow.Add(-time.Minute),
		UpdatedAt:      testNow.Add(-time.Minute),
	}
}

func TestPipelineRunsAllStages(t *testing.T) {
	f := newPipelineFixture(uploadedDoc())

	if err := f.pipeline.StartPipeline(context.Background(), "doc-1"); err != nil {
		t.Fatalf("StartPipeline() error = %v", err)
	}
	if runs := f.drain(t); runs != 3 {
		t.Fatalf("expected 3 stage runs, got %d", runs)
	}

	doc := f.store.doc("doc-1")
	if doc.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", doc.Status, doc.ErrorMessage)
	}
	if doc.CompletedAt == nil || !doc.CompletedAt.Equal(testNow) {
		t.Fatalf("expected completed_at %s, got %v", testNow, doc.CompletedAt)
	}
	if doc.ExtractedText != "Nota fiscal 123" {
		t.Fatalf("unexpected extracted text %q", doc.ExtractedText)
	}
	if doc.FullPromptSent != `ctx=Nota fiscal 123|q=Qual o CNPJ?|f=[{"CNPJ":""}]|e=` {
		t.Fatalf("unexpected prompt %q", doc.FullPromptSent)
	}
	if doc.LLMResponse != "CNPJ: 1" || doc.FormattedResponse != "formatted:CNPJ: 1" {
		t.Fatalf("unexpected responses %q / %q", doc.LLMResponse, doc.FormattedResponse)
	}
	if f.local.pings != 1 {
		t.Fatalf("expected one reachability check, got %d", f.local.pings)
	}
	if f.extractor.paths[0] != "/uploads/doc-1_nota.pdf" {
		t.Fatalf("unexpected extractor path %q", f.extractor.paths[0])
	}
	if f.metrics.outcomes["format_response:advanced"] != 1 {
		t.Fatalf("expected metrics for final stage, got %v", f.metrics.outcomes)
	}
}

func TestExtractionEmptyUsesPlaceholderAndContinues(t *testing.T) {
	f := newPipelineFixture(uploadedDoc())
	f.extractor.results = []extractResult{{text: " \n\t "}}

	outcome, err := f.pipeline.RunStage(context.Background(), domain.StageTask{DocumentID: "doc-1", Stage: domain.StageExtract})
	if err != nil || outcome != OutcomeAdvanced {
		t.Fatalf("RunStage() = %s, %v", outcome, err)
	}

	doc := f.store.doc("doc-1")
	if doc.Status != domain.StatusTextExtracted {
		t.Fatalf("expected TEXT_EXTRACTED, got %s", doc.Status)
	}
	if doc.ExtractedText != domain.ExtractionPlaceholder {
		t.Fatalf("expected placeholder, got %q", doc.ExtractedText)
	}
	if doc.CompletedAt != nil {
		t.Fatalf("completed_at must stay unset for in-progress documents")
	}
	if len(f.dispatcher.tasks) != 1 || f.dispatcher.tasks[0].Stage != domain.StageGenerate {
		t.Fatalf("expected generation to be dispatched, got %+v", f.dispatcher.tasks)
	}
}

func TestMissingCloudCredentialsFailsWithoutRetry(t *testing.T) {
	doc := uploadedDoc()
	doc.Status = domain.StatusTextExtracted
	doc.ExtractedText = "text"
	doc.Provider = "cloud"
	f := newPipelineFixture(doc)

	outcome, err := f.pipeline.RunStage(context.Background(), domain.StageTask{DocumentID: "doc-1", Stage: domain.StageGenerate})
	if err != nil || outcome != OutcomeFailed {
		t.Fatalf("RunStage() = %s, %v", outcome, err)
	}

	stored := f.store.doc("doc-1")
	if stored.Status != domain.StatusError || stored.CompletedAt == nil {
		t.Fatalf("expected terminal ERROR, got %s completed_at=%v", stored.Status, stored.CompletedAt)
	}
	if !strings.Contains(stored.ErrorMessage, "configuration error") {
		t.Fatalf("expected descriptive error message, got %q", stored.ErrorMessage)
	}
	if len(f.dispatcher.tasks) != 0 {
		t.Fatalf("expected no retry, got %+v", f.dispatcher.tasks)
	}
	if len(f.cloud.requests) != 0 {
		t.Fatalf("provider must not be called without credentials")
	}
}

func TestTransientFailureRetriesWithExponentialBackoff(t *testing.T) {
	f := newPipelineFixture(uploadedDoc())
	f.extractor.results = []extractResult{{err: domain.WrapError(domain.ErrExtractionFailed, "pdf", errors.New("corrupt xref"))}}

	task := domain.StageTask{DocumentID: "doc-1", Stage: domain.StageExtract}
	wantDelays := []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second}
	for i, want := range wantDelays {
		outcome, err := f.pipeline.RunStage(context.Background(), task)
		if err != nil || outcome != OutcomeRetrying {
			t.Fatalf("run %d: RunStage() = %s, %v", i, outcome, err)
		}
		next, ok := f.dispatcher.pop()
		if !ok {
			t.Fatalf("run %d: expected retry task", i)
		}
		if next.Attempt != i+1 || next.Stage != domain.StageExtract {
			t.Fatalf("run %d: unexpected retry task %+v", i, next)
		}
		if got := next.NotBefore.Sub(testNow); got != want {
			t.Fatalf("run %d: expected delay %s, got %s", i, want, got)
		}
		task = next
	}

	outcome, err := f.pipeline.RunStage(context.Background(), task)
	if err != nil || outcome != OutcomeFailed {
		t.Fatalf("final run: RunStage() = %s, %v", outcome, err)
	}
	if len(f.dispatcher.tasks) != 0 {
		t.Fatalf("expected retries to be exhausted, got %+v", f.dispatcher.tasks)
	}
	if f.extractor.calls != 4 {
		t.Fatalf("expected initial run plus 3 retries, got %d calls", f.extractor.calls)
	}
	if f.metrics.retries != 3 {
		t.Fatalf("expected 3 retries recorded, got %d", f.metrics.retries)
	}
	doc := f.store.doc("doc-1")
	if doc.Status != domain.StatusError || doc.FailedStage != domain.StageExtract {
		t.Fatalf("expected ERROR at extract, got %s/%s", doc.Status, doc.FailedStage)
	}
}

func TestRetryRevivesDocument(t *testing.T) {
	f := newPipelineFixture(uploadedDoc())
	f.extractor.results = []extractResult{{err: errors.New("file locked")}, {text: "recovered"}}

	if _, err := f.pipeline.RunStage(context.Background(), domain.StageTask{DocumentID: "doc-1", Stage: domain.StageExtract}); err != nil {
		t.Fatalf("first run error = %v", err)
	}
	failed := f.store.doc("doc-1")
	if failed.Status != domain.StatusError || failed.CompletedAt == nil || failed.ErrorMessage == "" {
		t.Fatalf("expected recorded failure, got %+v", failed)
	}

	retry, _ := f.dispatcher.pop()
	outcome, err := f.pipeline.RunStage(context.Background(), retry)
	if err != nil || outcome != OutcomeAdvanced {
		t.Fatalf("retry: RunStage() = %s, %v", outcome, err)
	}
	doc := f.store.doc("doc-1")
	if doc.Status != domain.StatusTextExtracted || doc.ExtractedText != "recovered" {
		t.Fatalf("expected revived document, got %s %q", doc.Status, doc.ExtractedText)
	}
	if doc.ErrorMessage != "" || doc.FailedStage != "" || doc.CompletedAt != nil {
		t.Fatalf("expected failure fields cleared, got %+v", doc)
	}
	next, ok := f.dispatcher.pop()
	if !ok || next.Stage != domain.StageGenerate || next.Attempt != 0 {
		t.Fatalf("expected fresh generation task, got %+v", next)
	}
}

func TestLocalProviderUnreachableIsRetryable(t *testing.T) {
	doc := uploadedDoc()
	doc.Status = domain.StatusTextExtracted
	doc.ExtractedText = "text"
	f := newPipelineFixture(doc)
	f.local.pingErr = errors.New("dial tcp 127.0.0.1:11434: connection refused")

	outcome, err := f.pipeline.RunStage(context.Background(), domain.StageTask{DocumentID: "doc-1", Stage: domain.StageGenerate})
	if err != nil || outcome != OutcomeRetrying {
		t.Fatalf("RunStage() = %s, %v", outcome, err)
	}
	if len(f.local.requests) != 0 {
		t.Fatalf("model must not be called when the endpoint is unreachable")
	}
	stored := f.store.doc("doc-1")
	if !strings.Contains(stored.ErrorMessage, "provider unreachable") {
		t.Fatalf("expected unreachable cause, got %q", stored.ErrorMessage)
	}
	if stored.FullPromptSent != "" {
		t.Fatalf("prompt must only be recorded with the reply")
	}
}

func TestEmptyModelReplyIsAProviderError(t *testing.T) {
	doc := uploadedDoc()
	doc.Status = domain.StatusTextExtracted
	doc.ExtractedText = "text"
	f := newPipelineFixture(doc)
	f.local.reply = "   "

	outcome, _ := f.pipeline.RunStage(context.Background(), domain.StageTask{DocumentID: "doc-1", Stage: domain.StageGenerate})
	if outcome != OutcomeRetrying {
		t.Fatalf("expected retry for empty reply, got %s", outcome)
	}
	if !strings.Contains(f.store.doc("doc-1").ErrorMessage, "empty reply") {
		t.Fatalf("unexpected error message %q", f.store.doc("doc-1").ErrorMessage)
	}
}

func TestRerunOnAdvancedDocumentIsIdempotent(t *testing.T) {
	f := newPipelineFixture(uploadedDoc())
	if err := f.pipeline.StartPipeline(context.Background(), "doc-1"); err != nil {
		t.Fatalf("StartPipeline() error = %v", err)
	}
	f.drain(t)
	before := f.store.doc("doc-1")

	for _, stage := range domain.Stages() {
		outcome, err := f.pipeline.RunStage(context.Background(), domain.StageTask{DocumentID: "doc-1", Stage: stage})
		if err != nil {
			t.Fatalf("%s rerun error = %v", stage, err)
		}
		if stage == domain.StageGenerate && outcome != OutcomeSkipped {
			t.Fatalf("generation rerun must be skipped, got %s", outcome)
		}
	}

	after := f.store.doc("doc-1")
	if after.Status != before.Status ||
		after.ExtractedText != before.ExtractedText ||
		after.FullPromptSent != before.FullPromptSent ||
		after.LLMResponse != before.LLMResponse ||
		after.FormattedResponse != before.FormattedResponse ||
		!after.CompletedAt.Equal(*before.CompletedAt) {
		t.Fatalf("rerun changed outputs:\nbefore %+v\nafter  %+v", before, after)
	}
	if len(f.local.requests) != 1 {
		t.Fatalf("expected a single model call, got %d", len(f.local.requests))
	}
	if len(f.dispatcher.tasks) != 0 {
		t.Fatalf("reruns must not dispatch, got %+v", f.dispatcher.tasks)
	}
}

func TestPersistVerificationRewritesOnce(t *testing.T) {
	f := newPipelineFixture(uploadedDoc())
	f.store.dropWrites = 1

	outcome, err := f.pipeline.RunStage(context.Background(), domain.StageTask{DocumentID: "doc-1", Stage: domain.StageExtract})
	if err != nil || outcome != OutcomeAdvanced {
		t.Fatalf("RunStage() = %s, %v", outcome, err)
	}
	if f.store.updates != 2 {
		t.Fatalf("expected write plus one corrective rewrite, got %d updates", f.store.updates)
	}
	if f.store.doc("doc-1").Status != domain.StatusTextExtracted {
		t.Fatalf("expected rewrite to land")
	}
}

func TestPersistVerificationFailureIsTransient(t *testing.T) {
	f := newPipelineFixture(uploadedDoc())
	f.store.dropWrites = 2

	outcome, err := f.pipeline.RunStage(context.Background(), domain.StageTask{DocumentID: "doc-1", Stage: domain.StageExtract})
	if err != nil || outcome != OutcomeRetrying {
		t.Fatalf("RunStage() = %s, %v", outcome, err)
	}
	doc := f.store.doc("doc-1")
	if doc.Status != domain.StatusError || !strings.Contains(doc.ErrorMessage, "corrective rewrite") {
		t.Fatalf("expected recorded verification failure, got %s %q", doc.Status, doc.ErrorMessage)
	}
	if len(f.dispatcher.tasks) != 1 || f.dispatcher.tasks[0].Stage != domain.StageExtract {
		t.Fatalf("expected retry instead of next stage, got %+v", f.dispatcher.tasks)
	}
}

func TestStoreOutageAsksForRedelivery(t *testing.T) {
	f := newPipelineFixture(uploadedDoc())
	f.store.updateErr = errors.New("connection reset")

	_, err := f.pipeline.RunStage(context.Background(), domain.StageTask{DocumentID: "doc-1", Stage: domain.StageExtract})
	if err == nil {
		t.Fatalf("expected error when the failure cannot be recorded")
	}
	if len(f.dispatcher.tasks) != 0 {
		t.Fatalf("nothing should be dispatched, got %+v", f.dispatcher.tasks)
	}
}

func TestAdmission(t *testing.T) {
	cases := []struct {
		name   string
		doc    domain.Document
		task   domain.StageTask
		expect admission
	}{
		{"input status runs", domain.Document{Status: domain.StatusUploaded}, domain.StageTask{Stage: domain.StageExtract}, admitRun},
		{"advanced document refreshes", domain.Document{Status: domain.StatusCompleted}, domain.StageTask{Stage: domain.StageExtract}, admitRefresh},
		{"early delivery skips", domain.Document{Status: domain.StatusUploaded}, domain.StageTask{Stage: domain.StageReconcile}, admitSkip},
		{"duplicate against error skips", domain.Document{Status: domain.StatusError, FailedStage: domain.StageExtract}, domain.StageTask{Stage: domain.StageExtract}, admitSkip},
		{"retry of failed stage revives", domain.Document{Status: domain.StatusError, FailedStage: domain.StageGenerate}, domain.StageTask{Stage: domain.StageGenerate, Attempt: 2}, admitRevive},
		{"retry of other stage skips", domain.Document{Status: domain.StatusError, FailedStage: domain.StageGenerate}, domain.StageTask{Stage: domain.StageExtract, Attempt: 1}, admitSkip},
		{"restart of failed stage revives", domain.Document{Status: domain.StatusError, FailedStage: domain.StageGenerate}, domain.StageTask{Stage: domain.StageGenerate, Run: "r1"}, admitRevive},
		{"stale retry skips", domain.Document{Status: domain.StatusTextExtracted}, domain.StageTask{Stage: domain.StageGenerate, Attempt: 1}, admitSkip},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := admit(&tc.doc, tc.task)
			if got != tc.expect {
				t.Fatalf("expected %d, got %d", tc.expect, got)
			}
		})
	}
}

func TestMissingDocumentIsSkipped(t *testing.T) {
	f := newPipelineFixture(uploadedDoc())

	outcome, err := f.pipeline.RunStage(context.Background(), domain.StageTask{DocumentID: "missing", Stage: domain.StageExtract})
	if err != nil || outcome != OutcomeSkipped {
		t.Fatalf("RunStage() = %s, %v", outcome, err)
	}
}

func TestRestart(t *testing.T) {
	failed := uploadedDoc()
	failed.Status = domain.StatusError
	failed.FailedStage = domain.StageGenerate
	f := newPipelineFixture(failed)

	stage, err := f.pipeline.Restart(context.Background(), "doc-1")
	if err != nil || stage != domain.StageGenerate {
		t.Fatalf("Restart() = %s, %v", stage, err)
	}
	if _, err := f.pipeline.Restart(context.Background(), "doc-1"); err != nil {
		t.Fatalf("second Restart() error = %v", err)
	}
	first, second := f.dispatcher.tasks[0], f.dispatcher.tasks[1]
	if first.Attempt != 0 || !first.IsRestart() {
		t.Fatalf("restart must start a new run at attempt 0, got %+v", first)
	}
	if first.Key() == second.Key() {
		t.Fatalf("repeated restarts must not share a task key: %s", first.Key())
	}
	if first.Key() == (domain.StageTask{DocumentID: "doc-1", Stage: domain.StageGenerate, Attempt: 1}).Key() {
		t.Fatalf("restart must not collide with the first automatic retry")
	}

	completed := uploadedDoc()
	completed.Status = domain.StatusCompleted
	f = newPipelineFixture(completed)
	if _, err := f.pipeline.Restart(context.Background(), "doc-1"); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for completed document, got %v", err)
	}
}

func TestRestartedRunGetsFullRetryBudget(t *testing.T) {
	failed := uploadedDoc()
	failed.Status = domain.StatusError
	failed.FailedStage = domain.StageExtract
	failed.ErrorMessage = "extract text: file locked"
	failed.CompletedAt = domain.Ptr(testNow.Add(-time.Hour))
	f := newPipelineFixture(failed)
	f.extractor.results = []extractResult{{err: errors.New("file locked")}}

	if _, err := f.pipeline.Restart(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	task, _ := f.dispatcher.pop()
	run := task.Run
	retries := 0
	for {
		outcome, err := f.pipeline.RunStage(context.Background(), task)
		if err != nil {
			t.Fatalf("RunStage(%+v) error = %v", task, err)
		}
		next, ok := f.dispatcher.pop()
		if !ok {
			if outcome != OutcomeFailed {
				t.Fatalf("expected terminal failure, got %s", outcome)
			}
			break
		}
		retries++
		if next.Run != run || next.Attempt != retries {
			t.Fatalf("retry %d lost its run: %+v", retries, next)
		}
		task = next
	}
	if retries != 3 || f.extractor.calls != 4 {
		t.Fatalf("expected restart run plus 3 retries, got %d retries and %d calls", retries, f.extractor.calls)
	}
}

func TestStageTimeoutIsRecordedAndRetried(t *testing.T) {
	f := newPipelineFixture(uploadedDoc())
	f.store.honorCtx = true
	f.extractor.results = []extractResult{{block: true}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := f.pipeline.HandleTask(ctx, domain.StageTask{DocumentID: "doc-1", Stage: domain.StageExtract}); err != nil {
		t.Fatalf("HandleTask() must not ask for redelivery, got %v", err)
	}

	doc := f.store.doc("doc-1")
	if doc.Status != domain.StatusError || doc.CompletedAt == nil {
		t.Fatalf("expected recorded ERROR, got %s completed_at=%v", doc.Status, doc.CompletedAt)
	}
	if !strings.Contains(doc.ErrorMessage, "timed out") {
		t.Fatalf("expected timeout cause, got %q", doc.ErrorMessage)
	}
	retry, ok := f.dispatcher.pop()
	if !ok || retry.Attempt != 1 || retry.NotBefore.Sub(testNow) != time.Minute {
		t.Fatalf("expected first retry in 60s, got %+v", retry)
	}
}

func TestUnsupportedStoredKindFailsWithoutRetry(t *testing.T) {
	doc := uploadedDoc()
	doc.FileKind = "xls"
	f := newPipelineFixture(doc)

	outcome, err := f.pipeline.RunStage(context.Background(), domain.StageTask{DocumentID: "doc-1", Stage: domain.StageExtract})
	if err != nil || outcome != OutcomeFailed {
		t.Fatalf("RunStage() = %s, %v", outcome, err)
	}
	stored := f.store.doc("doc-1")
	if stored.Status != domain.StatusError || !strings.Contains(stored.ErrorMessage, "unsupported file kind") {
		t.Fatalf("expected unsupported kind failure, got %s %q", stored.Status, stored.ErrorMessage)
	}
	if len(f.dispatcher.tasks) != 0 || f.extractor.calls != 0 {
		t.Fatalf("expected no retry and no extraction, got %+v / %d calls", f.dispatcher.tasks, f.extractor.calls)
	}
}

func TestMissingSourceFileIsRetried(t *testing.T) {
	f := newPipelineFixture(uploadedDoc())
	f.storage.missing = true

	outcome, err := f.pipeline.RunStage(context.Background(), domain.StageTask{DocumentID: "doc-1", Stage: domain.StageExtract})
	if err != nil || outcome != OutcomeRetrying {
		t.Fatalf("RunStage() = %s, %v", outcome, err)
	}
	stored := f.store.doc("doc-1")
	if stored.Status != domain.StatusError || !strings.Contains(stored.ErrorMessage, "file not found") {
		t.Fatalf("expected missing file failure, got %s %q", stored.Status, stored.ErrorMessage)
	}
	retry, ok := f.dispatcher.pop()
	if !ok || retry.Attempt != 1 || retry.NotBefore.Sub(testNow) != 60*time.Second {
		t.Fatalf("expected retry in 60s, got %+v", retry)
	}
}

func TestRetryPolicyDelays(t *testing.T) {
	policy := DefaultRetryPolicy()
	for k, want := range map[int]time.Duration{1: time.Minute, 2: 2 * time.Minute, 3: 4 * time.Minute} {
		if got := policy.Delay(k); got != want {
			t.Fatalf("Delay(%d) = %s, want %s", k, got, want)
		}
	}
	if policy.Allows(0) || !policy.Allows(3) || policy.Allows(4) {
		t.Fatalf("unexpected Allows bounds")
	}
}

var _ ports.StageHandler = (*DocumentPipeline)(nil)
