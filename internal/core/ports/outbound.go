package ports

import (
	"context"
	"io"

	"github.com/kirillkom/docpipe/internal/core/domain"
)

// DocumentStore persists document state keyed by id.
// Update must apply the patch atomically and return domain.ErrDocumentNotFound for unknown ids.
type DocumentStore interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	Update(ctx context.Context, id string, patch domain.DocumentPatch) error
}

// DocumentCatalog lists and removes records for diagnostics and housekeeping.
type DocumentCatalog interface {
	List(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, error)
	Delete(ctx context.Context, id string) error
}

// ObjectStorage stores uploaded source files.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	// LocalPath makes the object available on the local filesystem.
	// release must be called once the caller is done with the path.
	LocalPath(ctx context.Context, key string) (path string, release func(), err error)
	Delete(ctx context.Context, key string) error
}

// Dispatcher hands a stage task to the worker pool with at-least-once delivery.
type Dispatcher interface {
	Enqueue(ctx context.Context, task domain.StageTask) error
}

// TaskConsumer delivers dispatched tasks to handler until ctx is cancelled.
// A handler error asks the backend to redeliver the task.
type TaskConsumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.StageTask) error) error
}

// TextExtractor extracts plain text from a file on the local filesystem.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// ExtractorResolver picks the extractor for a declared file kind.
type ExtractorResolver interface {
	Resolve(kind domain.FileKind) (TextExtractor, error)
}

// LLMClient sends a rendered prompt to one provider and returns the raw reply.
type LLMClient interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (string, error)
}

// CredentialChecker is implemented by providers that need an API key.
type CredentialChecker interface {
	CheckCredentials(credential string) error
}

// ReachabilityChecker is implemented by providers served from a local endpoint.
type ReachabilityChecker interface {
	Ping(ctx context.Context) error
}

// LLMResolver maps a provider identifier to its client.
type LLMResolver interface {
	Resolve(provider domain.Provider) (LLMClient, error)
}

// PromptBuilder renders the prompt sent to a model.
type PromptBuilder interface {
	Build(context, question, format, example string) string
}

// ResponseReconciler coerces a model reply into the required shape. It never fails.
type ResponseReconciler interface {
	Reconcile(reply, format, example string) string
}

// StageMetrics observes stage executions.
type StageMetrics interface {
	StageStarted(stage domain.Stage)
	StageFinished(stage domain.Stage, outcome string, seconds float64)
	RetryScheduled(stage domain.Stage)
}

// ModelLister is implemented by providers that can enumerate installed models.
type ModelLister interface {
	Models(ctx context.Context) ([]string, error)
}
