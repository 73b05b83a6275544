package ports

import (
	"context"
	"time"

	"github.com/kirillkom/docpipe/internal/core/domain"
)

// PipelineStarter enqueues the first stage for a stored document.
type PipelineStarter interface {
	StartPipeline(ctx context.Context, documentID string) error
}

// StageHandler runs one dispatched stage task.
type StageHandler interface {
	HandleTask(ctx context.Context, task domain.StageTask) error
}

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, req domain.UploadRequest) (*domain.Document, error)
}

// DocumentReader is the inbound read model for document state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	Response(ctx context.Context, id string) (domain.ResponseView, error)
	ListQueue(ctx context.Context, limit int) ([]domain.Document, error)
}

// PipelineRestarter re-enqueues the stage matching a document's current status.
type PipelineRestarter interface {
	Restart(ctx context.Context, documentID string) (domain.Stage, error)
}

// DiagnosticsRunner performs the read-only consistency check.
type DiagnosticsRunner interface {
	Run(ctx context.Context, now time.Time) (domain.DiagnosticsReport, error)
}

// HousekeepingRunner removes expired terminal records and their files.
type HousekeepingRunner interface {
	Cleanup(ctx context.Context, now time.Time) (domain.CleanupResult, error)
}

// ModelCatalog reports the models each configured provider offers.
type ModelCatalog interface {
	ListModels(ctx context.Context) []domain.ProviderModels
}
