package usecase

import (
	"context"
	"fmt"
	"slices"

	"github.com/kirillkom/docpipe/internal/core/domain"
	"github.com/kirillkom/docpipe/internal/core/ports"
)

const defaultQueueLimit = 100

// DocumentQueryUseCase is the read model behind the status and queue endpoints.
type DocumentQueryUseCase struct {
	store   ports.DocumentStore
	catalog ports.DocumentCatalog
}

func NewDocumentQueryUseCase(store ports.DocumentStore, catalog ports.DocumentCatalog) *DocumentQueryUseCase {
	return &DocumentQueryUseCase{store: store, catalog: catalog}
}

func (uc *DocumentQueryUseCase) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	doc, err := uc.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	return doc, nil
}

func (uc *DocumentQueryUseCase) Response(ctx context.Context, id string) (domain.ResponseView, error) {
	doc, err := uc.GetByID(ctx, id)
	if err != nil {
		return domain.ResponseView{}, err
	}
	view := domain.ResponseView{DocumentID: doc.ID, Status: doc.Status, CompletedAt: doc.CompletedAt}
	switch doc.Status {
	case domain.StatusCompleted:
		view.Response = doc.FormattedResponse
		view.LLMResponse = doc.LLMResponse
	case domain.StatusError:
		view.Error = doc.ErrorMessage
	case domain.StatusUploaded:
		view.Message = "document is waiting for text extraction"
	case domain.StatusTextExtracted:
		view.Message = "text extracted, waiting for the model"
	case domain.StatusPromptProcessed:
		view.Message = "model replied, formatting the response"
	}
	return view, nil
}

// ListQueue returns in-progress documents, oldest first.
func (uc *DocumentQueryUseCase) ListQueue(ctx context.Context, limit int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = defaultQueueLimit
	}
	docs, err := uc.catalog.List(ctx, domain.DocumentFilter{Statuses: domain.NonTerminalStatuses()})
	if err != nil {
		return nil, fmt.Errorf("list queued documents: %w", err)
	}
	slices.SortFunc(docs, func(a, b domain.Document) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}
