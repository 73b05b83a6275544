package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/docpipe/internal/core/domain"
)

func TestResponseViewDependsOnStatus(t *testing.T) {
	done := testNow
	store := newMemStore(
		domain.Document{ID: "ok", Status: domain.StatusCompleted, FormattedResponse: `{"a":"1"}`, LLMResponse: "a: 1", CompletedAt: &done},
		domain.Document{ID: "bad", Status: domain.StatusError, ErrorMessage: "extract text: boom", CompletedAt: &done},
		domain.Document{ID: "wip", Status: domain.StatusTextExtracted},
	)
	uc := NewDocumentQueryUseCase(store, store)

	view, err := uc.Response(context.Background(), "ok")
	if err != nil || view.Response != `{"a":"1"}` || view.LLMResponse != "a: 1" {
		t.Fatalf("unexpected completed view %+v (%v)", view, err)
	}
	view, _ = uc.Response(context.Background(), "bad")
	if view.Error != "extract text: boom" || view.Response != "" {
		t.Fatalf("unexpected error view %+v", view)
	}
	view, _ = uc.Response(context.Background(), "wip")
	if view.Message == "" || view.Response != "" {
		t.Fatalf("unexpected progress view %+v", view)
	}
	if _, err := uc.Response(context.Background(), "nope"); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListQueueOldestFirst(t *testing.T) {
	store := newMemStore(
		domain.Document{ID: "new", Status: domain.StatusUploaded, CreatedAt: testNow},
		domain.Document{ID: "old", Status: domain.StatusPromptProcessed, CreatedAt: testNow.Add(-time.Hour)},
		domain.Document{ID: "done", Status: domain.StatusCompleted, CreatedAt: testNow.Add(-2 * time.Hour)},
	)
	uc := NewDocumentQueryUseCase(store, store)

	docs, err := uc.ListQueue(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListQueue() error = %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "old" || docs[1].ID != "new" {
		t.Fatalf("unexpected queue %+v", docs)
	}
}
