package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/docpipe/internal/core/domain"
)

func TestDiagnosticsReportsFaultsWithoutChangingDocuments(t *testing.T) {
	done := testNow.Add(-time.Hour)
	store := newMemStore(
		domain.Document{ID: "healthy", Status: domain.StatusCompleted, ExtractedText: "x", FormattedResponse: "y", CompletedAt: &done, UpdatedAt: done},
		domain.Document{ID: "hollow", Status: domain.StatusCompleted, ExtractedText: "", FormattedResponse: "y", CompletedAt: &done, UpdatedAt: done},
		domain.Document{ID: "legacy", Status: domain.StatusCompleted, ExtractedText: "Texto ainda não extraído", FormattedResponse: "y", CompletedAt: &done, UpdatedAt: done},
		domain.Document{ID: "blank", Status: domain.StatusTextExtracted, ExtractedText: domain.ExtractionPlaceholder, UpdatedAt: testNow.Add(-time.Minute)},
		domain.Document{ID: "stuck", Status: domain.StatusPromptProcessed, UpdatedAt: testNow.Add(-3 * time.Hour)},
		domain.Document{ID: "failed", Status: domain.StatusError, ErrorMessage: "boom", CompletedAt: &done, UpdatedAt: testNow.Add(-5 * time.Hour)},
	)
	uc := NewDiagnosticsUseCase(store, time.Hour, nil)

	report, err := uc.Run(context.Background(), testNow)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Scanned != 6 {
		t.Fatalf("expected 6 scanned, got %d", report.Scanned)
	}

	byDoc := map[string][]domain.FindingKind{}
	for _, f := range report.Findings {
		byDoc[f.DocumentID] = append(byDoc[f.DocumentID], f.Kind)
	}
	expect := map[string]domain.FindingKind{
		"hollow": domain.FindingIntegrityFault,
		"legacy": domain.FindingIntegrityFault,
		"blank":  domain.FindingDegraded,
		"stuck":  domain.FindingStuck,
	}
	for id, kind := range expect {
		if len(byDoc[id]) != 1 || byDoc[id][0] != kind {
			t.Fatalf("%s: expected [%s], got %v", id, kind, byDoc[id])
		}
	}
	if len(byDoc["healthy"]) != 0 || len(byDoc["failed"]) != 0 {
		t.Fatalf("unexpected findings %v", byDoc)
	}
	if store.doc("stuck").Status != domain.StatusPromptProcessed || store.updates != 0 {
		t.Fatalf("diagnostics must be read-only")
	}
}
