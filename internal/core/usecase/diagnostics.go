package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/docpipe/internal/core/domain"
	"github.com/kirillkom/docpipe/internal/core/ports"
)

// DiagnosticsUseCase compares each record's status with its fields. It only
// reports; it never changes a document.
type DiagnosticsUseCase struct {
	catalog    ports.DocumentCatalog
	stuckAfter time.Duration
	logger     *slog.Logger
}

func NewDiagnosticsUseCase(catalog ports.DocumentCatalog, stuckAfter time.Duration, logger *slog.Logger) *DiagnosticsUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiagnosticsUseCase{catalog: catalog, stuckAfter: stuckAfter, logger: logger}
}

func (uc *DiagnosticsUseCase) Run(ctx context.Context, now time.Time) (domain.DiagnosticsReport, error) {
	docs, err := uc.catalog.List(ctx, domain.DocumentFilter{})
	if err != nil {
		return domain.DiagnosticsReport{}, fmt.Errorf("list documents: %w", err)
	}

	report := domain.DiagnosticsReport{CheckedAt: now, Scanned: len(docs), Findings: []domain.Finding{}}
	for i := range docs {
		report.Findings = append(report.Findings, uc.inspect(&docs[i], now)...)
	}

	uc.logger.Info("diagnostics_completed",
		"scanned", report.Scanned,
		"integrity_faults", report.Count(domain.FindingIntegrityFault),
		"degraded", report.Count(domain.FindingDegraded),
		"stuck", report.Count(domain.FindingStuck),
	)
	return report, nil
}

func (uc *DiagnosticsUseCase) inspect(doc *domain.Document, now time.Time) []domain.Finding {
	var findings []domain.Finding
	add := func(kind domain.FindingKind, detail string) {
		findings = append(findings, domain.Finding{Kind: kind, DocumentID: doc.ID, Status: doc.Status, Detail: detail})
	}

	switch doc.Status {
	case domain.StatusCompleted:
		if strings.TrimSpace(doc.ExtractedText) == "" || domain.IsUnextractedMarker(doc.ExtractedText) {
			add(domain.FindingIntegrityFault, "completed without extracted text")
		}
		if strings.TrimSpace(doc.FormattedResponse) == "" {
			add(domain.FindingIntegrityFault, "completed without formatted response")
		}
		if doc.CompletedAt == nil {
			add(domain.FindingIntegrityFault, "completed without completed_at")
		}
	case domain.StatusError:
		if strings.TrimSpace(doc.ErrorMessage) == "" {
			add(domain.FindingIntegrityFault, "error without error message")
		}
		if doc.CompletedAt == nil {
			add(domain.FindingIntegrityFault, "error without completed_at")
		}
	default:
		if doc.CompletedAt != nil {
			add(domain.FindingIntegrityFault, "in progress with completed_at set")
		}
		if age := now.Sub(doc.UpdatedAt); uc.stuckAfter > 0 && age > uc.stuckAfter {
			findings = append(findings, domain.Finding{
				Kind:       domain.FindingStuck,
				DocumentID: doc.ID,
				Status:     doc.Status,
				Detail:     fmt.Sprintf("no progress for %s", age.Truncate(time.Second)),
				Age:        age,
			})
		}
	}

	if doc.ExtractedText == domain.ExtractionPlaceholder {
		add(domain.FindingDegraded, "no extractable text, placeholder used")
	}
	return findings
}
