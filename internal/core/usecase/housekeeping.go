package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/docpipe/internal/core/domain"
	"github.com/kirillkom/docpipe/internal/core/ports"
)

// HousekeepingUseCase removes terminal records older than the retention
// window together with their stored files.
type HousekeepingUseCase struct {
	catalog ports.DocumentCatalog
	storage ports.ObjectStorage
	maxAge  time.Duration
	logger  *slog.Logger
}

func NewHousekeepingUseCase(
	catalog ports.DocumentCatalog,
	storage ports.ObjectStorage,
	maxAge time.Duration,
	logger *slog.Logger,
) *HousekeepingUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &HousekeepingUseCase{catalog: catalog, storage: storage, maxAge: maxAge, logger: logger}
}

func (uc *HousekeepingUseCase) Cleanup(ctx context.Context, now time.Time) (domain.CleanupResult, error) {
	var result domain.CleanupResult
	if uc.maxAge <= 0 {
		return result, nil
	}
	cutoff := now.Add(-uc.maxAge)
	docs, err := uc.catalog.List(ctx, domain.DocumentFilter{
		Statuses:        []domain.DocumentStatus{domain.StatusCompleted, domain.StatusError},
		CompletedBefore: cutoff,
	})
	if err != nil {
		return result, fmt.Errorf("list expired documents: %w", err)
	}

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if doc.StoragePath != "" {
			err := uc.storage.Delete(ctx, doc.StoragePath)
			switch {
			case err == nil:
				result.DeletedFiles++
			case domain.IsKind(err, domain.ErrFileNotFound):
			default:
				uc.logger.Warn("cleanup_file_failed", "document_id", doc.ID, "error", err)
				result.Failed++
				continue
			}
		}
		if err := uc.catalog.Delete(ctx, doc.ID); err != nil && !domain.IsKind(err, domain.ErrDocumentNotFound) {
			uc.logger.Warn("cleanup_record_failed", "document_id", doc.ID, "error", err)
			result.Failed++
			continue
		}
		result.DeletedRecords++
	}

	uc.logger.Info("cleanup_completed",
		"cutoff", cutoff,
		"deleted_records", result.DeletedRecords,
		"deleted_files", result.DeletedFiles,
		"failed", result.Failed,
	)
	return result, nil
}
