package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kirillkom/docpipe/internal/core/domain"
	"github.com/kirillkom/docpipe/internal/core/ports"
)

type IngestDocumentUseCase struct {
	store          ports.DocumentStore
	storage        ports.ObjectStorage
	pipeline       ports.PipelineStarter
	validate       *validator.Validate
	maxUploadBytes int64
	now            func() time.Time
}

func NewIngestDocumentUseCase(
	store ports.DocumentStore,
	storage ports.ObjectStorage,
	pipeline ports.PipelineStarter,
	maxUploadBytes int64,
) *IngestDocumentUseCase {
	return &IngestDocumentUseCase{
		store:          store,
		storage:        storage,
		pipeline:       pipeline,
		validate:       validator.New(),
		maxUploadBytes: maxUploadBytes,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (uc *IngestDocumentUseCase) Upload(ctx context.Context, req domain.UploadRequest) (*domain.Document, error) {
	if err := uc.validate.Struct(req); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "validate upload", err)
	}
	kind, err := domain.FileKindFromName(req.Filename)
	if err != nil {
		return nil, err
	}
	provider, err := domain.ParseProvider(req.Provider)
	if err != nil {
		return nil, err
	}
	if uc.maxUploadBytes > 0 && req.Size > uc.maxUploadBytes {
		return nil, domain.WrapError(domain.ErrInvalidInput, "validate upload",
			fmt.Errorf("file size %d exceeds limit of %d bytes", req.Size, uc.maxUploadBytes))
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "validate upload", errors.New("prompt is blank"))
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(req.Filename))
	now := uc.now()

	if err := uc.storage.Save(ctx, storageKey, req.Body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	doc := &domain.Document{
		ID:             id,
		Filename:       req.Filename,
		FileKind:       kind,
		StoragePath:    storageKey,
		Status:         domain.StatusUploaded,
		Prompt:         req.Prompt,
		FormatResponse: req.FormatResponse,
		Example:        req.Example,
		Model:          req.Model,
		Provider:       provider,
		Credential:     req.Credential,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := uc.store.Create(ctx, doc); err != nil {
		err = fmt.Errorf("create document metadata: %w", err)
		if delErr := uc.storage.Delete(context.WithoutCancel(ctx), storageKey); delErr != nil {
			err = errors.Join(err, fmt.Errorf("remove orphaned object %s: %w", storageKey, delErr))
		}
		return nil, err
	}

	if err := uc.pipeline.StartPipeline(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("start pipeline: %w", err)
	}

	return doc, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.bin"
	}
	return base
}
