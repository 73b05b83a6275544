// Package badgerdb is an embedded DocumentStore backed by badgerhold.
package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/kirillkom/docpipe/internal/core/domain"
)

const maxConflictRetries = 5

type DocumentStore struct {
	store  *badgerhold.Store
	logger *slog.Logger
	now    func() time.Time
}

// Open creates the data directory if needed and opens the store at path.
func Open(path string, logger *slog.Logger) (*DocumentStore, error) {
	if path == "" {
		return nil, domain.WrapError(domain.ErrConfiguration, "open badger store", errors.New("path is required"))
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create badger directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	logger.Info("badger_store_opened", "path", path)
	return newDocumentStore(store, logger), nil
}

func newDocumentStore(store *badgerhold.Store, logger *slog.Logger) *DocumentStore {
	return &DocumentStore{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (s *DocumentStore) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

func (s *DocumentStore) Create(ctx context.Context, doc *domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.store.Insert(doc.ID, doc); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return domain.WrapError(domain.ErrInvalidInput, "insert document", fmt.Errorf("id %s already exists", doc.ID))
		}
		return domain.WrapError(domain.ErrTemporary, "insert document", err)
	}
	return nil
}

func (s *DocumentStore) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc domain.Document
	if err := s.store.Get(id, &doc); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id %s", id))
		}
		return nil, domain.WrapError(domain.ErrTemporary, "get document", err)
	}
	return &doc, nil
}

// Update runs read-modify-write inside one badger transaction.
// Conflicting writers are retried a bounded number of times.
func (s *DocumentStore) Update(ctx context.Context, id string, patch domain.DocumentPatch) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.store.Badger().Update(func(tx *badger.Txn) error {
			var doc domain.Document
			if err := s.store.TxGet(tx, id, &doc); err != nil {
				return err
			}
			patch.Apply(&doc, s.now())
			return s.store.TxUpdate(tx, id, &doc)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		s.logger.Debug("badger_update_conflict", "document_id", id, "attempt", attempt+1)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badgerhold.ErrNotFound):
		return domain.WrapError(domain.ErrDocumentNotFound, "update document", fmt.Errorf("id %s", id))
	default:
		return domain.WrapError(domain.ErrTemporary, "update document", err)
	}
}

// List returns matching documents oldest first.
func (s *DocumentStore) List(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var query *badgerhold.Query
	if len(filter.Statuses) > 0 {
		statuses := make([]any, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, status)
		}
		query = badgerhold.Where("Status").In(statuses...)
	}

	var found []domain.Document
	if err := s.store.Find(&found, query); err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "list documents", err)
	}

	out := make([]domain.Document, 0, len(found))
	for i := range found {
		if filter.Matches(&found[i]) {
			out = append(out, found[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.store.Delete(id, &domain.Document{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return domain.WrapError(domain.ErrDocumentNotFound, "delete document", fmt.Errorf("id %s", id))
		}
		return domain.WrapError(domain.ErrTemporary, "delete document", err)
	}
	return nil
}
