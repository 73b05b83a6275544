package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/docpipe/internal/core/domain"
)

const schemaLockKey = int64(2026031001)

type DocumentRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	file_kind TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	status TEXT NOT NULL,
	prompt TEXT NOT NULL,
	format_response TEXT NOT NULL DEFAULT '',
	example TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL,
	provider_key TEXT NOT NULL DEFAULT '',
	extracted_text TEXT NOT NULL DEFAULT '',
	full_prompt_sent TEXT NOT NULL DEFAULT '',
	llm_response TEXT NOT NULL DEFAULT '',
	formatted_response TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	failed_stage TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);
CREATE INDEX IF NOT EXISTS idx_documents_completed_at ON documents(completed_at) WHERE completed_at IS NOT NULL;
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const documentColumns = `id, filename, file_kind, storage_path, status, prompt, format_response, example, model, provider, provider_key,
	extracted_text, full_prompt_sent, llm_response, formatted_response, error_message, failed_stage, created_at, updated_at, completed_at`

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO documents (`+documentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
`,
		doc.ID, doc.Filename, string(doc.FileKind), doc.StoragePath, string(doc.Status), doc.Prompt,
		doc.FormatResponse, doc.Example, doc.Model, string(doc.Provider), doc.Credential,
		doc.ExtractedText, doc.FullPromptSent, doc.LLMResponse, doc.FormattedResponse, doc.ErrorMessage,
		string(doc.FailedStage), doc.CreatedAt, doc.UpdatedAt, nullTime(doc.CompletedAt),
	)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "insert document", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id %s", id))
		}
		return nil, domain.WrapError(domain.ErrTemporary, "get document", err)
	}
	return &doc, nil
}

// Update applies the patch in a single statement so the change is atomic.
func (r *DocumentRepository) Update(ctx context.Context, id string, patch domain.DocumentPatch) error {
	query, args := buildUpdate(id, patch, r.now())
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "update document", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "update document", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "update document", fmt.Errorf("id %s", id))
	}
	return nil
}

func (r *DocumentRepository) List(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, error) {
	query, args := buildList(filter)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "list documents", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "delete document", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "delete document", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "delete document", fmt.Errorf("id %s", id))
	}
	return nil
}

func buildUpdate(id string, patch domain.DocumentPatch, now time.Time) (string, []any) {
	sets := make([]string, 0, 10)
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.ExtractedText != nil {
		add("extracted_text", *patch.ExtractedText)
	}
	if patch.FullPromptSent != nil {
		add("full_prompt_sent", *patch.FullPromptSent)
	}
	if patch.LLMResponse != nil {
		add("llm_response", *patch.LLMResponse)
	}
	if patch.FormattedResponse != nil {
		add("formatted_response", *patch.FormattedResponse)
	}
	if patch.ErrorMessage != nil {
		add("error_message", *patch.ErrorMessage)
	}
	if patch.FailedStage != nil {
		add("failed_stage", string(*patch.FailedStage))
	}
	switch {
	case patch.ClearCompletedAt:
		sets = append(sets, "completed_at = NULL")
	case patch.CompletedAt != nil:
		add("completed_at", *patch.CompletedAt)
	}
	add("updated_at", now)

	return "UPDATE documents SET " + strings.Join(sets, ", ") + " WHERE id = $1", args
}

func buildList(filter domain.DocumentFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			args = append(args, string(status))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !filter.UpdatedBefore.IsZero() {
		args = append(args, filter.UpdatedBefore)
		where = append(where, fmt.Sprintf("updated_at < $%d", len(args)))
	}
	if !filter.CompletedBefore.IsZero() {
		args = append(args, filter.CompletedBefore)
		where = append(where, fmt.Sprintf("completed_at IS NOT NULL AND completed_at < $%d", len(args)))
	}

	query := "SELECT " + documentColumns + " FROM documents"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var (
		doc                                  domain.Document
		fileKind, status, provider, failedAt string
		completedAt                          sql.NullTime
	)
	err := row.Scan(
		&doc.ID, &doc.Filename, &fileKind, &doc.StoragePath, &status, &doc.Prompt,
		&doc.FormatResponse, &doc.Example, &doc.Model, &provider, &doc.Credential,
		&doc.ExtractedText, &doc.FullPromptSent, &doc.LLMResponse, &doc.FormattedResponse, &doc.ErrorMessage,
		&failedAt, &doc.CreatedAt, &doc.UpdatedAt, &completedAt,
	)
	if err != nil {
		return domain.Document{}, err
	}
	doc.FileKind = domain.FileKind(fileKind)
	doc.Status = domain.DocumentStatus(status)
	doc.Provider = domain.Provider(provider)
	doc.FailedStage = domain.Stage(failedAt)
	if completedAt.Valid {
		ts := completedAt.Time
		doc.CompletedAt = &ts
	}
	return doc, nil
}

func nullTime(ts *time.Time) sql.NullTime {
	if ts == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *ts, Valid: true}
}
