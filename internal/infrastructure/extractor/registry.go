// Package extractor turns stored source files into plain text, one
// implementation per file family.
package extractor

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/kirillkom/docpipe/internal/core/domain"
	"github.com/kirillkom/docpipe/internal/core/ports"
)

// Registry resolves a file kind to the extractor of its family.
type Registry struct {
	byFamily map[domain.FileFamily]ports.TextExtractor
}

type Config struct {
	TesseractPath string
	OCRLanguage   string
	Runner        Runner
	Logger        *slog.Logger
}

// NewRegistry wires the default extractor for every supported family.
func NewRegistry(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{byFamily: map[domain.FileFamily]ports.TextExtractor{
		domain.FamilyImage:       NewImageExtractor(cfg.TesseractPath, cfg.OCRLanguage, cfg.Runner, logger),
		domain.FamilyPDF:         NewPDFExtractor(),
		domain.FamilyWord:        NewDocxExtractor(),
		domain.FamilySpreadsheet: NewSpreadsheetExtractor(),
	}}
}

// Register replaces the extractor used for a family.
func (r *Registry) Register(family domain.FileFamily, extractor ports.TextExtractor) {
	r.byFamily[family] = extractor
}

func (r *Registry) Resolve(kind domain.FileKind) (ports.TextExtractor, error) {
	family, ok := kind.Family()
	if !ok {
		return nil, domain.WrapError(domain.ErrUnsupportedKind, "resolve extractor", fmt.Errorf("unsupported file kind %q", kind))
	}
	extractor, ok := r.byFamily[family]
	if !ok {
		return nil, domain.WrapError(domain.ErrConfiguration, "resolve extractor", fmt.Errorf("no extractor registered for %s", family))
	}
	return extractor, nil
}

// classifyOpenError separates a missing file from an unreadable one.
func classifyOpenError(operation string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return domain.WrapError(domain.ErrFileNotFound, operation, err)
	}
	return domain.WrapError(domain.ErrExtractionFailed, operation, err)
}
