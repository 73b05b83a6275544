package extractor

import (
	"context"
	"fmt"
	"strings"

	pdf "github.com/ledongthuc/pdf"

	"github.com/kirillkom/docpipe/internal/core/domain"
)

// PDFExtractor reads the embedded text layer. Scanned PDFs without one yield
// empty text.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

func (PDFExtractor) Extract(ctx context.Context, path string) (text string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = domain.WrapError(domain.ErrExtractionFailed, "read pdf", fmt.Errorf("malformed pdf: %v", r))
		}
	}()

	f, doc, err := pdf.Open(path)
	if err != nil {
		return "", classifyOpenError("open pdf", err)
	}
	defer f.Close()

	var builder strings.Builder
	total := doc.NumPage()
	for page := 1; page <= total; page++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", domain.WrapError(domain.ErrExtractionFailed, "read pdf", fmt.Errorf("page %d: %w", page, err))
		}
		builder.WriteString(content)
		builder.WriteString("\n")
	}
	return strings.TrimSpace(builder.String()), nil
}
