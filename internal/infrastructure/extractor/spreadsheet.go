package extractor

import (
	"context"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/docpipe/internal/core/domain"
)

// SpreadsheetExtractor renders every sheet as a "Sheet: <name>" header
// followed by its non-blank rows, cells separated by tabs.
type SpreadsheetExtractor struct{}

func NewSpreadsheetExtractor() *SpreadsheetExtractor {
	return &SpreadsheetExtractor{}
}

func (SpreadsheetExtractor) Extract(ctx context.Context, path string) (string, error) {
	book, err := excelize.OpenFile(path)
	if err != nil {
		return "", classifyOpenError("open spreadsheet", err)
	}
	defer book.Close()

	var out strings.Builder
	for _, sheet := range book.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := book.GetRows(sheet)
		if err != nil {
			return "", domain.WrapError(domain.ErrExtractionFailed, "read sheet "+sheet, err)
		}
		out.WriteString("Sheet: ")
		out.WriteString(sheet)
		out.WriteString("\n")
		for _, row := range rows {
			line := strings.Join(row, "\t")
			if strings.TrimSpace(line) == "" {
				continue
			}
			out.WriteString(line)
			out.WriteString("\n")
		}
		out.WriteString("\n")
	}
	return strings.TrimSpace(out.String()), nil
}
