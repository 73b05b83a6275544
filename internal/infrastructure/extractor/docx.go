package extractor

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/kirillkom/docpipe/internal/core/domain"
)

const wordNamespace = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// DocxExtractor reads paragraphs from word/document.xml.
type DocxExtractor struct{}

func NewDocxExtractor() *DocxExtractor {
	return &DocxExtractor{}
}

func (DocxExtractor) Extract(ctx context.Context, path string) (string, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) {
			return "", domain.WrapError(domain.ErrExtractionFailed, "open docx", err)
		}
		return "", classifyOpenError("open docx", err)
	}
	defer archive.Close()

	for _, file := range archive.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", domain.WrapError(domain.ErrExtractionFailed, "open docx body", err)
		}
		defer rc.Close()
		return paragraphs(ctx, rc)
	}
	return "", domain.WrapError(domain.ErrExtractionFailed, "open docx", errors.New("word/document.xml not found"))
}

func paragraphs(ctx context.Context, r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var (
		out    strings.Builder
		inText bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", domain.WrapError(domain.ErrExtractionFailed, "parse docx body", err)
		}
		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Space != wordNamespace {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				out.WriteByte('\t')
			case "br", "cr":
				out.WriteByte('\n')
			}
		case xml.EndElement:
			if t.Name.Space != wordNamespace {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				out.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				out.Write(t)
			}
		}
	}
	return strings.TrimSpace(out.String()), nil
}
