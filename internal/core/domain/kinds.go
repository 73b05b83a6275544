package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

type FileFamily string

const (
	FamilyImage       FileFamily = "image"
	FamilyPDF         FileFamily = "pdf"
	FamilyWord        FileFamily = "word"
	FamilySpreadsheet FileFamily = "spreadsheet"
)

// FileKind is the declared file extension, lower-case and without the dot.
type FileKind string

var fileFamilies = map[FileKind]FileFamily{
	"png":  FamilyImage,
	"jpg":  FamilyImage,
	"jpeg": FamilyImage,
	"tif":  FamilyImage,
	"tiff": FamilyImage,
	"pdf":  FamilyPDF,
	"docx": FamilyWord,
	"xlsx": FamilySpreadsheet,
}

func ParseFileKind(raw string) (FileKind, error) {
	kind := FileKind(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), ".")))
	if _, ok := fileFamilies[kind]; !ok {
		return "", WrapError(ErrUnsupportedKind, "parse file kind", fmt.Errorf("unsupported file kind %q", raw))
	}
	return kind, nil
}

// FileKindFromName derives the kind from a filename extension.
func FileKindFromName(filename string) (FileKind, error) {
	return ParseFileKind(filepath.Ext(filename))
}

func (k FileKind) Family() (FileFamily, bool) {
	family, ok := fileFamilies[k]
	return family, ok
}

type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderGemini Provider = "gemini"
	ProviderClaude Provider = "claude"
)

const DefaultProvider = ProviderOllama

var providerAliases = map[string]Provider{
	"ollama": ProviderOllama,
	"local":  ProviderOllama,
	"gemini": ProviderGemini,
	"cloud":  ProviderGemini,
	"claude": ProviderClaude,
}

// ParseProvider accepts canonical names and the "local"/"cloud" aliases.
// An empty value selects DefaultProvider.
func ParseProvider(raw string) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return DefaultProvider, nil
	}
	provider, ok := providerAliases[key]
	if !ok {
		return "", WrapError(ErrInvalidInput, "parse provider", fmt.Errorf("unknown provider %q", raw))
	}
	return provider, nil
}

func (p Provider) IsLocal() bool {
	return p == ProviderOllama
}
