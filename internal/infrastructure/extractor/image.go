package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kirillkom/docpipe/internal/core/domain"
)

const (
	defaultTesseract   = "tesseract"
	defaultOCRLanguage = "por+eng"
)

// Runner lets tests stub the tesseract binary.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	return out.Bytes(), errb.Bytes(), err
}

// ImageExtractor runs OCR through the tesseract CLI.
type ImageExtractor struct {
	binary   string
	language string
	runner   Runner
	logger   *slog.Logger
}

func NewImageExtractor(binary, language string, runner Runner, logger *slog.Logger) *ImageExtractor {
	if binary == "" {
		binary = defaultTesseract
	}
	if language == "" {
		language = defaultOCRLanguage
	}
	if runner == nil {
		runner = execRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageExtractor{binary: binary, language: language, runner: runner, logger: logger}
}

func (e *ImageExtractor) Extract(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", classifyOpenError("ocr image", err)
	}

	start := time.Now()
	stdout, stderr, err := e.runner.Run(ctx, e.binary, path, "stdout", "-l", e.language)
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return "", domain.WrapError(domain.ErrConfiguration, "ocr image", fmt.Errorf("tesseract is not available: %w", err))
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", domain.WrapError(domain.ErrExtractionFailed, "ocr image",
			fmt.Errorf("%w: %s", err, truncate(strings.TrimSpace(string(stderr)), 512)))
	}

	text := normalize(string(stdout))
	e.logger.Debug("ocr_completed",
		"language", e.language,
		"duration_ms", time.Since(start).Milliseconds(),
		"chars", len(text),
	)
	return text, nil
}

// normalize folds Windows line endings and trims trailing blanks per line.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\f", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
