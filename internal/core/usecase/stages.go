package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/docpipe/internal/core/domain"
	"github.com/kirillkom/docpipe/internal/core/ports"
)

func (p *DocumentPipeline) extractText(ctx context.Context, doc *domain.Document) (domain.DocumentPatch, error) {
	kind, err := domain.ParseFileKind(string(doc.FileKind))
	if err != nil {
		return domain.DocumentPatch{}, err
	}
	extractor, err := p.extractors.Resolve(kind)
	if err != nil {
		return domain.DocumentPatch{}, fmt.Errorf("resolve extractor: %w", err)
	}

	path, release, err := p.storage.LocalPath(ctx, doc.StoragePath)
	if err != nil {
		return domain.DocumentPatch{}, fmt.Errorf("locate source file: %w", err)
	}
	defer release()

	text, err := extractor.Extract(ctx, path)
	if err != nil {
		return domain.DocumentPatch{}, fmt.Errorf("extract text: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		p.logger.Warn("extraction_empty", "document_id", doc.ID, "file_kind", kind)
		text = domain.ExtractionPlaceholder
	}
	return domain.DocumentPatch{ExtractedText: &text}, nil
}

func (p *DocumentPipeline) generate(ctx context.Context, doc *domain.Document) (domain.DocumentPatch, error) {
	provider, err := domain.ParseProvider(string(doc.Provider))
	if err != nil {
		return domain.DocumentPatch{}, err
	}
	client, err := p.llms.Resolve(provider)
	if err != nil {
		return domain.DocumentPatch{}, fmt.Errorf("resolve provider: %w", err)
	}
	if checker, ok := client.(ports.CredentialChecker); ok {
		if err := checker.CheckCredentials(doc.Credential); err != nil {
			return domain.DocumentPatch{}, err
		}
	}
	if checker, ok := client.(ports.ReachabilityChecker); ok && provider.IsLocal() {
		if err := checker.Ping(ctx); err != nil {
			p.logger.Warn("provider_unreachable", "document_id", doc.ID, "provider", provider, "error", err)
			if !domain.IsKind(err, domain.ErrUnreachable) {
				err = domain.WrapError(domain.ErrUnreachable, "ping provider", err)
			}
			return domain.DocumentPatch{}, err
		}
	}
	if strings.TrimSpace(doc.ExtractedText) == "" {
		return domain.DocumentPatch{}, domain.WrapError(domain.ErrInvalidInput, "build prompt", errors.New("extracted text is empty"))
	}

	prompt := p.prompts.Build(doc.ExtractedText, doc.Prompt, doc.FormatResponse, doc.Example)
	reply, err := client.Generate(ctx, domain.GenerateRequest{
		Model:      doc.Model,
		Prompt:     prompt,
		Credential: doc.Credential,
	})
	if err != nil {
		return domain.DocumentPatch{}, fmt.Errorf("generate with %s: %w", provider, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return domain.DocumentPatch{}, domain.WrapError(domain.ErrProvider, "generate with "+string(provider), errors.New("model returned an empty reply"))
	}
	return domain.DocumentPatch{FullPromptSent: &prompt, LLMResponse: &reply}, nil
}

func (p *DocumentPipeline) reconcile(doc *domain.Document) (domain.DocumentPatch, error) {
	if strings.TrimSpace(doc.ExtractedText) == "" {
		return domain.DocumentPatch{}, domain.WrapError(domain.ErrInvalidInput, "format response", errors.New("extracted text is empty"))
	}
	if strings.TrimSpace(doc.LLMResponse) == "" {
		return domain.DocumentPatch{}, domain.WrapError(domain.ErrInvalidInput, "format response", errors.New("model reply is empty"))
	}
	formatted := p.reconciler.Reconcile(doc.LLMResponse, doc.FormatResponse, doc.Example)
	if strings.TrimSpace(formatted) == "" {
		return domain.DocumentPatch{}, domain.WrapError(domain.ErrInvalidInput, "format response", errors.New("reconciled value is empty"))
	}
	return domain.DocumentPatch{FormattedResponse: &formatted}, nil
}
