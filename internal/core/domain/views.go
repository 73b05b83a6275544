package domain

import (
	"io"
	"time"
)

// UploadRequest carries a new document and the question to ask about it.
type UploadRequest struct {
	Filename       string    `validate:"required,max=255"`
	Body           io.Reader `validate:"required"`
	Size           int64     `validate:"gte=0"`
	Prompt         string    `validate:"required,max=20000"`
	FormatResponse string    `validate:"max=20000"`
	Example        string    `validate:"max=20000"`
	Model          string    `validate:"max=200"`
	Provider       string    `validate:"max=50"`
	Credential     string    `validate:"max=500"`
}

// ResponseView is the status-dependent answer for a document.
type ResponseView struct {
	DocumentID  string         `json:"document_id"`
	Status      DocumentStatus `json:"status"`
	Response    string         `json:"response,omitempty"`
	LLMResponse string         `json:"llm_response,omitempty"`
	Error       string         `json:"error,omitempty"`
	Message     string         `json:"message,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

type FindingKind string

const (
	FindingIntegrityFault FindingKind = "integrity_fault"
	FindingDegraded       FindingKind = "degraded"
	FindingStuck          FindingKind = "stuck"
)

type Finding struct {
	Kind       FindingKind    `json:"kind"`
	DocumentID string         `json:"document_id"`
	Status     DocumentStatus `json:"status"`
	Detail     string         `json:"detail"`
	Age        time.Duration  `json:"age_ns,omitempty"`
}

type DiagnosticsReport struct {
	CheckedAt time.Time `json:"checked_at"`
	Scanned   int       `json:"scanned"`
	Findings  []Finding `json:"findings"`
}

// Count returns the number of findings of the given kind.
func (r DiagnosticsReport) Count(kind FindingKind) int {
	n := 0
	for _, f := range r.Findings {
		if f.Kind == kind {
			n++
		}
	}
	return n
}

type CleanupResult struct {
	DeletedRecords int `json:"deleted_records"`
	DeletedFiles   int `json:"deleted_files"`
	Failed         int `json:"failed"`
}

// ProviderModels lists what one registered provider can serve.
type ProviderModels struct {
	Provider Provider `json:"provider"`
	Local    bool     `json:"local"`
	Models   []string `json:"models,omitempty"`
	Error    string   `json:"error,omitempty"`
}
