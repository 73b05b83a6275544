package domain

import (
	"strconv"
	"strings"
	"time"
)

// ExtractionPlaceholder replaces extracted text when a file yields nothing readable.
const ExtractionPlaceholder = "[no extractable text found in document]"

// legacyPlaceholder is the marker older records carry for "not extracted yet".
const legacyPlaceholder = "Texto ainda não extraído"

// IsUnextractedMarker reports whether text still holds the "not extracted yet" marker.
func IsUnextractedMarker(text string) bool {
	return strings.TrimSpace(text) == legacyPlaceholder
}

// IsPlaceholderText reports whether text is one of the known placeholder markers.
func IsPlaceholderText(text string) bool {
	trimmed := strings.TrimSpace(text)
	return trimmed == ExtractionPlaceholder || trimmed == legacyPlaceholder
}

type Document struct {
	ID                string         `json:"id"`
	Filename          string         `json:"filename"`
	FileKind          FileKind       `json:"file_kind"`
	StoragePath       string         `json:"storage_path"`
	Status            DocumentStatus `json:"status"`
	Prompt            string         `json:"prompt"`
	FormatResponse    string         `json:"format_response,omitempty"`
	Example           string         `json:"example,omitempty"`
	Model             string         `json:"model,omitempty"`
	Provider          Provider       `json:"provider"`
	Credential        string         `json:"-"`
	ExtractedText     string         `json:"extracted_text,omitempty"`
	FullPromptSent    string         `json:"full_prompt_sent,omitempty"`
	LLMResponse       string         `json:"llm_response,omitempty"`
	FormattedResponse string         `json:"formatted_response,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	FailedStage       Stage          `json:"failed_stage,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
}

// DocumentPatch is a partial update. Nil fields are left untouched.
type DocumentPatch struct {
	Status            *DocumentStatus
	ExtractedText     *string
	FullPromptSent    *string
	LLMResponse       *string
	FormattedResponse *string
	ErrorMessage      *string
	FailedStage       *Stage
	CompletedAt       *time.Time
	ClearCompletedAt  bool
}

// Apply writes the set fields of p into doc and stamps UpdatedAt.
func (p DocumentPatch) Apply(doc *Document, now time.Time) {
	if p.Status != nil {
		doc.Status = *p.Status
	}
	if p.ExtractedText != nil {
		doc.ExtractedText = *p.ExtractedText
	}
	if p.FullPromptSent != nil {
		doc.FullPromptSent = *p.FullPromptSent
	}
	if p.LLMResponse != nil {
		doc.LLMResponse = *p.LLMResponse
	}
	if p.FormattedResponse != nil {
		doc.FormattedResponse = *p.FormattedResponse
	}
	if p.ErrorMessage != nil {
		doc.ErrorMessage = *p.ErrorMessage
	}
	if p.FailedStage != nil {
		doc.FailedStage = *p.FailedStage
	}
	switch {
	case p.ClearCompletedAt:
		doc.CompletedAt = nil
	case p.CompletedAt != nil:
		ts := *p.CompletedAt
		doc.CompletedAt = &ts
	}
	doc.UpdatedAt = now
}

// AppliedTo reports whether every field set in p is reflected in doc.
// Timestamps are compared at second precision since stores may truncate them.
func (p DocumentPatch) AppliedTo(doc *Document) bool {
	if doc == nil {
		return false
	}
	if p.Status != nil && doc.Status != *p.Status {
		return false
	}
	if p.ExtractedText != nil && doc.ExtractedText != *p.ExtractedText {
		return false
	}
	if p.FullPromptSent != nil && doc.FullPromptSent != *p.FullPromptSent {
		return false
	}
	if p.LLMResponse != nil && doc.LLMResponse != *p.LLMResponse {
		return false
	}
	if p.FormattedResponse != nil && doc.FormattedResponse != *p.FormattedResponse {
		return false
	}
	if p.ErrorMessage != nil && doc.ErrorMessage != *p.ErrorMessage {
		return false
	}
	if p.FailedStage != nil && doc.FailedStage != *p.FailedStage {
		return false
	}
	if p.ClearCompletedAt && doc.CompletedAt != nil {
		return false
	}
	if p.CompletedAt != nil {
		if doc.CompletedAt == nil {
			return false
		}
		if !doc.CompletedAt.Truncate(time.Second).Equal(p.CompletedAt.Truncate(time.Second)) {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the patch changes nothing.
func (p DocumentPatch) IsEmpty() bool {
	return p.Status == nil &&
		p.ExtractedText == nil &&
		p.FullPromptSent == nil &&
		p.LLMResponse == nil &&
		p.FormattedResponse == nil &&
		p.ErrorMessage == nil &&
		p.FailedStage == nil &&
		p.CompletedAt == nil &&
		!p.ClearCompletedAt
}

// DocumentFilter narrows catalog listings. Zero values mean "any".
type DocumentFilter struct {
	Statuses        []DocumentStatus
	UpdatedBefore   time.Time
	CompletedBefore time.Time
	Limit           int
}

// Matches applies the filter to a single document.
func (f DocumentFilter) Matches(doc *Document) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, status := range f.Statuses {
			if doc.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.UpdatedBefore.IsZero() && !doc.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	if !f.CompletedBefore.IsZero() {
		if doc.CompletedAt == nil || !doc.CompletedAt.Before(f.CompletedBefore) {
			return false
		}
	}
	return true
}

// StageTask is one dispatched unit of pipeline work.
type StageTask struct {
	DocumentID string    `json:"document_id"`
	Stage      Stage     `json:"stage"`
	Attempt    int       `json:"attempt"`
	NotBefore  time.Time `json:"not_before,omitempty"`
	// Run identifies an operator restart. Empty for the run started at upload.
	Run string `json:"run,omitempty"`
}

// Key identifies one delivery of a task for queue-level deduplication.
func (t StageTask) Key() string {
	key := t.DocumentID + ":" + string(t.Stage) + ":" + strconv.Itoa(t.Attempt)
	if t.Run != "" {
		key += ":" + t.Run
	}
	return key
}

// IsRestart reports whether the task belongs to an operator restart.
func (t StageTask) IsRestart() bool {
	return t.Run != ""
}

// IsRetry reports whether the task was scheduled by the retry policy.
func (t StageTask) IsRetry() bool {
	return t.Attempt > 0
}

// GenerateRequest is what an LLM client needs for one call.
type GenerateRequest struct {
	Model      string
	Prompt     string
	Credential string
}

func Ptr[T any](v T) *T {
	return &v
}
