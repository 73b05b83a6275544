package domain

import (
	"fmt"
	"strings"
)

type DocumentStatus string

const (
	StatusUploaded        DocumentStatus = "UPLOADED"
	StatusTextExtracted   DocumentStatus = "TEXT_EXTRACTED"
	StatusPromptProcessed DocumentStatus = "PROMPT_PROCESSED"
	StatusCompleted       DocumentStatus = "COMPLETED"
	StatusError           DocumentStatus = "ERROR"
)

var statusRank = map[DocumentStatus]int{
	StatusUploaded:        0,
	StatusTextExtracted:   1,
	StatusPromptProcessed: 2,
	StatusCompleted:       3,
}

// NonTerminalStatuses lists the in-progress states in pipeline order.
func NonTerminalStatuses() []DocumentStatus {
	return []DocumentStatus{StatusUploaded, StatusTextExtracted, StatusPromptProcessed}
}

func ParseStatus(raw string) (DocumentStatus, error) {
	status := DocumentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", WrapError(ErrInvalidInput, "parse status", fmt.Errorf("unknown status %q", raw))
	}
	return status, nil
}

func (s DocumentStatus) Valid() bool {
	if s == StatusError {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

func (s DocumentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Rank orders the forward states. ERROR has no rank and reports -1.
func (s DocumentStatus) Rank() int {
	rank, ok := statusRank[s]
	if !ok {
		return -1
	}
	return rank
}

// CanTransition allows single forward steps and ERROR from any non-terminal state.
func (s DocumentStatus) CanTransition(to DocumentStatus) bool {
	if s.IsTerminal() || !to.Valid() {
		return false
	}
	if to == StatusError {
		return true
	}
	return to.Rank() == s.Rank()+1
}

// Stage is one discrete step of the pipeline.
type Stage string

const (
	StageExtract   Stage = "extract_text"
	StageGenerate  Stage = "process_prompt"
	StageReconcile Stage = "format_response"
)

func Stages() []Stage {
	return []Stage{StageExtract, StageGenerate, StageReconcile}
}

func ParseStage(raw string) (Stage, error) {
	stage := Stage(strings.TrimSpace(raw))
	switch stage {
	case StageExtract, StageGenerate, StageReconcile:
		return stage, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse stage", fmt.Errorf("unknown stage %q", raw))
	}
}

// InputStatus is the status a document must hold for the stage to run normally.
func (s Stage) InputStatus() DocumentStatus {
	switch s {
	case StageExtract:
		return StatusUploaded
	case StageGenerate:
		return StatusTextExtracted
	case StageReconcile:
		return StatusPromptProcessed
	default:
		return ""
	}
}

// OutputStatus is the status a successful run advances the document to.
func (s Stage) OutputStatus() DocumentStatus {
	switch s {
	case StageExtract:
		return StatusTextExtracted
	case StageGenerate:
		return StatusPromptProcessed
	case StageReconcile:
		return StatusCompleted
	default:
		return ""
	}
}

func (s Stage) Next() (Stage, bool) {
	switch s {
	case StageExtract:
		return StageGenerate, true
	case StageGenerate:
		return StageReconcile, true
	default:
		return "", false
	}
}

func (s Stage) IsFinal() bool {
	return s == StageReconcile
}

// StageForStatus returns the stage that consumes a document in the given status.
func StageForStatus(status DocumentStatus) (Stage, bool) {
	for _, stage := range Stages() {
		if stage.InputStatus() == status {
			return stage, true
		}
	}
	return "", false
}
