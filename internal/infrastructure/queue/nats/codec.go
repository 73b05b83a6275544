package nats

import (
	"encoding/json"
	"fmt"

	"github.com/kirillkom/docpipe/internal/core/domain"
)

func encodeTask(task domain.StageTask) ([]byte, error) {
	if task.DocumentID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "encode task", fmt.Errorf("document id is empty"))
	}
	if _, err := domain.ParseStage(string(task.Stage)); err != nil {
		return nil, err
	}
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	return data, nil
}

func decodeTask(data []byte) (domain.StageTask, error) {
	var task domain.StageTask
	if err := json.Unmarshal(data, &task); err != nil {
		return domain.StageTask{}, fmt.Errorf("unmarshal task: %w", err)
	}
	if task.DocumentID == "" {
		return domain.StageTask{}, fmt.Errorf("task has no document id")
	}
	if _, err := domain.ParseStage(string(task.Stage)); err != nil {
		return domain.StageTask{}, err
	}
	return task, nil
}
