// ABOUTME: Task type and payload shared by the enqueue side and the worker
// ABOUTME: One task kind: generate an assistant reply for a submitted message

package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// TypeGenerate is the task type for assistant reply generation.
const TypeGenerate = "chat:generate"

// DefaultQueue is the asynq queue name all generation tasks go to.
const DefaultQueue = "default"

// GeneratePayload is the JSON body of a generation task. TaskID doubles as
// the asynq task id, the broadcast topic key, and the assistant turn's
// task_id column, so every component addresses the same work by one handle.
type GeneratePayload struct {
	TaskID         string `json:"task_id"`
	ConversationID string `json:"conversation_id"`
	UserMessage    string `json:"user_message"`
}

// NewGenerateTask builds an asynq task carrying the payload.
func NewGenerateTask(payload GeneratePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding generate payload: %w", err)
	}
	return asynq.NewTask(TypeGenerate, data), nil
}

// ParseGeneratePayload decodes a generation task's payload.
func ParseGeneratePayload(task *asynq.Task) (GeneratePayload, error) {
	var payload GeneratePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return GeneratePayload{}, fmt.Errorf("decoding generate payload: %w", err)
	}
	if payload.TaskID == "" || payload.ConversationID == "" {
		return GeneratePayload{}, fmt.Errorf("generate payload missing task or conversation id")
	}
	return payload, nil
}
