package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

const TypePollStylization = "stylize:poll"

// PollStylizationPayload carries everything the worker needs to follow one
// submitted task. Credentials are not part of it; the worker resolves them.
type PollStylizationPayload struct {
	JobID       string    `json:"job_id"`
	TaskID      string    `json:"task_id"`
	Budget      string    `json:"budget"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	UploadBytes int64     `json:"upload_bytes,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func (p PollStylizationPayload) validate() error {
	if strings.TrimSpace(p.JobID) == "" {
		return errors.New("job_id is required")
	}
	if strings.TrimSpace(p.TaskID) == "" {
		return errors.New("task_id is required")
	}
	return nil
}

func NewPollStylizationTask(payload PollStylizationPayload) (*asynq.Task, error) {
	if err := payload.validate(); err != nil {
		return nil, fmt.Errorf("invalid poll payload: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal poll payload: %w", err)
	}
	return asynq.NewTask(TypePollStylization, body), nil
}

func ParsePollStylizationPayload(task *asynq.Task) (PollStylizationPayload, error) {
	var payload PollStylizationPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return PollStylizationPayload{}, fmt.Errorf("unmarshal poll payload: %w", err)
	}
	if err := payload.validate(); err != nil {
		return PollStylizationPayload{}, fmt.Errorf("invalid poll payload: %w", err)
	}
	return payload, nil
}
