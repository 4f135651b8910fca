package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// TaskMessage is the body published on the task queue
type TaskMessage struct {
	JobID       string  `json:"job_id"`
	Options     Options `json:"options"`
	DeliveryTag uint64  `json:"-"`
}

// NewTaskMessage builds the task for an enqueued job
func NewTaskMessage(job *Job) TaskMessage {
	return TaskMessage{JobID: job.ID, Options: job.Options}
}

// Encode serializes the task as JSON
func (m TaskMessage) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task message: %w", err)
	}
	return b, nil
}

// DecodeTaskMessage parses and validates a task body
func DecodeTaskMessage(body []byte) (*TaskMessage, error) {
	var msg TaskMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if _, err := uuid.Parse(msg.JobID); err != nil {
		return nil, fmt.Errorf("%w: job_id %q is not a UUID", ErrInvalidPayload, msg.JobID)
	}

	return &msg, nil
}
