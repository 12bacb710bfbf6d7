package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	EventResizeCompleted = "resize.completed"
	EventResizeFailed    = "resize.failed"
)

type CreateJobRequest struct {
	Transform  TransformRequest `json:"transform"`
	WebhookURL string           `json:"webhook_url,omitempty"`
	Publish    bool             `json:"publish,omitempty"`
}

type Job struct {
	ID         string           `json:"id"`
	Status     string           `json:"status"`
	Request    TransformRequest `json:"request"`
	WebhookURL string           `json:"webhook_url,omitempty"`
	Publish    bool             `json:"publish"`
	Result     *TransformResult `json:"result,omitempty"`
	ObjectKey  string           `json:"object_key,omitempty"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// JobEvent is what webhooks and the event stream receive when a job settles.
type JobEvent struct {
	Type       string           `json:"type"`
	JobID      string           `json:"job_id"`
	Status     string           `json:"status"`
	Result     *TransformResult `json:"result,omitempty"`
	ObjectKey  string           `json:"object_key,omitempty"`
	Error      string           `json:"error,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

func (r CreateJobRequest) Validate() error {
	if err := r.Transform.Validate(); err != nil {
		return err
	}
	if r.WebhookURL != "" && !strings.HasPrefix(r.WebhookURL, "http://") && !strings.HasPrefix(r.WebhookURL, "https://") {
		return errors.New("webhook_url must be an http(s) URL")
	}
	return nil
}
