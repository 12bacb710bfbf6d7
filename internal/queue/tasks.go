package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/imageutils/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeResizeImage = "image:resize"

type ResizePayload struct {
	JobID       string                  `json:"job_id"`
	Request     domain.TransformRequest `json:"request"`
	WebhookURL  string                  `json:"webhook_url,omitempty"`
	Publish     bool                    `json:"publish,omitempty"`
	RequestedAt time.Time               `json:"requested_at"`
}

func PayloadFromJob(job domain.Job, requestedAt time.Time) ResizePayload {
	return ResizePayload{
		JobID:       job.ID,
		Request:     job.Request,
		WebhookURL:  job.WebhookURL,
		Publish:     job.Publish,
		RequestedAt: requestedAt,
	}
}

func NewResizeTask(payload ResizePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal resize payload: %w", err)
	}
	return asynq.NewTask(TypeResizeImage, body), nil
}

func ParseResizePayload(task *asynq.Task) (ResizePayload, error) {
	var payload ResizePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ResizePayload{}, fmt.Errorf("unmarshal resize payload: %w", err)
	}
	if payload.JobID == "" {
		return ResizePayload{}, fmt.Errorf("resize payload is missing job_id")
	}
	return payload, nil
}
