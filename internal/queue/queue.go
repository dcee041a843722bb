// Package queue provides the durable delivery queue between ingestion and the
// dispatcher. Jobs survive process restart and are handed to exactly one
// worker at a time; handoff is at-least-once, so consumers check record state
// before sending.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/richytech/webhookrelay/internal/models"
)

// Job carries everything a worker needs to deliver one webhook: the record id
// plus an endpoint snapshot taken at enqueue time.
type Job struct {
	ID            string             `json:"id"`
	RecordID      string             `json:"record_id"`
	AccountID     string             `json:"account_id"`
	EndpointID    string             `json:"endpoint_id"`
	URL           string             `json:"url"`
	Secret        string             `json:"secret"`
	CustomHeaders models.Headers     `json:"custom_headers,omitempty"`
	RetryPolicy   models.RetryPolicy `json:"retry_policy"`
	Payload       json.RawMessage    `json:"payload"`
	ManualRetry   bool               `json:"manual_retry,omitempty"`
	EnqueuedAt    time.Time          `json:"enqueued_at"`

	// raw wire form, set by the queue that dequeued the job; used by Ack.
	raw string
}

type Queue interface {
	// Enqueue admits a job, optionally delayed so it becomes visible no
	// earlier than now+delay. Returns the job id.
	Enqueue(ctx context.Context, job *Job, delay time.Duration) (string, error)
	// Dequeue blocks until a job is available or ctx is done. A dequeued job
	// is invisible to other consumers until Ack.
	Dequeue(ctx context.Context) (*Job, error)
	Ack(ctx context.Context, job *Job) error
	Close() error
}
