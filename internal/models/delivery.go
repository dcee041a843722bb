package models

import (
	"encoding/json"
	"time"
)

type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliveryRetrying DeliveryStatus = "retrying"
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryFailed   DeliveryStatus = "failed"
)

// DeliveryRecord tracks one received webhook through all delivery attempts.
// RetryCount always equals the number of attempts made. ExpiresAt drives the
// retention sweeper; records past it are purged.
type DeliveryRecord struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"account_id"`
	EndpointID      string          `json:"endpoint_id"`
	Payload         json.RawMessage `json:"payload"`
	IncomingHeaders Headers         `json:"incoming_headers"`
	ReceivedAt      time.Time       `json:"received_at"`
	Status          DeliveryStatus  `json:"status"`
	RetryCount      int             `json:"retry_count"`
	LastAttemptAt   *time.Time      `json:"last_attempt_at,omitempty"`
	NextRetryAt     *time.Time      `json:"next_retry_at,omitempty"`
	ExpiresAt       time.Time       `json:"expires_at"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Terminal reports whether the record reached a final state. Terminal records
// are never touched by automatic retry; only a manual retry re-opens a failed
// one.
func (d *DeliveryRecord) Terminal() bool {
	return d.Status == DeliverySuccess || d.Status == DeliveryFailed
}

// Attempt is one outbound try against the destination. StatusCode is zero when
// the request never produced a response (timeout, connection error, DNS).
type Attempt struct {
	ID             string    `json:"id"`
	RecordID       string    `json:"record_id"`
	AttemptNumber  int       `json:"attempt_number"`
	AttemptedAt    time.Time `json:"attempted_at"`
	RequestHeaders Headers   `json:"request_headers"`
	StatusCode     int       `json:"status_code,omitempty"`
	ResponseBody   string    `json:"response_body,omitempty"`
	LatencyMs      int64     `json:"latency_ms"`
	Error          string    `json:"error,omitempty"`
	Success        bool      `json:"success"`
}
