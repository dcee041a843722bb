package models

import "time"

// Header is one custom header attached to outbound deliveries. Headers are kept
// as an ordered list so serialization and iteration stay deterministic.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Headers []Header

func (h Headers) Get(name string) string {
	for _, hdr := range h {
		if hdr.Name == name {
			return hdr.Value
		}
	}
	return ""
}

// RetryPolicy governs redelivery. IntervalsMs is a literal lookup table, one
// entry per retry: entry i is the delay before attempt i+2. MaxAttempts caps
// total attempts; zero means the table length decides.
type RetryPolicy struct {
	MaxAttempts int     `json:"max_attempts"`
	IntervalsMs []int64 `json:"intervals_ms"`
}

// DefaultRetryPolicy: immediate, +1m, +5m, +15m, +1h, +6h.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 7,
		IntervalsMs: []int64{0, 60000, 300000, 900000, 3600000, 21600000},
	}
}

type EndpointStats struct {
	TotalRequests         int64      `json:"total_requests"`
	SuccessfulRequests    int64      `json:"successful_requests"`
	FailedRequests        int64      `json:"failed_requests"`
	LastRequestAt         *time.Time `json:"last_request_at,omitempty"`
	AverageResponseTimeMs int64      `json:"average_response_time_ms"`
}

func (s EndpointStats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 100
	}
	return float64(s.SuccessfulRequests) / float64(s.TotalRequests) * 100
}

type Endpoint struct {
	ID            string        `json:"id"`
	AccountID     string        `json:"account_id"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	URL           string        `json:"url"`
	Secret        string        `json:"secret,omitempty"`
	CustomHeaders Headers       `json:"custom_headers"`
	RetryPolicy   RetryPolicy   `json:"retry_policy"`
	Stats         EndpointStats `json:"statistics"`
	Active        bool          `json:"active"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
