package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/richytech/webhookrelay/internal/models"
	"github.com/richytech/webhookrelay/internal/queue"
	"github.com/richytech/webhookrelay/internal/signing"
)

// Response bodies beyond this are truncated before storage.
const maxResponseBody = 10000

const maxRedirects = 5

type SendResult struct {
	StatusCode     int
	ResponseBody   string
	LatencyMs      int64
	Error          string
	RequestHeaders models.Headers
}

func (r *SendResult) Success() bool {
	return r.Error == "" && IsSuccess(r.StatusCode)
}

type Sender struct {
	client    *http.Client
	userAgent string
}

func NewSender(timeout time.Duration, userAgent string) *Sender {
	if userAgent == "" {
		userAgent = "Webhook-Relay/1.0"
	}
	return &Sender{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
		userAgent: userAgent,
	}
}

// Send posts the payload to the job's destination with signing headers. Any
// transport failure or non-2xx response is reported in the result, never as an
// error; the caller decides retry.
func (s *Sender) Send(ctx context.Context, job *queue.Job, attemptNumber int) *SendResult {
	start := time.Now()

	headers := models.Headers{
		{Name: "Content-Type", Value: "application/json"},
		{Name: "User-Agent", Value: s.userAgent},
		{Name: "X-Webhook-Signature", Value: signing.Sign(job.Payload, job.Secret)},
		{Name: "X-Webhook-Timestamp", Value: strconv.FormatInt(start.UnixMilli(), 10)},
		{Name: "X-Webhook-ID", Value: job.RecordID},
		{Name: "X-Webhook-Attempt", Value: strconv.Itoa(attemptNumber)},
	}
	headers = append(headers, job.CustomHeaders...)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.URL, bytes.NewReader(job.Payload))
	if err != nil {
		return &SendResult{
			Error:          fmt.Sprintf("failed to create request: %v", err),
			LatencyMs:      time.Since(start).Milliseconds(),
			RequestHeaders: headers,
		}
	}
	for _, h := range headers {
		req.Header.Set(h.Name, h.Value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &SendResult{
			Error:          fmt.Sprintf("request failed: %v", err),
			LatencyMs:      time.Since(start).Milliseconds(),
			RequestHeaders: headers,
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	result := &SendResult{
		StatusCode:     resp.StatusCode,
		ResponseBody:   string(body),
		LatencyMs:      time.Since(start).Milliseconds(),
		RequestHeaders: headers,
	}
	if !IsSuccess(resp.StatusCode) {
		result.Error = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return result
}
