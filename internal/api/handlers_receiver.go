package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/richytech/webhookrelay/internal/metrics"
	"github.com/richytech/webhookrelay/internal/models"
	"github.com/richytech/webhookrelay/internal/queue"
	"github.com/richytech/webhookrelay/internal/storage"
)

const maxPayloadSize = 256 * 1024 // 256KB

// ReceiverHandler is the public ingestion endpoint: it validates the target
// account and endpoint, enforces the monthly quota, persists a pending
// delivery record, and enqueues the delivery job. The caller gets a response
// as soon as the job is queued; it never waits on delivery.
type ReceiverHandler struct {
	store storage.Store
	queue queue.Queue
	log   zerolog.Logger
}

func NewReceiverHandler(store storage.Store, q queue.Queue, log zerolog.Logger) *ReceiverHandler {
	return &ReceiverHandler{store: store, queue: q, log: log}
}

func (h *ReceiverHandler) Receive(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	endpointID := chi.URLParam(r, "endpointID")

	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadSize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "failed to read request body")
		return
	}
	if len(payload) == 0 {
		writeError(w, http.StatusBadRequest, CodeValidation, "payload is required")
		return
	}
	// The payload is stored and re-served as JSON, so reject anything else at
	// the edge.
	if !json.Valid(payload) {
		writeError(w, http.StatusBadRequest, CodeValidation, "payload must be valid JSON")
		return
	}

	// Unknown account and unknown endpoint get the same response so callers
	// cannot probe which half of the URL is wrong.
	acct, err := h.store.GetAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
		return
	}
	if acct == nil || !acct.Active {
		h.log.Warn().Str("account_id", accountID).Msg("webhook rejected, account not found or inactive")
		writeError(w, http.StatusNotFound, CodeNotFound, "invalid webhook URL")
		return
	}

	ep, err := h.store.GetEndpoint(r.Context(), endpointID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
		return
	}
	if ep == nil || !ep.Active || ep.AccountID != acct.ID {
		h.log.Warn().Str("account_id", accountID).Str("endpoint_id", endpointID).Msg("webhook rejected, endpoint not found or inactive")
		writeError(w, http.StatusNotFound, CodeNotFound, "invalid webhook URL")
		return
	}

	now := time.Now().UTC()

	// Monthly usage rolls over lazily on the first webhook past the reset date.
	if now.After(acct.UsageResetAt) {
		nextReset := models.NextUsageReset(now)
		if err := h.store.ResetUsage(r.Context(), acct.ID, nextReset); err != nil {
			h.log.Error().Err(err).Str("account_id", acct.ID).Msg("failed to reset monthly usage")
		} else {
			acct.WebhookUsage = 0
			acct.UsageResetAt = nextReset
		}
	}

	if !acct.HasQuotaRemaining() {
		h.log.Warn().
			Str("account_id", acct.ID).
			Int64("usage", acct.WebhookUsage).
			Int64("quota", acct.WebhookQuota).
			Msg("webhook rejected, quota exceeded")
		writeErrorDetails(w, http.StatusForbidden, CodeQuotaExceeded,
			fmt.Sprintf("Monthly webhook quota exceeded. Your %s tier allows %d webhooks per month.", acct.Tier, acct.WebhookQuota),
			map[string]interface{}{"tier": acct.Tier, "limit": acct.WebhookQuota})
		return
	}

	rec := &models.DeliveryRecord{
		ID:              models.NewID("wh"),
		AccountID:       acct.ID,
		EndpointID:      ep.ID,
		Payload:         payload,
		IncomingHeaders: snapshotHeaders(r.Header),
		ReceivedAt:      now,
		Status:          models.DeliveryPending,
		ExpiresAt:       now.AddDate(0, 0, models.RetentionFor(acct.Tier)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// Ordering matters: record first, then usage, then enqueue, so a crash in
	// between never charges quota for a record that does not exist. A record
	// left pending by an enqueue failure is a known gap, surfaced by the 500.
	if err := h.store.CreateDeliveryRecord(r.Context(), rec); err != nil {
		h.log.Error().Err(err).Str("account_id", acct.ID).Msg("failed to create delivery record")
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to accept webhook")
		return
	}

	if err := h.store.IncrementUsage(r.Context(), acct.ID); err != nil {
		h.log.Error().Err(err).Str("account_id", acct.ID).Msg("failed to increment webhook usage")
	}

	job := &queue.Job{
		RecordID:      rec.ID,
		AccountID:     acct.ID,
		EndpointID:    ep.ID,
		URL:           ep.URL,
		Secret:        ep.Secret,
		CustomHeaders: ep.CustomHeaders,
		RetryPolicy:   ep.RetryPolicy,
		Payload:       payload,
	}
	if _, err := h.queue.Enqueue(r.Context(), job, 0); err != nil {
		h.log.Error().Err(err).Str("record_id", rec.ID).Msg("failed to enqueue delivery job")
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to queue webhook")
		return
	}

	metrics.ObserveReceived()

	h.log.Info().
		Str("account_id", acct.ID).
		Str("endpoint_id", ep.ID).
		Str("record_id", rec.ID).
		Int("payload_size", len(payload)).
		Msg("webhook queued")

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"webhook_id": rec.ID,
		"status":     "queued",
	})
}

// snapshotHeaders keeps the headers worth replaying during debugging:
// content type, user agent, forwarding info, and anything x-prefixed. Names
// are sorted so the stored list is deterministic.
func snapshotHeaders(header http.Header) models.Headers {
	keep := make([]string, 0, len(header))
	for name := range header {
		lower := strings.ToLower(name)
		if lower == "content-type" || lower == "user-agent" || strings.HasPrefix(lower, "x-") {
			keep = append(keep, name)
		}
	}
	sort.Strings(keep)

	headers := make(models.Headers, 0, len(keep))
	for _, name := range keep {
		headers = append(headers, models.Header{Name: strings.ToLower(name), Value: header.Get(name)})
	}
	return headers
}
