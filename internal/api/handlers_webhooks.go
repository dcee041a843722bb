package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/richytech/webhookrelay/internal/models"
	"github.com/richytech/webhookrelay/internal/queue"
	"github.com/richytech/webhookrelay/internal/storage"
)

// WebhookHandler is the management read/query surface over delivery records:
// inspection, filtered listing, and manual retry.
type WebhookHandler struct {
	store storage.Store
	queue queue.Queue
}

func NewWebhookHandler(store storage.Store, q queue.Queue) *WebhookHandler {
	return &WebhookHandler{store: store, queue: q}
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	acct := AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, CodeAuthentication, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	rec, err := h.store.GetDeliveryRecord(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to get webhook")
		return
	}
	if rec == nil || rec.AccountID != acct.ID {
		writeError(w, http.StatusNotFound, CodeNotFound, "webhook not found")
		return
	}

	attempts, err := h.store.GetAttempts(r.Context(), rec.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to get attempts")
		return
	}
	if attempts == nil {
		attempts = []models.Attempt{}
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"webhook":  rec,
		"attempts": attempts,
	})
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	acct := AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, CodeAuthentication, "unauthorized")
		return
	}

	q := r.URL.Query()
	filter := storage.RecordFilter{
		EndpointID: q.Get("endpoint_id"),
		Status:     models.DeliveryStatus(q.Get("status")),
	}
	if v := q.Get("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeValidation, "start_date must be RFC 3339")
			return
		}
		filter.StartDate = &t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeValidation, "end_date must be RFC 3339")
			return
		}
		filter.EndDate = &t
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	records, total, err := h.store.ListDeliveryRecords(r.Context(), acct.ID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to list webhooks")
		return
	}
	if records == nil {
		records = []models.DeliveryRecord{}
	}

	totalPages := (total + int64(filter.Limit) - 1) / int64(filter.Limit)
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"webhooks": records,
		"pagination": pagination{
			CurrentPage:  filter.Page,
			TotalPages:   totalPages,
			TotalItems:   total,
			ItemsPerPage: filter.Limit,
		},
	})
}

// Retry re-opens a failed or retrying record and queues one more attempt.
// Records that already delivered stay delivered.
func (h *WebhookHandler) Retry(w http.ResponseWriter, r *http.Request) {
	acct := AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, CodeAuthentication, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	rec, err := h.store.GetDeliveryRecord(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to get webhook")
		return
	}
	if rec == nil || rec.AccountID != acct.ID {
		writeError(w, http.StatusNotFound, CodeNotFound, "webhook not found")
		return
	}

	if rec.Status == models.DeliverySuccess {
		writeError(w, http.StatusBadRequest, CodeValidation, "webhook already delivered successfully")
		return
	}

	ep, err := h.store.GetEndpoint(r.Context(), rec.EndpointID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to get endpoint")
		return
	}
	if ep == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "endpoint not found")
		return
	}

	rec.Status = models.DeliveryPending
	rec.NextRetryAt = nil
	if err := h.store.UpdateDeliveryRecord(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to update webhook")
		return
	}

	job := &queue.Job{
		RecordID:      rec.ID,
		AccountID:     acct.ID,
		EndpointID:    ep.ID,
		URL:           ep.URL,
		Secret:        ep.Secret,
		CustomHeaders: ep.CustomHeaders,
		RetryPolicy:   ep.RetryPolicy,
		Payload:       rec.Payload,
		ManualRetry:   true,
	}
	if _, err := h.queue.Enqueue(r.Context(), job, 0); err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to queue retry")
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"webhook_id": rec.ID,
		"status":     "queued",
	})
}
