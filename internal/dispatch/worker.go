package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/richytech/webhookrelay/internal/metrics"
	"github.com/richytech/webhookrelay/internal/models"
	"github.com/richytech/webhookrelay/internal/queue"
	"github.com/richytech/webhookrelay/internal/storage"
)

type Worker struct {
	store  storage.Store
	sender *Sender
	queue  queue.Queue
	log    zerolog.Logger
}

func NewWorker(store storage.Store, sender *Sender, q queue.Queue, log zerolog.Logger) *Worker {
	return &Worker{
		store:  store,
		sender: sender,
		queue:  q,
		log:    log,
	}
}

// Process delivers one job. Every outcome is absorbed here: the record is
// updated, a retry is scheduled through the queue when the policy allows it,
// and errors are logged rather than propagated, so a bad job never takes down
// a worker.
func (w *Worker) Process(ctx context.Context, job *queue.Job) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Str("record_id", job.RecordID).Msg("panic while processing delivery job")
		}
	}()

	rec, err := w.store.GetDeliveryRecord(ctx, job.RecordID)
	if err != nil {
		w.log.Error().Err(err).Str("record_id", job.RecordID).Msg("failed to load delivery record")
		return
	}
	if rec == nil {
		// Record purged or never created; nothing to deliver against.
		w.log.Warn().Str("record_id", job.RecordID).Msg("discarding job for missing delivery record")
		return
	}

	if rec.Status == models.DeliverySuccess && !job.ManualRetry {
		w.log.Info().Str("record_id", rec.ID).Msg("webhook already delivered, discarding job")
		return
	}

	ep, err := w.store.GetEndpoint(ctx, job.EndpointID)
	if err != nil {
		w.log.Error().Err(err).Str("record_id", rec.ID).Msg("failed to load endpoint")
		return
	}
	if ep == nil {
		// Endpoint deleted between enqueue and processing. The caller already
		// got 200, so finalize with an explanatory attempt instead of raising.
		w.finalizeMissingEndpoint(ctx, rec)
		return
	}

	// The attempt number comes from the attempts log, not the record's counter,
	// so the two can never drift apart.
	prior, err := w.store.GetAttempts(ctx, rec.ID)
	if err != nil {
		w.log.Error().Err(err).Str("record_id", rec.ID).Msg("failed to load attempts")
		return
	}
	attemptNumber := len(prior) + 1

	result := w.sender.Send(ctx, job, attemptNumber)

	now := time.Now().UTC()
	attempt := &models.Attempt{
		ID:             models.NewID("att"),
		RecordID:       rec.ID,
		AttemptNumber:  attemptNumber,
		AttemptedAt:    now,
		RequestHeaders: result.RequestHeaders,
		StatusCode:     result.StatusCode,
		ResponseBody:   result.ResponseBody,
		LatencyMs:      result.LatencyMs,
		Error:          result.Error,
		Success:        result.Success(),
	}
	if err := w.store.AppendAttempt(ctx, attempt); err != nil {
		w.log.Error().Err(err).Str("record_id", rec.ID).Msg("failed to record attempt")
	}

	rec.RetryCount = attemptNumber
	rec.LastAttemptAt = &now

	var retryDelay time.Duration
	retryScheduled := false

	if result.Success() {
		rec.Status = models.DeliverySuccess
		rec.NextRetryAt = nil
		w.log.Info().
			Str("record_id", rec.ID).
			Str("endpoint_id", ep.ID).
			Int("attempt", attemptNumber).
			Int("status_code", result.StatusCode).
			Int64("latency_ms", result.LatencyMs).
			Msg("webhook delivered")
	} else if delay, ok := NextRetryDelay(rec.RetryCount, job.RetryPolicy); ok {
		next := now.Add(delay)
		rec.Status = models.DeliveryRetrying
		rec.NextRetryAt = &next
		retryDelay = delay
		retryScheduled = true
	} else {
		rec.Status = models.DeliveryFailed
		rec.NextRetryAt = nil
		w.log.Warn().
			Str("record_id", rec.ID).
			Str("endpoint_id", ep.ID).
			Int("attempts", rec.RetryCount).
			Str("error", result.Error).
			Msg("delivery permanently failed")
	}

	// Persist before scheduling the retry: a 0ms interval makes the retry job
	// visible to another worker immediately, and that worker must see the
	// incremented retry count.
	if err := w.store.UpdateDeliveryRecord(ctx, rec); err != nil {
		w.log.Error().Err(err).Str("record_id", rec.ID).Msg("failed to update delivery record")
	}

	if retryScheduled {
		// The manual flag belongs to the attempt the caller asked for, not to
		// the automatic chain it starts.
		job.ManualRetry = false
		if _, err := w.queue.Enqueue(ctx, job, retryDelay); err != nil {
			w.log.Error().Err(err).Str("record_id", rec.ID).Msg("failed to schedule retry")
		} else {
			w.log.Info().
				Str("record_id", rec.ID).
				Int("attempt", attemptNumber).
				Dur("retry_delay", retryDelay).
				Time("next_retry_at", *rec.NextRetryAt).
				Str("error", result.Error).
				Msg("delivery failed, retry scheduled")
		}
	}

	if err := w.store.RecordEndpointStats(ctx, ep.ID, result.Success(), result.LatencyMs); err != nil {
		w.log.Error().Err(err).Str("endpoint_id", ep.ID).Msg("failed to update endpoint statistics")
	}

	metrics.ObserveDelivery(result.Success(), result.LatencyMs)
}

func (w *Worker) finalizeMissingEndpoint(ctx context.Context, rec *models.DeliveryRecord) {
	now := time.Now().UTC()
	attempt := &models.Attempt{
		ID:            models.NewID("att"),
		RecordID:      rec.ID,
		AttemptNumber: rec.RetryCount + 1,
		AttemptedAt:   now,
		Error:         "endpoint not found",
	}
	if err := w.store.AppendAttempt(ctx, attempt); err != nil {
		w.log.Error().Err(err).Str("record_id", rec.ID).Msg("failed to record attempt")
	}

	rec.RetryCount++
	rec.LastAttemptAt = &now
	rec.Status = models.DeliveryFailed
	rec.NextRetryAt = nil
	if err := w.store.UpdateDeliveryRecord(ctx, rec); err != nil {
		w.log.Error().Err(err).Str("record_id", rec.ID).Msg("failed to update delivery record")
	}

	w.log.Warn().Str("record_id", rec.ID).Str("endpoint_id", rec.EndpointID).Msg("endpoint missing, delivery finalized as failed")
}
