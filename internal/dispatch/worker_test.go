package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richytech/webhookrelay/internal/models"
	"github.com/richytech/webhookrelay/internal/queue"
	"github.com/richytech/webhookrelay/internal/storage"
)

// captureQueue records every Enqueue so tests can drive the retry loop by
// hand instead of waiting on real delays.
type captureQueue struct {
	mu        sync.Mutex
	jobs      []*queue.Job
	delays    []time.Duration
	onEnqueue func(*queue.Job)
}

func (q *captureQueue) Enqueue(ctx context.Context, job *queue.Job, delay time.Duration) (string, error) {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.delays = append(q.delays, delay)
	hook := q.onEnqueue
	q.mu.Unlock()
	if hook != nil {
		hook(job)
	}
	return "job_test", nil
}

func (q *captureQueue) Dequeue(ctx context.Context) (*queue.Job, error) { return nil, ctx.Err() }
func (q *captureQueue) Ack(ctx context.Context, job *queue.Job) error   { return nil }
func (q *captureQueue) Close() error                                    { return nil }

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func seedDelivery(t *testing.T, store storage.Store, url string, policy models.RetryPolicy) (*models.Endpoint, *models.DeliveryRecord) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	acct := &models.Account{
		ID:           models.NewID("acct"),
		Email:        "ops@example.com",
		Name:         "Test",
		APIKey:       models.NewAPIKey(),
		Tier:         models.TierFree,
		WebhookQuota: 1000,
		UsageResetAt: models.NextUsageReset(now),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, store.CreateAccount(ctx, acct))

	ep := &models.Endpoint{
		ID:          models.NewID("ep"),
		AccountID:   acct.ID,
		Name:        "orders",
		URL:         url,
		Secret:      models.NewSecret(),
		RetryPolicy: policy,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, store.CreateEndpoint(ctx, ep))

	rec := &models.DeliveryRecord{
		ID:         models.NewID("wh"),
		AccountID:  acct.ID,
		EndpointID: ep.ID,
		Payload:    []byte(`{"event":"order.created"}`),
		ReceivedAt: now,
		Status:     models.DeliveryPending,
		ExpiresAt:  now.AddDate(0, 0, 3),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, store.CreateDeliveryRecord(ctx, rec))
	return ep, rec
}

func jobFor(ep *models.Endpoint, rec *models.DeliveryRecord) *queue.Job {
	return &queue.Job{
		RecordID:    rec.ID,
		AccountID:   rec.AccountID,
		EndpointID:  ep.ID,
		URL:         ep.URL,
		Secret:      ep.Secret,
		RetryPolicy: ep.RetryPolicy,
		Payload:     rec.Payload,
	}
}

func TestWorkerProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("destination always failing exhausts the interval table", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		store := newTestStore(t)
		q := &captureQueue{}
		worker := NewWorker(store, NewSender(5*time.Second, ""), q, zerolog.Nop())

		policy := models.RetryPolicy{IntervalsMs: []int64{0, 60000}}
		ep, rec := seedDelivery(t, store, srv.URL, policy)

		// Drive the job through the loop the pool normally runs: process, then
		// pick up whatever got re-enqueued.
		job := jobFor(ep, rec)
		for i := 0; i < 5; i++ {
			worker.Process(ctx, job)
			q.mu.Lock()
			if len(q.jobs) <= i {
				q.mu.Unlock()
				break
			}
			job = q.jobs[i]
			q.mu.Unlock()
		}

		got, err := store.GetDeliveryRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DeliveryFailed, got.Status)
		assert.Equal(t, 3, got.RetryCount)
		assert.Nil(t, got.NextRetryAt)
		assert.NotNil(t, got.LastAttemptAt)

		attempts, err := store.GetAttempts(ctx, rec.ID)
		require.NoError(t, err)
		require.Len(t, attempts, 3)
		for i, a := range attempts {
			assert.Equal(t, i+1, a.AttemptNumber)
			assert.False(t, a.Success)
			assert.Equal(t, http.StatusInternalServerError, a.StatusCode)
		}

		// Two retries scheduled, with the table's delays in order.
		assert.Equal(t, []time.Duration{0, time.Minute}, q.delays)

		gotEp, err := store.GetEndpoint(ctx, ep.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), gotEp.Stats.TotalRequests)
		assert.Equal(t, int64(3), gotEp.Stats.FailedRequests)
		assert.Equal(t, int64(0), gotEp.Stats.SuccessfulRequests)
	})

	t.Run("failure then success settles the record", func(t *testing.T) {
		var calls int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		store := newTestStore(t)
		q := &captureQueue{}
		worker := NewWorker(store, NewSender(5*time.Second, ""), q, zerolog.Nop())

		ep, rec := seedDelivery(t, store, srv.URL, models.DefaultRetryPolicy())

		worker.Process(ctx, jobFor(ep, rec))

		mid, err := store.GetDeliveryRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DeliveryRetrying, mid.Status)
		assert.NotNil(t, mid.NextRetryAt)

		require.Len(t, q.jobs, 1)
		worker.Process(ctx, q.jobs[0])

		got, err := store.GetDeliveryRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DeliverySuccess, got.Status)
		assert.Equal(t, 2, got.RetryCount)
		assert.Nil(t, got.NextRetryAt)

		attempts, err := store.GetAttempts(ctx, rec.ID)
		require.NoError(t, err)
		require.Len(t, attempts, 2)
		assert.False(t, attempts[0].Success)
		assert.True(t, attempts[1].Success)

		gotEp, err := store.GetEndpoint(ctx, ep.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), gotEp.Stats.TotalRequests)
		assert.Equal(t, int64(1), gotEp.Stats.SuccessfulRequests)
		assert.Equal(t, int64(1), gotEp.Stats.FailedRequests)
	})

	t.Run("deleted endpoint finalizes the record as failed", func(t *testing.T) {
		store := newTestStore(t)
		q := &captureQueue{}
		worker := NewWorker(store, NewSender(5*time.Second, ""), q, zerolog.Nop())

		ep, rec := seedDelivery(t, store, "http://example.com/hook", models.DefaultRetryPolicy())
		require.NoError(t, store.DeleteEndpoint(ctx, ep.ID))

		worker.Process(ctx, jobFor(ep, rec))

		got, err := store.GetDeliveryRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DeliveryFailed, got.Status)

		attempts, err := store.GetAttempts(ctx, rec.ID)
		require.NoError(t, err)
		require.Len(t, attempts, 1)
		assert.Equal(t, "endpoint not found", attempts[0].Error)
		assert.Empty(t, q.jobs)
	})

	t.Run("already delivered record is discarded", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("destination should not be called")
		}))
		defer srv.Close()

		store := newTestStore(t)
		q := &captureQueue{}
		worker := NewWorker(store, NewSender(5*time.Second, ""), q, zerolog.Nop())

		ep, rec := seedDelivery(t, store, srv.URL, models.DefaultRetryPolicy())
		rec.Status = models.DeliverySuccess
		rec.RetryCount = 1
		require.NoError(t, store.UpdateDeliveryRecord(ctx, rec))

		worker.Process(ctx, jobFor(ep, rec))

		attempts, err := store.GetAttempts(ctx, rec.ID)
		require.NoError(t, err)
		assert.Empty(t, attempts)
	})

	t.Run("manual retry redelivers a failed record", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		store := newTestStore(t)
		q := &captureQueue{}
		worker := NewWorker(store, NewSender(5*time.Second, ""), q, zerolog.Nop())

		ep, rec := seedDelivery(t, store, srv.URL, models.DefaultRetryPolicy())
		now := time.Now().UTC()
		for i := 1; i <= 2; i++ {
			require.NoError(t, store.AppendAttempt(ctx, &models.Attempt{
				ID:            models.NewID("att"),
				RecordID:      rec.ID,
				AttemptNumber: i,
				AttemptedAt:   now,
				StatusCode:    500,
			}))
		}
		rec.Status = models.DeliveryFailed
		rec.RetryCount = 2
		require.NoError(t, store.UpdateDeliveryRecord(ctx, rec))

		job := jobFor(ep, rec)
		job.ManualRetry = true
		worker.Process(ctx, job)

		got, err := store.GetDeliveryRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DeliverySuccess, got.Status)
		assert.Equal(t, 3, got.RetryCount)

		attempts, err := store.GetAttempts(ctx, rec.ID)
		require.NoError(t, err)
		require.Len(t, attempts, 3)
		assert.Equal(t, 3, attempts[2].AttemptNumber)
	})

	t.Run("record state is persisted before the retry job is visible", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		store := newTestStore(t)
		q := &captureQueue{}
		worker := NewWorker(store, NewSender(5*time.Second, ""), q, zerolog.Nop())

		// First interval is 0ms, so the retry job is dequeueable the moment
		// Enqueue returns; the record must already carry the new retry count.
		policy := models.RetryPolicy{IntervalsMs: []int64{0, 60000}}
		ep, rec := seedDelivery(t, store, srv.URL, policy)

		var atEnqueue []*models.DeliveryRecord
		q.onEnqueue = func(*queue.Job) {
			got, err := store.GetDeliveryRecord(ctx, rec.ID)
			require.NoError(t, err)
			atEnqueue = append(atEnqueue, got)
		}

		worker.Process(ctx, jobFor(ep, rec))

		require.Len(t, atEnqueue, 1)
		assert.Equal(t, 1, atEnqueue[0].RetryCount)
		assert.Equal(t, models.DeliveryRetrying, atEnqueue[0].Status)

		// A second worker picking up the 0-delay job computes the next attempt
		// number, not a duplicate of the first.
		second := NewWorker(store, NewSender(5*time.Second, ""), q, zerolog.Nop())
		second.Process(ctx, q.jobs[0])

		attempts, err := store.GetAttempts(ctx, rec.ID)
		require.NoError(t, err)
		require.Len(t, attempts, 2)
		assert.Equal(t, 1, attempts[0].AttemptNumber)
		assert.Equal(t, 2, attempts[1].AttemptNumber)

		got, err := store.GetDeliveryRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, len(attempts), got.RetryCount)
	})

	t.Run("attempt numbers follow the attempts log", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		store := newTestStore(t)
		q := &captureQueue{}
		worker := NewWorker(store, NewSender(5*time.Second, ""), q, zerolog.Nop())

		ep, rec := seedDelivery(t, store, srv.URL, models.DefaultRetryPolicy())
		// A logged attempt whose record update never landed: the log wins.
		require.NoError(t, store.AppendAttempt(ctx, &models.Attempt{
			ID:            models.NewID("att"),
			RecordID:      rec.ID,
			AttemptNumber: 1,
			AttemptedAt:   time.Now().UTC(),
			StatusCode:    500,
		}))

		worker.Process(ctx, jobFor(ep, rec))

		attempts, err := store.GetAttempts(ctx, rec.ID)
		require.NoError(t, err)
		require.Len(t, attempts, 2)
		assert.Equal(t, 2, attempts[1].AttemptNumber)

		got, err := store.GetDeliveryRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.RetryCount)
	})

	t.Run("automatic retries shed the manual flag", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		store := newTestStore(t)
		q := &captureQueue{}
		worker := NewWorker(store, NewSender(5*time.Second, ""), q, zerolog.Nop())

		ep, rec := seedDelivery(t, store, srv.URL, models.RetryPolicy{IntervalsMs: []int64{0}})
		rec.Status = models.DeliveryFailed
		require.NoError(t, store.UpdateDeliveryRecord(ctx, rec))

		job := jobFor(ep, rec)
		job.ManualRetry = true
		worker.Process(ctx, job)

		require.Len(t, q.jobs, 1)
		assert.False(t, q.jobs[0].ManualRetry)
	})

	t.Run("job for purged record is dropped", func(t *testing.T) {
		store := newTestStore(t)
		q := &captureQueue{}
		worker := NewWorker(store, NewSender(5*time.Second, ""), q, zerolog.Nop())

		worker.Process(ctx, &queue.Job{RecordID: "wh_gone", URL: "http://example.com"})
		assert.Empty(t, q.jobs)
	})
}
