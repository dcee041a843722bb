package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/richytech/webhookrelay/internal/config"
	"github.com/richytech/webhookrelay/internal/queue"
	"github.com/richytech/webhookrelay/internal/storage"
)

// Pool runs a fixed number of workers, each looping dequeue → deliver → ack.
// The queue hands a job to one worker only, so the pool adds no locking of its
// own.
type Pool struct {
	queue   queue.Queue
	worker  *Worker
	workers int
	log     zerolog.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPool(cfg config.DeliveryConfig, store storage.Store, q queue.Queue, log zerolog.Logger) *Pool {
	sender := NewSender(cfg.Timeout, cfg.UserAgent)
	worker := NewWorker(store, sender, q, log)

	workers := cfg.Workers
	if workers <= 0 {
		workers = 5
	}

	return &Pool{
		queue:   q,
		worker:  worker,
		workers: workers,
		log:     log,
	}
}

func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.log.Info().Int("workers", p.workers).Msg("starting dispatch worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
}

func (p *Pool) run(ctx context.Context) {
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			p.log.Error().Err(err).Msg("failed to dequeue delivery job")
			// Back off so a queue outage doesn't turn into a hot loop.
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		p.worker.Process(ctx, job)

		if err := p.queue.Ack(ctx, job); err != nil {
			p.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to ack delivery job")
		}
	}
}

func (p *Pool) Stop() {
	p.log.Info().Msg("stopping dispatch worker pool")
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info().Msg("dispatch worker pool stopped")
}
