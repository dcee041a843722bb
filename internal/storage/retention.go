package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper deletes delivery records past their expires_at. Expiry is stamped at
// ingestion from the account's retention tier; this loop is the only cleanup.
type Sweeper struct {
	store    Store
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewSweeper(store Store, interval time.Duration, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				purged, err := s.store.PurgeExpired(ctx, time.Now().UTC())
				if err != nil {
					s.log.Error().Err(err).Msg("failed to purge expired delivery records")
					continue
				}
				if purged > 0 {
					s.log.Info().Int64("count", purged).Msg("purged expired delivery records")
				}
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	close(s.stop)
	s.wg.Wait()
}
