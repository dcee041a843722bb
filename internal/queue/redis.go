package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richytech/webhookrelay/internal/models"
)

type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	PoolSize  int    `json:"pool_size"`
	Namespace string `json:"namespace"`
}

// RedisQueue keeps immediate jobs in a ready list, delayed jobs in a sorted
// set scored by their ready time, and in-flight jobs in a processing list.
// Dequeue moves ready→processing atomically (RPOPLPUSH) so no two workers hold
// the same job; Ack removes it. On construction the processing list is drained
// back to ready, re-delivering jobs a crashed worker held.
type RedisQueue struct {
	rdb      *redis.Client
	ns       string
	pollRate time.Duration
}

func NewRedis(cfg RedisConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		cfg.Address = "localhost:6379"
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 10
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "webhookrelay"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	q := &RedisQueue{
		rdb:      rdb,
		ns:       cfg.Namespace,
		pollRate: 100 * time.Millisecond,
	}

	if err := q.recover(ctx); err != nil {
		rdb.Close()
		return nil, err
	}

	return q, nil
}

func (q *RedisQueue) readyKey() string      { return q.ns + ":ready" }
func (q *RedisQueue) delayedKey() string    { return q.ns + ":delayed" }
func (q *RedisQueue) processingKey() string { return q.ns + ":processing" }

// recover requeues jobs a previous process left in flight.
func (q *RedisQueue) recover(ctx context.Context) error {
	for {
		val, err := q.rdb.RPopLPush(ctx, q.processingKey(), q.readyKey()).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to recover in-flight jobs: %w", err)
		}
		_ = val
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job, delay time.Duration) (string, error) {
	if job.ID == "" {
		job.ID = models.NewID("job")
	}
	job.EnqueuedAt = time.Now().UTC()

	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	if delay > 0 {
		readyAt := float64(time.Now().Add(delay).UnixMilli())
		if err := q.rdb.ZAdd(ctx, q.delayedKey(), &redis.Z{Score: readyAt, Member: string(data)}).Err(); err != nil {
			return "", fmt.Errorf("failed to enqueue delayed job: %w", err)
		}
		return job.ID, nil
	}

	if err := q.rdb.LPush(ctx, q.readyKey(), string(data)).Err(); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job.ID, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	ticker := time.NewTicker(q.pollRate)
	defer ticker.Stop()

	for {
		if err := q.promoteDue(ctx); err != nil {
			return nil, err
		}

		val, err := q.rdb.RPopLPush(ctx, q.readyKey(), q.processingKey()).Result()
		if err == nil {
			var job Job
			if uerr := json.Unmarshal([]byte(val), &job); uerr != nil {
				// Drop the malformed entry so it cannot wedge the queue.
				q.rdb.LRem(ctx, q.processingKey(), 1, val)
				return nil, fmt.Errorf("failed to unmarshal job: %w", uerr)
			}
			job.raw = val
			return &job, nil
		}
		if err != redis.Nil {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// promoteDue moves delayed jobs whose ready time has passed onto the ready
// list. ZRem guards against two consumers promoting the same member.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: 100,
	}).Result()
	if err != nil {
		return err
	}

	for _, member := range due {
		removed, err := q.rdb.ZRem(ctx, q.delayedKey(), member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, q.readyKey(), member).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	if job.raw == "" {
		return nil
	}
	return q.rdb.LRem(ctx, q.processingKey(), 1, job.raw).Err()
}

func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}
