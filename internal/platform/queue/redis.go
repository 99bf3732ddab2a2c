package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const dequeueBlockTimeout = 5 * time.Second

// RedisQueue delivers jobs through a Redis list so the API server and workers
// can run as separate processes. Delivery is at-least-once: a worker that
// dies after BRPOP loses the job's in-flight progress but reprocessing is
// safe because reconciliation is idempotent.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue connects to Redis using a redis:// URL and uses key as the
// list name for pending jobs.
func NewRedisQueue(ctx context.Context, url, key string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisQueue{client: client, key: key}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.TaskID, err)
	}
	return nil
}

// Dequeue blocks until a job arrives or ctx is cancelled. BRPOP uses a short
// timeout in a loop so cancellation is observed promptly.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vals, err := q.client.BRPop(ctx, dequeueBlockTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("dequeue: %w", err)
		}

		// BRPOP returns [key, value].
		var job Job
		if err := json.Unmarshal([]byte(vals[1]), &job); err != nil {
			return nil, fmt.Errorf("unmarshal job: %w", err)
		}
		return &job, nil
	}
}

// Close releases the underlying Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// RedisStatusStore keeps task statuses in Redis with a TTL so completed task
// records expire instead of accumulating forever.
type RedisStatusStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStatusStore(ctx context.Context, url string, ttl time.Duration) (*RedisStatusStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStatusStore{client: client, ttl: ttl}, nil
}

func statusKey(taskID string) string {
	return "intake:task:" + taskID
}

func (s *RedisStatusStore) Set(ctx context.Context, status TaskStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := s.client.Set(ctx, statusKey(status.TaskID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("set status %s: %w", status.TaskID, err)
	}
	return nil
}

func (s *RedisStatusStore) Get(ctx context.Context, taskID string) (*TaskStatus, error) {
	payload, err := s.client.Get(ctx, statusKey(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get status %s: %w", taskID, err)
	}

	var status TaskStatus
	if err := json.Unmarshal([]byte(payload), &status); err != nil {
		return nil, fmt.Errorf("unmarshal status: %w", err)
	}
	return &status, nil
}

// Close releases the underlying Redis connection.
func (s *RedisStatusStore) Close() error {
	return s.client.Close()
}
