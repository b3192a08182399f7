package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"promptarena-backend/internal/models"
)

const defaultJobRetries = 2

// JobQueue keeps background jobs in Redis lists, one list per job type.
type JobQueue struct {
	redis      *redis.Client
	maxRetries int
}

func NewJobQueue(client *redis.Client, maxRetries int) *JobQueue {
	if maxRetries < 0 {
		maxRetries = defaultJobRetries
	}
	return &JobQueue{redis: client, maxRetries: maxRetries}
}

func QueueName(jobType string) string {
	return "queue:" + jobType
}

func pendingKey(jobType string, sessionID uuid.UUID) string {
	return fmt.Sprintf("job_pending:%s:%s", jobType, sessionID)
}

// Enqueue pushes a new job unless one of the same type is already pending for
// the session. It reports whether a job was queued.
func (q *JobQueue) Enqueue(ctx context.Context, jobType string, userID, sessionID uuid.UUID) (bool, error) {
	fresh, err := q.redis.SetNX(ctx, pendingKey(jobType, sessionID), "1", 10*time.Minute).Result()
	if err != nil {
		return false, err
	}
	if !fresh {
		return false, nil
	}

	job := &models.Job{
		ID:         uuid.New(),
		Type:       jobType,
		UserID:     userID,
		SessionID:  sessionID,
		MaxRetries: q.maxRetries,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := q.push(ctx, job); err != nil {
		q.redis.Del(ctx, pendingKey(jobType, sessionID))
		return false, err
	}
	return true, nil
}

func (q *JobQueue) push(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.redis.LPush(ctx, QueueName(job.Type), data).Err()
}

// Requeue pushes a failed job back after delay.
func (q *JobQueue) Requeue(job *models.Job, delay time.Duration) {
	time.AfterFunc(delay, func() {
		q.push(context.Background(), job)
	})
}

// Dequeue blocks up to timeout for the oldest job on any of the given types.
// It returns (nil, nil) on timeout.
func (q *JobQueue) Dequeue(ctx context.Context, timeout time.Duration, jobTypes ...string) (*models.Job, error) {
	queues := make([]string, len(jobTypes))
	for i, t := range jobTypes {
		queues[i] = QueueName(t)
	}

	result, err := q.redis.BRPop(ctx, timeout, queues...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}

	var job models.Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to parse job: %w", err)
	}
	return &job, nil
}

// Lock claims a job for one worker. Once claimed, the job no longer counts as
// pending: a prompt submitted while it runs queues a fresh job, since this
// one may already have loaded the older prompt list.
func (q *JobQueue) Lock(ctx context.Context, job *models.Job, ttl time.Duration) (bool, error) {
	locked, err := q.redis.SetNX(ctx, lockKey(job.ID), "1", ttl).Result()
	if err != nil || !locked {
		return locked, err
	}
	if err := q.redis.Del(ctx, pendingKey(job.Type, job.SessionID)).Err(); err != nil {
		return true, fmt.Errorf("failed to clear pending marker: %w", err)
	}
	return true, nil
}

// Release drops the job lock.
func (q *JobQueue) Release(ctx context.Context, job *models.Job) {
	q.redis.Del(ctx, lockKey(job.ID))
}

func lockKey(jobID uuid.UUID) string {
	return "job_lock:" + jobID.String()
}
