package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueTranscripts is the Redis list key for transcript jobs.
	QueueTranscripts = "worker:transcripts"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// MaxFetchRetries is the retry budget for transcript_fetch jobs, which wait on the provider.
	MaxFetchRetries = 10
	// RetryBackoff is the delay before the first retry. Later retries double it.
	RetryBackoff = 10 * time.Second
	// MaxRetryBackoff caps the doubled delay.
	MaxRetryBackoff = 5 * time.Minute
)

// JobType identifies the job kind.
type JobType string

const (
	// JobTypeTranscriptCreate asks the provider to create a transcript for a finished recording.
	JobTypeTranscriptCreate JobType = "transcript_create"
	// JobTypeTranscriptFetch downloads and stores a transcript once the provider reports it done.
	JobTypeTranscriptFetch JobType = "transcript_fetch"
)

// MaxAttempts returns the retry budget for the job type.
func MaxAttempts(t JobType) int {
	if t == JobTypeTranscriptFetch {
		return MaxFetchRetries
	}
	return MaxRetries
}

// Backoff returns the delay after the given attempt: base doubled per earlier attempt, capped at
// MaxRetryBackoff.
func Backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= MaxRetryBackoff {
			return MaxRetryBackoff
		}
	}
	return d
}

// TranscriptCreatePayload is the payload for transcript_create jobs.
type TranscriptCreatePayload struct {
	MeetingID   uuid.UUID `json:"meeting_id"`
	BotID       string    `json:"bot_id"`
	RecordingID string    `json:"recording_id"`
}

// TranscriptFetchPayload is the payload for transcript_fetch jobs.
type TranscriptFetchPayload struct {
	MeetingID    uuid.UUID `json:"meeting_id"`
	BotID        string    `json:"bot_id"`
	TranscriptID string    `json:"transcript_id"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// NewJob wraps a payload in a fresh job envelope.
func NewJob(jobType JobType, payload any) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   body,
		CreatedAt: time.Now(),
	}, nil
}

func (q *Queue) enqueue(ctx context.Context, jobType JobType, payload any, fields ...zap.Field) error {
	job, err := NewJob(jobType, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueTranscripts, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued job", append(fields, zap.String("job_id", job.ID), zap.String("type", string(jobType)))...)
	return nil
}

// EnqueueTranscriptCreate enqueues a transcript creation retry.
func (q *Queue) EnqueueTranscriptCreate(ctx context.Context, payload TranscriptCreatePayload) error {
	return q.enqueue(ctx, JobTypeTranscriptCreate, payload,
		zap.String("meeting_id", payload.MeetingID.String()), zap.String("recording_id", payload.RecordingID))
}

// EnqueueTranscriptFetch enqueues a transcript download that waits for the provider to finish.
func (q *Queue) EnqueueTranscriptFetch(ctx context.Context, payload TranscriptFetchPayload) error {
	return q.enqueue(ctx, JobTypeTranscriptFetch, payload,
		zap.String("meeting_id", payload.MeetingID.String()), zap.String("transcript_id", payload.TranscriptID))
}

// Dequeue blocks until a job is available or ctx is done. Returns job and key (queue name).
func (q *Queue) Dequeue(ctx context.Context) (*Job, string, error) {
	result, err := q.client.BLPop(ctx, 0, QueueTranscripts).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	return &job, result[0], nil
}

// Retry re-enqueues a job with incremented attempt. Once the attempt reaches the type's MaxAttempts
// it pushes to the DLQ instead.
// It reports whether the job went to the DLQ.
func (q *Queue) Retry(ctx context.Context, job *Job) (bool, error) {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return false, err
	}
	if job.Attempt >= MaxAttempts(job.Type) {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return false, err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return true, nil
	}
	if err := q.client.RPush(ctx, QueueTranscripts, raw).Err(); err != nil {
		return false, err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return false, nil
}

// DeadLetters returns up to limit jobs from the DLQ without removing them.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	raws, err := q.client.LRange(ctx, QueueDLQ, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(raws))
	for _, raw := range raws {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
