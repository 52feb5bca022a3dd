// Package worker runs queued transcript jobs: retrying transcript creation for recordings stuck at
// recording_completed, and re-fetching transcripts that were not ready when the webhook arrived.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notetaker/backend/internal/bots"
	"github.com/notetaker/backend/internal/metrics"
	"github.com/notetaker/backend/pkg/queue"
)

// TranscriptManager is the part of the bot lifecycle manager the worker drives.
type TranscriptManager interface {
	RetryTranscript(ctx context.Context, meetingID uuid.UUID) error
	RefreshTranscript(ctx context.Context, botID, transcriptID string) error
}

// JobQueue is the Redis job queue.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) (bool, error)
}

// TranscriptProcessor processes transcript jobs.
type TranscriptProcessor struct {
	manager TranscriptManager
	queue   JobQueue
	metrics *metrics.Metrics
	logger  *zap.Logger
	backoff time.Duration
}

// NewTranscriptProcessor creates a transcript job processor.
func NewTranscriptProcessor(manager TranscriptManager, q JobQueue, m *metrics.Metrics, logger *zap.Logger) *TranscriptProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscriptProcessor{manager: manager, queue: q, metrics: m, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one job. Jobs addressing a meeting or bot that no longer exists are dropped.
func (p *TranscriptProcessor) Process(ctx context.Context, job *queue.Job) error {
	var err error
	switch job.Type {
	case queue.JobTypeTranscriptCreate:
		var payload queue.TranscriptCreatePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		err = p.manager.RetryTranscript(ctx, payload.MeetingID)
	case queue.JobTypeTranscriptFetch:
		var payload queue.TranscriptFetchPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		err = p.manager.RefreshTranscript(ctx, payload.BotID, payload.TranscriptID)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}

	if errors.Is(err, bots.ErrMeetingNotFound) || errors.Is(err, bots.ErrNoBot) {
		p.logger.Warn("dropping job for missing meeting", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}
	return err
}

// Run starts the worker loop: dequeue, process, retry on error, until ctx is done.
func (p *TranscriptProcessor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("transcript worker stopping")
			return
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx, p.backoff)
			continue
		}
		if job == nil {
			continue
		}

		log := p.logger.With(zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt))
		log.Debug("processing job")
		err = p.Process(ctx, job)
		p.metrics.Job(string(job.Type), err)
		if err == nil {
			continue
		}

		if errors.Is(err, bots.ErrTranscriptNotReady) {
			log.Info("transcript not ready, will retry")
		} else {
			log.Error("job failed", zap.Error(err))
		}
		dead, reErr := p.queue.Retry(ctx, job)
		switch {
		case reErr != nil:
			log.Error("retry enqueue failed", zap.Error(reErr))
		case dead:
			log.Warn("job moved to dead letter queue")
		}
		p.sleep(ctx, queue.Backoff(p.backoff, job.Attempt))
	}
}

func (p *TranscriptProcessor) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
