// Package worker runs the background archive processor: completed
// conversion outputs are copied to S3 before the retention sweeper reaps
// the local file. The local copy remains the download source of truth;
// archival failure never affects job state.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mediaforge/backend/pkg/queue"
	"github.com/mediaforge/backend/pkg/storage"
)

// ArchiveProcessor consumes archive jobs and uploads outputs to S3.
type ArchiveProcessor struct {
	s3     *storage.S3
	queue  *queue.Queue
	logger *zap.Logger
}

// NewArchiveProcessor creates an archive processor.
func NewArchiveProcessor(s3 *storage.S3, q *queue.Queue, logger *zap.Logger) *ArchiveProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveProcessor{s3: s3, queue: q, logger: logger}
}

// Process executes one archive job.
func (p *ArchiveProcessor) Process(ctx context.Context, job *queue.Job) error {
	var payload queue.ArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	if _, err := os.Stat(payload.OutputPath); err != nil {
		// The sweeper may have reaped the file before we got to it.
		// Nothing to archive; not worth a retry.
		p.logger.Warn("archive source missing, skipping",
			zap.String("job_id", payload.JobID),
			zap.String("path", payload.OutputPath),
		)
		return nil
	}

	key := storage.ArchiveKey(payload.UserID.String(), payload.OutputFileName)
	url, err := p.s3.UploadFile(ctx, payload.OutputPath, key)
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	p.logger.Info("output archived",
		zap.String("job_id", payload.JobID),
		zap.String("s3_key", key),
		zap.String("url", url),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ArchiveProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("archive worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing archive job", zap.String("queue_job_id", job.ID))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("archive job failed", zap.String("queue_job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
		}
	}
}
