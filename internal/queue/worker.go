package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/publome/publishing-api/internal/models"
	"github.com/publome/publishing-api/internal/service"
)

// HandleThreadStepTask runs one step of a chained thread job. The handler is
// re-entrant: it promotes pending jobs to processing on first contact and a
// delivery for an already-recorded step is a no-op.
func (q *Queue) HandleThreadStepTask(ctx context.Context, task *asynq.Task) error {
	var payload ThreadStepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		slog.Info(err.Error())
		return fmt.Errorf("malformed thread step payload: %v: %w", err, asynq.SkipRetry)
	}

	return q.ProcessStep(ctx, payload.JobID, payload.PostIndex)
}

// ProcessStep executes step i of the job: container create, readiness wait,
// publish, durable advance, then schedules step i+1 through the delayed queue.
func (q *Queue) ProcessStep(ctx context.Context, jobID int64, i int) error {
	job, err := q.tj.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		slog.Info(fmt.Sprintf("thread job %d not found, dropping task", jobID))
		return nil
	}

	if job.Status == models.ThreadJobStatusCompleted || job.Status == models.ThreadJobStatusFailed {
		return nil
	}

	if i < 0 || i >= len(job.Posts) {
		slog.Info(fmt.Sprintf("thread job %d: step index %d out of bounds (%d posts)", jobID, i, len(job.Posts)))
		return fmt.Errorf("step index out of bounds: %w", asynq.SkipRetry)
	}

	// Replayed delivery: the step's result is already durable, so never
	// publish again. If the job looks orphaned mid-flight (a crash after
	// recording but before enqueuing the continuation), reschedule the
	// current step instead.
	if job.CurrentIndex > i {
		log.Printf("Thread job %d step %d already handled (current_index=%d)", jobID, i, job.CurrentIndex)
		if job.CurrentIndex < len(job.Posts) {
			prev := job.MediaAt(job.CurrentIndex - 1)
			next := job.MediaAt(job.CurrentIndex)
			delay := NextStepDelay(prev.Kind != models.MediaKindNone, next.Kind)
			return q.enqueueNext(ThreadStepPayload{JobID: jobID, PostIndex: job.CurrentIndex}, delay)
		}
		return nil
	}
	if job.CurrentIndex < i {
		slog.Info(fmt.Sprintf("thread job %d: step %d delivered ahead of current_index %d, dropping", jobID, i, job.CurrentIndex))
		return nil
	}

	if job.Status == models.ThreadJobStatusPending {
		if err := q.tj.MarkProcessing(ctx, job.ID); err != nil {
			return err
		}
	}

	acc, err := q.ac.GetByID(ctx, job.AccountID)
	if err != nil {
		return q.failStep(ctx, job, err)
	}
	if acc == nil {
		return q.failStep(ctx, job, service.NewPublishError(models.PlatformThreads, service.ErrCodeNoAccount, false,
			fmt.Errorf("social account %d not found", job.AccountID)))
	}

	var previousPostID string
	if i > 0 {
		previousPostID = job.PublishedPostIDs[i-1]
	}

	text := service.NormalizeContent(job.Posts[i])
	media := job.MediaAt(i)

	containerID, err := q.ts.CreateContainer(ctx, acc, text, media, previousPostID)
	if err != nil {
		return q.failStep(ctx, job, err)
	}

	if media.Kind != models.MediaKindNone {
		if err := q.ts.WaitForContainer(ctx, acc, containerID, media.Kind); err != nil {
			return q.failStep(ctx, job, err)
		}
	} else {
		// No processing to poll for, but the backend still needs a short
		// settle window before the container may be published.
		select {
		case <-ctx.Done():
			return q.failStep(ctx, job, ctx.Err())
		case <-time.After(q.settleWait):
		}
	}

	publishedID, err := q.ts.PublishContainer(ctx, acc, containerID)
	if err != nil {
		return q.failStep(ctx, job, err)
	}

	advanced, err := q.tj.AdvanceStep(ctx, job.ID, i, publishedID)
	if err != nil {
		// The remote post exists and cannot be un-published; retrying the
		// step would duplicate it. Record loudly and let the next natural
		// delivery observe the job state.
		slog.Error(fmt.Sprintf("thread job %d: published %s at step %d but failed to persist progress: %v", job.ID, publishedID, i, err))
		return nil
	}
	if !advanced {
		log.Printf("Thread job %d step %d was recorded by a concurrent delivery, skipping", job.ID, i)
		return nil
	}

	if i+1 == len(job.Posts) {
		return q.completeJob(ctx, job, publishedID)
	}

	next := job.MediaAt(i + 1)
	delay := NextStepDelay(media.Kind != models.MediaKindNone, next.Kind)
	if err := q.enqueueNext(ThreadStepPayload{JobID: job.ID, PostIndex: i + 1}, delay); err != nil {
		slog.Error(fmt.Sprintf("thread job %d: failed to enqueue step %d: %v", job.ID, i+1, err))
		return err
	}

	return nil
}

func (q *Queue) enqueueNext(payload ThreadStepPayload, delay time.Duration) error {
	if q.enqueue != nil {
		return q.enqueue(payload, delay)
	}
	return EnqueueThreadStep(q.client, payload, delay)
}

func (q *Queue) completeJob(ctx context.Context, job *models.ThreadJob, lastPublishedID string) error {
	if err := q.tj.MarkCompleted(ctx, job.ID); err != nil {
		return err
	}

	rootID := lastPublishedID
	if len(job.PublishedPostIDs) > 0 {
		rootID = job.PublishedPostIDs[0]
	}

	// Propagate to the originating scheduled post, when there is one, with a
	// synthesized single-platform result.
	if job.PostID != nil {
		results := []models.PostResult{{
			Platform: models.PlatformThreads,
			Success:  true,
			PostID:   rootID,
		}}
		if err := q.pr.SetOutcome(ctx, *job.PostID, models.PostStatusPosted, results, ""); err != nil {
			slog.Error(fmt.Sprintf("thread job %d completed but updating post %d failed: %v", job.ID, *job.PostID, err))
		}
	}

	log.Printf("Thread job %d completed (%d posts)", job.ID, len(job.Posts))
	return nil
}

// failStep applies the retry policy: non-retryable errors terminate the job
// immediately; retryable ones burn one unit of the retry budget and are left
// for redelivery until the ceiling, at which point the job goes terminal.
func (q *Queue) failStep(ctx context.Context, job *models.ThreadJob, stepErr error) error {
	var pubErr *service.PublishError
	if errors.As(stepErr, &pubErr) && !pubErr.Retryable {
		if err := q.tj.MarkFailed(ctx, job.ID, stepErr.Error()); err != nil {
			slog.Info(err.Error())
		}
		return nil
	}

	retryCount := job.RetryCount + 1
	if err := q.tj.RecordRetry(ctx, job.ID, retryCount, stepErr.Error()); err != nil {
		slog.Info(err.Error())
	}

	if retryCount >= threadStepMaxRetries {
		if err := q.tj.MarkFailed(ctx, job.ID, stepErr.Error()); err != nil {
			slog.Info(err.Error())
		}
		log.Printf("Thread job %d failed terminally after %d retries: %v", job.ID, retryCount, stepErr)
		return nil
	}

	// Soft failure: surface the error so the queue redelivers the same step.
	return stepErr
}
