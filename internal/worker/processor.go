package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/image-bot/internal/domain"
	"github.com/cuongbtq/image-bot/internal/notifier"
)

// processJob runs one task through claim, transform, upload and delivery.
// A nil return acks the delivery.
func (w *Worker) processJob(ctx context.Context, task domain.TaskMessage) error {
	w.logger.Info("Processing job",
		slog.String("job_id", task.JobID),
		slog.String("worker_id", w.workerID),
	)

	job, err := w.store.ClaimJob(ctx, task.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			return w.resolveUnclaimable(ctx, task.JobID)
		}
		// nothing persisted yet, safe to redeliver
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	if !job.Options.SameEffect(task.Options) {
		w.logger.Warn("Task options differ from stored options, using stored",
			slog.String("job_id", job.ID),
			slog.Any("task_options", task.Options),
			slog.Any("stored_options", job.Options),
		)
	}

	plan := job.Options.Plan()
	if len(plan) == 0 {
		w.failJob(ctx, job, domain.ErrNoOptionsSelected)
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, domain.ErrNoOptionsSelected)
	}

	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, job.ID, heartbeatDone)
	defer close(heartbeatDone)

	result, err := w.executeJob(jobCtx, job, plan)
	if err != nil {
		w.failJob(ctx, job, err)
		return fmt.Errorf("job %s failed: %w", job.ID, err)
	}

	elapsed := time.Since(start)
	if err := w.store.MarkCompleted(ctx, job.ID, result.key, elapsed); err != nil {
		w.failJob(ctx, job, err)
		return fmt.Errorf("failed to mark job %s completed: %w", job.ID, err)
	}

	w.logger.Info("Job completed successfully",
		slog.String("job_id", job.ID),
		slog.Any("steps", plan.Kinds()),
		slog.Duration("elapsed", elapsed),
	)

	w.deliver(ctx, job, notifier.Result{
		JobID:            job.ID,
		Data:             result.data,
		Format:           result.format,
		Sticker:          plan.IsSticker(),
		ReplyToMessageID: job.Options.TelegramMessageID,
		ProcessingTime:   elapsed,
	})

	return nil
}

type jobResult struct {
	key    string
	data   []byte
	format domain.Format
}

// executeJob fetches the original, transforms it and stores the result
func (w *Worker) executeJob(ctx context.Context, job *domain.Job, plan domain.Plan) (*jobResult, error) {
	original, err := w.objects.Get(ctx, job.OriginalFileKey)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch original: %v", domain.ErrStorage, err)
	}

	out, err := w.transformer.Apply(ctx, original, plan)
	if err != nil {
		return nil, err
	}

	key := domain.ProcessedKey(job.UserID, job.ID, out.Format)
	if _, err := w.objects.Put(ctx, key, out.Data, out.ContentType); err != nil {
		return nil, fmt.Errorf("%w: failed to upload result: %v", domain.ErrStorage, err)
	}

	return &jobResult{key: key, data: out.Data, format: out.Format}, nil
}

// resolveUnclaimable decides what a lost claim means. Every outcome acks.
func (w *Worker) resolveUnclaimable(ctx context.Context, jobID string) error {
	job, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			w.logger.Warn("Task for unknown job, dropping", slog.String("job_id", jobID))
			return nil
		}
		return domain.NewRetryableError(fmt.Errorf("failed to load unclaimable job: %w", err))
	}

	switch {
	case job.Status.IsTerminal():
		w.logger.Info("Duplicate delivery for finished job, skipping",
			slog.String("job_id", jobID),
			slog.String("status", string(job.Status)),
		)
	case job.Status == domain.JobStatusProcessing:
		w.logger.Info("Job already claimed by another worker, skipping",
			slog.String("job_id", jobID),
		)
	case !job.IsEnqueued():
		w.logger.Warn("Task for job that was never confirmed, rejecting",
			slog.String("job_id", jobID),
		)
	default:
		w.logger.Warn("Job could not be claimed",
			slog.String("job_id", jobID),
			slog.String("status", string(job.Status)),
		)
	}
	return nil
}

// failJob persists FAILED and tells the user. Both steps are best effort.
func (w *Worker) failJob(ctx context.Context, job *domain.Job, cause error) {
	w.logger.Error("Job execution failed",
		slog.String("job_id", job.ID),
		slog.String("error", cause.Error()),
	)

	if err := w.store.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		w.logger.Error("Failed to update job status to FAILED",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	chatID, ok := w.chatID(ctx, job)
	if !ok {
		return
	}
	if err := w.notifier.SendFailure(ctx, chatID, job, failureReason(cause)); err != nil {
		w.logger.Warn("Failed to send failure notice",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// deliver sends the result. The job stays COMPLETED if delivery fails.
func (w *Worker) deliver(ctx context.Context, job *domain.Job, res notifier.Result) {
	chatID, ok := w.chatID(ctx, job)
	if !ok {
		return
	}
	if err := w.notifier.SendResult(ctx, chatID, res); err != nil {
		w.logger.Error("Failed to deliver result",
			slog.String("job_id", job.ID),
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) chatID(ctx context.Context, job *domain.Job) (int64, bool) {
	user, err := w.store.GetUserByID(ctx, job.UserID)
	if err != nil {
		w.logger.Error("Failed to load job owner",
			slog.String("job_id", job.ID),
			slog.Int64("user_id", job.UserID),
			slog.String("error", err.Error()),
		)
		return 0, false
	}
	return user.TelegramID, true
}

// failureReason is the short text shown to the user
func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "processing took too long"
	case errors.Is(err, domain.ErrStorage):
		return "file storage is unavailable"
	case errors.Is(err, domain.ErrValidation):
		return "the image could not be read"
	case errors.Is(err, domain.ErrNoOptionsSelected):
		return "no processing options were selected"
	default:
		return "processing error"
	}
}

// sendJobHeartbeat periodically touches the job row while it is processing
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.UpdateJobHeartbeat(ctx, jobID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
