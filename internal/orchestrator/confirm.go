package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/image-bot/internal/domain"
	"github.com/cuongbtq/image-bot/internal/storage"
)

// Confirmation is the outcome of ConfirmAndEnqueue
type Confirmation struct {
	Job *domain.Job
	// AlreadyEnqueued is set when the job had been confirmed before; nothing was debited
	AlreadyEnqueued bool
	// Published is false when the broker rejected the task; the republisher retries it
	Published bool
	// QuotaRemaining is -1 for unlimited tiers
	QuotaRemaining int
}

// BatchOptions are applied to every job of a batch before confirming it
type BatchOptions struct {
	RemoveBackground bool
	AsSticker        bool
}

func (b BatchOptions) apply(opts domain.Options) domain.Options {
	if b.RemoveBackground {
		opts.RemoveBackground = true
	}
	if b.AsSticker {
		opts.AsSticker = true
	}
	return opts
}

// BatchResult is the outcome of BatchConfirm
type BatchResult struct {
	Count          int
	Published      int
	QuotaRemaining int
}

// ConfirmAndEnqueue debits one quota unit and enqueues the job. The debit,
// the options stamp and the enqueued marker commit together; repeating the
// call for a confirmed job succeeds without a second debit.
func (o *Orchestrator) ConfirmAndEnqueue(ctx context.Context, jobID string, userID int64, messageID int) (*Confirmation, error) {
	conf := &Confirmation{}

	err := o.store.InTx(ctx, func(tx storage.Tx) error {
		jobs, err := tx.LockJobs(ctx, []string{jobID})
		if err != nil {
			return err
		}
		if len(jobs) == 0 || jobs[0].UserID != userID {
			return domain.ErrJobNotFound
		}
		job := jobs[0]

		if job.IsEnqueued() {
			conf.Job = &job
			conf.AlreadyEnqueued = true
			return nil
		}
		if job.Status != domain.JobStatusPending {
			return fmt.Errorf("%w: job %s is %s", domain.ErrInvalidState, job.ShortID(), job.Status)
		}
		if !job.Options.HasEffect() {
			return domain.ErrNoOptionsSelected
		}

		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if !user.CanDebit(1) {
			return domain.ErrQuotaExceeded
		}

		if err := tx.DebitQuota(ctx, userID, 1); err != nil {
			return err
		}
		user.QuotaUsed++

		job.Options = job.Options.Stamp(user.Tier, messageID)
		if err := tx.MarkEnqueued(ctx, job.ID, job.Options); err != nil {
			return err
		}

		now := o.now()
		job.EnqueuedAt = &now
		job.Version++
		conf.Job = &job
		conf.QuotaRemaining = user.RemainingQuota()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if conf.AlreadyEnqueued {
		o.logger.Info("Job already confirmed, skipping debit",
			slog.String("job_id", jobID),
		)
		if conf.Job.PublishedAt == nil && conf.Job.Status == domain.JobStatusPending {
			conf.Published = o.publish(ctx, conf.Job)
		} else {
			conf.Published = conf.Job.PublishedAt != nil
		}
		return conf, nil
	}

	o.logger.Info("Job confirmed and quota debited",
		slog.String("job_id", jobID),
		slog.Int64("user_id", userID),
		slog.Int("quota_remaining", conf.QuotaRemaining),
	)

	conf.Published = o.publish(ctx, conf.Job)
	return conf, nil
}

// BatchConfirm applies opts to all jobs and confirms them in one transaction.
// The whole batch is rejected if any job is not editable or if the user's
// quota cannot cover all of them.
func (o *Orchestrator) BatchConfirm(ctx context.Context, userID int64, jobIDs []string, opts BatchOptions) (*BatchResult, error) {
	ids := uniqueIDs(jobIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no jobs to process", domain.ErrValidation)
	}
	if len(ids) > o.maxBatchSize {
		return nil, fmt.Errorf("%w: batch of %d exceeds limit %d", domain.ErrValidation, len(ids), o.maxBatchSize)
	}

	result := &BatchResult{}
	var confirmed []domain.Job

	err := o.store.InTx(ctx, func(tx storage.Tx) error {
		jobs, err := tx.LockJobs(ctx, ids)
		if err != nil {
			return err
		}
		if len(jobs) != len(ids) {
			return domain.ErrJobNotFound
		}

		for i := range jobs {
			job := &jobs[i]
			if job.UserID != userID {
				return domain.ErrJobNotFound
			}
			if !job.IsEditable() {
				return fmt.Errorf("%w: job %s is no longer pending", domain.ErrInvalidState, job.ShortID())
			}
			job.Options = opts.apply(job.Options)
			if !job.Options.HasEffect() {
				return domain.ErrNoOptionsSelected
			}
		}

		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if !user.CanDebit(len(jobs)) {
			return domain.ErrQuotaExceeded
		}

		if err := tx.DebitQuota(ctx, userID, len(jobs)); err != nil {
			return err
		}
		user.QuotaUsed += len(jobs)

		now := o.now()
		for i := range jobs {
			jobs[i].Options = jobs[i].Options.Stamp(user.Tier, 0)
			if err := tx.MarkEnqueued(ctx, jobs[i].ID, jobs[i].Options); err != nil {
				return err
			}
			jobs[i].EnqueuedAt = &now
		}

		confirmed = jobs
		result.Count = len(jobs)
		result.QuotaRemaining = user.RemainingQuota()
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("Batch confirmed",
		slog.Int64("user_id", userID),
		slog.Int("count", result.Count),
	)

	for i := range confirmed {
		if o.publish(ctx, &confirmed[i]) {
			result.Published++
		}
	}
	return result, nil
}

// publish sends the task after commit. A failure leaves published_at unset
// so the republisher picks the job up later.
func (o *Orchestrator) publish(ctx context.Context, job *domain.Job) bool {
	if err := o.publisher.Publish(ctx, domain.NewTaskMessage(job)); err != nil {
		o.logger.Error("Failed to publish task, leaving it for the republisher",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return false
	}

	if err := o.store.MarkPublished(ctx, job.ID); err != nil {
		o.logger.Warn("Task published but not marked",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}
	return true
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
