package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/image-bot/internal/domain"
	"github.com/google/uuid"
)

// CreateJob records a pending job for an already uploaded original
func (o *Orchestrator) CreateJob(ctx context.Context, userID int64, filename, originalKey string) (*domain.Job, error) {
	if originalKey == "" {
		return nil, fmt.Errorf("%w: original object key is required", domain.ErrValidation)
	}

	now := o.now()
	job := &domain.Job{
		ID:               uuid.NewString(),
		UserID:           userID,
		OriginalFilename: filename,
		OriginalFileKey:  originalKey,
		Status:           domain.JobStatusPending,
		Options:          domain.DefaultOptions(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	o.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.Int64("user_id", userID),
		slog.String("original_key", originalKey),
	)
	return job, nil
}

// CreateJobFromUpload stores the original and creates its job. The object is
// removed again if the job row cannot be written.
func (o *Orchestrator) CreateJobFromUpload(ctx context.Context, user *domain.User, filename, contentType string, data []byte) (*domain.Job, error) {
	key := domain.OriginalKey(user.TelegramID, contentType, filename)

	if _, err := o.objects.Put(ctx, key, data, contentType); err != nil {
		o.logger.Error("Failed to upload original",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	job, err := o.CreateJob(ctx, user.ID, filename, key)
	if err != nil {
		if delErr := o.objects.Delete(ctx, key); delErr != nil {
			o.logger.Warn("Failed to remove orphaned original",
				slog.String("key", key),
				slog.Any("error", delErr),
			)
		}
		return nil, err
	}
	return job, nil
}

// GetJob returns a job owned by userID
func (o *Orchestrator) GetJob(ctx context.Context, jobID string, userID int64) (*domain.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

// ToggleOption flips a boolean option of an editable job
func (o *Orchestrator) ToggleOption(ctx context.Context, jobID string, userID int64, option domain.Option) (*domain.Job, error) {
	return o.editOptions(ctx, jobID, userID, func(opts domain.Options) (domain.Options, error) {
		return opts.Toggle(option)
	})
}

// SetTargetFormat selects or clears the conversion target of an editable job
func (o *Orchestrator) SetTargetFormat(ctx context.Context, jobID string, userID int64, format domain.Format) (*domain.Job, error) {
	return o.editOptions(ctx, jobID, userID, func(opts domain.Options) (domain.Options, error) {
		return opts.WithTargetFormat(format)
	})
}

// editOptions applies edit with an optimistic version check, re-reading the
// job when a concurrent writer got there first
func (o *Orchestrator) editOptions(ctx context.Context, jobID string, userID int64, edit func(domain.Options) (domain.Options, error)) (*domain.Job, error) {
	for attempt := 1; attempt <= o.toggleRetries; attempt++ {
		job, err := o.GetJob(ctx, jobID, userID)
		if err != nil {
			return nil, err
		}

		if !job.IsEditable() {
			return nil, fmt.Errorf("%w: job %s is %s", domain.ErrInvalidState, job.ShortID(), job.Status)
		}

		opts, err := edit(job.Options)
		if err != nil {
			return nil, err
		}

		err = o.store.UpdateJobOptions(ctx, jobID, opts, job.Version)
		if err == nil {
			job.Options = opts
			job.Version++
			return job, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to update options: %w", err)
		}

		o.logger.Debug("Options update lost a race, retrying",
			slog.String("job_id", jobID),
			slog.Int("attempt", attempt),
		)
	}

	return nil, fmt.Errorf("%w: job %s is being modified concurrently", domain.ErrInvalidState, jobID)
}
