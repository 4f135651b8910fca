package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/image-bot/internal/domain"
)

// JobFilter narrows ListJobs and CountJobs
type JobFilter struct {
	UserID       int64
	Status       domain.JobStatus
	Since        time.Time
	OnlyEditable bool // pending and never confirmed
	PageSize     int
	Offset       int
	Cursor       *JobCursor
}

// JobCursor marks the last row of a page for keyset pagination
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// CreateJob inserts a new job row
func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			id, user_id, original_filename, original_file_key,
			status, processing_options, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.UserID,
		job.OriginalFilename,
		job.OriginalFileKey,
		job.Status,
		job.Options,
		job.Version,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by id
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	err := s.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// UpdateJobOptions writes new options if the job is still editable and its
// version matches. Returns domain.ErrVersionConflict otherwise.
func (s *Storage) UpdateJobOptions(ctx context.Context, jobID string, opts domain.Options, version int64) error {
	query := `
		UPDATE jobs
		SET processing_options = $1,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $2
		  AND status = $3
		  AND enqueued_at IS NULL
		  AND version = $4
	`

	result, err := s.db.ExecContext(ctx, query, opts, jobID, domain.JobStatusPending, version)
	if err != nil {
		return fmt.Errorf("failed to update job options: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrVersionConflict
	}

	return nil
}

// ListJobs returns jobs newest first. One extra row is fetched so callers can
// tell whether another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	where, args := buildJobFilter(filter, true)
	argIdx := len(args) + 1

	query := `SELECT ` + jobColumns + ` FROM jobs` + where +
		" ORDER BY created_at DESC, id DESC" +
		fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx+1)
		args = append(args, filter.Offset)
	}

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// CountJobs counts jobs matching the filter, ignoring paging fields
func (s *Storage) CountJobs(ctx context.Context, filter JobFilter) (int, error) {
	where, args := buildJobFilter(filter, false)

	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM jobs`+where, args...); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

func buildJobFilter(filter JobFilter, withCursor bool) (string, []any) {
	where := " WHERE 1=1"
	args := []any{}
	argIdx := 1

	if filter.UserID != 0 {
		where += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}

	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if !filter.Since.IsZero() {
		where += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.Since)
		argIdx++
	}

	if filter.OnlyEditable {
		where += fmt.Sprintf(" AND status = $%d AND enqueued_at IS NULL", argIdx)
		args = append(args, domain.JobStatusPending)
		argIdx++
	}

	if withCursor && filter.Cursor != nil {
		where += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
	}

	return where, args
}

// ClaimJob moves an enqueued job from pending to processing. Only one caller
// can win; the others get domain.ErrJobAlreadyClaimed.
func (s *Storage) ClaimJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $2
		  AND status = $3
		  AND enqueued_at IS NOT NULL
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, domain.JobStatusProcessing, jobID, domain.JobStatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed",
		slog.String("job_id", jobID),
		slog.Int64("version", job.Version),
	)

	return &job, nil
}

// UpdateJobHeartbeat touches updated_at of a processing job
func (s *Storage) UpdateJobHeartbeat(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (job may not be processing)",
			slog.String("job_id", jobID),
		)
	}

	return nil
}

// MarkCompleted records the result of a processing job
func (s *Storage) MarkCompleted(ctx context.Context, jobID, processedKey string, elapsed time.Duration) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    processed_file_key = $2,
		    processing_time_seconds = $3,
		    error_message = NULL,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $4 AND status = $5
	`

	return s.finishJob(ctx, jobID, domain.JobStatusCompleted, query,
		domain.JobStatusCompleted, processedKey, elapsed.Seconds(), jobID, domain.JobStatusProcessing)
}

// MarkFailed records a failure on a processing job. The message is truncated.
func (s *Storage) MarkFailed(ctx context.Context, jobID, errorMsg string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    error_message = $2,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $3 AND status = $4
	`

	return s.finishJob(ctx, jobID, domain.JobStatusFailed, query,
		domain.JobStatusFailed, domain.TruncateErrorMessage(errorMsg), jobID, domain.JobStatusProcessing)
}

func (s *Storage) finishJob(ctx context.Context, jobID string, status domain.JobStatus, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: job %s is not processing", domain.ErrInvalidState, jobID)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(status)),
	)
	return nil
}

// MarkPublished records that the task message reached the broker
func (s *Storage) MarkPublished(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET published_at = NOW() WHERE id = $1 AND published_at IS NULL`, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job published: %w", err)
	}
	return nil
}

// ListUnpublished returns confirmed pending jobs whose task was never
// acknowledged by the broker and that were enqueued before the cutoff
func (s *Storage) ListUnpublished(ctx context.Context, enqueuedBefore time.Time, limit int) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE enqueued_at IS NOT NULL
		  AND published_at IS NULL
		  AND status = $1
		  AND enqueued_at < $2
		ORDER BY enqueued_at
		LIMIT $3`

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, domain.JobStatusPending, enqueuedBefore, limit); err != nil {
		return nil, fmt.Errorf("failed to list unpublished jobs: %w", err)
	}
	return jobs, nil
}
