package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuongbtq/image-bot/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Tx is the set of row-locking operations available inside InTx.
// Locks are taken jobs first, then the user, so concurrent confirms never deadlock.
type Tx interface {
	// LockJobs locks the given jobs FOR UPDATE and returns those that exist, ordered by id
	LockJobs(ctx context.Context, jobIDs []string) ([]domain.Job, error)
	// LockUser locks the user row FOR UPDATE and returns its current quota
	LockUser(ctx context.Context, userID int64) (*domain.User, error)
	// DebitQuota adds n to the user's quota_used
	DebitQuota(ctx context.Context, userID int64, n int) error
	// MarkEnqueued stores stamped options and sets enqueued_at
	MarkEnqueued(ctx context.Context, jobID string, opts domain.Options) error
}

// InTx runs fn in a single database transaction
func (s *Storage) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.pg.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&lockingTx{tx: tx})
	})
}

type lockingTx struct {
	tx *sqlx.Tx
}

func (t *lockingTx) LockJobs(ctx context.Context, jobIDs []string) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE`

	var jobs []domain.Job
	if err := t.tx.SelectContext(ctx, &jobs, query, pq.Array(jobIDs)); err != nil {
		return nil, fmt.Errorf("failed to lock jobs: %w", err)
	}
	return jobs, nil
}

func (t *lockingTx) LockUser(ctx context.Context, userID int64) (*domain.User, error) {
	var user domain.User
	err := t.tx.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}
	return &user, nil
}

func (t *lockingTx) DebitQuota(ctx context.Context, userID int64, n int) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE users SET quota_used = quota_used + $1, updated_at = NOW() WHERE id = $2`, n, userID)
	if err != nil {
		return fmt.Errorf("failed to debit quota: %w", err)
	}
	return nil
}

func (t *lockingTx) MarkEnqueued(ctx context.Context, jobID string, opts domain.Options) error {
	query := `
		UPDATE jobs
		SET processing_options = $1,
		    enqueued_at = NOW(),
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $2 AND enqueued_at IS NULL
	`

	result, err := t.tx.ExecContext(ctx, query, opts, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job enqueued: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: job %s already enqueued", domain.ErrInvalidState, jobID)
	}
	return nil
}
