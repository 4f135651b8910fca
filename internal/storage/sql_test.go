package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/image-bot/internal/domain"
	"github.com/cuongbtq/image-bot/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqlLike(fragment string) string {
	return strings.Join(strings.Fields(regexp.QuoteMeta(fragment)), `\s+`)
}

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pg := postgresql.NewFromDB(sqlx.NewDb(db, "postgres"), &postgresql.Config{}, logger)
	return NewStorage(pg, logger), mock
}

func claimedRow(id string) *sqlmock.Rows {
	now := time.Now()
	columns := strings.Fields(strings.ReplaceAll(jobColumns, ",", " "))
	return sqlmock.NewRows(columns).AddRow(
		id, int64(7), "cat.png", "original/42/x.png", nil,
		"processing", []byte(`{"as_sticker":true}`), nil, nil, int64(3),
		now, now, now, now,
	)
}

func TestClaimJob_SQL(t *testing.T) {
	const jobID = "6f1c2a56-44f4-4b6a-a0c4-6a7f0b6c9f10"
	claim := sqlLike(`UPDATE jobs SET status = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND status = $3 AND enqueued_at IS NOT NULL RETURNING`)

	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		dbErr   error
		wantErr error
	}{
		{name: "claimed", rows: claimedRow(jobID)},
		{name: "not pending or never enqueued", rows: sqlmock.NewRows([]string{"id"}), wantErr: domain.ErrJobAlreadyClaimed},
		{name: "database down", dbErr: errors.New("connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStorage(t)

			expect := mock.ExpectQuery(claim).WithArgs("processing", jobID, "pending")
			if tt.dbErr != nil {
				expect.WillReturnError(tt.dbErr)
			} else {
				expect.WillReturnRows(tt.rows)
			}

			job, err := s.ClaimJob(context.Background(), jobID)

			switch {
			case tt.dbErr != nil:
				require.Error(t, err)
				assert.NotErrorIs(t, err, domain.ErrJobAlreadyClaimed)
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			default:
				require.NoError(t, err)
				assert.Equal(t, domain.JobStatusProcessing, job.Status)
				assert.True(t, job.Options.AsSticker)
				assert.True(t, job.IsEnqueued())
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestInTx_MarkEnqueuedTwiceRollsBack(t *testing.T) {
	s, mock := newMockStorage(t)
	const jobID = "6f1c2a56-44f4-4b6a-a0c4-6a7f0b6c9f10"

	mock.ExpectBegin()
	mock.ExpectExec(sqlLike(`UPDATE users SET quota_used = quota_used + $1`)).
		WithArgs(1, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(sqlLike(`WHERE id = $2 AND enqueued_at IS NULL`)).
		WithArgs(sqlmock.AnyArg(), jobID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(tx Tx) error {
		if err := tx.DebitQuota(context.Background(), 7, 1); err != nil {
			return err
		}
		return tx.MarkEnqueued(context.Background(), jobID, domain.Options{RemoveBackground: true})
	})

	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.NoError(t, mock.ExpectationsWereMet(), "the debit must be rolled back with the failed enqueue")
}
