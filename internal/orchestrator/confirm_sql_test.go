package orchestrator_test

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/image-bot/internal/domain"
	"github.com/cuongbtq/image-bot/internal/orchestrator"
	"github.com/cuongbtq/image-bot/internal/storage"
	"github.com/cuongbtq/image-bot/internal/testutil"
	"github.com/cuongbtq/image-bot/shared/postgresql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sqlJobColumns = []string{"id", "user_id", "original_filename", "original_file_key", "processed_file_key",
		"status", "processing_options", "error_message", "processing_time_seconds", "version",
		"enqueued_at", "published_at", "created_at", "updated_at"}
	sqlUserColumns = []string{"id", "telegram_id", "username", "first_name", "last_name", "tier",
		"quota_used", "quota_limit", "status", "created_at", "updated_at", "last_seen"}
)

// sqlLike turns an SQL fragment into a pattern that ignores whitespace layout
func sqlLike(fragment string) string {
	return strings.Join(strings.Fields(regexp.QuoteMeta(fragment)), `\s+`)
}

type sqlHarness struct {
	mock      sqlmock.Sqlmock
	publisher *testutil.Publisher
	orch      *orchestrator.Orchestrator
}

func newSQLHarness(t *testing.T) *sqlHarness {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	pg := postgresql.NewFromDB(sqlx.NewDb(db, "postgres"), &postgresql.Config{}, testutil.Logger())
	h := &sqlHarness{mock: mock, publisher: &testutil.Publisher{}}
	h.orch = orchestrator.New(&orchestrator.Config{
		Logger:           testutil.Logger(),
		Store:            storage.NewStorage(pg, testutil.Logger()),
		Publisher:        h.publisher,
		Objects:          testutil.NewObjectStore(),
		DefaultFreeQuota: 10,
	})
	return h
}

func jobRow(id string, userID int64, opts string, enqueuedAt, publishedAt any) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(sqlJobColumns).AddRow(
		id, userID, "cat.png", "original/42/x.png", nil,
		"pending", []byte(opts), nil, nil, int64(1),
		enqueuedAt, publishedAt, now, now,
	)
}

func userRow(id int64, used, limit int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(sqlUserColumns).AddRow(
		id, int64(42), "alice", "Alice", "", "free",
		used, limit, "active", now, now, now,
	)
}

func TestConfirmAndEnqueue_SQLLockOrder(t *testing.T) {
	h := newSQLHarness(t)
	jobID := uuid.NewString()
	const userID = int64(7)

	h.mock.ExpectBegin()
	h.mock.ExpectQuery(sqlLike(`FROM jobs WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(jobRow(jobID, userID, `{"remove_bg":true}`, nil, nil))
	h.mock.ExpectQuery(sqlLike(`FROM users WHERE id = $1 FOR UPDATE`)).
		WithArgs(userID).
		WillReturnRows(userRow(userID, 2, 3))
	h.mock.ExpectExec(sqlLike(`UPDATE users SET quota_used = quota_used + $1`)).
		WithArgs(1, userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec(sqlLike(`enqueued_at = NOW(), version = version + 1, updated_at = NOW() WHERE id = $2 AND enqueued_at IS NULL`)).
		WithArgs(sqlmock.AnyArg(), jobID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()
	h.mock.ExpectExec(sqlLike(`UPDATE jobs SET published_at = NOW() WHERE id = $1 AND published_at IS NULL`)).
		WithArgs(jobID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	conf, err := h.orch.ConfirmAndEnqueue(context.Background(), jobID, userID, 99)
	require.NoError(t, err)

	assert.False(t, conf.AlreadyEnqueued)
	assert.True(t, conf.Published)
	assert.Equal(t, 0, conf.QuotaRemaining)
	assert.Len(t, h.publisher.Messages(), 1)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestConfirmAndEnqueue_SQLQuotaExhaustedRollsBack(t *testing.T) {
	h := newSQLHarness(t)
	jobID := uuid.NewString()
	const userID = int64(7)

	h.mock.ExpectBegin()
	h.mock.ExpectQuery(sqlLike(`FOR UPDATE`)).
		WillReturnRows(jobRow(jobID, userID, `{"as_sticker":true}`, nil, nil))
	h.mock.ExpectQuery(sqlLike(`FROM users WHERE id = $1 FOR UPDATE`)).
		WithArgs(userID).
		WillReturnRows(userRow(userID, 3, 3))
	h.mock.ExpectRollback()

	_, err := h.orch.ConfirmAndEnqueue(context.Background(), jobID, userID, 99)
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)

	assert.Empty(t, h.publisher.Messages())
	assert.NoError(t, h.mock.ExpectationsWereMet(), "no debit or enqueue statement may run")
}

func TestConfirmAndEnqueue_SQLAlreadyEnqueuedSkipsUserLock(t *testing.T) {
	h := newSQLHarness(t)
	jobID := uuid.NewString()
	const userID = int64(7)
	enqueued := time.Now().Add(-time.Minute)

	h.mock.ExpectBegin()
	h.mock.ExpectQuery(sqlLike(`FOR UPDATE`)).
		WillReturnRows(jobRow(jobID, userID, `{"remove_bg":true}`, enqueued, enqueued))
	h.mock.ExpectCommit()

	conf, err := h.orch.ConfirmAndEnqueue(context.Background(), jobID, userID, 99)
	require.NoError(t, err)

	assert.True(t, conf.AlreadyEnqueued)
	assert.True(t, conf.Published)
	assert.Empty(t, h.publisher.Messages())
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestBatchConfirm_SQLSingleDebit(t *testing.T) {
	h := newSQLHarness(t)
	ids := []string{uuid.NewString(), uuid.NewString()}
	const userID = int64(7)

	rows := sqlmock.NewRows(sqlJobColumns)
	now := time.Now()
	for _, id := range ids {
		rows.AddRow(id, userID, "cat.png", "original/42/x.png", nil,
			"pending", []byte(`{}`), nil, nil, int64(1), nil, nil, now, now)
	}

	h.mock.ExpectBegin()
	h.mock.ExpectQuery(sqlLike(`FROM jobs WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`)).
		WillReturnRows(rows)
	h.mock.ExpectQuery(sqlLike(`FROM users WHERE id = $1 FOR UPDATE`)).
		WithArgs(userID).
		WillReturnRows(userRow(userID, 0, 5))
	h.mock.ExpectExec(sqlLike(`UPDATE users SET quota_used = quota_used + $1`)).
		WithArgs(2, userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for _, id := range ids {
		h.mock.ExpectExec(sqlLike(`WHERE id = $2 AND enqueued_at IS NULL`)).
			WithArgs(sqlmock.AnyArg(), id).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	h.mock.ExpectCommit()
	for _, id := range ids {
		h.mock.ExpectExec(sqlLike(`SET published_at = NOW()`)).
			WithArgs(id).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	result, err := h.orch.BatchConfirm(context.Background(), userID, ids, orchestrator.BatchOptions{AsSticker: true})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Count)
	assert.Equal(t, 2, result.Published)
	assert.Equal(t, 3, result.QuotaRemaining)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}
