package storage

import (
	"context"
	"fmt"
	"log/slog"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id          BIGSERIAL PRIMARY KEY,
		telegram_id BIGINT NOT NULL UNIQUE,
		username    TEXT NOT NULL DEFAULT '',
		first_name  TEXT NOT NULL DEFAULT '',
		last_name   TEXT NOT NULL DEFAULT '',
		tier        TEXT NOT NULL DEFAULT 'free',
		quota_used  INTEGER NOT NULL DEFAULT 0 CHECK (quota_used >= 0),
		quota_limit INTEGER NOT NULL DEFAULT 10 CHECK (quota_limit >= 0),
		status      TEXT NOT NULL DEFAULT 'active',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id                      UUID PRIMARY KEY,
		user_id                 BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		original_filename       TEXT NOT NULL,
		original_file_key       TEXT NOT NULL,
		processed_file_key      TEXT,
		status                  TEXT NOT NULL DEFAULT 'pending',
		processing_options      TEXT NOT NULL DEFAULT '{}',
		error_message           TEXT,
		processing_time_seconds DOUBLE PRECISION,
		version                 BIGINT NOT NULL DEFAULT 0,
		enqueued_at             TIMESTAMPTZ,
		published_at            TIMESTAMPTZ,
		created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs (user_id, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_unpublished ON jobs (enqueued_at)
		WHERE enqueued_at IS NOT NULL AND published_at IS NULL`,
}

// Migrate creates the tables the service needs if they are missing
func (s *Storage) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	s.logger.Info("Database schema is up to date",
		slog.Int("statements", len(migrations)),
	)
	return nil
}
