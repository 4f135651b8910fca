package storage

import (
	"log/slog"

	"github.com/cuongbtq/image-bot/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

const userColumns = `id, telegram_id, username, first_name, last_name, tier,
	quota_used, quota_limit, status, created_at, updated_at, last_seen`

const jobColumns = `id, user_id, original_filename, original_file_key, processed_file_key,
	status, processing_options, error_message, processing_time_seconds, version,
	enqueued_at, published_at, created_at, updated_at`

// Storage handles all database operations for users and jobs
type Storage struct {
	pg     *postgresql.Client
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		pg:     pg,
		db:     pg.GetDB(),
		logger: logger,
	}
}
