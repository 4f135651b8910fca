package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuongbtq/image-bot/internal/domain"
)

// UpsertUser registers a user on first contact and refreshes their profile and
// last_seen afterwards. Tier and quota of an existing user are left untouched.
func (s *Storage) UpsertUser(ctx context.Context, profile domain.UserProfile, defaultLimit int) (*domain.User, error) {
	query := `
		INSERT INTO users (telegram_id, username, first_name, last_name, tier, quota_limit)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (telegram_id) DO UPDATE
		SET username   = EXCLUDED.username,
		    first_name = EXCLUDED.first_name,
		    last_name  = EXCLUDED.last_name,
		    last_seen  = NOW(),
		    updated_at = NOW()
		RETURNING ` + userColumns

	var user domain.User
	err := s.db.GetContext(ctx, &user, query,
		profile.TelegramID,
		profile.Username,
		profile.FirstName,
		profile.LastName,
		domain.TierFree,
		defaultLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	return &user, nil
}

// GetUserByID retrieves a user by internal id
func (s *Storage) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetUserByTelegramID retrieves a user by chat platform id
func (s *Storage) GetUserByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID)
}

func (s *Storage) getUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	var user domain.User
	if err := s.db.GetContext(ctx, &user, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}
