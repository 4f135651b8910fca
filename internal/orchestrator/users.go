package orchestrator

import (
	"context"
	"fmt"

	"github.com/cuongbtq/image-bot/internal/domain"
)

// EnsureUser registers or refreshes the user behind an incoming update.
// Blocked users are returned together with domain.ErrUserBlocked.
func (o *Orchestrator) EnsureUser(ctx context.Context, profile domain.UserProfile) (*domain.User, error) {
	user, err := o.store.UpsertUser(ctx, profile, o.defaultFreeQuota)
	if err != nil {
		return nil, fmt.Errorf("failed to register user %d: %w", profile.TelegramID, err)
	}

	if user.IsBlocked() {
		return user, domain.ErrUserBlocked
	}
	return user, nil
}

// QuotaStatus returns a fresh read of the user's quota
func (o *Orchestrator) QuotaStatus(ctx context.Context, userID int64) (*domain.User, error) {
	return o.store.GetUserByID(ctx, userID)
}
