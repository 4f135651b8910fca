package domain

import "time"

// UserTier determines how a user's quota is accounted
type UserTier string

const (
	TierFree    UserTier = "free"
	TierPremium UserTier = "premium"
	TierAdmin   UserTier = "admin"
)

// Unlimited reports whether the tier is exempt from quota checks
func (t UserTier) Unlimited() bool {
	return t == TierPremium || t == TierAdmin
}

// UserStatus is the account state of a user
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusBlocked   UserStatus = "blocked"
)

// User is a chat user known to the system
type User struct {
	ID         int64      `db:"id" json:"id"`
	TelegramID int64      `db:"telegram_id" json:"telegram_id"`
	Username   string     `db:"username" json:"username"`
	FirstName  string     `db:"first_name" json:"first_name"`
	LastName   string     `db:"last_name" json:"last_name"`
	Tier       UserTier   `db:"tier" json:"tier"`
	QuotaUsed  int        `db:"quota_used" json:"quota_used"`
	QuotaLimit int        `db:"quota_limit" json:"quota_limit"`
	Status     UserStatus `db:"status" json:"status"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
	LastSeen   time.Time  `db:"last_seen" json:"last_seen"`
}

// UserProfile is the subset of user data supplied by the chat transport
type UserProfile struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
}

// CanDebit reports whether n more requests fit into the user's quota.
// Privileged tiers always can.
func (u *User) CanDebit(n int) bool {
	if u.Tier.Unlimited() {
		return true
	}
	return u.QuotaUsed+n <= u.QuotaLimit
}

// HasQuota reports whether at least one request is left
func (u *User) HasQuota() bool {
	return u.CanDebit(1)
}

// RemainingQuota returns the number of requests left, or -1 when unlimited
func (u *User) RemainingQuota() int {
	if u.Tier.Unlimited() {
		return -1
	}
	if u.QuotaUsed >= u.QuotaLimit {
		return 0
	}
	return u.QuotaLimit - u.QuotaUsed
}

// IsBlocked reports whether the user may not use the bot
func (u *User) IsBlocked() bool {
	return u.Status == UserStatusBlocked || u.Status == UserStatusSuspended
}

// DisplayName returns the best human readable name for the user
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return "@" + u.Username
	default:
		return "there"
	}
}
