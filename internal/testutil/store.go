package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/image-bot/internal/domain"
	"github.com/cuongbtq/image-bot/internal/storage"
)

// Store is an in-memory job store. Transactions are serialized, which is the
// observable effect of the row locks the SQL store takes.
type Store struct {
	txMu sync.Mutex // held for the whole of InTx and by every mutating call
	mu   sync.Mutex // guards the maps

	users  map[int64]*domain.User
	jobs   map[string]*domain.Job
	nextID int64
	now    func() time.Time

	// Errors injected into the next calls of the named operation
	ClaimErr         error
	MarkCompletedErr error
	MarkFailedErr    error
	GetUserErr       error
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		users: make(map[int64]*domain.User),
		jobs:  make(map[string]*domain.Job),
		now:   time.Now,
	}
}

// AddUser inserts a user and returns a copy with its id assigned
func (s *Store) AddUser(u domain.User) *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	if u.ID == 0 {
		u.ID = s.nextID
	}
	if u.TelegramID == 0 {
		u.TelegramID = 1000 + u.ID
	}
	if u.Tier == "" {
		u.Tier = domain.TierFree
	}
	if u.Status == "" {
		u.Status = domain.UserStatusActive
	}
	s.users[u.ID] = &u
	cp := u
	return &cp
}

// AddJob inserts a job as is
func (s *Store) AddJob(j domain.Job) *domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.CreatedAt.IsZero() {
		j.CreatedAt = s.now()
		j.UpdatedAt = j.CreatedAt
	}
	s.jobs[j.ID] = &j
	cp := j
	return &cp
}

// User returns a snapshot of a user
func (s *Store) User(id int64) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.users[id]
}

// Job returns a snapshot of a job
func (s *Store) Job(id string) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *Store) UpsertUser(_ context.Context, p domain.UserProfile, defaultLimit int) (*domain.User, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, u := range s.users {
		if u.TelegramID == p.TelegramID {
			u.Username, u.FirstName, u.LastName = p.Username, p.FirstName, p.LastName
			u.LastSeen, u.UpdatedAt = now, now
			cp := *u
			return &cp, nil
		}
	}

	s.nextID++
	u := &domain.User{
		ID:         s.nextID,
		TelegramID: p.TelegramID,
		Username:   p.Username,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Tier:       domain.TierFree,
		QuotaLimit: defaultLimit,
		Status:     domain.UserStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
		LastSeen:   now,
	}
	s.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.GetUserErr != nil {
		return nil, s.GetUserErr
	}
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByTelegramID(_ context.Context, telegramID int64) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.TelegramID == telegramID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (s *Store) CreateJob(_ context.Context, job *domain.Job) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[job.UserID]; !ok {
		return errors.New("foreign key violation: user does not exist")
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *Store) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *Store) UpdateJobOptions(_ context.Context, jobID string, opts domain.Options, version int64) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || !j.IsEditable() || j.Version != version {
		return domain.ErrVersionConflict
	}
	j.Options = opts
	j.Version++
	j.UpdatedAt = s.now()
	return nil
}

func (s *Store) ListJobs(_ context.Context, filter storage.JobFilter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := s.filterJobs(filter)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.PageSize > 0 && len(matched) > filter.PageSize+1 {
		matched = matched[:filter.PageSize+1]
	}
	return matched, nil
}

func (s *Store) CountJobs(_ context.Context, filter storage.JobFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filter.Cursor = nil
	return len(s.filterJobs(filter)), nil
}

func (s *Store) filterJobs(filter storage.JobFilter) []domain.Job {
	var out []domain.Job
	for _, j := range s.jobs {
		if filter.UserID != 0 && j.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && j.CreatedAt.Before(filter.Since) {
			continue
		}
		if filter.OnlyEditable && !j.IsEditable() {
			continue
		}
		if c := filter.Cursor; c != nil {
			if j.CreatedAt.After(c.CreatedAt) || (j.CreatedAt.Equal(c.CreatedAt) && j.ID >= c.JobID) {
				continue
			}
		}
		out = append(out, *j)
	}

	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID > out[b].ID
	})
	return out
}

func (s *Store) MarkPublished(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[jobID]; ok && j.PublishedAt == nil {
		now := s.now()
		j.PublishedAt = &now
	}
	return nil
}

func (s *Store) ListUnpublished(_ context.Context, enqueuedBefore time.Time, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Job
	for _, j := range s.jobs {
		if j.EnqueuedAt != nil && j.PublishedAt == nil &&
			j.Status == domain.JobStatusPending && j.EnqueuedAt.Before(enqueuedBefore) {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].EnqueuedAt.Before(*out[b].EnqueuedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ClaimJob(_ context.Context, jobID string) (*domain.Job, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ClaimErr != nil {
		return nil, s.ClaimErr
	}
	j, ok := s.jobs[jobID]
	if !ok || j.Status != domain.JobStatusPending || j.EnqueuedAt == nil {
		return nil, domain.ErrJobAlreadyClaimed
	}
	j.Status = domain.JobStatusProcessing
	j.Version++
	j.UpdatedAt = s.now()
	cp := *j
	return &cp, nil
}

func (s *Store) UpdateJobHeartbeat(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[jobID]; ok && j.Status == domain.JobStatusProcessing {
		j.UpdatedAt = s.now()
	}
	return nil
}

func (s *Store) MarkCompleted(_ context.Context, jobID, processedKey string, elapsed time.Duration) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.MarkCompletedErr != nil {
		return s.MarkCompletedErr
	}
	j, ok := s.jobs[jobID]
	if !ok || j.Status != domain.JobStatusProcessing {
		return domain.ErrInvalidState
	}
	secs := elapsed.Seconds()
	j.Status = domain.JobStatusCompleted
	j.ProcessedFileKey = &processedKey
	j.ProcessingTimeSeconds = &secs
	j.ErrorMessage = nil
	j.Version++
	return nil
}

func (s *Store) MarkFailed(_ context.Context, jobID, errorMsg string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.MarkFailedErr != nil {
		return s.MarkFailedErr
	}
	j, ok := s.jobs[jobID]
	if !ok || j.Status != domain.JobStatusProcessing {
		return domain.ErrInvalidState
	}
	msg := domain.TruncateErrorMessage(errorMsg)
	j.Status = domain.JobStatusFailed
	j.ErrorMessage = &msg
	j.Version++
	return nil
}

// InTx stages writes and applies them only if fn returns nil
func (s *Store) InTx(_ context.Context, fn func(tx storage.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &fakeTx{store: s, debits: map[int64]int{}, enqueued: map[string]domain.Options{}}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for userID, n := range tx.debits {
		s.users[userID].QuotaUsed += n
	}
	for jobID, opts := range tx.enqueued {
		j := s.jobs[jobID]
		j.Options = opts
		j.EnqueuedAt = &now
		j.Version++
	}
	return nil
}

type fakeTx struct {
	store    *Store
	debits   map[int64]int
	enqueued map[string]domain.Options
}

func (t *fakeTx) LockJobs(_ context.Context, jobIDs []string) ([]domain.Job, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	var out []domain.Job
	for _, id := range jobIDs {
		if j, ok := t.store.jobs[id]; ok {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (t *fakeTx) LockUser(_ context.Context, userID int64) (*domain.User, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	u, ok := t.store.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	cp.QuotaUsed += t.debits[userID]
	return &cp, nil
}

func (t *fakeTx) DebitQuota(_ context.Context, userID int64, n int) error {
	t.debits[userID] += n
	return nil
}

func (t *fakeTx) MarkEnqueued(_ context.Context, jobID string, opts domain.Options) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	j, ok := t.store.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if _, staged := t.enqueued[jobID]; staged || j.EnqueuedAt != nil {
		return domain.ErrInvalidState
	}
	t.enqueued[jobID] = opts
	return nil
}
