package orchestrator

import (
	"context"
	"fmt"

	"github.com/cuongbtq/image-bot/internal/domain"
	"github.com/cuongbtq/image-bot/internal/storage"
)

// HistoryPage is one page of a user's recent jobs
type HistoryPage struct {
	Jobs       []domain.Job
	Page       int
	PageSize   int
	TotalPages int
	Total      int
	Pending    int
}

// RecentJobs returns page (zero based) of the user's jobs inside the history window
func (o *Orchestrator) RecentJobs(ctx context.Context, userID int64, page int) (*HistoryPage, error) {
	if page < 0 {
		page = 0
	}

	since := o.now().Add(-o.historyWindow)
	filter := storage.JobFilter{
		UserID:   userID,
		Since:    since,
		PageSize: o.historyPageSize,
		Offset:   page * o.historyPageSize,
	}

	total, err := o.store.CountJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	jobs, err := o.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	if len(jobs) > o.historyPageSize {
		jobs = jobs[:o.historyPageSize]
	}

	pending, err := o.store.CountJobs(ctx, storage.JobFilter{UserID: userID, Since: since, OnlyEditable: true})
	if err != nil {
		return nil, fmt.Errorf("failed to count pending jobs: %w", err)
	}

	return &HistoryPage{
		Jobs:       jobs,
		Page:       page,
		PageSize:   o.historyPageSize,
		TotalPages: (total + o.historyPageSize - 1) / o.historyPageSize,
		Total:      total,
		Pending:    pending,
	}, nil
}

// PendingJobs returns the user's unconfirmed jobs inside the history window, at most one batch
func (o *Orchestrator) PendingJobs(ctx context.Context, userID int64) ([]domain.Job, error) {
	jobs, err := o.store.ListJobs(ctx, storage.JobFilter{
		UserID:       userID,
		Since:        o.now().Add(-o.historyWindow),
		OnlyEditable: true,
		PageSize:     o.maxBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	if len(jobs) > o.maxBatchSize {
		jobs = jobs[:o.maxBatchSize]
	}
	return jobs, nil
}
