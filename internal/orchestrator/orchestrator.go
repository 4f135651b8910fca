package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/image-bot/internal/domain"
	"github.com/cuongbtq/image-bot/internal/storage"
)

// Store is the job store used by the orchestrator; *storage.Storage satisfies it
type Store interface {
	UpsertUser(ctx context.Context, profile domain.UserProfile, defaultLimit int) (*domain.User, error)
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	UpdateJobOptions(ctx context.Context, jobID string, opts domain.Options, version int64) error
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	CountJobs(ctx context.Context, filter storage.JobFilter) (int, error)
	InTx(ctx context.Context, fn func(tx storage.Tx) error) error
	MarkPublished(ctx context.Context, jobID string) error
	ListUnpublished(ctx context.Context, enqueuedBefore time.Time, limit int) ([]domain.Job, error)
}

// Publisher puts task messages on the queue
type Publisher interface {
	Publish(ctx context.Context, msg domain.TaskMessage) error
}

// ObjectStore stores uploaded originals
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Config holds orchestrator dependencies and tuning
type Config struct {
	Logger           *slog.Logger
	Store            Store
	Publisher        Publisher
	Objects          ObjectStore
	DefaultFreeQuota int
	ToggleRetries    int
	HistoryWindow    time.Duration
	HistoryPageSize  int
	MaxBatchSize     int
	RepublishGrace   time.Duration
	Now              func() time.Time
}

// Orchestrator owns the job lifecycle between upload and worker pickup
type Orchestrator struct {
	logger           *slog.Logger
	store            Store
	publisher        Publisher
	objects          ObjectStore
	defaultFreeQuota int
	toggleRetries    int
	historyWindow    time.Duration
	historyPageSize  int
	maxBatchSize     int
	republishGrace   time.Duration
	now              func() time.Time
}

// New creates a new orchestrator instance
func New(cfg *Config) *Orchestrator {
	o := &Orchestrator{
		logger:           cfg.Logger,
		store:            cfg.Store,
		publisher:        cfg.Publisher,
		objects:          cfg.Objects,
		defaultFreeQuota: cfg.DefaultFreeQuota,
		toggleRetries:    cfg.ToggleRetries,
		historyWindow:    cfg.HistoryWindow,
		historyPageSize:  cfg.HistoryPageSize,
		maxBatchSize:     cfg.MaxBatchSize,
		republishGrace:   cfg.RepublishGrace,
		now:              cfg.Now,
	}

	if o.toggleRetries <= 0 {
		o.toggleRetries = 5
	}
	if o.historyWindow <= 0 {
		o.historyWindow = 24 * time.Hour
	}
	if o.historyPageSize <= 0 {
		o.historyPageSize = 5
	}
	if o.maxBatchSize <= 0 {
		o.maxBatchSize = 20
	}
	if o.republishGrace <= 0 {
		o.republishGrace = 30 * time.Second
	}
	if o.now == nil {
		o.now = time.Now
	}

	return o
}
