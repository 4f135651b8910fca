package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/image-bot/internal/domain"
	"github.com/cuongbtq/image-bot/internal/storage"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// JobReader is the read side of job storage used by the HTTP API
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
}

// HealthChecker reports database health; *postgresql.Client satisfies it
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
	Stats() string
}

// BrokerStatus reports the task queue connection; *rabbitmq.Client satisfies it
type BrokerStatus interface {
	IsConnected() bool
}

// LinkSigner issues temporary download links for stored objects
type LinkSigner interface {
	PresignGet(ctx context.Context, key string) (string, error)
}

// UpdateSink accepts Telegram updates delivered by webhook
type UpdateSink interface {
	Enqueue(update tgbotapi.Update) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger        *slog.Logger
	Jobs          JobReader
	DB            HealthChecker
	Broker        BrokerStatus
	Links         LinkSigner
	Updates       UpdateSink
	WebhookPath   string
	WebhookSecret string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobReader
	links  LinkSigner
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
		links:  deps.Links,
	}
}

// WebhookHandler receives Telegram updates
type WebhookHandler struct {
	logger  *slog.Logger
	updates UpdateSink
	secret  string
}

// NewWebhookHandler creates a new WebhookHandler instance
func NewWebhookHandler(deps *Dependencies) *WebhookHandler {
	return &WebhookHandler{
		logger:  deps.Logger,
		updates: deps.Updates,
		secret:  deps.WebhookSecret,
	}
}

// HealthHandler reports service health
type HealthHandler struct {
	db     HealthChecker
	broker BrokerStatus
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{db: deps.DB, broker: deps.Broker}
}
