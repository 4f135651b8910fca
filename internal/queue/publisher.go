package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/image-bot/internal/domain"
)

const contentTypeJSON = "application/json"

// Broker is the transport the publisher writes to; *rabbitmq.Client satisfies it
type Broker interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Publisher sends task messages for confirmed jobs
type Publisher struct {
	broker Broker
	logger *slog.Logger
}

// NewPublisher creates a task publisher
func NewPublisher(broker Broker, logger *slog.Logger) *Publisher {
	return &Publisher{
		broker: broker,
		logger: logger,
	}
}

// Publish encodes msg as JSON and publishes it as a persistent message
func (p *Publisher) Publish(ctx context.Context, msg domain.TaskMessage) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}

	if err := p.broker.PublishWithRetry(ctx, body, contentTypeJSON); err != nil {
		return fmt.Errorf("failed to publish task for job %s: %w", msg.JobID, err)
	}

	p.logger.Info("Task published",
		slog.String("job_id", msg.JobID),
		slog.Int("body_size", len(body)),
	)
	return nil
}
