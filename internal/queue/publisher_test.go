package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/cuongbtq/image-bot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroker struct {
	bodies       [][]byte
	contentTypes []string
	err          error
}

func (b *recordingBroker) PublishWithRetry(_ context.Context, body []byte, contentType string) error {
	if b.err != nil {
		return b.err
	}
	b.bodies = append(b.bodies, body)
	b.contentTypes = append(b.contentTypes, contentType)
	return nil
}

func TestPublisher_Publish(t *testing.T) {
	broker := &recordingBroker{}
	publisher := NewPublisher(broker, slog.New(slog.NewTextHandler(io.Discard, nil)))

	msg := domain.TaskMessage{
		JobID:   "6f1c2a56-44f4-4b6a-a0c4-6a7f0b6c9f10",
		Options: domain.Options{AsSticker: true, UserTier: domain.TierFree, TelegramMessageID: 12},
	}

	require.NoError(t, publisher.Publish(context.Background(), msg))
	require.Len(t, broker.bodies, 1)

	assert.Equal(t, "application/json", broker.contentTypes[0])
	assert.JSONEq(t, `{
		"job_id": "6f1c2a56-44f4-4b6a-a0c4-6a7f0b6c9f10",
		"options": {"remove_bg": false, "as_sticker": true, "user_tier": "free", "telegram_message_id": 12}
	}`, string(broker.bodies[0]))

	decoded, err := domain.DecodeTaskMessage(broker.bodies[0])
	require.NoError(t, err)
	assert.Equal(t, msg.JobID, decoded.JobID)
}

func TestPublisher_PublishError(t *testing.T) {
	broker := &recordingBroker{err: errors.New("channel closed")}
	publisher := NewPublisher(broker, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := publisher.Publish(context.Background(), domain.TaskMessage{JobID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")
}
