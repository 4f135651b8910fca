package notifier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/image-bot/internal/domain"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (s *recordingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if s.err != nil {
		return tgbotapi.Message{}, s.err
	}
	s.sent = append(s.sent, c)
	return tgbotapi.Message{}, nil
}

func newTestNotifier(sender Sender) *TelegramNotifier {
	return New(sender, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTelegramNotifier_SendResult(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		check  func(t *testing.T, sent []tgbotapi.Chattable)
	}{
		{
			name: "sticker",
			result: Result{
				JobID: "6f1c2a56-44f4-4b6a-a0c4-6a7f0b6c9f10", Data: []byte("webp"),
				Format: domain.FormatWebP, Sticker: true, ReplyToMessageID: 5,
			},
			check: func(t *testing.T, sent []tgbotapi.Chattable) {
				require.Len(t, sent, 2)
				sticker, ok := sent[0].(tgbotapi.StickerConfig)
				require.True(t, ok)
				assert.Equal(t, int64(42), sticker.ChatID)
				assert.Equal(t, 5, sticker.ReplyToMessageID)

				note, ok := sent[1].(tgbotapi.MessageConfig)
				require.True(t, ok)
				assert.Contains(t, note.Text, "6f1c2a56")
			},
		},
		{
			name:   "jpeg as photo",
			result: Result{JobID: "abc", Data: []byte("jpg"), Format: domain.FormatJPEG, ProcessingTime: 1500 * time.Millisecond},
			check: func(t *testing.T, sent []tgbotapi.Chattable) {
				require.Len(t, sent, 1)
				photo, ok := sent[0].(tgbotapi.PhotoConfig)
				require.True(t, ok)
				assert.Contains(t, photo.Caption, "Processing complete")
				assert.Contains(t, photo.Caption, "1.5s")
			},
		},
		{
			name:   "png as document",
			result: Result{JobID: "abc", Data: []byte("png"), Format: domain.FormatPNG},
			check: func(t *testing.T, sent []tgbotapi.Chattable) {
				require.Len(t, sent, 1)
				doc, ok := sent[0].(tgbotapi.DocumentConfig)
				require.True(t, ok)
				file, ok := doc.File.(tgbotapi.FileBytes)
				require.True(t, ok)
				assert.Equal(t, "abc.png", file.Name)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &recordingSender{}
			n := newTestNotifier(sender)

			require.NoError(t, n.SendResult(context.Background(), 42, tt.result))
			tt.check(t, sender.sent)
		})
	}
}

func TestTelegramNotifier_SendResultError(t *testing.T) {
	n := newTestNotifier(&recordingSender{err: errors.New("chat not found")})

	err := n.SendResult(context.Background(), 1, Result{JobID: "abc", Format: domain.FormatPNG})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegramNotifier_SendFailure(t *testing.T) {
	sender := &recordingSender{}
	n := newTestNotifier(sender)

	job := &domain.Job{ID: "6f1c2a56-44f4", Options: domain.Options{TelegramMessageID: 9}}
	require.NoError(t, n.SendFailure(context.Background(), 42, job, "Could not read the image."))

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0].(tgbotapi.MessageConfig)
	assert.Contains(t, msg.Text, "6f1c2a56")
	assert.Contains(t, msg.Text, "Could not read the image.")
	assert.Equal(t, 9, msg.ReplyToMessageID)
}
