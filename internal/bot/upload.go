package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/image-bot/internal/domain"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type upload struct {
	fileID      string
	size        int64
	filename    string
	contentType string
}

func uploadFrom(msg *tgbotapi.Message) (upload, bool) {
	if len(msg.Photo) > 0 {
		// the last size is the largest
		photo := msg.Photo[len(msg.Photo)-1]
		return upload{
			fileID:      photo.FileID,
			size:        int64(photo.FileSize),
			filename:    "photo_" + photo.FileUniqueID + ".jpg",
			contentType: "image/jpeg",
		}, true
	}

	doc := msg.Document
	if doc == nil || !strings.HasPrefix(doc.MimeType, "image/") {
		return upload{}, false
	}
	name := doc.FileName
	if name == "" {
		name = "document_" + doc.FileUniqueID + ".jpg"
	}
	return upload{
		fileID:      doc.FileID,
		size:        int64(doc.FileSize),
		filename:    name,
		contentType: doc.MimeType,
	}, true
}

// handleUpload stores an incoming image as a pending job. Single images get
// an options keyboard; albums get one summary pointing at /history.
func (b *Bot) handleUpload(ctx context.Context, msg *tgbotapi.Message, user *domain.User) {
	chatID := msg.Chat.ID

	file, ok := uploadFrom(msg)
	if !ok {
		b.reply(chatID, "❌ Please send an image file (JPG, PNG, WebP or GIF).")
		return
	}
	if b.maxFileSize > 0 && file.size > b.maxFileSize {
		b.reply(chatID, fmt.Sprintf("❌ File too large! Max size: %d MB", b.maxFileSize>>20))
		return
	}
	if !user.HasQuota() {
		b.reply(chatID, quotaExceededText(user))
		return
	}

	album := msg.MediaGroupID != ""
	first := album && b.albums.Track(msg.MediaGroupID)

	var status *tgbotapi.Message
	if !album || first {
		text := "📥 Downloading image..."
		if album {
			text = "📥 Downloading album..."
		}
		if sent, err := b.reply(chatID, text); err == nil {
			status = &sent
		}
	}
	defer func() {
		if status != nil {
			b.request(tgbotapi.NewDeleteMessage(chatID, status.MessageID))
		}
	}()

	data, err := b.fetcher.Fetch(ctx, file.fileID)
	if err != nil {
		b.logger.Error("Failed to download upload",
			slog.Int64("telegram_id", user.TelegramID),
			slog.Any("error", err),
		)
		b.reply(chatID, "❌ Failed to download image, please try again.")
		return
	}

	job, err := b.service.CreateJobFromUpload(ctx, user, file.filename, file.contentType, data)
	if err != nil {
		b.logger.Error("Failed to create job from upload",
			slog.Int64("telegram_id", user.TelegramID),
			slog.Any("error", err),
		)
		b.reply(chatID, userMessage(err))
		return
	}

	if album {
		if first {
			b.announceAlbum(ctx, chatID, msg.MediaGroupID)
		}
		return
	}

	prompt := tgbotapi.NewMessage(chatID, "🎨 Choose processing options (toggle buttons, then press Process):")
	prompt.ReplyToMessageID = msg.MessageID
	prompt.ReplyMarkup = optionsKeyboard(job)
	b.send(prompt)
}

// announceAlbum waits briefly so most of the album is counted, then sends one summary
func (b *Bot) announceAlbum(ctx context.Context, chatID int64, groupID string) {
	if b.albumNoticeDelay > 0 {
		timer := time.NewTimer(b.albumNoticeDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}

	count := b.albums.Count(groupID)
	b.reply(chatID, fmt.Sprintf("📸 Album detected! Received %d image(s).\nUse /history to process them all at once.", count))
}
