package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/image-bot/internal/domain"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender sends prepared messages; *tgbotapi.BotAPI satisfies it
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Result is a finished job ready to be delivered
type Result struct {
	JobID            string
	Data             []byte
	Format           domain.Format
	Sticker          bool
	ReplyToMessageID int
	ProcessingTime   time.Duration
}

// Filename returns the name the file is delivered under
func (r Result) Filename() string {
	return r.JobID + r.Format.Extension()
}

// TelegramNotifier delivers results and failure notices to a chat
type TelegramNotifier struct {
	sender Sender
	logger *slog.Logger
}

// New creates a new TelegramNotifier
func New(sender Sender, logger *slog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		sender: sender,
		logger: logger,
	}
}

// SendResult delivers the processed file. Stickers go out as stickers followed
// by a short note; everything else as a captioned photo or document.
func (n *TelegramNotifier) SendResult(ctx context.Context, chatID int64, res Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, msg := range buildResultMessages(chatID, res) {
		if _, err := n.sender.Send(msg); err != nil {
			return fmt.Errorf("failed to deliver job %s: %w", res.JobID, err)
		}
	}

	n.logger.Info("Result delivered",
		slog.String("job_id", res.JobID),
		slog.Int64("chat_id", chatID),
		slog.String("format", string(res.Format)),
		slog.Bool("sticker", res.Sticker),
	)
	return nil
}

// SendFailure tells the user their job failed
func (n *TelegramNotifier) SendFailure(ctx context.Context, chatID int64, job *domain.Job, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("❌ Processing failed for job %s.\n%s", job.ShortID(), reason))
	msg.ReplyToMessageID = job.Options.TelegramMessageID
	msg.AllowSendingWithoutReply = true
	if _, err := n.sender.Send(msg); err != nil {
		return fmt.Errorf("failed to send failure notice for job %s: %w", job.ID, err)
	}
	return nil
}

func buildResultMessages(chatID int64, res Result) []tgbotapi.Chattable {
	file := tgbotapi.FileBytes{Name: res.Filename(), Bytes: res.Data}
	caption := completionText(res)

	if res.Sticker {
		sticker := tgbotapi.NewSticker(chatID, file)
		sticker.ReplyToMessageID = res.ReplyToMessageID
		sticker.AllowSendingWithoutReply = true
		return []tgbotapi.Chattable{sticker, tgbotapi.NewMessage(chatID, caption)}
	}

	// photos are recompressed by Telegram and lose transparency
	if res.Format == domain.FormatJPEG {
		photo := tgbotapi.NewPhoto(chatID, file)
		photo.Caption = caption
		photo.ReplyToMessageID = res.ReplyToMessageID
		photo.AllowSendingWithoutReply = true
		return []tgbotapi.Chattable{photo}
	}

	doc := tgbotapi.NewDocument(chatID, file)
	doc.Caption = caption
	doc.ReplyToMessageID = res.ReplyToMessageID
	doc.AllowSendingWithoutReply = true
	return []tgbotapi.Chattable{doc}
}

func completionText(res Result) string {
	short := res.JobID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("✅ Processing complete! Job ID: %s (%.1fs)", short, res.ProcessingTime.Seconds())
}
