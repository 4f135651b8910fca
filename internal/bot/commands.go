package bot

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"github.com/cuongbtq/image-bot/internal/domain"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *domain.User) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		b.replyHTML(chatID, fmt.Sprintf("👋 Hello, %s! You have %s credits remaining.",
			html.EscapeString(user.DisplayName()), remainingText(user.RemainingQuota())), nil)
		b.reply(chatID, commandsText)

	case "help":
		b.replyHTML(chatID, helpText, nil)

	case "quota":
		fresh, err := b.service.QuotaStatus(ctx, user.ID)
		if err != nil {
			b.logger.Error("Failed to load quota", slog.Int64("user_id", user.ID), slog.Any("error", err))
			b.reply(chatID, userMessage(err))
			return
		}
		b.replyHTML(chatID, quotaText(fresh), nil)

	case "history":
		history, err := b.service.RecentJobs(ctx, user.ID, 0)
		if err != nil {
			b.logger.Error("Failed to load history", slog.Int64("user_id", user.ID), slog.Any("error", err))
			b.reply(chatID, userMessage(err))
			return
		}
		if history.Total == 0 {
			b.reply(chatID, "📋 No recent jobs found.\n\nUpload an image to get started!")
			return
		}
		b.replyHTML(chatID, historyText(history, b.historyWindow, b.now()), historyKeyboard(history))

	default:
		b.reply(chatID, "🤔 Unknown command. See /help.")
	}
}
