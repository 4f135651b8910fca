package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cuongbtq/image-bot/internal/domain"
	"github.com/cuongbtq/image-bot/internal/orchestrator"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
)

const (
	callbackToggle  = "toggle"
	callbackFormat  = "format"
	callbackProcess = "process"
	callbackHistory = "history"
	callbackBatch   = "batch"
)

// callbackData is a parsed "{domain}:{action}:{argument}" payload
type callbackData struct {
	Domain string
	Action string
	JobID  string
	Page   int
}

func parseCallback(data string) (callbackData, error) {
	parts := strings.Split(data, ":")
	if len(parts) < 3 {
		return callbackData{}, fmt.Errorf("%w: malformed callback %q", domain.ErrValidation, data)
	}

	cb := callbackData{Domain: parts[0], Action: parts[1]}
	switch cb.Domain {
	case callbackToggle, callbackFormat, callbackProcess:
		if len(parts) != 3 {
			return callbackData{}, fmt.Errorf("%w: malformed callback %q", domain.ErrValidation, data)
		}
		if _, err := uuid.Parse(parts[2]); err != nil {
			return callbackData{}, fmt.Errorf("%w: invalid job id in callback", domain.ErrValidation)
		}
		cb.JobID = parts[2]
		return cb, nil

	case callbackHistory, callbackBatch:
		arg := parts[2]
		switch {
		case cb.Domain == callbackHistory && cb.Action == "page" && len(parts) == 3:
		case cb.Domain == callbackBatch && cb.Action == "process_all" && len(parts) == 3:
		case cb.Domain == callbackBatch && cb.Action == "options" && len(parts) == 4:
			if _, err := batchOptions(parts[2]); err != nil {
				return callbackData{}, err
			}
			cb.Action, arg = "options:"+parts[2], parts[3]
		default:
			return callbackData{}, fmt.Errorf("%w: unknown callback %q", domain.ErrValidation, data)
		}

		page, err := strconv.Atoi(arg)
		if err != nil || page < 0 {
			return callbackData{}, fmt.Errorf("%w: invalid page in callback", domain.ErrValidation)
		}
		cb.Page = page
		return cb, nil

	default:
		return callbackData{}, fmt.Errorf("%w: unknown callback %q", domain.ErrValidation, data)
	}
}

func batchOptions(choice string) (orchestrator.BatchOptions, error) {
	switch choice {
	case "bg":
		return orchestrator.BatchOptions{RemoveBackground: true}, nil
	case "sticker":
		return orchestrator.BatchOptions{AsSticker: true}, nil
	case "both":
		return orchestrator.BatchOptions{RemoveBackground: true, AsSticker: true}, nil
	default:
		return orchestrator.BatchOptions{}, fmt.Errorf("%w: unknown batch choice %q", domain.ErrValidation, choice)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery, user *domain.User) {
	data, err := parseCallback(cb.Data)
	if err != nil {
		b.logger.Debug("Rejected callback", slog.String("data", cb.Data), slog.Any("error", err))
		b.answer(cb, "❌ Invalid callback data", true)
		return
	}
	if cb.Message == nil {
		b.answer(cb, "This message is too old, send the image again.", true)
		return
	}

	switch data.Domain {
	case callbackToggle:
		b.handleToggle(ctx, cb, user, data)
	case callbackFormat:
		b.handleFormat(ctx, cb, user, data)
	case callbackProcess:
		b.handleProcess(ctx, cb, user, data)
	case callbackHistory:
		b.handleHistoryPage(ctx, cb, user, data.Page)
	case callbackBatch:
		if data.Action == "process_all" {
			b.handleBatchPrompt(ctx, cb, user, data.Page)
			return
		}
		b.handleBatchOptions(ctx, cb, user, data)
	}
}

func (b *Bot) handleToggle(ctx context.Context, cb *tgbotapi.CallbackQuery, user *domain.User, data callbackData) {
	option, err := domain.ParseOption(data.Action)
	if err != nil {
		b.answer(cb, "❌ Unknown action", true)
		return
	}

	job, err := b.service.ToggleOption(ctx, data.JobID, user.ID, option)
	if err != nil {
		b.answer(cb, userMessage(err), true)
		return
	}

	b.request(tgbotapi.NewEditMessageReplyMarkup(cb.Message.Chat.ID, cb.Message.MessageID, optionsKeyboard(job)))
	b.answer(cb, "", false)
}

func (b *Bot) handleFormat(ctx context.Context, cb *tgbotapi.CallbackQuery, user *domain.User, data callbackData) {
	format, err := domain.ParseFormat(data.Action)
	if err != nil {
		b.answer(cb, "❌ Unknown format", true)
		return
	}

	job, err := b.service.SetTargetFormat(ctx, data.JobID, user.ID, format)
	if err != nil {
		b.answer(cb, userMessage(err), true)
		return
	}

	b.request(tgbotapi.NewEditMessageReplyMarkup(cb.Message.Chat.ID, cb.Message.MessageID, optionsKeyboard(job)))
	b.answer(cb, "", false)
}

func (b *Bot) handleProcess(ctx context.Context, cb *tgbotapi.CallbackQuery, user *domain.User, data callbackData) {
	if data.Action != "start" {
		b.answer(cb, "❌ Unknown action", true)
		return
	}

	conf, err := b.service.ConfirmAndEnqueue(ctx, data.JobID, user.ID, cb.Message.MessageID)
	if err != nil {
		b.answer(cb, userMessage(err), true)
		return
	}
	if conf.AlreadyEnqueued {
		b.answer(cb, "⏳ Already processing", false)
		return
	}

	edit := tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID, confirmationText(conf))
	edit.ParseMode = tgbotapi.ModeHTML
	b.request(edit)
	b.answer(cb, "Processing started", false)
}

func (b *Bot) handleHistoryPage(ctx context.Context, cb *tgbotapi.CallbackQuery, user *domain.User, page int) {
	history, err := b.service.RecentJobs(ctx, user.ID, page)
	if err != nil {
		b.logger.Error("Failed to load history", slog.Int64("user_id", user.ID), slog.Any("error", err))
		b.answer(cb, userMessage(err), true)
		return
	}
	if len(history.Jobs) == 0 {
		b.answer(cb, "No jobs on this page", false)
		return
	}

	edit := tgbotapi.NewEditMessageTextAndMarkup(cb.Message.Chat.ID, cb.Message.MessageID,
		historyText(history, b.historyWindow, b.now()), historyKeyboard(history))
	edit.ParseMode = tgbotapi.ModeHTML
	b.request(edit)
	b.answer(cb, "", false)
}

func (b *Bot) handleBatchPrompt(ctx context.Context, cb *tgbotapi.CallbackQuery, user *domain.User, page int) {
	pending, err := b.service.PendingJobs(ctx, user.ID)
	if err != nil {
		b.answer(cb, userMessage(err), true)
		return
	}
	if len(pending) == 0 {
		b.answer(cb, "No pending jobs to process", true)
		return
	}

	text := fmt.Sprintf("🔄 Process %d pending image(s) with:", len(pending))
	b.request(tgbotapi.NewEditMessageTextAndMarkup(cb.Message.Chat.ID, cb.Message.MessageID, text, batchKeyboard(page)))
	b.answer(cb, "", false)
}

func (b *Bot) handleBatchOptions(ctx context.Context, cb *tgbotapi.CallbackQuery, user *domain.User, data callbackData) {
	opts, err := batchOptions(strings.TrimPrefix(data.Action, "options:"))
	if err != nil {
		b.answer(cb, "❌ Unknown action", true)
		return
	}

	pending, err := b.service.PendingJobs(ctx, user.ID)
	if err != nil {
		b.answer(cb, userMessage(err), true)
		return
	}
	if len(pending) == 0 {
		b.answer(cb, "No pending jobs to process", true)
		return
	}

	ids := make([]string, len(pending))
	for i := range pending {
		ids[i] = pending[i].ID
	}

	res, err := b.service.BatchConfirm(ctx, user.ID, ids, opts)
	if err != nil {
		b.answer(cb, userMessage(err), true)
		return
	}

	text := fmt.Sprintf("✅ Batch processing started for %d image(s).\nRemaining credits: %s",
		res.Count, remainingText(res.QuotaRemaining))
	b.request(tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID, text))
	b.answer(cb, "Processing started", false)
}
