package bot

import (
	"fmt"
	"strings"

	"github.com/cuongbtq/image-bot/internal/domain"
	"github.com/cuongbtq/image-bot/internal/orchestrator"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func toggleLabel(on bool, label, offIcon string) string {
	if on {
		return "✅ " + label
	}
	return offIcon + " " + label
}

// optionsKeyboard renders the option toggles of a pending job
func optionsKeyboard(job *domain.Job) tgbotapi.InlineKeyboardMarkup {
	opts := job.Options

	formats := make([]tgbotapi.InlineKeyboardButton, 0, len(domain.ConvertibleFormats))
	for _, f := range domain.ConvertibleFormats {
		label := strings.ToUpper(string(f))
		if opts.TargetFormat == f {
			label = "✅ " + label
		}
		formats = append(formats, tgbotapi.NewInlineKeyboardButtonData(label, formatData(f, job.ID)))
	}

	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(toggleLabel(opts.RemoveBackground, "Remove BG", "🖼️"), toggleData("bg", job.ID)),
			tgbotapi.NewInlineKeyboardButtonData(toggleLabel(opts.AsSticker, "As Sticker", "🎨"), toggleData("sticker", job.ID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(toggleLabel(opts.HasResize(), "Resize 512px", "📐"), toggleData("resize", job.ID)),
		),
		formats,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("▶️ Process", "process:start:"+job.ID),
		),
	)
}

func historyKeyboard(page *orchestrator.HistoryPage) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton

	if page.Pending > 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Process All Pending", fmt.Sprintf("batch:process_all:%d", page.Page)),
		))
	}

	var nav []tgbotapi.InlineKeyboardButton
	if page.Page > 0 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("⬅️ Previous", historyData(page.Page-1)))
	}
	if page.Page < page.TotalPages-1 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("Next ➡️", historyData(page.Page+1)))
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🔄 Refresh", historyData(page.Page)),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func batchKeyboard(page int) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🖼️ Remove BG Only", fmt.Sprintf("batch:options:bg:%d", page)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎨 Sticker Only", fmt.Sprintf("batch:options:sticker:%d", page)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✨ Both", fmt.Sprintf("batch:options:both:%d", page)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", historyData(page)),
		),
	)
}

func toggleData(option, jobID string) string {
	return "toggle:" + option + ":" + jobID
}

func formatData(f domain.Format, jobID string) string {
	return "format:" + string(f) + ":" + jobID
}

func historyData(page int) string {
	return fmt.Sprintf("history:page:%d", page)
}
