package bot

import (
	"errors"
	"fmt"
	"html"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/image-bot/internal/domain"
	"github.com/cuongbtq/image-bot/internal/orchestrator"
)

const helpText = "🛠️ <b>Image Processing Bot</b>\n\n" +
	"<b>Features:</b>\n" +
	"• Background removal\n" +
	"• Telegram stickers (512px WebP)\n" +
	"• Resize to fit 512px\n" +
	"• Format conversion (JPG, PNG, WebP)\n\n" +
	"<b>Usage:</b>\n" +
	"1. Send an image or an album\n" +
	"2. Choose processing options\n" +
	"3. Press Process and wait for the result\n\n" +
	"Every processed image uses one credit. Check yours with /quota."

const commandsText = "📸 Send me an image and I'll process it for you!\n\n" +
	"Available commands:\n" +
	"/help - Show help\n" +
	"/quota - Check your quota\n" +
	"/history - View recent processing jobs"

// userMessage renders an error as the short text shown in chat
func userMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrQuotaExceeded):
		return "❌ Quota exceeded! Use /quota to check your usage."
	case errors.Is(err, domain.ErrNoOptionsSelected):
		return "⚠️ Please select at least one option!"
	case errors.Is(err, domain.ErrInvalidState):
		return "⏳ This job is already being processed."
	case errors.Is(err, domain.ErrJobNotFound):
		return "❌ Job not found or access denied"
	case errors.Is(err, domain.ErrUserBlocked):
		return "🚫 Your account is blocked."
	case errors.Is(err, domain.ErrStorage):
		return "❌ Storage is temporarily unavailable, please try again later."
	case errors.Is(err, domain.ErrValidation):
		return "❌ Invalid request"
	default:
		return "❌ Something went wrong, please try again."
	}
}

func remainingText(remaining int) string {
	if remaining < 0 {
		return "unlimited"
	}
	return strconv.Itoa(remaining)
}

func quotaText(u *domain.User) string {
	total := strconv.Itoa(u.QuotaLimit)
	if u.Tier.Unlimited() {
		total = "unlimited"
	}
	return fmt.Sprintf("📊 <b>Your Quota</b>\n\nTier: %s\nUsed: %d\nRemaining: %s\nTotal: %s",
		u.Tier, u.QuotaUsed, remainingText(u.RemainingQuota()), total)
}

func quotaExceededText(u *domain.User) string {
	return fmt.Sprintf("❌ Quota exceeded!\n\nYour limit: %d images\nUsed: %d\n\nUse /quota to check your usage",
		u.QuotaLimit, u.QuotaUsed)
}

var stepLabels = map[domain.StepKind]string{
	domain.StepRemoveBackground: "🖼️ Remove Background",
	domain.StepResize:           "📐 Resize",
	domain.StepSticker:          "🎨 Convert to Sticker",
}

// planSummary describes the selected steps, e.g. "🖼️ Remove Background + 🎨 Convert to Sticker"
func planSummary(opts domain.Options) string {
	var parts []string
	for _, step := range opts.Plan() {
		if c, ok := step.(domain.ConvertStep); ok {
			parts = append(parts, "🔄 Convert to "+strings.ToUpper(string(c.Target)))
			continue
		}
		parts = append(parts, stepLabels[step.Kind()])
	}
	return strings.Join(parts, " + ")
}

func confirmationText(conf *orchestrator.Confirmation) string {
	text := fmt.Sprintf("✅ Processing started: %s\n\nJob ID: <code>%s</code>\nRemaining credits: %s",
		planSummary(conf.Job.Options), conf.Job.ID, remainingText(conf.QuotaRemaining))
	if !conf.Published {
		text += "\n\n⏳ The queue is busy, your job will start shortly."
	}
	return text
}

var statusEmoji = map[domain.JobStatus]string{
	domain.JobStatusPending:    "⏳",
	domain.JobStatusProcessing: "⚙️",
	domain.JobStatusCompleted:  "✅",
	domain.JobStatusFailed:     "❌",
}

func historyText(page *orchestrator.HistoryPage, window time.Duration, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📋 <b>Your Recent Jobs</b> (Last %dh)\nTotal: %d | Page: %d/%d",
		int(window.Hours()), page.Total, page.Page+1, max(page.TotalPages, 1))

	for i, job := range page.Jobs {
		emoji, ok := statusEmoji[job.Status]
		if !ok {
			emoji = "❓"
		}
		fmt.Fprintf(&sb, "\n\n%d. %s <b>%s</b>\n   Status: %s\n   Created: %s\n   Job ID: <code>%s</code>",
			page.Page*page.PageSize+i+1, emoji, html.EscapeString(displayFilename(job.OriginalFilename)),
			job.Status, timeAgo(now.Sub(job.CreatedAt)), job.ID)
	}
	return sb.String()
}

func displayFilename(name string) string {
	name = path.Base(name)
	runes := []rune(name)
	if len(runes) > 30 {
		return string(runes[:27]) + "..."
	}
	return name
}

func timeAgo(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	case d >= time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d >= time.Minute:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return "just now"
	}
}
