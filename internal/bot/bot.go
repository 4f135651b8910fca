package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/image-bot/internal/domain"
	"github.com/cuongbtq/image-bot/internal/orchestrator"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// ErrBusy is returned by Enqueue when the webhook buffer is full
var ErrBusy = errors.New("bot is busy")

// API is the part of the Telegram client the bot uses; *tgbotapi.BotAPI satisfies it
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Service is the job lifecycle; *orchestrator.Orchestrator satisfies it
type Service interface {
	EnsureUser(ctx context.Context, profile domain.UserProfile) (*domain.User, error)
	QuotaStatus(ctx context.Context, userID int64) (*domain.User, error)
	CreateJobFromUpload(ctx context.Context, user *domain.User, filename, contentType string, data []byte) (*domain.Job, error)
	ToggleOption(ctx context.Context, jobID string, userID int64, option domain.Option) (*domain.Job, error)
	SetTargetFormat(ctx context.Context, jobID string, userID int64, format domain.Format) (*domain.Job, error)
	ConfirmAndEnqueue(ctx context.Context, jobID string, userID int64, messageID int) (*orchestrator.Confirmation, error)
	BatchConfirm(ctx context.Context, userID int64, jobIDs []string, opts orchestrator.BatchOptions) (*orchestrator.BatchResult, error)
	RecentJobs(ctx context.Context, userID int64, page int) (*orchestrator.HistoryPage, error)
	PendingJobs(ctx context.Context, userID int64) ([]domain.Job, error)
}

// Config holds bot dependencies and tuning
type Config struct {
	Logger  *slog.Logger
	API     API
	Service Service
	Fetcher FileFetcher
	// Polling pulls updates with getUpdates; otherwise updates arrive through Enqueue
	Polling          bool
	UpdateTimeout    int
	WebhookBuffer    int
	MaxFileSize      int64
	RateLimit        rate.Limit
	RateBurst        int
	AlbumWindow      time.Duration
	AlbumNoticeDelay time.Duration
	HistoryWindow    time.Duration
}

// Bot routes Telegram updates to the job lifecycle
type Bot struct {
	logger           *slog.Logger
	api              API
	service          Service
	fetcher          FileFetcher
	polling          bool
	updateTimeout    int
	maxFileSize      int64
	albumNoticeDelay time.Duration
	historyWindow    time.Duration
	albums           *MediaGroupTracker
	limiter          *UserLimiter
	webhookUpdates   chan tgbotapi.Update
	wg               sync.WaitGroup
	now              func() time.Time
}

// New creates a new bot instance
func New(cfg *Config) *Bot {
	b := &Bot{
		logger:           cfg.Logger,
		api:              cfg.API,
		service:          cfg.Service,
		fetcher:          cfg.Fetcher,
		polling:          cfg.Polling,
		updateTimeout:    cfg.UpdateTimeout,
		maxFileSize:      cfg.MaxFileSize,
		albumNoticeDelay: cfg.AlbumNoticeDelay,
		historyWindow:    cfg.HistoryWindow,
		albums:           NewMediaGroupTracker(cfg.AlbumWindow, 0),
		limiter:          NewUserLimiter(cfg.RateLimit, cfg.RateBurst, 0),
		now:              time.Now,
	}

	if b.updateTimeout <= 0 {
		b.updateTimeout = 60
	}
	if b.historyWindow <= 0 {
		b.historyWindow = 24 * time.Hour
	}
	buffer := cfg.WebhookBuffer
	if buffer <= 0 {
		buffer = 100
	}
	b.webhookUpdates = make(chan tgbotapi.Update, buffer)
	if b.fetcher == nil {
		b.fetcher = NewFileFetcher(b.api, 0, b.maxFileSize)
	}

	return b
}

// Run handles updates until ctx is canceled. Every update is handled on its
// own goroutine; Run waits for them before returning.
func (b *Bot) Run(ctx context.Context) error {
	var updates tgbotapi.UpdatesChannel
	if b.polling {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = b.updateTimeout
		updates = b.api.GetUpdatesChan(u)
		b.logger.Info("Bot started polling", slog.Int("timeout", b.updateTimeout))
	} else {
		updates = b.webhookUpdates
		b.logger.Info("Bot waiting for webhook updates")
	}

	go b.albums.Run(ctx, time.Minute)
	go b.limiter.Run(ctx, 5*time.Minute)

	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			if b.polling {
				b.api.StopReceivingUpdates()
			}
			b.logger.Info("Bot stopped")
			return nil

		case update, ok := <-updates:
			if !ok {
				b.logger.Warn("Update channel closed")
				return nil
			}

			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.HandleUpdate(ctx, update)
			}()
		}
	}
}

// Enqueue hands a webhook update to Run without blocking
func (b *Bot) Enqueue(update tgbotapi.Update) error {
	select {
	case b.webhookUpdates <- update:
		return nil
	default:
		return ErrBusy
	}
}

// HandleUpdate processes a single update synchronously
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Panic while handling update",
				slog.Int("update_id", update.UpdateID),
				slog.Any("panic", r),
			)
		}
	}()

	from := sender(update)
	if from == nil || from.IsBot {
		return
	}

	if !b.limiter.Allow(from.ID) {
		b.logger.Debug("Update rate limited", slog.Int64("telegram_id", from.ID))
		if update.CallbackQuery != nil {
			b.answer(update.CallbackQuery, "⏳ Too many requests, slow down.", false)
		}
		return
	}

	user, err := b.service.EnsureUser(ctx, domain.UserProfile{
		TelegramID: from.ID,
		Username:   from.UserName,
		FirstName:  from.FirstName,
		LastName:   from.LastName,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrUserBlocked) {
			b.logger.Error("Failed to register user",
				slog.Int64("telegram_id", from.ID),
				slog.Any("error", err),
			)
		}
		b.refuse(update, err)
		return
	}

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery, user)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message, user)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message, user *domain.User) {
	switch {
	case msg.IsCommand():
		b.handleCommand(ctx, msg, user)
	case len(msg.Photo) > 0 || msg.Document != nil:
		b.handleUpload(ctx, msg, user)
	default:
		b.reply(msg.Chat.ID, "📸 Send me an image and I'll process it for you! See /help.")
	}
}

// refuse tells the user why the update was not handled
func (b *Bot) refuse(update tgbotapi.Update, err error) {
	text := userMessage(err)
	if update.CallbackQuery != nil {
		b.answer(update.CallbackQuery, text, true)
		return
	}
	if update.Message != nil {
		b.reply(update.Message.Chat.ID, text)
	}
}

func sender(update tgbotapi.Update) *tgbotapi.User {
	switch {
	case update.Message != nil:
		return update.Message.From
	case update.CallbackQuery != nil:
		return update.CallbackQuery.From
	default:
		return nil
	}
}

func (b *Bot) reply(chatID int64, text string) (tgbotapi.Message, error) {
	return b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) replyHTML(chatID int64, text string, markup any) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	return b.send(msg)
}

func (b *Bot) send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	sent, err := b.api.Send(c)
	if err != nil {
		b.logger.Warn("Failed to send message", slog.Any("error", err))
	}
	return sent, err
}

func (b *Bot) request(c tgbotapi.Chattable) {
	if _, err := b.api.Request(c); err != nil {
		b.logger.Debug("Telegram request failed", slog.Any("error", err))
	}
}

func (b *Bot) answer(cb *tgbotapi.CallbackQuery, text string, alert bool) {
	c := tgbotapi.NewCallback(cb.ID, text)
	c.ShowAlert = alert
	b.request(c)
}
