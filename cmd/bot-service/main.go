package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/image-bot/internal/api/handler"
	"github.com/cuongbtq/image-bot/internal/api/router"
	"github.com/cuongbtq/image-bot/internal/bot"
	"github.com/cuongbtq/image-bot/internal/config"
	"github.com/cuongbtq/image-bot/internal/orchestrator"
	"github.com/cuongbtq/image-bot/internal/queue"
	"github.com/cuongbtq/image-bot/internal/storage"
	"github.com/cuongbtq/image-bot/shared/logger"
	"github.com/cuongbtq/image-bot/shared/objectstore"
	"github.com/cuongbtq/image-bot/shared/postgresql"
	"github.com/cuongbtq/image-bot/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("BOT_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/bot-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateBotConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	appLogger = appLogger.With(slog.String("service", "bot-service"))

	appLogger.Info("Starting bot service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.Bool("webhook", cfg.Telegram.UseWebhook()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	store := storage.NewStorage(dbClient, appLogger.Logger)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	appLogger.Info("Database connection established")

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	objects, err := initObjectStore(ctx, &cfg.Storage, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize object storage: %w", err)
	}

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("failed to initialize Telegram client: %w", err)
	}
	api.Debug = cfg.Telegram.Debug

	appLogger.Info("Authorized on Telegram", slog.String("username", api.Self.UserName))

	orch := orchestrator.New(&orchestrator.Config{
		Logger:           appLogger.Logger,
		Store:            store,
		Publisher:        queue.NewPublisher(rabbitClient, appLogger.Logger),
		Objects:          objects,
		DefaultFreeQuota: cfg.Quota.DefaultFree,
		ToggleRetries:    cfg.Quota.ToggleRetries,
		HistoryWindow:    cfg.Quota.HistoryWindow,
		HistoryPageSize:  cfg.Quota.HistoryPageSize,
		MaxBatchSize:     cfg.Quota.MaxBatchSize,
		RepublishGrace:   cfg.Quota.RepublishGrace,
	})

	botInstance := bot.New(&bot.Config{
		Logger:           appLogger.Logger,
		API:              api,
		Service:          orch,
		Fetcher:          bot.NewFileFetcher(api, cfg.Telegram.DownloadTimeout, cfg.Processing.MaxFileSize()),
		Polling:          !cfg.Telegram.UseWebhook(),
		UpdateTimeout:    cfg.Telegram.UpdateTimeout,
		WebhookBuffer:    cfg.Telegram.WebhookBuffer,
		MaxFileSize:      cfg.Processing.MaxFileSize(),
		RateLimit:        rate.Limit(cfg.Telegram.RateLimit),
		RateBurst:        cfg.Telegram.RateBurst,
		AlbumWindow:      cfg.Telegram.AlbumWindow,
		AlbumNoticeDelay: cfg.Telegram.AlbumDelay,
		HistoryWindow:    cfg.Quota.HistoryWindow,
	})

	if cfg.Telegram.UseWebhook() {
		if err := bot.SetWebhook(api, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
			return err
		}
		appLogger.Info("Webhook registered", slog.String("url", cfg.Telegram.WebhookURL))
	} else if err := bot.DeleteWebhook(api); err != nil {
		return err
	}

	r := initRouter(cfg, appLogger.Logger, dbClient, rabbitClient, store, objects, botInstance)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	republishInterval := cfg.Quota.RepublishInterval
	if republishInterval <= 0 {
		republishInterval = 30 * time.Second
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return botInstance.Run(gctx)
	})

	g.Go(func() error {
		orch.RunRepublisher(gctx, republishInterval)
		return nil
	})

	g.Go(func() error {
		appLogger.Info("Starting HTTP server", slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	appLogger.Info("Bot service is running")

	if err := g.Wait(); err != nil {
		appLogger.Error("Bot service stopped with error", slog.Any("error", err))
		return err
	}

	appLogger.Info("Bot service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		ConfirmTimeout:     cfg.Publish.ConfirmTimeout,
		DeadLetterExchange: cfg.DeadLetter,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initObjectStore connects to the bucket and creates it on first use
func initObjectStore(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger) (*objectstore.Client, error) {
	client, err := objectstore.NewClient(ctx, &objectstore.Config{
		Endpoint:     cfg.Endpoint,
		Region:       cfg.Region,
		AccessKey:    cfg.AccessKey,
		SecretKey:    cfg.SecretKey,
		Bucket:       cfg.Bucket,
		PublicURL:    cfg.PublicURL,
		UsePathStyle: cfg.UsePathStyle,
		PresignTTL:   cfg.PresignTTL,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := client.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// initRouter initializes the Gin router. The webhook route is only mounted in webhook mode.
func initRouter(cfg *config.Config, logger *slog.Logger, dbClient *postgresql.Client, rabbitClient *rabbitmq.Client, store *storage.Storage, objects *objectstore.Client, b *bot.Bot) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	handlerDeps := &handler.Dependencies{
		Logger: logger,
		Jobs:   store,
		DB:     dbClient,
		Broker: rabbitClient,
		Links:  objects,
	}
	if cfg.Telegram.UseWebhook() {
		handlerDeps.Updates = b
		handlerDeps.WebhookPath = cfg.Telegram.WebhookPath
		handlerDeps.WebhookSecret = cfg.Telegram.WebhookSecret
	}

	return router.SetupRouter(handlerDeps)
}
