package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "localhost", cfg.Database.Host)
			assert.Equal(t, "image_bot", cfg.Database.Database)
			assert.Equal(t, "image_exchange", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, "image_processing", cfg.RabbitMQ.Queue.Name)
			assert.Equal(t, "image_dlx", cfg.RabbitMQ.DeadLetter)
			assert.Equal(t, 2, cfg.RabbitMQ.Consumer.PrefetchCount)
			assert.Equal(t, "image-bot-service", cfg.App.Name)
			assert.Equal(t, 5*time.Minute, cfg.Worker.JobTimeout)
			assert.Equal(t, 5*time.Second, cfg.Telegram.AlbumWindow)
			assert.False(t, cfg.Telegram.UseWebhook())
			assert.True(t, cfg.Storage.UsePathStyle)
			assert.Equal(t, 10, cfg.Quota.DefaultFree)
			assert.Equal(t, 24*time.Hour, cfg.Quota.HistoryWindow)
			assert.Equal(t, int64(20<<20), cfg.Processing.MaxFileSize())
			assert.Equal(t, 40_000_000, cfg.Processing.MaxPixels())
			assert.Equal(t, float32(90), cfg.Processing.WebPQuality)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "456:env-token")
	t.Setenv("DATABASE_PASSWORD", "env-db")
	t.Setenv("RABBITMQ_PASSWORD", "")
	t.Setenv("STORAGE_ACCESS_KEY", "env-access")
	t.Setenv("STORAGE_SECRET_KEY", "env-secret")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "456:env-token", cfg.Telegram.Token)
	assert.Equal(t, "env-db", cfg.Database.Password)
	assert.Equal(t, "guest", cfg.RabbitMQ.Password, "empty env keeps the file value")
	assert.Equal(t, "env-access", cfg.Storage.AccessKey)
	assert.Equal(t, "env-secret", cfg.Storage.SecretKey)
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "image_bot",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "image_exchange"},
			Queue:    QueueConfig{Name: "image_processing"},
		},
		Worker: WorkerConfig{
			Concurrency:       2,
			JobTimeout:        time.Minute,
			HeartbeatInterval: 10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Telegram:   TelegramConfig{Token: "123:abc"},
		Storage:    StorageConfig{Bucket: "images"},
		Quota:      QuotaConfig{DefaultFree: 10},
		Processing: ProcessingConfig{MaxFileSizeMB: 20},
	}
}

func TestConfig_ValidateBotConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name: "valid webhook config",
			mutate: func(c *Config) {
				c.Telegram.WebhookURL = "https://bot.example.com/telegram/webhook"
				c.Telegram.WebhookPath = "/telegram/webhook"
				c.Telegram.WebhookSecret = "s3cret"
			},
		},
		{name: "invalid server port - too low", mutate: func(c *Config) { c.Server.Port = 0 }, errString: "invalid server port"},
		{name: "invalid server port - too high", mutate: func(c *Config) { c.Server.Port = 70000 }, errString: "invalid server port"},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = "" }, errString: "telegram token is required"},
		{name: "missing bucket", mutate: func(c *Config) { c.Storage.Bucket = "" }, errString: "storage bucket is required"},
		{name: "empty database host", mutate: func(c *Config) { c.Database.Host = "" }, errString: "database host is required"},
		{name: "invalid database port", mutate: func(c *Config) { c.Database.Port = -1 }, errString: "invalid database port"},
		{name: "empty database name", mutate: func(c *Config) { c.Database.Database = "" }, errString: "database name is required"},
		{name: "empty rabbitmq host", mutate: func(c *Config) { c.RabbitMQ.Host = "" }, errString: "rabbitmq host is required"},
		{name: "invalid rabbitmq port", mutate: func(c *Config) { c.RabbitMQ.Port = 99999 }, errString: "invalid rabbitmq port"},
		{name: "empty exchange", mutate: func(c *Config) { c.RabbitMQ.Exchange.Name = "" }, errString: "rabbitmq exchange name is required"},
		{name: "empty queue", mutate: func(c *Config) { c.RabbitMQ.Queue.Name = "" }, errString: "rabbitmq queue name is required"},
		{
			name: "webhook path without slash",
			mutate: func(c *Config) {
				c.Telegram.WebhookURL = "https://bot.example.com/hook"
				c.Telegram.WebhookPath = "hook"
				c.Telegram.WebhookSecret = "s3cret"
			},
			errString: "webhook_path must start with /",
		},
		{
			name: "webhook without secret",
			mutate: func(c *Config) {
				c.Telegram.WebhookURL = "https://bot.example.com/hook"
				c.Telegram.WebhookPath = "/hook"
			},
			errString: "webhook_secret is required",
		},
		{name: "negative quota", mutate: func(c *Config) { c.Quota.DefaultFree = -1 }, errString: "default_free must not be negative"},
		{name: "no file size limit", mutate: func(c *Config) { c.Processing.MaxFileSizeMB = 0 }, errString: "max_file_size_mb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateBotConfig()
			if tt.errString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "server port is not required", mutate: func(c *Config) { c.Server.Port = 0 }},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.Token = "" }, errString: "telegram token is required"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Worker.Concurrency = 0 }, errString: "worker concurrency"},
		{name: "zero job timeout", mutate: func(c *Config) { c.Worker.JobTimeout = 0 }, errString: "worker job_timeout"},
		{name: "zero heartbeat", mutate: func(c *Config) { c.Worker.HeartbeatInterval = 0 }, errString: "worker heartbeat_interval"},
		{name: "zero shutdown timeout", mutate: func(c *Config) { c.Worker.ShutdownTimeout = 0 }, errString: "worker shutdown_timeout"},
		{name: "negative prefetch", mutate: func(c *Config) { c.RabbitMQ.Consumer.PrefetchCount = -1 }, errString: "prefetch_count"},
		{name: "negative pixel budget", mutate: func(c *Config) { c.Processing.MaxMegapixels = -1 }, errString: "max_megapixels"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}
