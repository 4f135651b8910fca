package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
	Worker     WorkerConfig     `yaml:"worker"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Storage    StorageConfig    `yaml:"storage"`
	Quota      QuotaConfig      `yaml:"quota"`
	Processing ProcessingConfig `yaml:"processing"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	DeadLetter string           `yaml:"dead_letter_exchange"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	ConfirmTimeout    time.Duration `yaml:"confirm_timeout"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID                string        `yaml:"id"`
	Concurrency       int           `yaml:"concurrency"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// TelegramConfig holds bot API settings. Polling is used when WebhookURL is empty.
type TelegramConfig struct {
	Token           string        `yaml:"token"`
	Debug           bool          `yaml:"debug"`
	UpdateTimeout   int           `yaml:"update_timeout"`
	WebhookURL      string        `yaml:"webhook_url"`
	WebhookPath     string        `yaml:"webhook_path"`
	WebhookSecret   string        `yaml:"webhook_secret"`
	WebhookBuffer   int           `yaml:"webhook_buffer"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
	AlbumWindow     time.Duration `yaml:"album_window"`
	AlbumDelay      time.Duration `yaml:"album_notice_delay"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

// StorageConfig holds S3-compatible object storage settings
type StorageConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Region       string        `yaml:"region"`
	AccessKey    string        `yaml:"access_key"`
	SecretKey    string        `yaml:"secret_key"`
	Bucket       string        `yaml:"bucket"`
	PublicURL    string        `yaml:"public_url"`
	UsePathStyle bool          `yaml:"use_path_style"`
	PresignTTL   time.Duration `yaml:"presign_ttl"`
}

// QuotaConfig holds quota and job lifecycle settings
type QuotaConfig struct {
	DefaultFree       int           `yaml:"default_free"`
	ToggleRetries     int           `yaml:"toggle_retries"`
	MaxBatchSize      int           `yaml:"max_batch_size"`
	HistoryWindow     time.Duration `yaml:"history_window"`
	HistoryPageSize   int           `yaml:"history_page_size"`
	RepublishInterval time.Duration `yaml:"republish_interval"`
	RepublishGrace    time.Duration `yaml:"republish_grace"`
}

// ProcessingConfig holds image processing settings
type ProcessingConfig struct {
	MaxFileSizeMB int           `yaml:"max_file_size_mb"`
	RembgURL      string        `yaml:"rembg_url"`
	RembgTimeout  time.Duration `yaml:"rembg_timeout"`
	JPEGQuality   int           `yaml:"jpeg_quality"`
	WebPQuality   float32       `yaml:"webp_quality"`
	MaxMegapixels int           `yaml:"max_megapixels"`
}

// MaxPixels returns the decode budget in pixels; zero means the processor default
func (p ProcessingConfig) MaxPixels() int {
	return p.MaxMegapixels * 1_000_000
}

// MaxFileSize returns the upload limit in bytes
func (p ProcessingConfig) MaxFileSize() int64 {
	return int64(p.MaxFileSizeMB) << 20
}

// UseWebhook reports whether updates arrive by webhook instead of polling
func (t TelegramConfig) UseWebhook() bool {
	return t.WebhookURL != ""
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv()

	return &config, nil
}

// applyEnv lets secrets come from the environment instead of the file
func (c *Config) applyEnv() {
	overrides := []struct {
		env    string
		target *string
	}{
		{"TELEGRAM_BOT_TOKEN", &c.Telegram.Token},
		{"TELEGRAM_WEBHOOK_SECRET", &c.Telegram.WebhookSecret},
		{"DATABASE_PASSWORD", &c.Database.Password},
		{"RABBITMQ_PASSWORD", &c.RabbitMQ.Password},
		{"STORAGE_ACCESS_KEY", &c.Storage.AccessKey},
		{"STORAGE_SECRET_KEY", &c.Storage.SecretKey},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.env)); v != "" {
			*o.target = v
		}
	}
}

// ValidateBotConfig checks the settings the bot service needs
func (c *Config) ValidateBotConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Telegram.UseWebhook() {
		if !strings.HasPrefix(c.Telegram.WebhookPath, "/") {
			return fmt.Errorf("telegram webhook_path must start with /")
		}
		if c.Telegram.WebhookSecret == "" {
			return fmt.Errorf("telegram webhook_secret is required in webhook mode")
		}
	}

	if c.Quota.DefaultFree < 0 {
		return fmt.Errorf("quota default_free must not be negative")
	}

	if c.Processing.MaxFileSizeMB <= 0 {
		return fmt.Errorf("processing max_file_size_mb must be greater than 0")
	}

	return nil
}

// validateShared checks the connections both services open
func (c *Config) validateShared() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.RabbitMQ.Consumer.PrefetchCount < 0 {
		return fmt.Errorf("rabbitmq prefetch_count must not be negative")
	}

	if c.Processing.MaxMegapixels < 0 {
		return fmt.Errorf("processing max_megapixels must not be negative")
	}

	return nil
}
