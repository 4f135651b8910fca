package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/image-bot/internal/domain"
	"github.com/cuongbtq/image-bot/internal/notifier"
	"github.com/cuongbtq/image-bot/internal/transform"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is the consuming side of the task queue
type Broker interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	SetPrefetch(count int) error
}

// Store is the job persistence the worker needs
type Store interface {
	ClaimJob(ctx context.Context, jobID string) (*domain.Job, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	UpdateJobHeartbeat(ctx context.Context, jobID string) error
	MarkCompleted(ctx context.Context, jobID, processedKey string, elapsed time.Duration) error
	MarkFailed(ctx context.Context, jobID, errorMsg string) error
}

// ObjectStore holds original and processed images
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Transformer runs a processing plan over an encoded image
type Transformer interface {
	Apply(ctx context.Context, data []byte, plan domain.Plan) (*transform.Output, error)
}

// Notifier delivers results back to the user's chat
type Notifier interface {
	SendResult(ctx context.Context, chatID int64, result notifier.Result) error
	SendFailure(ctx context.Context, chatID int64, job *domain.Job, reason string) error
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Broker            Broker
	Store             Store
	Objects           ObjectStore
	Transformer       Transformer
	Notifier          Notifier
	WorkerID          string
	QueueName         string
	Concurrency       int
	PrefetchCount     int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
}

// jobMessage is a decoded task together with the delivery it came from
type jobMessage struct {
	task     domain.TaskMessage
	delivery amqp.Delivery
}

// Worker consumes image tasks and processes them with a bounded pool
type Worker struct {
	logger            *slog.Logger
	broker            Broker
	store             Store
	objects           ObjectStore
	transformer       Transformer
	notifier          Notifier
	workerID          string
	queueName         string
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	jobsChan          chan *jobMessage
	wg                sync.WaitGroup
	stopChan          chan struct{}
	stopOnce          sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:            cfg.Logger,
		broker:            cfg.Broker,
		store:             cfg.Store,
		objects:           cfg.Objects,
		transformer:       cfg.Transformer,
		notifier:          cfg.Notifier,
		workerID:          cfg.WorkerID,
		queueName:         cfg.QueueName,
		concurrency:       cfg.Concurrency,
		prefetchCount:     cfg.PrefetchCount,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		stopChan:          make(chan struct{}),
	}

	if w.concurrency <= 0 {
		w.concurrency = 1
	}
	if w.prefetchCount <= 0 {
		w.prefetchCount = w.concurrency
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = 300 * time.Second
	}
	if w.heartbeatInterval <= 0 {
		w.heartbeatInterval = 30 * time.Second
	}
	if w.workerID == "" {
		w.workerID = "worker"
	}
	w.jobsChan = make(chan *jobMessage, w.concurrency)

	return w
}

// Start consumes the task queue until ctx is canceled or Stop is called. It
// returns ErrDeliveriesClosed if the broker ends the consumer first.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	w.spawnWorkerPool(ctx)
	dispatchErr := w.startMessageDispatcher(ctx, deliveries)

	w.wg.Wait()
	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
	return dispatchErr
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
	w.wg.Wait()
}
