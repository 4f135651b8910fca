package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/image-bot/internal/domain"
	"github.com/cuongbtq/image-bot/internal/testutil"
	"github.com/cuongbtq/image-bot/internal/transform"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJobID = "9b2f0c1e-4d7a-4c1b-8e3f-2a6d5c4b3a21"

type fixture struct {
	store    *testutil.Store
	objects  *testutil.ObjectStore
	notifier *testutil.Notifier
	worker   *Worker
	user     *domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:    testutil.NewStore(),
		objects:  testutil.NewObjectStore(),
		notifier: &testutil.Notifier{},
	}
	f.user = f.store.AddUser(domain.User{TelegramID: 777, QuotaLimit: 10})
	f.worker = NewWorker(&Config{
		Logger:            testutil.Logger(),
		Store:             f.store,
		Objects:           f.objects,
		Transformer:       transform.NewProcessor(nil, transform.Config{}, testutil.Logger()),
		Notifier:          f.notifier,
		WorkerID:          "worker-test",
		Concurrency:       2,
		JobTimeout:        5 * time.Second,
		HeartbeatInterval: time.Second,
	})
	return f
}

func samplePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.NRGBA{B: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// addEnqueuedJob stores an original and a confirmed job pointing at it
func (f *fixture) addEnqueuedJob(t *testing.T, opts domain.Options) domain.TaskMessage {
	t.Helper()

	key := "original/777/source.png"
	_, err := f.objects.Put(context.Background(), key, samplePNG(t, 800, 400), "image/png")
	require.NoError(t, err)

	now := time.Now()
	job := f.store.AddJob(domain.Job{
		ID:               testJobID,
		UserID:           f.user.ID,
		OriginalFilename: "source.png",
		OriginalFileKey:  key,
		Status:           domain.JobStatusPending,
		Options:          opts,
		EnqueuedAt:       &now,
	})
	return domain.NewTaskMessage(job)
}

func TestProcessJob_Success(t *testing.T) {
	f := newFixture(t)
	task := f.addEnqueuedJob(t, domain.Options{AsSticker: true, TelegramMessageID: 42})

	require.NoError(t, f.worker.processJob(context.Background(), task))

	job := f.store.Job(testJobID)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	require.NotNil(t, job.ProcessedFileKey)

	wantKey := fmt.Sprintf("processed/%d/%s.webp", f.user.ID, testJobID)
	assert.Equal(t, wantKey, *job.ProcessedFileKey)
	assert.True(t, f.objects.Has(wantKey))
	assert.Equal(t, "image/webp", f.objects.ContentType(wantKey))
	require.NotNil(t, job.ProcessingTimeSeconds)

	require.Len(t, f.notifier.Results, 1)
	delivered := f.notifier.Results[0]
	assert.Equal(t, int64(777), delivered.ChatID)
	assert.True(t, delivered.Result.Sticker)
	assert.Equal(t, domain.FormatWebP, delivered.Result.Format)
	assert.Equal(t, 42, delivered.Result.ReplyToMessageID)
	assert.Empty(t, f.notifier.Failures)
}

func TestProcessJob_ConversionKeepsStoredOptions(t *testing.T) {
	f := newFixture(t)
	task := f.addEnqueuedJob(t, domain.Options{TargetFormat: domain.FormatJPEG})
	// message carries stale options; the stored ones win
	task.Options = domain.Options{AsSticker: true}

	require.NoError(t, f.worker.processJob(context.Background(), task))

	job := f.store.Job(testJobID)
	require.NotNil(t, job.ProcessedFileKey)
	assert.Equal(t, fmt.Sprintf("processed/%d/%s.jpg", f.user.ID, testJobID), *job.ProcessedFileKey)
	assert.Equal(t, "image/jpeg", f.objects.ContentType(*job.ProcessedFileKey))
}

func TestProcessJob_RedeliveryIsNoOp(t *testing.T) {
	f := newFixture(t)
	task := f.addEnqueuedJob(t, domain.Options{AsSticker: true})

	require.NoError(t, f.worker.processJob(context.Background(), task))
	before := f.store.Job(testJobID)

	require.NoError(t, f.worker.processJob(context.Background(), task))

	after := f.store.Job(testJobID)
	assert.Equal(t, domain.JobStatusCompleted, after.Status)
	assert.Equal(t, before.Version, after.Version)
	assert.Len(t, f.notifier.Results, 1)
}

func TestProcessJob_StorageFailure(t *testing.T) {
	f := newFixture(t)
	task := f.addEnqueuedJob(t, domain.Options{RemoveBackground: false, AsSticker: true})
	f.objects.GetErr = errors.New("connection reset")

	err := f.worker.processJob(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.False(t, shouldRequeueJob(err))

	job := f.store.Job(testJobID)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "connection reset")

	require.Len(t, f.notifier.Failures, 1)
	assert.Equal(t, int64(777), f.notifier.Failures[0].ChatID)
	assert.Equal(t, "file storage is unavailable", f.notifier.Failures[0].Reason)
	assert.Empty(t, f.notifier.Results)
}

func TestProcessJob_UploadFailure(t *testing.T) {
	f := newFixture(t)
	task := f.addEnqueuedJob(t, domain.Options{AsSticker: true})
	f.objects.PutErr = errors.New("bucket full")

	err := f.worker.processJob(context.Background(), task)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.Equal(t, domain.JobStatusFailed, f.store.Job(testJobID).Status)
}

func TestProcessJob_EmptyPlanFails(t *testing.T) {
	f := newFixture(t)
	task := f.addEnqueuedJob(t, domain.Options{})

	err := f.worker.processJob(context.Background(), task)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
	assert.False(t, shouldRequeueJob(err))

	job := f.store.Job(testJobID)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, domain.ErrNoOptionsSelected.Error())
}

func TestProcessJob_DeliveryFailureKeepsCompleted(t *testing.T) {
	f := newFixture(t)
	task := f.addEnqueuedJob(t, domain.Options{AsSticker: true})
	f.notifier.Err = errors.New("bot was blocked by the user")

	require.NoError(t, f.worker.processJob(context.Background(), task))
	assert.Equal(t, domain.JobStatusCompleted, f.store.Job(testJobID).Status)
}

func TestProcessJob_Unclaimable(t *testing.T) {
	tests := []struct {
		name   string
		job    *domain.Job
		status domain.JobStatus
	}{
		{
			name: "unknown job",
		},
		{
			name:   "never confirmed",
			job:    &domain.Job{ID: testJobID, Status: domain.JobStatusPending, Options: domain.Options{AsSticker: true}},
			status: domain.JobStatusPending,
		},
		{
			name:   "owned by another worker",
			job:    &domain.Job{ID: testJobID, Status: domain.JobStatusProcessing},
			status: domain.JobStatusProcessing,
		},
		{
			name:   "already failed",
			job:    &domain.Job{ID: testJobID, Status: domain.JobStatusFailed},
			status: domain.JobStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.job != nil {
				tt.job.UserID = f.user.ID
				f.store.AddJob(*tt.job)
			}

			err := f.worker.processJob(context.Background(), domain.TaskMessage{JobID: testJobID})
			require.NoError(t, err)

			if tt.job != nil {
				assert.Equal(t, tt.status, f.store.Job(testJobID).Status)
			}
			assert.Empty(t, f.notifier.Results)
			assert.Empty(t, f.notifier.Failures)
		})
	}
}

func TestProcessJob_ClaimErrorIsRetryable(t *testing.T) {
	f := newFixture(t)
	task := f.addEnqueuedJob(t, domain.Options{AsSticker: true})
	f.store.ClaimErr = errors.New("connection refused")

	err := f.worker.processJob(context.Background(), task)
	require.Error(t, err)
	assert.True(t, shouldRequeueJob(err))
	assert.Equal(t, domain.JobStatusPending, f.store.Job(testJobID).Status)
}

func TestShouldRequeueJob(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"already claimed", domain.ErrJobAlreadyClaimed, false},
		{"invalid payload", fmt.Errorf("wrapped: %w", domain.ErrInvalidPayload), false},
		{"retryable", domain.NewRetryableError(errors.New("db down")), true},
		{"wrapped retryable", fmt.Errorf("claim: %w", domain.NewRetryableError(errors.New("db down"))), true},
		{"storage after claim", fmt.Errorf("%w: boom", domain.ErrStorage), false},
		{"unknown", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldRequeueJob(tt.err))
		})
	}
}

type ackRecord struct {
	tag     uint64
	ack     bool
	requeue bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	records []ackRecord
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{tag: tag, ack: true})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) byTag() map[uint64]ackRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uint64]ackRecord, len(a.records))
	for _, r := range a.records {
		out[r.tag] = r
	}
	return out
}

type fakeBroker struct {
	deliveries chan amqp.Delivery
	prefetch   int
	consumeErr error
}

func (b *fakeBroker) Consume(string) (<-chan amqp.Delivery, error) {
	if b.consumeErr != nil {
		return nil, b.consumeErr
	}
	return b.deliveries, nil
}

func (b *fakeBroker) SetPrefetch(count int) error {
	b.prefetch = count
	return nil
}

func TestWorker_StartSettlesDeliveries(t *testing.T) {
	f := newFixture(t)
	task := f.addEnqueuedJob(t, domain.Options{AsSticker: true})
	body, err := task.Encode()
	require.NoError(t, err)

	acks := &fakeAcknowledger{}
	broker := &fakeBroker{deliveries: make(chan amqp.Delivery, 3)}
	broker.deliveries <- amqp.Delivery{Acknowledger: acks, DeliveryTag: 1, Body: body}
	broker.deliveries <- amqp.Delivery{Acknowledger: acks, DeliveryTag: 2, Body: []byte("{not json")}
	broker.deliveries <- amqp.Delivery{Acknowledger: acks, DeliveryTag: 3, Body: body}
	close(broker.deliveries)

	f.worker.broker = broker
	// deliveries are drained before the closed channel is reported
	require.ErrorIs(t, f.worker.Start(context.Background()), ErrDeliveriesClosed)

	assert.Equal(t, 2, broker.prefetch)

	records := acks.byTag()
	require.Len(t, records, 3)
	assert.True(t, records[1].ack)
	assert.True(t, records[3].ack, "duplicate delivery acks")
	assert.False(t, records[2].ack)
	assert.False(t, records[2].requeue)

	assert.Equal(t, domain.JobStatusCompleted, f.store.Job(testJobID).Status)
	assert.Len(t, f.notifier.Results, 1)
}

func TestWorker_StartReturnsNilWhenCanceled(t *testing.T) {
	f := newFixture(t)
	f.worker.broker = &fakeBroker{deliveries: make(chan amqp.Delivery)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_StartConsumeError(t *testing.T) {
	f := newFixture(t)
	f.worker.broker = &fakeBroker{consumeErr: errors.New("channel closed")}

	err := f.worker.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")
}
