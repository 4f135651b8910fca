package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/cuongbtq/image-bot/internal/domain"
	"github.com/cuongbtq/image-bot/internal/notifier"
)

// Logger returns a logger that discards everything
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Publisher records published task messages
type Publisher struct {
	mu       sync.Mutex
	messages []domain.TaskMessage
	// Err fails every publish while set
	Err error
}

func (p *Publisher) Publish(_ context.Context, msg domain.TaskMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return p.Err
	}
	p.messages = append(p.messages, msg)
	return nil
}

// SetErr changes the injected error
func (p *Publisher) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}

// Messages returns a copy of everything published so far
func (p *Publisher) Messages() []domain.TaskMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.TaskMessage(nil), p.messages...)
}

// ObjectStore keeps objects in memory
type ObjectStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	types       map[string]string
	PutErr      error
	GetErr      error
	PublicURLFn func(key string) string
}

// NewObjectStore creates an empty object store
func NewObjectStore() *ObjectStore {
	return &ObjectStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (o *ObjectStore) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.PutErr != nil {
		return "", o.PutErr
	}
	o.objects[key] = append([]byte(nil), data...)
	o.types[key] = contentType
	return "mem://" + key, nil
}

func (o *ObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.GetErr != nil {
		return nil, o.GetErr
	}
	data, ok := o.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, errors.New("not found"))
	}
	return append([]byte(nil), data...), nil
}

func (o *ObjectStore) Delete(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.objects, key)
	delete(o.types, key)
	return nil
}

// ContentType returns the content type an object was stored with
func (o *ObjectStore) ContentType(key string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.types[key]
}

// Has reports whether key exists
func (o *ObjectStore) Has(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.objects[key]
	return ok
}

// Len returns the number of stored objects
func (o *ObjectStore) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.objects)
}

// Notifier records deliveries
type Notifier struct {
	mu       sync.Mutex
	Results  []NotifiedResult
	Failures []NotifiedFailure
	Err      error
}

// NotifiedResult is one recorded result delivery
type NotifiedResult struct {
	ChatID int64
	Result notifier.Result
}

// NotifiedFailure is one recorded failure notice
type NotifiedFailure struct {
	ChatID int64
	JobID  string
	Reason string
}

func (n *Notifier) SendResult(_ context.Context, chatID int64, result notifier.Result) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.Err != nil {
		return n.Err
	}
	n.Results = append(n.Results, NotifiedResult{ChatID: chatID, Result: result})
	return nil
}

func (n *Notifier) SendFailure(_ context.Context, chatID int64, job *domain.Job, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.Err != nil {
		return n.Err
	}
	n.Failures = append(n.Failures, NotifiedFailure{ChatID: chatID, JobID: job.ID, Reason: reason})
	return nil
}
