package dlq

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/emberwood/gameserver/internal/metrics"
)

// HandlerFunc processes one decoded broker message.
type HandlerFunc func(ctx context.Context, msg map[string]any) error

// DeadLetterer is the sink for messages that exhausted their retries.
type DeadLetterer interface {
	Enqueue(ctx context.Context, e Entry) error
}

// RetryConfig bounds the retry loop. Delays grow exponentially from
// BaseDelay up to MaxDelay; retries are never unbounded.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig returns the standard retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Pipeline wraps message handlers with retry and dead-lettering.
type Pipeline struct {
	store   DeadLetterer
	metrics *metrics.Collector
	retry   RetryConfig

	enqueueTimeout time.Duration
	tasks          sync.WaitGroup
}

// NewPipeline creates a Pipeline. The store may be nil, in which case
// exhausted messages are only logged and counted.
func NewPipeline(store DeadLetterer, m *metrics.Collector, retry RetryConfig) *Pipeline {
	return &Pipeline{
		store:          store,
		metrics:        m,
		retry:          retry,
		enqueueTimeout: 5 * time.Second,
	}
}

// Process runs fn with bounded exponential-backoff retry. On exhaustion it
// enqueues the original message plus the terminal error to the dead-letter
// queue asynchronously, records DLQ and failure metrics, and returns the
// terminal error so the broker callback can decide what is fatal. Enqueue
// failures are logged and never mask the terminal error.
func (p *Pipeline) Process(ctx context.Context, msg map[string]any, fn HandlerFunc) error {
	err := p.withRetry(ctx, msg, fn)
	if err == nil {
		return nil
	}

	p.tasks.Add(1)
	go func() {
		defer p.tasks.Done()
		p.deadLetter(msg, err)
	}()

	if p.metrics != nil {
		p.metrics.RecordMessageDLQ()
		p.metrics.RecordMessageFailed()
	}
	return err
}

// Wait blocks until all pending dead-letter enqueues finish. Called during
// shutdown so no background task leaks.
func (p *Pipeline) Wait() {
	p.tasks.Wait()
}

func (p *Pipeline) withRetry(ctx context.Context, msg map[string]any, fn HandlerFunc) error {
	var lastErr error
	delay := p.retry.BaseDelay

	for attempt := 0; attempt < p.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(delay):
			}
			delay *= 2
			if delay > p.retry.MaxDelay {
				delay = p.retry.MaxDelay
			}
		}

		if lastErr = fn(ctx, msg); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (p *Pipeline) deadLetter(msg map[string]any, terminal error) {
	entry := Entry{
		Original:   msg,
		Error:      terminal.Error(),
		Attempts:   p.retry.MaxAttempts,
		EnqueuedAt: time.Now().UTC(),
	}

	if p.store == nil {
		log.Printf("[dlq] no store configured, dropping dead letter: %v", terminal)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.enqueueTimeout)
	defer cancel()
	if err := p.store.Enqueue(ctx, entry); err != nil {
		log.Printf("[dlq] enqueue failed: %v (terminal error: %v)", err, terminal)
	}
}
