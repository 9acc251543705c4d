// Package broker wraps the NATS connection used by the message distribution
// core. It owns the connection lifecycle, a pool of publishing connections,
// subject-validated publish/subscribe/request operations, batching, and the
// connection state machine that gates reconnect attempts.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/emberwood/gameserver/internal/metrics"
	"github.com/emberwood/gameserver/internal/subject"
)

// Handler is the callback signature for subscription messages. Payloads are
// decoded from JSON before the handler runs; decode failures are logged and
// dropped without invoking the handler.
type Handler func(ctx context.Context, data map[string]any)

// Config holds broker connection settings.
type Config struct {
	URL                string        // nats://localhost:4222
	Name               string        // client name for identification
	MaxReconnects      int           // max reconnect attempts (-1 for infinite)
	ConnectTimeout     time.Duration // dial timeout per connection
	PingInterval       time.Duration // server ping interval
	MaxPingsOut        int           // outstanding pings before the conn is dead
	ReconnectWait      time.Duration // time between library reconnect attempts
	ReconnectBackoff   time.Duration // initial backoff gating our own attempts
	MaxBackoff         time.Duration // backoff ceiling
	PoolSize           int           // publishing connection pool size
	BatchSize          int           // queued messages that trigger a flush
	BatchFlushInterval time.Duration // background flush period
	AcquireTimeout     time.Duration // max wait for a pooled connection
	ValidateSubjects   bool          // subject validation on publish/subscribe
	StrictSubjects     bool          // full rule set vs basic checks
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:                "nats://localhost:4222",
		Name:               "gameserver",
		MaxReconnects:      -1,
		ConnectTimeout:     5 * time.Second,
		PingInterval:       30 * time.Second,
		MaxPingsOut:        3,
		ReconnectWait:      2 * time.Second,
		ReconnectBackoff:   time.Second,
		MaxBackoff:         time.Minute,
		PoolSize:           4,
		BatchSize:          25,
		BatchFlushInterval: 500 * time.Millisecond,
		AcquireTimeout:     2 * time.Second,
		ValidateSubjects:   true,
		StrictSubjects:     true,
	}
}

// Client wraps NATS connections with subject validation, pooling, batching,
// and metrics. Construct with New, then Connect before publishing.
type Client struct {
	config   Config
	subjects *subject.Builder
	metrics  *metrics.Collector
	gate     *connGate

	mu      sync.Mutex
	conn    *nats.Conn // subscription connection
	pool    chan *nats.Conn
	subs    map[string]*nats.Subscription
	running bool

	// pubs counts in-flight pool checkouts. Disconnect waits on it before
	// closing the pool, so a release never sends on a closed channel.
	pubs sync.WaitGroup

	// healthFailures is written by the health loop and reset from the NATS
	// reconnect callback, which runs on a different goroutine.
	healthFailures atomic.Int32

	batchMu    sync.Mutex
	batches    map[string][]json.RawMessage
	batchTotal int

	// send is swapped out by tests that exercise batching without a broker.
	send func(subj string, data []byte) error

	taskCtx    context.Context
	taskCancel context.CancelFunc
	tasks      sync.WaitGroup
}

// New creates a Client. The subject builder is optional; with a nil builder
// no subject validation happens.
func New(cfg Config, subjects *subject.Builder, m *metrics.Collector) *Client {
	c := &Client{
		config:   cfg,
		subjects: subjects,
		metrics:  m,
		gate:     newConnGate(cfg.ReconnectBackoff, cfg.MaxBackoff),
		subs:     make(map[string]*nats.Subscription),
		batches:  make(map[string][]json.RawMessage),
	}
	c.send = c.sendPooled
	return c
}

// State returns the current connection state.
func (c *Client) State() ConnState { return c.gate.current() }

// IsConnected reports whether an active connection handle exists and the
// client is running.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.running
}

// Connect establishes the broker connection and the publishing pool. The
// attempt is gated by the connection state machine: while a connect is in
// flight or a backoff window from the last failure is open, Connect returns
// false without any I/O. Ordinary connection failure is reported with a
// false return, never an error, because reconnection is a steady-state event.
func (c *Client) Connect(ctx context.Context) bool {
	if !c.gate.canAttemptConnection() {
		log.Printf("[broker] connect attempt denied (state=%s)", c.State())
		return false
	}
	c.gate.set(StateConnecting)

	conn, err := nats.Connect(c.config.URL, c.connectOptions()...)
	if err != nil {
		c.gate.recordFailure()
		c.gate.set(StateDisconnected)
		log.Printf("[broker] attempt %d: %v", c.gate.retries.Load(), &ConnectionError{Op: "connect", Err: err})
		return false
	}

	pool := make(chan *nats.Conn, c.config.PoolSize)
	for i := 0; i < c.config.PoolSize; i++ {
		pc, err := nats.Connect(c.config.URL, c.poolOptions(i)...)
		if err != nil {
			for len(pool) > 0 {
				(<-pool).Close()
			}
			conn.Close()
			c.gate.recordFailure()
			c.gate.set(StateDisconnected)
			log.Printf("[broker] pool connection %d failed: %v", i, err)
			return false
		}
		pool <- pc
	}

	c.mu.Lock()
	c.conn = conn
	c.pool = pool
	c.subs = make(map[string]*nats.Subscription)
	c.running = true
	c.taskCtx, c.taskCancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	c.gate.set(StateConnected)
	c.gate.reset()
	c.resetHealth()
	if c.metrics != nil {
		c.metrics.UpdatePoolUtilization(0)
	}

	c.runTask("batch-flush", c.batchFlushLoop)
	c.runTask("health", c.healthLoop)

	log.Printf("[broker] connected to %s (pool=%d)", conn.ConnectedUrl(), c.config.PoolSize)
	return true
}

// Disconnect unsubscribes everything, cancels and awaits all background
// tasks, and closes the connection pool. Individual unsubscribe failures are
// logged and swallowed so one failure does not block the rest.
func (c *Client) Disconnect() {
	c.mu.Lock()
	for subj, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("[broker] unsubscribe %s during disconnect: %v", subj, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)
	cancel := c.taskCancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.tasks.Wait()

	// Push out anything still queued while the pool can still send.
	c.Flush()

	// Refuse new checkouts, then wait for in-flight publishes so nobody
	// holds a pooled connection when the pool closes.
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	c.pubs.Wait()

	c.mu.Lock()
	pool := c.pool
	conn := c.conn
	c.pool = nil
	c.conn = nil
	c.mu.Unlock()

	if pool != nil {
		close(pool)
		for pc := range pool {
			pc.Close()
		}
	}
	if conn != nil {
		if err := conn.Drain(); err != nil {
			log.Printf("[broker] %v", &ConnectionError{Op: "drain", Err: err})
		}
	}

	c.gate.set(StateDisconnected)
	if c.metrics != nil {
		c.metrics.UpdateConnectionHealth(0)
		c.metrics.UpdatePoolUtilization(0)
	}
	log.Printf("[broker] disconnected")
}

// Publish validates the subject, serializes data to JSON, and sends it on a
// pooled connection. Invalid subjects fail before any I/O.
func (c *Client) Publish(subj string, data any) error {
	return c.PublishWithPool(subj, data)
}

// PublishWithPool publishes via explicit pooled-connection acquisition. The
// connection is returned to the pool on both success and failure paths.
func (c *Client) PublishWithPool(subj string, data any) error {
	start := time.Now()

	if err := c.checkSubject(subj); err != nil {
		c.recordPublish(false, start)
		return &PublishError{Subject: subj, Err: err}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		c.recordPublish(false, start)
		return &PublishError{Subject: subj, Err: fmt.Errorf("marshal: %w", err)}
	}

	if err := c.sendPooled(subj, payload); err != nil {
		c.recordPublish(false, start)
		return &PublishError{Subject: subj, Err: err}
	}
	c.recordPublish(true, start)
	return nil
}

// sendPooled acquires a pooled connection, publishes, and always releases
// the connection back to the pool.
func (c *Client) sendPooled(subj string, payload []byte) error {
	pc, release, err := c.acquire()
	if err != nil {
		return err
	}
	defer release()
	return pc.Publish(subj, payload)
}

// acquire checks a connection out of the pool. The release func must be
// called on every path. The checkout is registered under the lock, so the
// pool cannot close while it is held.
func (c *Client) acquire() (*nats.Conn, func(), error) {
	c.mu.Lock()
	pool := c.pool
	if pool == nil || !c.running {
		c.mu.Unlock()
		return nil, nil, ErrNotConnected
	}
	c.pubs.Add(1)
	c.mu.Unlock()

	select {
	case pc, ok := <-pool:
		if !ok {
			c.pubs.Done()
			return nil, nil, ErrNotConnected
		}
		c.updatePoolUtilization(pool)
		release := func() {
			select {
			case pool <- pc:
			default:
				// Pool was replaced; drop the connection.
				pc.Close()
			}
			c.updatePoolUtilization(pool)
			c.pubs.Done()
		}
		return pc, release, nil
	case <-time.After(c.config.AcquireTimeout):
		c.pubs.Done()
		return nil, nil, fmt.Errorf("broker: pool acquire timeout after %s", c.config.AcquireTimeout)
	}
}

func (c *Client) updatePoolUtilization(pool chan *nats.Conn) {
	if c.metrics == nil || cap(pool) == 0 {
		return
	}
	used := cap(pool) - len(pool)
	c.metrics.UpdatePoolUtilization(float64(used) / float64(cap(pool)))
}

// Subscribe validates the subject and registers a handler. The wrapper
// decodes JSON payloads and recovers from handler panics so one bad message
// cannot take down the subscription loop.
func (c *Client) Subscribe(subj string, h Handler) error {
	if err := c.checkSubject(subj); err != nil {
		c.recordSubscribe(false)
		return &SubscribeError{Subject: subj, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.running {
		c.recordSubscribe(false)
		return &SubscribeError{Subject: subj, Err: ErrNotConnected}
	}

	ctx := c.taskCtx
	sub, err := c.conn.Subscribe(subj, func(msg *nats.Msg) {
		var data map[string]any
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			log.Printf("[broker] drop undecodable message on %s: %v", msg.Subject, err)
			return
		}
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[broker] handler panic on %s: %v", msg.Subject, r)
			}
		}()
		h(ctx, data)
	})
	if err != nil {
		c.recordSubscribe(false)
		return &SubscribeError{Subject: subj, Err: err}
	}

	c.subs[subj] = sub
	c.recordSubscribe(true)
	return nil
}

// Unsubscribe removes the tracked subscription for a subject. It returns
// false if the subject is not subscribed or the underlying call fails.
func (c *Client) Unsubscribe(subj string) bool {
	c.mu.Lock()
	sub, ok := c.subs[subj]
	if ok {
		delete(c.subs, subj)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	if err := sub.Unsubscribe(); err != nil {
		log.Printf("[broker] unsubscribe %s: %v", subj, err)
		return false
	}
	return true
}

// Request sends a request and waits up to timeout for a response. Its
// failure mode is always "no answer": timeouts, send failures, and response
// decode failures all return nil.
func (c *Client) Request(subj string, data any, timeout time.Duration) map[string]any {
	c.mu.Lock()
	conn := c.conn
	running := c.running
	c.mu.Unlock()

	if conn == nil || !running {
		return nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("[broker] request %s marshal: %v", subj, err)
		return nil
	}
	msg, err := conn.Request(subj, payload, timeout)
	if err != nil {
		return nil
	}
	var resp map[string]any
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		log.Printf("[broker] request %s response decode: %v", subj, err)
		return nil
	}
	return resp
}

// healthLoop pings the broker and degrades the connection-health gauge on
// consecutive failures.
func (c *Client) healthLoop(ctx context.Context) {
	interval := c.config.PingInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				continue
			}

			if _, err := conn.RTT(); err != nil {
				failures := c.noteHealthFailure()
				if failures >= c.config.MaxPingsOut {
					hcErr := &HealthCheckError{Failures: failures, Err: err}
					log.Printf("[broker] %v", hcErr)
				}
				continue
			}
			c.resetHealth()
		}
	}
}

// noteHealthFailure records one failed health check and degrades the
// connection-health gauge. It returns the consecutive failure count.
func (c *Client) noteHealthFailure() int {
	failures := int(c.healthFailures.Add(1))
	if c.metrics != nil {
		c.metrics.UpdateConnectionHealth(100 - float64(25*failures))
	}
	return failures
}

// resetHealth clears the failure count and restores the gauge to full.
func (c *Client) resetHealth() {
	c.healthFailures.Store(0)
	if c.metrics != nil {
		c.metrics.UpdateConnectionHealth(100)
	}
}

// runTask starts a tracked background task. Disconnect cancels the task
// context and waits for every task to finish, so none leak past shutdown.
func (c *Client) runTask(name string, fn func(ctx context.Context)) {
	c.mu.Lock()
	ctx := c.taskCtx
	c.mu.Unlock()
	if ctx == nil {
		return
	}

	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[broker] task %s panic: %v", name, r)
			}
		}()
		fn(ctx)
	}()
}

func (c *Client) checkSubject(subj string) error {
	if c.subjects == nil || !c.config.ValidateSubjects {
		return nil
	}
	b := *c.subjects
	b.Strict = c.config.StrictSubjects
	return b.Check(subj)
}

func (c *Client) recordPublish(success bool, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordPublish(success, time.Since(start))
	}
}

func (c *Client) recordSubscribe(success bool) {
	if c.metrics != nil {
		c.metrics.RecordSubscribe(success)
	}
}

func (c *Client) connectOptions() []nats.Option {
	return append(c.poolOptions(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.gate.set(StateReconnecting)
			if err != nil {
				log.Printf("[broker] disconnected: %v", err)
			} else {
				log.Printf("[broker] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.gate.set(StateConnected)
			c.resetHealth()
			log.Printf("[broker] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if c.gate.current() != StateDisconnected {
				c.gate.set(StateDisconnected)
			}
			log.Printf("[broker] connection closed")
		}),
	)
}

func (c *Client) poolOptions(i int) []nats.Option {
	name := c.config.Name
	if i >= 0 {
		name = fmt.Sprintf("%s-pool-%d", name, i)
	}
	return []nats.Option{
		nats.Name(name),
		nats.Timeout(c.config.ConnectTimeout),
		nats.MaxReconnects(c.config.MaxReconnects),
		nats.ReconnectWait(c.config.ReconnectWait),
		nats.PingInterval(c.config.PingInterval),
		nats.MaxPingsOutstanding(c.config.MaxPingsOut),
	}
}
