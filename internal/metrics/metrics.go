// Package metrics provides Prometheus instrumentation for the message
// distribution core plus an in-process snapshot used by health reporting.
// Counters are monotonic and reset only at process restart; gauges are
// clamped at write time to their documented ranges.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records publish/subscribe/batch outcomes, dead-letter activity,
// and connection health. It is constructed once at startup and passed by
// reference to the broker client and distribution engine.
type Collector struct {
	mu sync.Mutex

	publishCount    int64
	publishErrors   int64
	subscribeCount  int64
	subscribeErrors int64
	batchFlushes    int64
	batchErrors     int64
	batchMessages   int64
	dlqCount        int64
	failedCount     int64

	processingAvg   time.Duration // exponentially weighted rolling average
	processingCount int64

	connectionHealth float64 // clamped to [0,100]
	poolUtilization  float64 // clamped to [0,1]

	registry *prometheus.Registry

	publishes      *prometheus.CounterVec
	subscribes     *prometheus.CounterVec
	batchFlushVec  *prometheus.CounterVec
	deadLetters    prometheus.Counter
	failures       prometheus.Counter
	processingTime prometheus.Histogram
	healthGauge    prometheus.Gauge
	poolGauge      prometheus.Gauge
}

// Snapshot is a point-in-time view of the collector's state. Error rates are
// derived at read time and are 0 when the corresponding count is 0.
type Snapshot struct {
	PublishCount       int64
	PublishErrors      int64
	PublishErrorRate   float64
	SubscribeCount     int64
	SubscribeErrors    int64
	SubscribeErrorRate float64
	BatchFlushes       int64
	BatchErrors        int64
	BatchErrorRate     float64
	BatchMessages      int64
	DeadLettered       int64
	Failed             int64
	AvgProcessingTime  time.Duration
	ConnectionHealth   float64
	PoolUtilization    float64
}

// NewCollector creates a Collector with its own Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_publishes_total",
			Help: "Total broker publishes by result",
		}, []string{"result"}),
		subscribes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_subscribes_total",
			Help: "Total broker subscribe operations by result",
		}, []string{"result"}),
		batchFlushVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_batch_flushes_total",
			Help: "Total batch flushes by result",
		}, []string{"result"}),
		deadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_dead_letters_total",
			Help: "Messages enqueued to the dead-letter queue",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_message_failures_total",
			Help: "Messages that exhausted all retry attempts",
		}),
		processingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_processing_seconds",
			Help:    "Message processing latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		healthGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connection_health",
			Help: "Broker connection health, 0-100",
		}),
		poolGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_pool_utilization",
			Help: "Connection pool utilization, 0-1",
		}),
	}

	c.registry.MustRegister(
		c.publishes,
		c.subscribes,
		c.batchFlushVec,
		c.deadLetters,
		c.failures,
		c.processingTime,
		c.healthGauge,
		c.poolGauge,
	)
	return c
}

// Handler returns the Prometheus metrics HTTP handler for this collector.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordPublish records a publish outcome and its processing time.
func (c *Collector) RecordPublish(success bool, elapsed time.Duration) {
	c.mu.Lock()
	c.publishCount++
	if !success {
		c.publishErrors++
	}
	c.observeLocked(elapsed)
	c.mu.Unlock()

	c.publishes.WithLabelValues(result(success)).Inc()
	c.processingTime.Observe(elapsed.Seconds())
}

// RecordSubscribe records a subscribe operation outcome.
func (c *Collector) RecordSubscribe(success bool) {
	c.mu.Lock()
	c.subscribeCount++
	if !success {
		c.subscribeErrors++
	}
	c.mu.Unlock()

	c.subscribes.WithLabelValues(result(success)).Inc()
}

// RecordBatchFlush records one flush call and how many messages it carried.
// Per-subject partial failures inside a flush count as a single failed flush.
func (c *Collector) RecordBatchFlush(success bool, messageCount int) {
	c.mu.Lock()
	c.batchFlushes++
	c.batchMessages += int64(messageCount)
	if !success {
		c.batchErrors++
	}
	c.mu.Unlock()

	c.batchFlushVec.WithLabelValues(result(success)).Inc()
}

// RecordMessageDLQ records a dead-letter enqueue.
func (c *Collector) RecordMessageDLQ() {
	c.mu.Lock()
	c.dlqCount++
	c.mu.Unlock()
	c.deadLetters.Inc()
}

// RecordMessageFailed records a message that exhausted its retries.
func (c *Collector) RecordMessageFailed() {
	c.mu.Lock()
	c.failedCount++
	c.mu.Unlock()
	c.failures.Inc()
}

// RecordProcessing folds an inbound-message processing duration into the
// rolling average without touching the publish counters.
func (c *Collector) RecordProcessing(elapsed time.Duration) {
	c.mu.Lock()
	c.observeLocked(elapsed)
	c.mu.Unlock()
	c.processingTime.Observe(elapsed.Seconds())
}

// UpdateConnectionHealth sets the health gauge, clamped to [0,100].
func (c *Collector) UpdateConnectionHealth(v float64) {
	v = clamp(v, 0, 100)
	c.mu.Lock()
	c.connectionHealth = v
	c.mu.Unlock()
	c.healthGauge.Set(v)
}

// UpdatePoolUtilization sets the pool utilization gauge, clamped to [0,1].
func (c *Collector) UpdatePoolUtilization(v float64) {
	v = clamp(v, 0, 1)
	c.mu.Lock()
	c.poolUtilization = v
	c.mu.Unlock()
	c.poolGauge.Set(v)
}

// Snapshot returns the current counters with derived error rates.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		PublishCount:       c.publishCount,
		PublishErrors:      c.publishErrors,
		PublishErrorRate:   rate(c.publishErrors, c.publishCount),
		SubscribeCount:     c.subscribeCount,
		SubscribeErrors:    c.subscribeErrors,
		SubscribeErrorRate: rate(c.subscribeErrors, c.subscribeCount),
		BatchFlushes:       c.batchFlushes,
		BatchErrors:        c.batchErrors,
		BatchErrorRate:     rate(c.batchErrors, c.batchFlushes),
		BatchMessages:      c.batchMessages,
		DeadLettered:       c.dlqCount,
		Failed:             c.failedCount,
		AvgProcessingTime:  c.processingAvg,
		ConnectionHealth:   c.connectionHealth,
		PoolUtilization:    c.poolUtilization,
	}
}

// observeLocked maintains an exponentially weighted rolling average with a
// 1/8 weight for new samples. The first sample seeds the average directly.
func (c *Collector) observeLocked(elapsed time.Duration) {
	c.processingCount++
	if c.processingCount == 1 {
		c.processingAvg = elapsed
		return
	}
	c.processingAvg += (elapsed - c.processingAvg) / 8
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func rate(errors, count int64) float64 {
	if count == 0 {
		return 0
	}
	r := float64(errors) / float64(count)
	return clamp(r, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
