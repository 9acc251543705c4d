package broker

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// batchPayload is the wire shape of a flushed batch: one message per subject
// carrying the grouped entries and their count.
type batchPayload struct {
	Subject  string            `json:"subject"`
	Count    int               `json:"count"`
	Messages []json.RawMessage `json:"messages"`
}

// PublishBatch appends a message to the in-memory batch for a subject and
// triggers a flush once the queued total reaches the batch size threshold.
// It reports false for invalid subjects or unserializable data.
func (c *Client) PublishBatch(subj string, data any) bool {
	if err := c.checkSubject(subj); err != nil {
		log.Printf("[broker] batch publish rejected: %v", err)
		return false
	}
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("[broker] batch publish %s marshal: %v", subj, err)
		return false
	}

	c.batchMu.Lock()
	c.batches[subj] = append(c.batches[subj], payload)
	c.batchTotal++
	full := c.batchTotal >= c.config.BatchSize
	c.batchMu.Unlock()

	if full {
		c.Flush()
	}
	return true
}

// Flush groups queued messages by subject and sends one message per distinct
// subject. One flush metric is recorded per call, independent of per-subject
// partial failures.
func (c *Client) Flush() {
	queues, total := c.drainBatches()
	if total == 0 {
		return
	}

	ok := true
	for subj, msgs := range queues {
		payload, err := json.Marshal(batchPayload{
			Subject:  subj,
			Count:    len(msgs),
			Messages: msgs,
		})
		if err != nil {
			log.Printf("[broker] batch flush %s marshal: %v", subj, err)
			ok = false
			continue
		}
		if err := c.send(subj, payload); err != nil {
			log.Printf("[broker] batch flush %s: %v", subj, err)
			ok = false
		}
	}

	if c.metrics != nil {
		c.metrics.RecordBatchFlush(ok, total)
	}
}

// drainBatches atomically takes ownership of all queued batches.
func (c *Client) drainBatches() (map[string][]json.RawMessage, int) {
	c.batchMu.Lock()
	defer c.batchMu.Unlock()

	queues := c.batches
	total := c.batchTotal
	c.batches = make(map[string][]json.RawMessage)
	c.batchTotal = 0
	return queues, total
}

// batchFlushLoop periodically flushes queued batches so low-traffic subjects
// do not sit below the size threshold forever.
func (c *Client) batchFlushLoop(ctx context.Context) {
	if c.config.BatchFlushInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.config.BatchFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Flush()
		}
	}
}
