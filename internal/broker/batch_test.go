package broker

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/emberwood/gameserver/internal/metrics"
	"github.com/emberwood/gameserver/internal/subject"
)

func newTestClient(batchSize int) (*Client, *[]batchPayload) {
	cfg := DefaultConfig()
	cfg.BatchSize = batchSize
	cfg.BatchFlushInterval = 0
	c := New(cfg, subject.NewBuilder(), metrics.NewCollector())

	var sent []batchPayload
	c.send = func(subj string, data []byte) error {
		var p batchPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		sent = append(sent, p)
		return nil
	}
	return c, &sent
}

func TestPublishBatch_FlushGroupsBySubject(t *testing.T) {
	c, sent := newTestClient(100)

	subjA := subject.Global
	subjB := subject.System
	if !c.PublishBatch(subjA, map[string]any{"n": 1}) {
		t.Fatal("PublishBatch should accept a valid subject")
	}
	c.PublishBatch(subjA, map[string]any{"n": 2})
	c.PublishBatch(subjB, map[string]any{"n": 3})

	c.Flush()

	if len(*sent) != 2 {
		t.Fatalf("flush sent %d messages, want one per distinct subject (2)", len(*sent))
	}
	counts := map[string]int{}
	for _, p := range *sent {
		if p.Subject != subjA && p.Subject != subjB {
			t.Errorf("unexpected subject %q", p.Subject)
		}
		if p.Count != len(p.Messages) {
			t.Errorf("subject %s: count field %d != %d messages", p.Subject, p.Count, len(p.Messages))
		}
		counts[p.Subject] = p.Count
	}
	if counts[subjA] != 2 || counts[subjB] != 1 {
		t.Errorf("grouped counts = %v, want %s:2 %s:1", counts, subjA, subjB)
	}
}

func TestPublishBatch_SizeThresholdTriggersFlush(t *testing.T) {
	c, sent := newTestClient(3)

	c.PublishBatch(subject.Global, map[string]any{"n": 1})
	c.PublishBatch(subject.Global, map[string]any{"n": 2})
	if len(*sent) != 0 {
		t.Fatal("flush should not fire below the threshold")
	}

	c.PublishBatch(subject.Global, map[string]any{"n": 3})
	if len(*sent) != 1 {
		t.Fatalf("flush should fire at the threshold, sent %d messages", len(*sent))
	}
	if (*sent)[0].Count != 3 {
		t.Errorf("flushed count = %d, want 3", (*sent)[0].Count)
	}
}

func TestPublishBatch_RejectsInvalidSubject(t *testing.T) {
	c, sent := newTestClient(100)

	if c.PublishBatch("bad subject", map[string]any{"n": 1}) {
		t.Error("PublishBatch should reject an invalid subject")
	}
	c.Flush()
	if len(*sent) != 0 {
		t.Error("nothing should be queued for a rejected subject")
	}
}

func TestFlush_EmptyQueueIsNoop(t *testing.T) {
	c, sent := newTestClient(100)
	c.Flush()
	if len(*sent) != 0 {
		t.Error("flushing an empty queue should send nothing")
	}
	if snap := c.metrics.Snapshot(); snap.BatchFlushes != 0 {
		t.Errorf("empty flush recorded %d flushes, want 0", snap.BatchFlushes)
	}
}

func TestFlush_RecordsOneMetricPerCall(t *testing.T) {
	c, _ := newTestClient(100)

	c.PublishBatch(subject.Global, map[string]any{"n": 1})
	c.PublishBatch(subject.System, map[string]any{"n": 2})
	c.PublishBatch(subject.System, map[string]any{"n": 3})
	c.Flush()

	snap := c.metrics.Snapshot()
	if snap.BatchFlushes != 1 {
		t.Errorf("BatchFlushes = %d, want 1 per Flush call", snap.BatchFlushes)
	}
	if snap.BatchMessages != 3 {
		t.Errorf("BatchMessages = %d, want 3", snap.BatchMessages)
	}
}

func TestFlush_PartialSendFailureMarksFlushFailed(t *testing.T) {
	c, _ := newTestClient(100)
	c.send = func(subj string, data []byte) error {
		if subj == subject.System {
			return errors.New("send failed")
		}
		return nil
	}

	c.PublishBatch(subject.Global, map[string]any{"n": 1})
	c.PublishBatch(subject.System, map[string]any{"n": 2})
	c.Flush()

	snap := c.metrics.Snapshot()
	if snap.BatchErrors != 1 {
		t.Errorf("BatchErrors = %d, want 1", snap.BatchErrors)
	}
}

func TestFlush_DrainsQueue(t *testing.T) {
	c, sent := newTestClient(100)

	c.PublishBatch(subject.Global, map[string]any{"n": 1})
	c.Flush()
	c.Flush()

	if len(*sent) != 1 {
		t.Errorf("second flush resent drained messages, total sends = %d", len(*sent))
	}
}
