package metrics

import (
	"testing"
	"time"
)

func TestSnapshot_ErrorRates(t *testing.T) {
	c := NewCollector()

	c.RecordPublish(true, time.Millisecond)
	c.RecordPublish(true, time.Millisecond)
	c.RecordPublish(false, time.Millisecond)
	c.RecordPublish(false, time.Millisecond)

	snap := c.Snapshot()
	if snap.PublishCount != 4 {
		t.Errorf("PublishCount = %d, want 4", snap.PublishCount)
	}
	if snap.PublishErrors != 2 {
		t.Errorf("PublishErrors = %d, want 2", snap.PublishErrors)
	}
	if snap.PublishErrorRate != 0.5 {
		t.Errorf("PublishErrorRate = %v, want 0.5", snap.PublishErrorRate)
	}
}

func TestSnapshot_ZeroCountsHaveZeroRates(t *testing.T) {
	snap := NewCollector().Snapshot()
	if snap.PublishErrorRate != 0 {
		t.Errorf("PublishErrorRate = %v, want 0", snap.PublishErrorRate)
	}
	if snap.SubscribeErrorRate != 0 {
		t.Errorf("SubscribeErrorRate = %v, want 0", snap.SubscribeErrorRate)
	}
	if snap.BatchErrorRate != 0 {
		t.Errorf("BatchErrorRate = %v, want 0", snap.BatchErrorRate)
	}
}

func TestGauges_ClampedAtWriteTime(t *testing.T) {
	tests := []struct {
		name       string
		health     float64
		wantHealth float64
		pool       float64
		wantPool   float64
	}{
		{"above range", 150, 100, 1.5, 1},
		{"below range", -10, 0, -0.5, 0},
		{"in range", 75, 75, 0.25, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCollector()
			c.UpdateConnectionHealth(tt.health)
			c.UpdatePoolUtilization(tt.pool)

			snap := c.Snapshot()
			if snap.ConnectionHealth != tt.wantHealth {
				t.Errorf("ConnectionHealth = %v, want %v", snap.ConnectionHealth, tt.wantHealth)
			}
			if snap.PoolUtilization != tt.wantPool {
				t.Errorf("PoolUtilization = %v, want %v", snap.PoolUtilization, tt.wantPool)
			}
		})
	}
}

func TestRecordBatchFlush_CountsMessagesAndFailures(t *testing.T) {
	c := NewCollector()

	c.RecordBatchFlush(true, 3)
	c.RecordBatchFlush(false, 2)

	snap := c.Snapshot()
	if snap.BatchFlushes != 2 {
		t.Errorf("BatchFlushes = %d, want 2", snap.BatchFlushes)
	}
	if snap.BatchMessages != 5 {
		t.Errorf("BatchMessages = %d, want 5", snap.BatchMessages)
	}
	if snap.BatchErrors != 1 {
		t.Errorf("BatchErrors = %d, want 1", snap.BatchErrors)
	}
	if snap.BatchErrorRate != 0.5 {
		t.Errorf("BatchErrorRate = %v, want 0.5", snap.BatchErrorRate)
	}
}

func TestRecordProcessing_SeedsRollingAverage(t *testing.T) {
	c := NewCollector()

	c.RecordProcessing(100 * time.Millisecond)
	if avg := c.Snapshot().AvgProcessingTime; avg != 100*time.Millisecond {
		t.Errorf("first sample should seed the average, got %v", avg)
	}

	c.RecordProcessing(100 * time.Millisecond)
	if avg := c.Snapshot().AvgProcessingTime; avg != 100*time.Millisecond {
		t.Errorf("constant samples should keep a constant average, got %v", avg)
	}
}

func TestDLQCounters(t *testing.T) {
	c := NewCollector()
	c.RecordMessageDLQ()
	c.RecordMessageFailed()
	c.RecordMessageFailed()

	snap := c.Snapshot()
	if snap.DeadLettered != 1 {
		t.Errorf("DeadLettered = %d, want 1", snap.DeadLettered)
	}
	if snap.Failed != 2 {
		t.Errorf("Failed = %d, want 2", snap.Failed)
	}
}
