package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freshRegistry() {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
}

func TestNewCollectorInitializesEveryMetric(t *testing.T) {
	freshRegistry()
	c := NewCollector()

	assert.NotNil(t, c.jobsSubmitted)
	assert.NotNil(t, c.jobsDispatched)
	assert.NotNil(t, c.jobsFinished)
	assert.NotNil(t, c.jobsFailed)
	assert.NotNil(t, c.jobsExpired)
	assert.NotNil(t, c.dispatchLatency)
	assert.NotNil(t, c.jobsQueued)
	assert.NotNil(t, c.jobsActive)
	assert.NotNil(t, c.workersReady)
	assert.NotNil(t, c.workersRegistered)
	assert.NotNil(t, c.workersDied)
}

func TestRecordSubmitted(t *testing.T) {
	freshRegistry()
	c := NewCollector()
	assert.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			c.RecordSubmitted()
		}
	})
}

func TestRecordDispatched(t *testing.T) {
	freshRegistry()
	c := NewCollector()
	for _, latency := range []float64{0.0, 0.01, 1.5, 30.0} {
		assert.NotPanics(t, func() { c.RecordDispatched(latency) })
	}
}

func TestRecordFinished(t *testing.T) {
	freshRegistry()
	c := NewCollector()
	assert.NotPanics(t, func() { c.RecordFinished() })
}

func TestRecordFailed(t *testing.T) {
	freshRegistry()
	c := NewCollector()
	assert.NotPanics(t, func() { c.RecordFailed() })
}

func TestRecordExpired(t *testing.T) {
	freshRegistry()
	c := NewCollector()
	assert.NotPanics(t, func() { c.RecordExpired(3) })
}

func TestRecordWorkersDied(t *testing.T) {
	freshRegistry()
	c := NewCollector()
	assert.NotPanics(t, func() {
		c.RecordWorkersDied(0)
		c.RecordWorkersDied(3)
	})
}

func TestUpdateQueueStats(t *testing.T) {
	freshRegistry()
	c := NewCollector()

	cases := []struct {
		queued, active, ready, registered int
	}{
		{0, 0, 0, 0},
		{10, 3, 2, 5},
		{0, 0, 0, 0},
	}
	for _, tc := range cases {
		assert.NotPanics(t, func() { c.UpdateQueueStats(tc.queued, tc.active, tc.ready, tc.registered) })
	}
}

func TestCollectorDuplicateRegistrationPanics(t *testing.T) {
	freshRegistry()
	first := NewCollector()
	require.NotNil(t, first)

	assert.Panics(t, func() { NewCollector() }, "a second collector against the same registry must panic")
}

func TestConcurrentMetricUpdates(t *testing.T) {
	freshRegistry()
	c := NewCollector()

	done := make(chan struct{}, 50)
	for i := 0; i < 50; i++ {
		go func() {
			c.RecordSubmitted()
			c.RecordDispatched(0.2)
			c.RecordFinished()
			c.UpdateQueueStats(1, 1, 1, 1)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}
}
