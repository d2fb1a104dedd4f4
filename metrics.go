package authflow

import (
	"sync/atomic"
	"time"
)

// MetricID identifies a counter or histogram in the in-process metrics
// system.
type MetricID uint16

const (
	// MetricCallbackAccepted counts callback events that parsed into an
	// actionable result.
	MetricCallbackAccepted MetricID = iota
	// MetricCallbackMalformed counts unrecognized callback payloads.
	MetricCallbackMalformed
	// MetricExchangeSuccess counts successful authorization-code exchanges.
	MetricExchangeSuccess
	// MetricExchangeFailure counts failed authorization-code exchanges.
	MetricExchangeFailure
	// MetricChallengeRequired counts flows entering the multi-factor step.
	MetricChallengeRequired
	// MetricChallengeSuccess counts confirmed multi-factor challenges.
	MetricChallengeSuccess
	// MetricChallengeFailure counts failed multi-factor confirmations.
	MetricChallengeFailure
	// MetricChallengeExceeded counts challenges abandoned at the attempt cap.
	MetricChallengeExceeded
	// MetricProviderMismatch counts terminal provider-mismatch failures.
	MetricProviderMismatch
	// MetricRetryScheduled counts transient failures that scheduled a retry.
	MetricRetryScheduled
	// MetricRetryExhausted counts flows that ran out of retries.
	MetricRetryExhausted
	// MetricHandoffForwarded counts results delivered to an embedded host.
	MetricHandoffForwarded
	// MetricFlowAuthenticated counts flows reaching the authenticated state.
	MetricFlowAuthenticated
	// MetricTokenPersisted counts session tokens written to the store.
	MetricTokenPersisted
	// MetricTokenCleared counts explicit token clears (logout).
	MetricTokenCleared
	// MetricDispatchLatency is the flow dispatch latency histogram.
	MetricDispatchLatency

	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds atomic counters and an optional dispatch-latency histogram.
// All operations are no-ops when disabled.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a [Metrics] instance configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether metric collection is active.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a latency sample. Only the dispatch-latency histogram is
// populated.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id != MetricDispatchLatency {
		return
	}
	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value reads a single counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot deep-copies all counters and histogram buckets.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricDispatchLatency].buckets[i])
		}
		s.Histograms[MetricDispatchLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
