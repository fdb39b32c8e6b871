package tenantauth

import (
	"sync/atomic"
	"time"
)

// MetricID indexes an engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLocked
	MetricLoginAmbiguousTenant
	MetricSecondFactorRequired
	MetricSecondFactorSuccess
	MetricSecondFactorFailure
	MetricOTPSent
	MetricOTPDeliveryFailed
	MetricOTPResendThrottled
	MetricTOTPEnrolled
	MetricTOTPDisabled
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricPasswordChanged
	MetricPasswordPolicyRejected
	MetricPasswordReuseRejected
	MetricPasswordResetRequested
	MetricPasswordResetFailed
	MetricStoreError
	// MetricLoginLatency is the only histogram.
	MetricLoginLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

// paddedCounter keeps hot counters on separate cache lines.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	latency       metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters. Histogram buckets
// are non-cumulative.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= MetricLoginLatency {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a login duration.
func (m *Metrics) Observe(d time.Duration) {
	if m == nil || !m.enableLatency {
		return
	}
	atomic.AddUint64(&m.latency.buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}
	if m == nil || !m.enabled {
		return s
	}
	for id := MetricID(0); id < MetricLoginLatency; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.latency.buckets[i])
		}
		s.Histograms[MetricLoginLatency] = buckets
	}
	return s
}

// bucketIndex maps d onto 25ms..2.5s; login cost is dominated by argon2.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()
	switch {
	case ms <= 25:
		return 0
	case ms <= 50:
		return 1
	case ms <= 100:
		return 2
	case ms <= 250:
		return 3
	case ms <= 500:
		return 4
	case ms <= 1000:
		return 5
	case ms <= 2500:
		return 6
	default:
		return 7
	}
}
