package metrics

import "sync/atomic"

// MetricID identifies a single counter.
type MetricID uint16

const (
	MetricSetupRequested MetricID = iota
	MetricSetupConfirmed
	MetricSetupFailed
	MetricVerifySuccess
	MetricVerifyFailure
	MetricReplayDetected
	MetricRateLimitHit
	MetricBackupCodeUsed
	MetricBackupCodeFailed
	MetricBackupCodeRegenerated
	MetricDisabled
	MetricIDCount
)

const cacheLineSize = 64

// paddedCounter keeps each counter on its own cache line so concurrent
// increments of different metrics do not false-share.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Config controls whether counters record at all.
type Config struct {
	Enabled bool
}

// Metrics holds one atomic counter per MetricID. The zero value is unusable;
// construct through New.
type Metrics struct {
	enabled  bool
	counters [MetricIDCount]paddedCounter
}

func New(cfg Config) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Snapshot is a point-in-time deep copy of all counters.
type Snapshot struct {
	Counters map[MetricID]uint64
}

func (m *Metrics) Snapshot() Snapshot {
	out := Snapshot{Counters: make(map[MetricID]uint64, MetricIDCount)}
	if m == nil || !m.enabled {
		return out
	}
	for id := MetricID(0); id < MetricIDCount; id++ {
		out.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return out
}
