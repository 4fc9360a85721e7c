package metrics

import (
	"sort"
	"sync"
	"time"
)

// Outcome labels one execution attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomeTimeout Outcome = "TIMEOUT"
	OutcomeUnknown Outcome = "UNKNOWN"
)

// Attempt is one immutable try of one order against one backend.
type Attempt struct {
	OrderID   string    `json:"order_id"`
	Backend   string    `json:"backend"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Outcome   Outcome   `json:"outcome"`
	ErrorKind string    `json:"error_kind,omitempty"`
}

// Window names one rolling aggregation horizon.
type Window string

const (
	Window1m Window = "1m"
	Window5m Window = "5m"
	Window1h Window = "1h"
	Window1d Window = "1d"
)

var Windows = []Window{Window1m, Window5m, Window1h, Window1d}

func (w Window) Duration() time.Duration {
	switch w {
	case Window1m:
		return time.Minute
	case Window5m:
		return 5 * time.Minute
	case Window1h:
		return time.Hour
	case Window1d:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Stats is the aggregated answer for one window.
type Stats struct {
	Attempts       int64            `json:"attempts"`
	Successes      int64            `json:"successes"`
	Failures       int64            `json:"failures"`
	SuccessRate    float64          `json:"success_rate"`
	AvgLatencyMS   float64          `json:"avg_latency_ms"`
	P95LatencyMS   float64          `json:"p95_latency_ms"`
	CountByBackend map[string]int64 `json:"count_by_backend"`
}

// Snapshot is the serializable export of every window.
type Snapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Windows     map[Window]Stats `json:"windows"`
}

const maxSamplesPerBucket = 1024

type backendCounters struct {
	attempts  int64
	successes int64
	failures  int64
}

// bucket aggregates one minute of attempts; windows are sums over buckets,
// which keeps Record O(1) amortized.
type bucket struct {
	perBackend map[string]*backendCounters
	samples    []float64 // latency in ms
}

// Collector records attempt outcomes into minute buckets and answers
// window queries. Safe for concurrent use by all workers.
type Collector struct {
	mu      sync.Mutex
	buckets map[int64]*bucket
	nowFn   func() time.Time
}

func NewCollector() *Collector {
	return &Collector{
		buckets: make(map[int64]*bucket),
		nowFn:   time.Now,
	}
}

// SetClock injects a time source for tests.
func (c *Collector) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.nowFn = now
	c.mu.Unlock()
}

// Record appends one attempt. Buckets past the largest retention horizon are
// pruned lazily here rather than by a background task.
func (c *Collector) Record(a Attempt) {
	ended := a.EndedAt
	if ended.IsZero() {
		ended = c.now()
	}
	key := ended.Truncate(time.Minute).Unix()

	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.buckets[key]
	if !ok {
		b = &bucket{perBackend: make(map[string]*backendCounters)}
		c.buckets[key] = b
	}
	counters, ok := b.perBackend[a.Backend]
	if !ok {
		counters = &backendCounters{}
		b.perBackend[a.Backend] = counters
	}

	counters.attempts++
	switch a.Outcome {
	case OutcomeSuccess:
		counters.successes++
	case OutcomeFailure, OutcomeTimeout:
		counters.failures++
	}

	if !a.StartedAt.IsZero() && ended.After(a.StartedAt) && len(b.samples) < maxSamplesPerBucket {
		b.samples = append(b.samples, float64(ended.Sub(a.StartedAt).Milliseconds()))
	}

	c.pruneLocked()
}

// Query aggregates the buckets inside the window.
func (c *Collector) Query(w Window) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.nowLocked().Add(-w.Duration()).Truncate(time.Minute).Unix()
	stats := Stats{CountByBackend: make(map[string]int64)}
	var samples []float64

	for key, b := range c.buckets {
		if key < cutoff {
			continue
		}
		for name, counters := range b.perBackend {
			stats.Attempts += counters.attempts
			stats.Successes += counters.successes
			stats.Failures += counters.failures
			stats.CountByBackend[name] += counters.attempts
		}
		samples = append(samples, b.samples...)
	}

	if stats.Attempts > 0 {
		stats.SuccessRate = float64(stats.Successes) / float64(stats.Attempts)
	}
	if len(samples) > 0 {
		sort.Float64s(samples)
		var sum float64
		for _, s := range samples {
			sum += s
		}
		stats.AvgLatencyMS = sum / float64(len(samples))
		idx := int(float64(len(samples)) * 0.95)
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		stats.P95LatencyMS = samples[idx]
	}
	return stats
}

// Export produces the serializable aggregate for persistence and reporting.
func (c *Collector) Export() Snapshot {
	snap := Snapshot{
		GeneratedAt: c.now(),
		Windows:     make(map[Window]Stats, len(Windows)),
	}
	for _, w := range Windows {
		snap.Windows[w] = c.Query(w)
	}
	return snap
}

func (c *Collector) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked()
}

func (c *Collector) nowLocked() time.Time {
	if c.nowFn == nil {
		return time.Now()
	}
	return c.nowFn()
}

func (c *Collector) pruneLocked() {
	horizon := c.nowLocked().Add(-Window1d.Duration() - time.Minute).Unix()
	for key := range c.buckets {
		if key < horizon {
			delete(c.buckets, key)
		}
	}
}
