// Package metrics provides the performance-metric handles injected into a
// Table and its maintenance operations: named Timer/Counter/Histogram
// handles obtained from a Metrics registry. Counters and histograms are
// registered with a github.com/prometheus/client_golang registry so those
// series can be scraped; timers accumulate in process and are reported
// through All.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Well-known metric names used by this engine.
const (
	WriteCommit       = "table_write_commit"
	QueryEval         = "query_eval"
	CheckpointWrite   = "checkpoint_write"
	SnapshotReplay    = "snapshot_replay"
	CompactionRun     = "maintenance_compaction"
	DeduplicationRun  = "maintenance_deduplication"
	ZOrderRun         = "maintenance_zorder"
	VacuumRun         = "maintenance_vacuum"
	ConcurrencyRetry  = "table_concurrency_retry"
	ChangeFeedScan    = "cdc_scan"
)

// Timer is a restartable timer that accumulates elapsed time across
// Start/Stop pairs.
type Timer interface {
	Start()
	Stop() time.Duration
	Int64() int64 // total elapsed nanoseconds across all Start/Stop pairs
}

// Counter is a monotonically increasing counter.
type Counter interface {
	Incr()
	Add(n uint64)
	Value() uint64
}

// Histogram records observed values into Prometheus's default buckets.
type Histogram interface {
	Observe(v float64)
}

// Metrics is a named registry of Timer/Counter/Histogram handles, scoped to
// one Table instance. There is no package-global registry: every process-wide
// resource a Table needs is injected explicitly, the same as its logger.
type Metrics interface {
	Timer(name string) Timer
	Counter(name string) Counter
	Histogram(name string) Histogram

	// All returns a snapshot of every counter/timer value, keyed by name,
	// suitable for embedding in a maintenance-operation metrics object.
	All() map[string]any
}

type promMetrics struct {
	mu         sync.Mutex
	reg        *prometheus.Registry
	timers     map[string]*promTimer
	counters   map[string]*promCounter
	histograms map[string]prometheus.Histogram
}

// New returns a Metrics backed by a fresh, private Prometheus registry (not
// the global default registry, so multiple Table instances in one process
// never collide on metric names).
func New() Metrics {
	return &promMetrics{
		reg:        prometheus.NewRegistry(),
		timers:     map[string]*promTimer{},
		counters:   map[string]*promCounter{},
		histograms: map[string]prometheus.Histogram{},
	}
}

// Registry exposes the underlying Prometheus registry for callers that want
// to serve /metrics themselves.
func Registry(m Metrics) *prometheus.Registry {
	if p, ok := m.(*promMetrics); ok {
		return p.reg
	}
	return nil
}

func (m *promMetrics) Timer(name string) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[name]; ok {
		return t
	}
	t := &promTimer{name: name}
	m.timers[name] = t
	return t
}

func (m *promMetrics) Counter(name string) Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c
	}
	gv := prometheus.NewCounter(prometheus.CounterOpts{Name: sanitize(name), Help: name})
	_ = m.reg.Register(gv)
	c := &promCounter{name: name, vec: gv}
	m.counters[name] = c
	return c
}

func (m *promMetrics) Histogram(name string) Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.histograms[name]; ok {
		return h
	}
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: sanitize(name), Help: name})
	_ = m.reg.Register(h)
	m.histograms[name] = h
	return h
}

func (m *promMetrics) All() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]any{}
	for name, t := range m.timers {
		out[name+"_ns"] = t.Int64()
	}
	for name, c := range m.counters {
		out[name] = c.Value()
	}
	return out
}

func sanitize(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' {
			out[i] = c
		} else {
			out[i] = '_'
		}
	}
	return string(out)
}

type promTimer struct {
	name    string
	mu      sync.Mutex
	started time.Time
	total   time.Duration
	running bool
}

func (t *promTimer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = time.Now()
	t.running = true
}

func (t *promTimer) Stop() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return 0
	}
	elapsed := time.Since(t.started)
	t.total += elapsed
	t.running = false
	return elapsed
}

func (t *promTimer) Int64() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total.Nanoseconds()
}

type promCounter struct {
	name string
	mu   sync.Mutex
	n    uint64
	vec  prometheus.Counter
}

func (c *promCounter) Incr() { c.Add(1) }

func (c *promCounter) Add(n uint64) {
	c.mu.Lock()
	c.n += n
	c.mu.Unlock()
	c.vec.Add(float64(n))
}

func (c *promCounter) Value() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
