// Package metrics exposes the Prometheus collectors for brtkv's internal
// components, grounded on the teacher's pkg/metrics (flat package-level
// gauges/counters/histograms registered once and served via
// promhttp.Handler). Where the teacher registers package-level vars
// against the default registerer in an init func, brtkv constructs one
// metric set per component (CacheTable, Logger, Engine) against a
// *prometheus.Registry the caller owns: a process that opens more than
// one BRT file would otherwise panic on the second MustRegister of the
// same metric name against the global default registerer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cachetable groups the collectors for one internal/cachetable.CacheTable.
type Cachetable struct {
	Entries    prometheus.Gauge
	Bytes      prometheus.Gauge
	Evictions  prometheus.Counter
	OverBudget prometheus.Counter
}

// NewCachetable registers and returns a fresh Cachetable metric set
// against reg. A nil reg skips registration, for tests and secondary
// instances in a process that already registered one set of names.
func NewCachetable(reg *prometheus.Registry) *Cachetable {
	c := &Cachetable{
		Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "brtkv_cachetable_entries",
			Help: "Number of nodes currently resident in the cachetable",
		}),
		Bytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "brtkv_cachetable_bytes",
			Help: "Total payload bytes currently resident in the cachetable",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brtkv_cachetable_evictions_total",
			Help: "Total number of entries evicted to make room",
		}),
		OverBudget: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brtkv_cachetable_over_budget_total",
			Help: "Total number of operations that failed because every entry was pinned",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.Entries, c.Bytes, c.Evictions, c.OverBudget)
	}
	return c
}

// WAL groups the collectors for internal/wal.Logger.
type WAL struct {
	BytesWritten   prometheus.Counter
	SegmentRollover prometheus.Counter
	FsyncDuration  prometheus.Histogram
	CurrentLSN     prometheus.Gauge
}

// NewWAL registers and returns a fresh WAL metric set against reg. A nil
// reg skips registration.
func NewWAL(reg *prometheus.Registry) *WAL {
	w := &WAL{
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brtkv_wal_bytes_written_total",
			Help: "Total bytes written to the write-ahead log",
		}),
		SegmentRollover: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brtkv_wal_segment_rollovers_total",
			Help: "Total number of times the WAL rolled over to a new segment file",
		}),
		FsyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "brtkv_wal_fsync_duration_seconds",
			Help:    "Time spent fsyncing WAL segment writes",
			Buckets: prometheus.DefBuckets,
		}),
		CurrentLSN: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "brtkv_wal_current_lsn",
			Help: "Most recently assigned log sequence number",
		}),
	}
	if reg != nil {
		reg.MustRegister(w.BytesWritten, w.SegmentRollover, w.FsyncDuration, w.CurrentLSN)
	}
	return w
}

// Engine groups the collectors for internal/engine.Tree.
type Engine struct {
	Inserts       prometheus.Counter
	Deletes       prometheus.Counter
	Lookups       prometheus.Counter
	LeafSplits    prometheus.Counter
	InternalSplits prometheus.Counter
	FlushDuration prometheus.Histogram
}

// NewEngine registers and returns a fresh Engine metric set against reg.
// A nil reg skips registration.
func NewEngine(reg *prometheus.Registry) *Engine {
	e := &Engine{
		Inserts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brtkv_engine_inserts_total",
			Help: "Total number of insert messages applied",
		}),
		Deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brtkv_engine_deletes_total",
			Help: "Total number of delete messages applied",
		}),
		Lookups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brtkv_engine_lookups_total",
			Help: "Total number of point lookups performed",
		}),
		LeafSplits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brtkv_engine_leaf_splits_total",
			Help: "Total number of leaf node splits",
		}),
		InternalSplits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "brtkv_engine_internal_splits_total",
			Help: "Total number of internal node splits",
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "brtkv_engine_buffer_flush_duration_seconds",
			Help:    "Time spent flushing a child message buffer down the tree",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(e.Inserts, e.Deletes, e.Lookups, e.LeafSplits, e.InternalSplits, e.FlushDuration)
	}
	return e
}

// Handler returns the Prometheus scrape handler for reg, for cmd/brtutil
// or the facade's caller to mount on their own HTTP server.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Timer mirrors the teacher's pkg/metrics.Timer helper.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer { return &Timer{start: time.Now()} }

func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration { return time.Since(t.start) }
