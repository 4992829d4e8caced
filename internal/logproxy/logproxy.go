// Package logproxy implements spec.md §H4: an optional logging/profiling
// proxy over the query execution engine (internal/protocol) and the
// pool, plus the Prometheus metrics wiring SPEC_FULL.md's domain stack
// adds on top of the teacher's plain log.Logger idiom.
//
// The metrics shape (a GaugeVec/HistogramVec/CounterVec per dimension, a
// constructor that MustRegisters everything against its own registry)
// is grounded on JeelKantaria-db-bouncer/internal/metrics/metrics.go.
// The logging style (bracketed subsystem prefix, fmt.Errorf-wrapped
// causes) is grounded on iperfex-team-burrowctl/server/monitoring.go and
// the teacher's client package at large.
package logproxy

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors spec.md's pool occupancy, PS
// cache hit rate, query duration, and failover count are surfaced
// through.
type Metrics struct {
	Registry *prometheus.Registry

	queryDuration *prometheus.HistogramVec
	poolActive    *prometheus.GaugeVec
	poolIdle      *prometheus.GaugeVec
	poolTotal     *prometheus.GaugeVec
	psCacheHits   *prometheus.CounterVec
	psCacheMisses *prometheus.CounterVec
	failovers     *prometheus.CounterVec
}

// NewMetrics builds a Metrics bound to a fresh registry. Safe to call
// more than once (e.g. in tests) since each call owns an independent
// registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mdriver_query_duration_seconds",
				Help:    "Duration of executed statements in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
			[]string{"op"},
		),
		poolActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "mdriver_pool_active_connections", Help: "Connections currently checked out"},
			[]string{"pool"},
		),
		poolIdle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "mdriver_pool_idle_connections", Help: "Connections currently idle"},
			[]string{"pool"},
		),
		poolTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "mdriver_pool_total_connections", Help: "Total connections owned by the pool"},
			[]string{"pool"},
		),
		psCacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mdriver_ps_cache_hits_total", Help: "Prepared statement cache hits"},
			[]string{"pool"},
		),
		psCacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mdriver_ps_cache_misses_total", Help: "Prepared statement cache misses"},
			[]string{"pool"},
		),
		failovers: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "mdriver_failovers_total", Help: "Connection failover events"},
			[]string{"host"},
		),
	}
	reg.MustRegister(m.queryDuration, m.poolActive, m.poolIdle, m.poolTotal,
		m.psCacheHits, m.psCacheMisses, m.failovers)
	return m
}

// ObserveQuery records one executed statement's duration under op
// ("query", "update", "batch", ...).
func (m *Metrics) ObserveQuery(op string, d time.Duration) {
	m.queryDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SetPoolStats updates the pool occupancy gauges for the named pool.
func (m *Metrics) SetPoolStats(poolName string, active, idle, total int) {
	m.poolActive.WithLabelValues(poolName).Set(float64(active))
	m.poolIdle.WithLabelValues(poolName).Set(float64(idle))
	m.poolTotal.WithLabelValues(poolName).Set(float64(total))
}

// RecordCacheHit/RecordCacheMiss track the prepared-statement cache's
// hit rate for the named pool (or connection identifier).
func (m *Metrics) RecordCacheHit(poolName string)  { m.psCacheHits.WithLabelValues(poolName).Inc() }
func (m *Metrics) RecordCacheMiss(poolName string) { m.psCacheMisses.WithLabelValues(poolName).Inc() }

// RecordFailover increments the failover counter for the host that was
// abandoned.
func (m *Metrics) RecordFailover(host string) { m.failovers.WithLabelValues(host).Inc() }

// Proxy wraps statement execution with logging and, if Metrics is set,
// Prometheus observation. It is optional — spec.md's engine works
// without one; applications construct a Proxy only when they want the
// profiling behavior.
type Proxy struct {
	Logger              *log.Logger
	Metrics             *Metrics
	SlowQueryThreshold   time.Duration
	MaxQuerySizeToLog    int
	DumpOnException      bool
}

// NewProxy returns a Proxy logging to stderr with the teacher's
// bracketed-prefix style.
func NewProxy(metrics *Metrics) *Proxy {
	return &Proxy{
		Logger:             log.New(os.Stderr, "[mdriver:logproxy] ", log.LstdFlags),
		Metrics:            metrics,
		SlowQueryThreshold: time.Second,
		MaxQuerySizeToLog:  1024,
	}
}

// Around runs fn, timing it and logging slow queries or exceptions.
// op labels the Prometheus histogram ("query", "update", "batch");
// sql is the statement text, truncated to MaxQuerySizeToLog when
// logged.
func (p *Proxy) Around(ctx context.Context, op, sql string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	if p.Metrics != nil {
		p.Metrics.ObserveQuery(op, elapsed)
	}

	if err != nil {
		if p.DumpOnException {
			p.Logger.Printf("%s failed after %s: %v: %s", op, elapsed, err, p.truncate(sql))
		} else {
			p.Logger.Printf("%s failed after %s: %v", op, elapsed, err)
		}
		return err
	}

	if p.SlowQueryThreshold > 0 && elapsed >= p.SlowQueryThreshold {
		p.Logger.Printf("slow %s (%s): %s", op, elapsed, p.truncate(sql))
	}
	return nil
}

func (p *Proxy) truncate(sql string) string {
	sql = strings.TrimSpace(sql)
	if p.MaxQuerySizeToLog > 0 && len(sql) > p.MaxQuerySizeToLog {
		return sql[:p.MaxQuerySizeToLog] + "..."
	}
	return sql
}
