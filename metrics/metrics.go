// Package metrics wires the engine's commit/abort/epoch/durability counters
// to prometheus/client_golang, the same instrumentation library
// ethereum-go-ethereum's go.mod carries for its own node metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shino/foedus/epoch"
)

// Registry bundles every gauge/counter the engine updates. A fresh Registry
// should be created once per Engine; tests that construct more than one in
// the same process pass their own prometheus.Registerer to avoid colliding
// with the global default registry.
type Registry struct {
	Commits          prometheus.Counter
	Aborts           *prometheus.CounterVec
	CurrentEpoch     prometheus.Gauge
	DurableEpoch     prometheus.Gauge
	ImpersonateQueue prometheus.Gauge
	LogFlushLatency  prometheus.Histogram
}

// New registers every metric against reg (pass prometheus.NewRegistry() in
// tests; pass prometheus.DefaultRegisterer in production).
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foedus_commits_total",
			Help: "Total number of transactions that reached precommit successfully.",
		}),
		Aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foedus_aborts_total",
			Help: "Total number of transactions that aborted, by reason kind.",
		}, []string{"kind"}),
		CurrentEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "foedus_current_global_epoch",
			Help: "The engine's current global epoch.",
		}),
		DurableEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "foedus_durable_global_epoch",
			Help: "The most recent epoch every logger has fully persisted.",
		}),
		ImpersonateQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "foedus_impersonation_busy_workers",
			Help: "Number of worker threads currently running an impersonated call.",
		}),
		LogFlushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "foedus_log_flush_seconds",
			Help:    "Latency of one logger drain-and-fsync pass.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.Commits, m.Aborts, m.CurrentEpoch, m.DurableEpoch, m.ImpersonateQueue, m.LogFlushLatency)
	return m
}

// IncCommit implements xct.Metrics.
func (m *Registry) IncCommit() { m.Commits.Inc() }

// IncAbort implements xct.Metrics.
func (m *Registry) IncAbort(kind string) { m.Aborts.WithLabelValues(kind).Inc() }

// SetCurrentEpoch implements xct.Metrics.
func (m *Registry) SetCurrentEpoch(e epoch.Epoch) { m.CurrentEpoch.Set(float64(uint32(e))) }

// SetDurableEpoch implements wal.Metrics.
func (m *Registry) SetDurableEpoch(e epoch.Epoch) { m.DurableEpoch.Set(float64(uint32(e))) }

// ObserveLogFlush implements wal.Metrics.
func (m *Registry) ObserveLogFlush(d time.Duration) { m.LogFlushLatency.Observe(d.Seconds()) }

// SetImpersonateQueue implements thread.Metrics.
func (m *Registry) SetImpersonateQueue(n int) { m.ImpersonateQueue.Set(float64(n)) }

// Handler returns an http.Handler serving reg's metrics in the Prometheus
// exposition format, for wiring onto [metrics] listen_addr.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
