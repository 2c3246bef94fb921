package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRegistryExposesCommitCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Commits.Inc()
	m.Aborts.WithLabelValues("race_abort").Inc()
	m.CurrentEpoch.Set(42)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler(reg).ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "foedus_commits_total 1")
	require.Contains(t, rec.Body.String(), "foedus_current_global_epoch 42")
}

// TestWrapperMethodsUpdateTheSameMetrics covers the xct.Metrics/wal.Metrics/
// thread.Metrics capability methods Registry implements: each one must
// mutate the same underlying collector its corresponding exported field
// does, since callers wire the wrapper methods in, never the fields
// directly.
func TestWrapperMethodsUpdateTheSameMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncCommit()
	m.IncAbort("race")
	m.SetCurrentEpoch(7)
	m.SetDurableEpoch(5)
	m.SetImpersonateQueue(3)
	m.ObserveLogFlush(2 * time.Millisecond)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler(reg).ServeHTTP(rec, req)
	body := rec.Body.String()

	require.Contains(t, body, "foedus_commits_total 1")
	require.Contains(t, body, `foedus_aborts_total{kind="race"} 1`)
	require.Contains(t, body, "foedus_current_global_epoch 7")
	require.Contains(t, body, "foedus_durable_global_epoch 5")
	require.Contains(t, body, "foedus_impersonation_busy_workers 3")
	require.Contains(t, body, "foedus_log_flush_seconds_count 1")
}
