// ABOUTME: Tests for the hub metrics
// ABOUTME: Reads values back through the exposition handler

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestCounters(t *testing.T) {
	m := New()

	m.SetAgents(2)
	m.Sent("execute_code")
	m.Sent("execute_code")
	m.Received("browser_ready")
	m.Dropped()
	m.Result("", true)
	m.Result("stop", false)
	m.Snapshot(10*time.Millisecond, false)
	m.Snapshot(5*time.Second, true)

	body := scrape(t, m)
	for _, line := range []string{
		"strudel_bridge_agents_connected 2",
		`strudel_bridge_messages_sent_total{type="execute_code"} 2`,
		`strudel_bridge_messages_received_total{type="browser_ready"} 1`,
		"strudel_bridge_connections_dropped_total 1",
		`strudel_bridge_execution_results_total{action="execute",outcome="success"} 1`,
		`strudel_bridge_execution_results_total{action="stop",outcome="failure"} 1`,
		"strudel_bridge_snapshot_timeouts_total 1",
		"strudel_bridge_snapshot_duration_seconds_count 2",
	} {
		assert.Contains(t, body, line)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetAgents(1)
		m.Sent("x")
		m.Received("x")
		m.Dropped()
		m.Result("", true)
		m.Snapshot(time.Second, true)
	})
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.Dropped()

	assert.Contains(t, scrape(t, a), "strudel_bridge_connections_dropped_total 1")
	assert.Contains(t, scrape(t, b), "strudel_bridge_connections_dropped_total 0")
}
