package metrics

import (
	"io"
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
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics(t *testing.T) {
	t.Run("Should count login outcomes", func(t *testing.T) {
		m := New()
		m.LoginAttempt("success")
		m.LoginAttempt("success")
		m.LoginAttempt("locked")

		out := scrape(t, m)
		assert.Contains(t, out, `access_login_attempts_total{outcome="success"} 2`)
		assert.Contains(t, out, `access_login_attempts_total{outcome="locked"} 1`)
	})

	t.Run("Should label requests by route and status", func(t *testing.T) {
		m := New()
		m.ObserveRequest(http.MethodGet, "/api/users/:id", 200, 5*time.Millisecond)
		m.ObserveRequest(http.MethodGet, "", 404, time.Millisecond)

		out := scrape(t, m)
		assert.Contains(t, out, `access_http_requests_total{method="GET",route="/api/users/:id",status="200"} 1`)
		assert.Contains(t, out, `access_http_requests_total{method="GET",route="unmatched",status="404"} 1`)
		assert.Contains(t, out, `access_http_request_duration_seconds_count{method="GET",route="/api/users/:id"} 1`)
	})

	t.Run("Should be safe to use when nil", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.LoginAttempt("success")
			m.ObserveRequest("GET", "/", 200, 0)
		})
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Should include runtime collectors", func(t *testing.T) {
		out := scrape(t, New())
		assert.Contains(t, out, "go_goroutines")
	})
}
