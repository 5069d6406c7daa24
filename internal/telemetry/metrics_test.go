package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInstrumentCountsByStatusClass(t *testing.T) {
	h := Instrument("test_op", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			http.Error(w, "nope", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	before2xx := testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "2xx"))
	before4xx := testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "4xx"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/?fail=1", nil))

	require.Equal(t, before2xx+1, testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "2xx")))
	require.Equal(t, before4xx+1, testutil.ToFloat64(RequestsTotal.WithLabelValues("test_op", "4xx")))
	require.Zero(t, testutil.ToFloat64(InFlight.WithLabelValues("test_op")))
}

func TestMetricsHandlerExposesMembershipMetrics(t *testing.T) {
	ViewsInstalled.WithLabelValues("view").Inc()
	ViewMembers.Set(3)
	SetBuildInfo("test", "abc123")

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, name := range []string{
		"zephyrgroup_views_installed_total",
		"zephyrgroup_view_members 3",
		`zephyrgroup_build_info{git_sha="abc123",version="test"} 1`,
		"zephyrgroup_uptime_seconds",
	} {
		require.True(t, strings.Contains(body, name), "missing %q", name)
	}
}
