package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_Idempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestObserveModelCall(t *testing.T) {
	before := testutil.ToFloat64(ModelCallsTotal.WithLabelValues("extract_parameters", "m", "error"))
	ObserveModelCall("extract_parameters", "m", time.Now(), errors.New("boom"))
	after := testutil.ToFloat64(ModelCallsTotal.WithLabelValues("extract_parameters", "m", "error"))
	assert.Equal(t, before+1, after)

	ObserveModelCall("extract_parameters", "m", time.Now(), nil)
	assert.GreaterOrEqual(t, testutil.ToFloat64(ModelCallsTotal.WithLabelValues("extract_parameters", "m", "success")), 1.0)
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/abc", http.NoBody)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)

	val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/tasks/{id}", "404"))
	assert.GreaterOrEqual(t, val, 1.0)
}

func TestHandler_ServesMetrics(t *testing.T) {
	Register()
	TasksTotal.WithLabelValues("COMPLETED").Inc()

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "veridoc_tasks_total"))
}
