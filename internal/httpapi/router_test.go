package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/freeeve/osmresolve/internal/metrics"
)

func TestProgress(t *testing.T) {
	h := NewRouter(zerolog.Nop(), "resolve", "run-1", func() any {
		return map[string]int{"passes": 3}
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/progress", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp struct {
		Tool     string         `json:"tool"`
		RunID    string         `json:"run_id"`
		Progress map[string]int `json:"progress"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Equal(t, "resolve", resp.Tool)
	require.Equal(t, "run-1", resp.RunID)
	require.Equal(t, 3, resp.Progress["passes"])
}

func TestProgressRejectsPost(t *testing.T) {
	h := NewRouter(zerolog.Nop(), "resolve", "run-1", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/progress", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.PassesTotal.Inc()
	h := NewRouter(zerolog.Nop(), "resolve", "run-1", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "osmresolve_passes_total")
}

func TestRequestID(t *testing.T) {
	h := NewRouter(zerolog.Nop(), "resolve", "run-1", nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Len(t, rr.Header().Get("X-Request-ID"), 12)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "upstream-abc")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, "upstream-abc", rr.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "has space")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.NotEqual(t, "has space", rr.Header().Get("X-Request-ID"), "invalid incoming id was kept")
}
