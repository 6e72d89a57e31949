package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/osmresolve/internal/metrics"
)

// ProgressFunc returns the latest progress snapshot of the running tool.
// The value is served as JSON.
type ProgressFunc func() any

// Handler serves the operational endpoints of a running tool.
type Handler struct {
	tool     string
	runID    string
	started  time.Time
	progress ProgressFunc
	log      zerolog.Logger
}

// NewRouter creates the router for /healthz, /progress, /metrics and the
// pprof endpoints. progress is optional.
func NewRouter(log zerolog.Logger, tool, runID string, progress ProgressFunc) http.Handler {
	h := &Handler{
		tool:     tool,
		runID:    runID,
		started:  time.Now(),
		progress: progress,
		log:      log,
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", http.HandlerFunc(h.health))
	mux.Handle("/progress", http.HandlerFunc(h.progressHandler))
	mux.Handle("/metrics", metrics.Handler())

	// pprof endpoints
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return RequestID(AccessLog(log, mux))
}

// NewServer returns an http.Server for the router, with the timeouts used
// by every tool.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ProgressResponse is the body of /progress.
type ProgressResponse struct {
	Tool      string  `json:"tool"`
	RunID     string  `json:"run_id"`
	UptimeSec float64 `json:"uptime_sec"`
	Progress  any     `json:"progress,omitempty"`
}

func (h *Handler) progressHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := ProgressResponse{
		Tool:      h.tool,
		RunID:     h.runID,
		UptimeSec: time.Since(h.started).Seconds(),
	}
	if h.progress != nil {
		resp.Progress = h.progress()
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
