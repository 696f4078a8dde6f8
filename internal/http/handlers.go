package http

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// handleHealth performs a basic liveness check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}).Write(w)
}

// handleReady reports ready once the local store answers. Being offline does
// not make the service unready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]any)
	status, code := "ready", http.StatusOK

	st, err := s.sync.Status(ctx)
	if err != nil {
		checks["local_store"] = fmt.Sprintf("failed: %v", err)
		status, code = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["local_store"] = "ok"
		checks["remote"] = map[string]any{
			"online":         st.IsOnline,
			"unsynced_count": st.UnsyncedCount,
		}
	}

	NewResponse().Status(code).JSON(map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// handleMetrics exposes counters in plain text.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	clients, hits := s.limiter.stats()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP expensync_http_requests_total Total HTTP requests served.\n")
	fmt.Fprintf(w, "# TYPE expensync_http_requests_total counter\n")
	fmt.Fprintf(w, "expensync_http_requests_total %d\n", s.requests.Load())
	fmt.Fprintf(w, "# TYPE expensync_rate_limit_hits_total counter\n")
	fmt.Fprintf(w, "expensync_rate_limit_hits_total %d\n", hits)
	fmt.Fprintf(w, "# TYPE expensync_rate_limit_clients gauge\n")
	fmt.Fprintf(w, "expensync_rate_limit_clients %d\n", clients)
	fmt.Fprintf(w, "# TYPE expensync_uptime_seconds gauge\n")
	fmt.Fprintf(w, "expensync_uptime_seconds %.0f\n", time.Since(s.started).Seconds())

	st, err := s.sync.Status(r.Context())
	if err != nil {
		return
	}
	online := 0
	if st.IsOnline {
		online = 1
	}
	fmt.Fprintf(w, "# TYPE expensync_online gauge\n")
	fmt.Fprintf(w, "expensync_online %d\n", online)
	fmt.Fprintf(w, "# TYPE expensync_unsynced_entries gauge\n")
	fmt.Fprintf(w, "expensync_unsynced_entries %d\n", st.UnsyncedCount)
	if st.LastSyncTime != nil {
		fmt.Fprintf(w, "# TYPE expensync_last_sync_timestamp_seconds gauge\n")
		fmt.Fprintf(w, "expensync_last_sync_timestamp_seconds %d\n", st.LastSyncTime.Unix())
	}
}
