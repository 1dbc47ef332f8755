package http

import (
	"fmt"
	"net/http"
	"time"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Data(map[string]string{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.metrics.startTime).Round(time.Second).String(),
	}).Write(w)
}

// handleMetrics exposes counters in the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	counter := func(name, help string, v int64) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n\n", name, help, name, name, v)
	}
	gauge := func(name, help string, v float64) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n\n", name, help, name, name, v)
	}

	counter("http_requests_total", "Total number of HTTP requests", s.metrics.requests.Load())
	counter("transaction_mutations_total", "Transactions created, updated or deleted", s.metrics.mutations.Load())
	counter("cache_hits_total", "Total cache hits", s.metrics.cacheHits.Load())
	counter("cache_misses_total", "Total cache misses", s.metrics.cacheMisses.Load())
	counter("rate_limit_hits_total", "Total rate limit hits", s.rateLimiter.hits.Load())

	fmt.Fprintf(w, "# HELP cache_entries Current cache entries\n# TYPE cache_entries gauge\n")
	fmt.Fprintf(w, "cache_entries{type=\"balances\"} %d\n", s.balanceCache.Size())
	fmt.Fprintf(w, "cache_entries{type=\"overview\"} %d\n\n", s.overviewCache.Size())

	gauge("active_rate_limit_clients", "Currently tracked rate limit clients", float64(s.rateLimiter.activeClients()))
	gauge("workspace_locks", "Workspaces with a mutation in flight", float64(s.locks.size()))
	gauge("uptime_seconds", "Application uptime in seconds", time.Since(s.metrics.startTime).Seconds())
}
