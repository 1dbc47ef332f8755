package http

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	applog "conti/internal/log"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

// withRequestLogging attaches a request-scoped logger to the context and
// logs the outcome of every request.
func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := extractClientIP(r)
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)

		logger := s.logger.With(applog.FieldRequestID, requestID)
		r = r.WithContext(applog.NewContext(r.Context(), logger))
		s.metrics.requests.Add(1)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		logger.LogHTTPEnd(r.Context(), r, rw.statusCode, time.Since(start).Milliseconds(), clientIP)
	})
}

// withRateLimit rejects mutating requests over the per-client budget.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			clientIP := extractClientIP(r)
			if !s.rateLimiter.allow(clientIP) {
				applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
					applog.FieldClientIP, clientIP,
					applog.FieldMethod, r.Method,
					applog.FieldPath, r.URL.Path)
				TooManyRequestsError().Write(w)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// workspaceLocks hands out one mutex per workspace so mutations of the same
// workspace run one at a time. Entries are dropped when no request holds them.
type workspaceLocks struct {
	mu    sync.Mutex
	locks map[string]*workspaceLock
}

type workspaceLock struct {
	mu   sync.Mutex
	refs int
}

func newWorkspaceLocks() *workspaceLocks {
	return &workspaceLocks{locks: make(map[string]*workspaceLock)}
}

// lock blocks until the workspace is free and returns its unlock func.
func (l *workspaceLocks) lock(id string) func() {
	l.mu.Lock()
	wl, ok := l.locks[id]
	if !ok {
		wl = &workspaceLock{}
		l.locks[id] = wl
	}
	wl.refs++
	l.mu.Unlock()

	wl.mu.Lock()
	return func() {
		wl.mu.Unlock()
		l.mu.Lock()
		wl.refs--
		if wl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *workspaceLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
