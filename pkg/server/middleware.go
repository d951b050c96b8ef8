package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/onephotolife/tagserve/pkg/ratelimit"
)

type ctxKey int

const requestIDKey ctxKey = iota

// RequestID returns the ULID assigned to this request, or "" outside
// the middleware chain.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ulid.Make().String()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"dur", time.Since(start).Round(time.Millisecond),
			"request_id", RequestID(r.Context()),
		)
	})
}

// rateLimited enforces the per-action window before the handler runs.
// Rejections carry both a Retry-After header and retryAfterMs in the
// body so browser and native clients can back off without parsing
// headers.
func (s *Server) rateLimited(action string, windowMs, maxAttempts int, next http.Handler) http.Handler {
	window := time.Duration(windowMs) * time.Millisecond
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ratelimit.Key(clientID(r), action)
		d := s.limiter.Admit(key, window, maxAttempts)
		if !d.Allowed {
			retryAfter := d.RetryAfter
			if retryAfter < 0 {
				retryAfter = 0
			}
			secs := int(retryAfter.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			s.writeJSON(w, http.StatusTooManyRequests, envelope{
				Success:      false,
				Error:        &apiError{Code: CodeRateLimited, Message: "too many requests"},
				RetryAfterMs: retryAfter.Milliseconds(),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientID prefers the explicit header so proxied deployments can key
// on a stable identity; otherwise the peer address, port stripped.
func clientID(r *http.Request) string {
	if id := r.Header.Get("X-Client-Id"); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
