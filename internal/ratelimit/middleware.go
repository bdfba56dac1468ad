package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/tessen-ai/kanshi/internal/model"
)

// KeyFunc extracts the throttling key from a request. An empty key exempts
// the request.
type KeyFunc func(r *http.Request) string

// Middleware enforces limiter on requests keyed by keyFunc. A nil limiter
// and limiter errors both fail open: a broken limiter must never drop agent
// telemetry.
func Middleware(limiter Limiter, keyFunc KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ""
			if limiter != nil {
				key = keyFunc(r)
			}
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if ok, err := limiter.Allow(r.Context(), key); err == nil && !ok {
				throttle(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func throttle(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Error: &model.APIError{Code: "rate_limited", Message: "too many requests"},
	})
}

// IPKeyFunc keys by client IP from RemoteAddr. X-Forwarded-For is not
// trusted: without a sanitizing proxy in front, any client could spoof it
// to dodge the limit.
func IPKeyFunc(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
