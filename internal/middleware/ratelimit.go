package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/voxlate/voxlate/internal/ratelimit"
)

// ClientKeyFunc derives the rate-limit key for a request: the authenticated
// identity when present, else the device ID header, else the client IP.
type ClientKeyFunc func(r *http.Request) string

// RateLimit enforces the limiter for every request passing through.
// Denials return 429 with a Retry-After header and a structured body.
// The denial is rendered inline so this package stays a leaf below the
// router.
func RateLimit(limiter *ratelimit.Limiter, keyFn ClientKeyFunc) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = DefaultClientKey
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.Allow(r.Context(), keyFn(r), 1)
			if !d.Allowed {
				retryAfter := int(d.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"error":"rate limit exceeded","details":{"retry_after_seconds":%d}}`, retryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// DefaultClientKey prefers the device ID header over the network address.
// Routes behind the auth middleware pass a key func that checks the
// authenticated identity first.
func DefaultClientKey(r *http.Request) string {
	if dev := r.Header.Get("X-Device-ID"); dev != "" {
		return "dev:" + dev
	}
	return "ip:" + ClientIP(r)
}

// ClientIP extracts the originating client address, trusting forwarding
// headers set by the reverse proxy.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
