package api

import (
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/ratelimit"
)

// RateLimit counts requests per client IP. Run it after RealIP so RemoteAddr is
// the caller rather than a trusted proxy.
func RateLimit(l ratelimit.Limiter, perWindow int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil || perWindow <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Allow(r.Context(), clientIP(r), perWindow)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				secs := int(d.RetryAfter(time.Now()).Round(time.Second).Seconds())
				if secs < 1 {
					secs = 1
				}
				h.Set("Retry-After", strconv.Itoa(secs))
				log.Printf("rate limited ip=%s path=%s count=%d", clientIP(r), r.URL.Path, d.Count)
				WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port when present; RealIP leaves a bare address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
