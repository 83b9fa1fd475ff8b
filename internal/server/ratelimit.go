package server

import (
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

// ThrottleConfig bounds overall request throughput. This is a blunt
// process-wide guard against floods; the per-voter vote limiter lives in the
// API layer where the voter identity is known.
type ThrottleConfig struct {
	// RequestsPerSecond of 0 disables the throttle.
	RequestsPerSecond float64
	Burst             int
}

func newThrottle(cfg ThrottleConfig) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

func throttleMiddleware(limiter *rate.Limiter, logger *slog.Logger, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz", "/metrics":
			next.ServeHTTP(w, r)
			return
		}
		if !limiter.Allow() {
			logger.Warn("request throttled", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
