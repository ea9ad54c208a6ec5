package http

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"policy-billing-engine/internal/core/ports"
)

// RateLimiterMiddleware limits requests per client IP.
type RateLimiterMiddleware struct {
	repo   ports.RateLimiterRepository
	limit  int
	window time.Duration
	logger *slog.Logger
}

// NewRateLimiterMiddleware creates a new middleware instance.
func NewRateLimiterMiddleware(repo ports.RateLimiterRepository, limit int, window time.Duration, logger *slog.Logger) *RateLimiterMiddleware {
	return &RateLimiterMiddleware{
		repo:   repo,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// Handler is the middleware function.
func (m *RateLimiterMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			// RealIP may already have stripped the port.
			ip = r.RemoteAddr
		}

		allowed, err := m.repo.IsAllowed(r.Context(), "ratelimit:"+ip, m.limit, m.window)
		if err != nil {
			// Fail open when the limiter is unavailable.
			m.logger.Error("rate limit check failed", "ip", ip, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			w.Header().Set("Retry-After", retryAfter(m.window))
			writeJSONError(w, "Too Many Requests", http.StatusTooManyRequests, m.logger)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func retryAfter(window time.Duration) string {
	secs := int(window.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
