package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sustainage/admission-gate/internal/http/response"
	"github.com/sustainage/admission-gate/internal/service"
)

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

// RateLimit applies one fixed-window rule to a route group. The action names
// the rule in counters and metrics; keyFunc picks what the window is keyed
// by and defaults to the client IP.
type RateLimit struct {
	limiter service.RateLimiter
	action  string
	max     int
	window  time.Duration
	mode    FailureMode
	bypass  *service.BypassList
	keyFunc func(r *http.Request) string
}

func NewRateLimit(limiter service.RateLimiter, action string, max int, window time.Duration, mode FailureMode) *RateLimit {
	return &RateLimit{
		limiter: limiter,
		action:  action,
		max:     max,
		window:  window,
		mode:    mode,
		keyFunc: clientIP,
	}
}

func (rl *RateLimit) WithBypass(bypass *service.BypassList) *RateLimit {
	rl.bypass = bypass
	return rl
}

func (rl *RateLimit) WithKeyFunc(keyFunc func(r *http.Request) string) *RateLimit {
	rl.keyFunc = keyFunc
	return rl
}

func (rl *RateLimit) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			if key == "" {
				key = clientIP(r)
			}
			if rl.bypass.Allows(r.Context(), key, rl.action) {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := rl.limiter.Check(r.Context(), rl.action, key, rl.max, rl.window)
			if err != nil {
				if rl.mode == FailOpen {
					slog.WarnContext(r.Context(), "rate limiter backend unavailable, allowing request",
						"action", rl.action, "error", err.Error())
					next.ServeHTTP(w, r)
					return
				}
				w.Header().Set("Retry-After", retryAfterSeconds(rl.window))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}

			writeRateLimitHeaders(w.Header(), decision)
			if !decision.Allowed {
				w.Header().Set("Retry-After", retryAfterSeconds(decision.ResetIn))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", map[string]any{
					"limit":    decision.Limit,
					"reset_in": decision.ResetIn.Seconds(),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimitHeaders(h http.Header, d service.Decision) {
	remaining := d.Limit - d.CurrentCount
	if remaining < 0 {
		remaining = 0
	}
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", d.Limit))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", int(d.ResetIn.Seconds())))
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}
