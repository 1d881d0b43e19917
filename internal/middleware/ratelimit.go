package middleware

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/technosupport/remotehub/internal/ratelimit"
)

// RateLimitConfig holds the per-scope limits applied to the REST surface.
type RateLimitConfig struct {
	GlobalIP ratelimit.LimitConfig
	Admin    ratelimit.LimitConfig
	Login    ratelimit.LimitConfig
}

type RateLimitMiddleware struct {
	limiter *ratelimit.Limiter
	config  RateLimitConfig
}

func NewRateLimitMiddleware(l *ratelimit.Limiter, c RateLimitConfig) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: l, config: c}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	return strings.Split(r.RemoteAddr, ":")[0]
}

// GlobalLimiter enforces a per-IP limit on every request and, once JWTAuth
// has run, an additional per-admin limit. Redis failures fail open
// everywhere except the login path, which fails closed.
func (m *RateLimitMiddleware) GlobalLimiter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		ipHash := m.limiter.HashIP(ip)
		key := fmt.Sprintf("rl:ip:%s", ipHash)

		decision, err := m.limiter.CheckRateLimit(r.Context(), key, m.config.GlobalIP)
		if err == ratelimit.ErrRedisUnavailable {
			if strings.HasPrefix(r.URL.Path, "/api/login") {
				log.Printf("ratelimit: redis unavailable on login path, failing closed: %v", err)
				http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
				return
			}
			log.Printf("ratelimit: redis unavailable, failing open: %v", err)
			next.ServeHTTP(w, r)
			return
		} else if err != nil {
			log.Printf("ratelimit: unexpected error, failing open: %v", err)
			next.ServeHTTP(w, r)
			return
		}

		if !decision.Allowed {
			writeRateLimitHeaders(w, decision)
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		if ac, ok := GetAuthContext(r.Context()); ok {
			userKey := fmt.Sprintf("rl:admin:%s", ac.Username)
			uDecision, err := m.limiter.CheckRateLimit(r.Context(), userKey, m.config.Admin)
			if err == nil && !uDecision.Allowed {
				writeRateLimitHeaders(w, uDecision)
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// LoginLimiter enforces the tighter login-specific limit, keyed by IP,
// applied ahead of credential validation and independently of the
// per-username lockout counter in internal/session.
func (m *RateLimitMiddleware) LoginLimiter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ipHash := m.limiter.HashIP(clientIP(r))
		key := fmt.Sprintf("rl:login:%s", ipHash)

		decision, err := m.limiter.CheckRateLimit(r.Context(), key, m.config.Login)
		if err != nil {
			log.Printf("ratelimit: login check failed, failing closed: %v", err)
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
			return
		}
		if !decision.Allowed {
			writeRateLimitHeaders(w, decision)
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}
