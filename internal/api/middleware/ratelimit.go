// Package middleware carries the HTTP cross-cutting layers: per-IP rate
// limiting backed by Redis, the in-process connection throttle, request
// logging, and request ids.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/enmstack/analytics-service/internal/pkg/metrics"
)

// Rate-limit categories. Each endpoint is assigned one by the router.
const (
	CategoryCritical = "critical"
	CategoryNormal   = "normal"
	CategoryHeavy    = "heavy"
	CategoryDefault  = "default"
	categoryGlobal   = "global"
)

const rateWindow = time.Minute

// RateLimiter enforces per-IP, per-category request budgets in a sliding
// one-minute window, plus a global per-IP cap across categories. Counters
// live in Redis so budgets hold across replicas.
type RateLimiter struct {
	client *redis.Client
	logger *zap.Logger

	limits       map[string]int
	globalLimit  int
	whitelist    map[string]struct{}
	bypassHeader string

	// Process-local token buckets, used only while Redis is unreachable.
	fallback map[string]*rate.Limiter
}

// RateLimiterConfig wires the limits and exemptions.
type RateLimiterConfig struct {
	Critical     int
	Normal       int
	Heavy        int
	Default      int
	Global       int
	Whitelist    []string
	BypassHeader string
}

// NewRateLimiter creates a limiter on an existing Redis connection.
func NewRateLimiter(client *redis.Client, cfg RateLimiterConfig, logger *zap.Logger) *RateLimiter {
	wl := make(map[string]struct{}, len(cfg.Whitelist))
	for _, ip := range cfg.Whitelist {
		wl[ip] = struct{}{}
	}
	limits := map[string]int{
		CategoryCritical: cfg.Critical,
		CategoryNormal:   cfg.Normal,
		CategoryHeavy:    cfg.Heavy,
		CategoryDefault:  cfg.Default,
	}
	fallback := make(map[string]*rate.Limiter, len(limits))
	for category, limit := range limits {
		if limit > 0 {
			fallback[category] = rate.NewLimiter(rate.Every(rateWindow/time.Duration(limit)), limit)
		}
	}
	return &RateLimiter{
		client:       client,
		logger:       logger,
		limits:       limits,
		globalLimit:  cfg.Global,
		whitelist:    wl,
		bypassHeader: cfg.BypassHeader,
		fallback:     fallback,
	}
}

// Limit wraps a handler with the budget for the given category.
func (rl *RateLimiter) Limit(category string, next http.Handler) http.Handler {
	limit, ok := rl.limits[category]
	if !ok {
		category = CategoryDefault
		limit = rl.limits[CategoryDefault]
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if rl.exempt(r, ip) {
			next.ServeHTTP(w, r)
			return
		}

		count, ttl, err := rl.bump(r.Context(), ip, category)
		if err != nil {
			// With Redis unreachable, fall back to a process-local bucket
			// shared across callers rather than failing closed.
			if fb := rl.fallback[category]; fb != nil && !fb.Allow() {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(rateWindow.Seconds())))
				rl.reject(w, category, limit, rateWindow)
				return
			}
			rl.logger.Warn("rate limiter unavailable, admitting request", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(ttl.Seconds())))

		if count > limit {
			rl.reject(w, category, limit, ttl)
			return
		}

		globalCount, globalTTL, err := rl.bump(r.Context(), ip, categoryGlobal)
		if err == nil && globalCount > rl.globalLimit {
			rl.reject(w, categoryGlobal, rl.globalLimit, globalTTL)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bump atomically increments the window counter and returns the new count
// plus the time until the window resets.
func (rl *RateLimiter) bump(ctx context.Context, ip, category string) (int, time.Duration, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", category, ip)

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, rateWindow)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}

	reset := ttl.Val()
	if reset < 0 {
		reset = rateWindow
	}
	return int(incr.Val()), reset, nil
}

func (rl *RateLimiter) exempt(r *http.Request, ip string) bool {
	if _, ok := rl.whitelist[ip]; ok {
		return true
	}
	return rl.bypassHeader != "" && r.Header.Get(rl.bypassHeader) != ""
}

func (rl *RateLimiter) reject(w http.ResponseWriter, category string, limit int, ttl time.Duration) {
	metrics.RateLimitRejectionsTotal.WithLabelValues(category).Inc()
	retryAfter := int(ttl.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":       "rate_limit_exceeded",
		"message":     fmt.Sprintf("rate limit of %d requests per minute exceeded", limit),
		"category":    category,
		"limit":       limit,
		"retry_after": retryAfter,
	})
}

// clientIP extracts the caller's IP, honoring X-Forwarded-For from the
// ingress proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
