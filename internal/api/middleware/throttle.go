package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
)

const throttleRetryAfter = 5

// ConnectionThrottle caps concurrent in-flight requests per IP and in total.
// Counters are in-process; the cap protects this replica, not the fleet.
type ConnectionThrottle struct {
	mu    sync.Mutex
	perIP map[string]int
	total int

	maxPerIP int
	maxTotal int
}

// NewConnectionThrottle creates a throttle with the given caps.
func NewConnectionThrottle(maxPerIP, maxTotal int) *ConnectionThrottle {
	return &ConnectionThrottle{
		perIP:    make(map[string]int),
		maxPerIP: maxPerIP,
		maxTotal: maxTotal,
	}
}

// Wrap guards a handler with the throttle.
func (t *ConnectionThrottle) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !t.acquire(ip) {
			w.Header().Set("Retry-After", "5")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":       "too_many_connections",
				"retry_after": throttleRetryAfter,
			})
			return
		}
		defer t.release(ip)
		next.ServeHTTP(w, r)
	})
}

func (t *ConnectionThrottle) acquire(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.total >= t.maxTotal || t.perIP[ip] >= t.maxPerIP {
		return false
	}
	t.total++
	t.perIP[ip]++
	return true
}

func (t *ConnectionThrottle) release(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total--
	if t.perIP[ip] <= 1 {
		delete(t.perIP, ip)
	} else {
		t.perIP[ip]--
	}
}

// Stats reports current in-flight counts for introspection.
func (t *ConnectionThrottle) Stats() ThrottleStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	perIP := make(map[string]int, len(t.perIP))
	for ip, n := range t.perIP {
		perIP[ip] = n
	}
	return ThrottleStats{
		Total:    t.total,
		MaxTotal: t.maxTotal,
		MaxPerIP: t.maxPerIP,
		PerIP:    perIP,
	}
}

// ThrottleStats is the GET /stats/connections payload.
type ThrottleStats struct {
	Total    int            `json:"total"`
	MaxTotal int            `json:"max_total"`
	MaxPerIP int            `json:"max_per_ip"`
	PerIP    map[string]int `json:"per_ip"`
}
