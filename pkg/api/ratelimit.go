package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kara-bolt/karadao/pkg/contracts"
)

// rateLimitConfig holds the rate limiter settings.
type rateLimitConfig struct {
	rps   rate.Limit
	burst int
}

// CallerRateLimiter manages per-caller token buckets. Authenticated
// requests are keyed by caller address, anonymous ones by remote IP, so a
// single noisy agent cannot starve the rest.
type CallerRateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	config   rateLimitConfig
}

// visitor tracks the limiter and last seen time for one key.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewCallerRateLimiter creates a rate limiter allowing rps requests per
// second with the given burst per caller.
func NewCallerRateLimiter(rps int, burst int) *CallerRateLimiter {
	rl := &CallerRateLimiter{
		visitors: make(map[string]*visitor),
		config: rateLimitConfig{
			rps:   rate.Limit(rps),
			burst: burst,
		},
	}
	go rl.cleanupVisitors()
	return rl
}

func (rl *CallerRateLimiter) getVisitor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[key]
	if !exists {
		limiter := rate.NewLimiter(rl.config.rps, rl.config.burst)
		rl.visitors[key] = &visitor{limiter, time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// cleanupVisitors removes stale entries. Checks every minute, removes
// entries idle longer than 3 minutes.
func (rl *CallerRateLimiter) cleanupVisitors() {
	for {
		time.Sleep(1 * time.Minute)
		rl.mu.Lock()
		for key, v := range rl.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(rl.visitors, key)
			}
		}
		rl.mu.Unlock()
	}
}

// rateKey picks the bucket key for a request: the authenticated caller when
// the auth middleware already ran, the remote IP otherwise.
func rateKey(r *http.Request) string {
	if caller := CallerFrom(r.Context()); caller != contracts.Zero {
		return string(caller)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return ip
}

// Middleware returns a Handler that enforces rate limits.
func (rl *CallerRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.getVisitor(rateKey(r)).Allow() {
			WriteTooManyRequests(w, 5)
			return
		}
		next.ServeHTTP(w, r)
	})
}
