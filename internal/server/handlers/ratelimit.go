// internal/server/handlers/ratelimit.go

package handlers

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/VictorHono/agrosense-ai-sub001/internal/logging"
)

// ClientLimiter keeps one token bucket per client
type ClientLimiter struct {
	limit  rate.Limit
	burst  int
	idle   time.Duration
	now    func() time.Time
	logger logging.Logger

	mu      sync.Mutex
	clients map[string]*clientBucket
	swept   time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientLimiter allows rps requests per second per client with the given
// burst. A non-positive rps disables limiting.
func NewClientLimiter(rps float64, burst int, logger logging.Logger) *ClientLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &ClientLimiter{
		limit:   limit,
		burst:   burst,
		idle:    10 * time.Minute,
		now:     time.Now,
		logger:  logger,
		clients: make(map[string]*clientBucket),
	}
}

// Allow reports whether the client may proceed now
func (l *ClientLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.swept) > l.idle {
		for k, b := range l.clients {
			if now.Sub(b.lastSeen) > l.idle {
				delete(l.clients, k)
			}
		}
		l.swept = now
	}

	b, ok := l.clients[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Middleware rejects requests over the client's budget with 429
func (l *ClientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientKey(r, r.URL.Query().Get("user_id"))) {
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfterSeconds()))
			respondWithError(w, r, l.logger, ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// retryAfterSeconds is the time for one token to refill, rounded up
func (l *ClientLimiter) retryAfterSeconds() int {
	if l.limit == rate.Inf || l.limit <= 0 {
		return 1
	}
	return int(math.Ceil(1 / float64(l.limit)))
}
