package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/user/tradekub/backend/internal/errs"
)

// ThrottleIdleTTL is how long an unused limiter is kept before it is evicted.
const ThrottleIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet hands out one limiter per key and evicts keys idle for longer than idle.
type limiterSet struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastPrune time.Time
	now       func() time.Time
}

func newLimiterSet(perSecond float64, burst int, idle time.Duration) *limiterSet {
	if burst <= 0 {
		burst = 1
	}
	return &limiterSet{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    idle,
		now:     time.Now,
	}
}

func (s *limiterSet) allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastPrune) >= s.idle {
		s.prune(now)
	}
	entry, ok := s.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// prune must be called with mu held.
func (s *limiterSet) prune(now time.Time) {
	for key, entry := range s.entries {
		if now.Sub(entry.lastSeen) >= s.idle {
			delete(s.entries, key)
		}
	}
	s.lastPrune = now
}

func (s *limiterSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Throttle limits each actor to perSecond requests with the given burst.
// Requests without an actor are keyed by client IP.
func Throttle(perSecond float64, burst int) fiber.Handler {
	limiters := newLimiterSet(perSecond, burst, ThrottleIdleTTL)
	return func(c *fiber.Ctx) error {
		key := "ip:" + c.IP()
		if actor, ok := ActorFrom(c); ok {
			key = "user:" + strconv.FormatInt(actor.UserID, 10)
		}
		if !limiters.allow(key) {
			return reject(c, errs.Throttled("Too many order requests, slow down"))
		}
		return c.Next()
	}
}
