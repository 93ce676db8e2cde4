package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
)

// RateLimiter is a fixed-window per-client limiter. It exists to keep one
// misbehaving client from hammering the sync triggers, not to survive a
// distributed flood, so an in-process map is enough.
type RateLimiter struct {
	mu        sync.Mutex
	windows   map[string]*rateWindow
	limit     int
	window    time.Duration
	lastSweep time.Time
}

type rateWindow struct {
	count     int
	expiresAt time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		windows:   make(map[string]*rateWindow),
		limit:     limit,
		window:    window,
		lastSweep: time.Now(),
	}
}

// Handler enforces the limit keyed by client IP. Expired windows are swept
// inline on the next request rather than by a background goroutine.
func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.IP()
		now := time.Now()

		rl.mu.Lock()
		if now.Sub(rl.lastSweep) > rl.window {
			for k, w := range rl.windows {
				if now.After(w.expiresAt) {
					delete(rl.windows, k)
				}
			}
			rl.lastSweep = now
		}

		w, ok := rl.windows[key]
		if !ok || now.After(w.expiresAt) {
			w = &rateWindow{expiresAt: now.Add(rl.window)}
			rl.windows[key] = w
		}
		w.count++
		count, reset := w.count, w.expiresAt
		rl.mu.Unlock()

		remaining := rl.limit - count
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if count > rl.limit {
			c.Set("Retry-After", strconv.Itoa(int(time.Until(reset).Seconds())+1))
			return apperr.RateLimited("api")
		}
		return c.Next()
	}
}
