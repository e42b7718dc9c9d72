package service

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RequestRateLimiter limita la frecuencia de requests por clave.
type RequestRateLimiter interface {
	Allow(key string) bool
}

type keyLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// memoryRateLimiter mantiene un token bucket por clave: max requests de
// rafaga que se recargan a lo largo de window.
type memoryRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyLimiter
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

func NewMemoryRateLimiter(window time.Duration, max int) RequestRateLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &memoryRateLimiter{
		limiters: make(map[string]*keyLimiter),
		limit:    rate.Every(window / time.Duration(max)),
		burst:    max,
		idle:     2 * window,
		now:      time.Now,
	}
}

func (l *memoryRateLimiter) Allow(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictIdle(now)
	entry, ok := l.limiters[key]
	if !ok {
		entry = &keyLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// evictIdle borra claves sin actividad; un bucket inactivo ya esta lleno.
func (l *memoryRateLimiter) evictIdle(now time.Time) {
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > l.idle {
			delete(l.limiters, key)
		}
	}
}
