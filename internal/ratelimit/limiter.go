// Package ratelimit bounds how fast individual clients may hit the signaling
// endpoint.
package ratelimit

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// defaultMaxKeys bounds limiter state when a caller sprays source addresses.
const defaultMaxKeys = 4096

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// KeyedLimiter keeps one token bucket per key (typically a client IP). The
// least recently used bucket is evicted once MaxKeys buckets exist, so an
// evicted key starts again with a full burst.
type KeyedLimiter struct {
	clock   Clock
	limit   rate.Limit
	burst   int
	maxKeys int

	mu      sync.Mutex
	entries map[string]*keyEntry
	lru     *list.List
}

type keyEntry struct {
	limiter *rate.Limiter
	elem    *list.Element
}

// NewKeyedLimiter allows perSecond events per key with the given burst.
// perSecond <= 0 returns nil, which allows everything.
func NewKeyedLimiter(clock Clock, perSecond float64, burst, maxKeys int) *KeyedLimiter {
	if perSecond <= 0 {
		return nil
	}
	if clock == nil {
		clock = RealClock{}
	}
	if burst <= 0 {
		burst = 1
	}
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	return &KeyedLimiter{
		clock:   clock,
		limit:   rate.Limit(perSecond),
		burst:   burst,
		maxKeys: maxKeys,
		entries: make(map[string]*keyEntry),
		lru:     list.New(),
	}
}

// Allow consumes one token from key's bucket. A nil limiter always allows.
func (l *KeyedLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if ok {
		l.lru.MoveToFront(e.elem)
	} else {
		for len(l.entries) >= l.maxKeys {
			oldest := l.lru.Back()
			l.lru.Remove(oldest)
			delete(l.entries, oldest.Value.(string))
		}
		e = &keyEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		e.elem = l.lru.PushFront(key)
		l.entries[key] = e
	}
	return e.limiter.AllowN(now, 1)
}

// Len reports how many keys currently hold a bucket.
func (l *KeyedLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
