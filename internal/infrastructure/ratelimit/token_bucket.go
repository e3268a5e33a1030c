package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/turtacn/keyguard/internal/domain/service"
)

// TokenBucketConfig sizes the per-client buckets in front of validate-admin.
type TokenBucketConfig struct {
	Rate  float64 // tokens per second
	Burst int
	Clock service.Clock
}

// TokenBucketPool keeps one x/time/rate bucket per client address. Idle buckets are
// dropped by Cleanup, which cmd/server runs once a minute.
type TokenBucketPool struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	limit   rate.Limit
	burst   int
	clock   service.Clock
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewTokenBucketPool(cfg TokenBucketConfig) *TokenBucketPool {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = service.SystemClock{}
	}
	return &TokenBucketPool{
		clients: make(map[string]*clientBucket),
		limit:   rate.Limit(cfg.Rate),
		burst:   cfg.Burst,
		clock:   cfg.Clock,
	}
}

// Allow spends one token of key. When denied, the duration says when the next token
// arrives; the reservation is handed back so denied calls do not drain the bucket.
func (p *TokenBucketPool) Allow(key string) (bool, time.Duration) {
	now := p.clock.Now()
	r := p.bucket(key, now).ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, delay
}

func (p *TokenBucketPool) bucket(key string, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.clients[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.clients[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// Cleanup forgets clients not seen for maxIdle and reports how many were dropped.
func (p *TokenBucketPool) Cleanup(maxIdle time.Duration) int {
	cutoff := p.clock.Now().Add(-maxIdle)
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for key, b := range p.clients {
		if b.lastSeen.Before(cutoff) {
			delete(p.clients, key)
			n++
		}
	}
	return n
}

// Size is the number of tracked clients.
func (p *TokenBucketPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

//Personal.AI order the ending
