package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/turtacn/keyguard/internal/domain/service"
	"github.com/turtacn/keyguard/pkg/constants"
)

// MemoryRateLimiter keeps a sliding window per principal in process memory.
// It is only correct for a single replica.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*attemptWindow
	clock   service.Clock
}

type attemptWindow struct {
	mu       sync.Mutex
	admitted []time.Time
	// swept is set when Sweep removed the window from the map.
	swept bool
}

var _ service.RateLimiter = (*MemoryRateLimiter)(nil)

func NewMemoryRateLimiter(clock service.Clock) *MemoryRateLimiter {
	if clock == nil {
		clock = service.SystemClock{}
	}
	return &MemoryRateLimiter{windows: make(map[string]*attemptWindow), clock: clock}
}

func (rl *MemoryRateLimiter) IsRateLimited(_ context.Context, userID string, maxAttempts int, window time.Duration) (service.RateDecision, error) {
	w := rl.window(userID)
	w.mu.Lock()
	for w.swept {
		w.mu.Unlock()
		w = rl.window(userID)
		w.mu.Lock()
	}
	defer w.mu.Unlock()

	now := rl.clock.Now()
	cutoff := now.Add(-window)
	kept := w.admitted[:0]
	for _, at := range w.admitted {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	w.admitted = kept

	if len(w.admitted) >= maxAttempts {
		retry := w.admitted[0].Add(window).Sub(now)
		if retry < constants.MinRetryAfter {
			retry = constants.MinRetryAfter
		}
		return service.RateDecision{Limited: true, RetryAfter: retry}, nil
	}

	w.admitted = append(w.admitted, now)
	return service.RateDecision{Remaining: maxAttempts - len(w.admitted)}, nil
}

func (rl *MemoryRateLimiter) Backend() constants.RateLimitBackend {
	return constants.RateLimitBackendMemory
}

// ResetLimit forgets the window of a principal.
func (rl *MemoryRateLimiter) ResetLimit(_ context.Context, userID string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if w, ok := rl.windows[userID]; ok {
		w.mu.Lock()
		w.swept = true
		w.mu.Unlock()
		delete(rl.windows, userID)
	}
	return nil
}

// Sweep drops principals whose newest attempt is older than window.
func (rl *MemoryRateLimiter) Sweep(window time.Duration) int {
	cutoff := rl.clock.Now().Add(-window)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for id, w := range rl.windows {
		w.mu.Lock()
		if len(w.admitted) == 0 || !w.admitted[len(w.admitted)-1].After(cutoff) {
			w.swept = true
			delete(rl.windows, id)
			removed++
		}
		w.mu.Unlock()
	}
	return removed
}

func (rl *MemoryRateLimiter) window(userID string) *attemptWindow {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	w, ok := rl.windows[userID]
	if !ok {
		w = &attemptWindow{}
		rl.windows[userID] = w
	}
	return w
}
