package signal

import (
	"sync"
	"time"

	"github.com/dkeye/meshcall/internal/domain"
)

type limiterKey struct {
	call        domain.CallID
	participant domain.ParticipantID
}

// RateLimiter is a sliding window limit on frames per participant and call.
type RateLimiter struct {
	mu       sync.Mutex
	history  map[limiterKey][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		history:  make(map[limiterKey][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records an attempt and reports whether it fits the window. A limit of zero disables limiting.
func (rl *RateLimiter) Allow(call domain.CallID, participant domain.ParticipantID) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := limiterKey{call: call, participant: participant}
	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[key]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[key] = fresh
		return false
	}

	rl.history[key] = append(fresh, now)
	return true
}

// Forget drops the history of a participant that left.
func (rl *RateLimiter) Forget(call domain.CallID, participant domain.ParticipantID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, limiterKey{call: call, participant: participant})
}
