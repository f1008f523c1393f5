package signal

import (
	"sync"
	"time"

	"github.com/dkeye/Callbridge/internal/domain"
)

// CallRateLimiter caps call attempts per user within a rolling interval.
// Each user keeps a ring of the last limit attempt times; the oldest one
// decides whether the next attempt fits and, if not, when it will.
type CallRateLimiter struct {
	mu        sync.Mutex
	users     map[domain.UserID]*attemptRing
	limit     int
	interval  time.Duration
	nextSweep time.Time
	now       func() time.Time
}

type attemptRing struct {
	at   []time.Time
	head int
	last time.Time
}

func NewCallRateLimiter(limit int, interval time.Duration) *CallRateLimiter {
	return &CallRateLimiter{
		users:    make(map[domain.UserID]*attemptRing),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records an attempt by uid. A refused attempt is not recorded and
// reports how long until the oldest attempt leaves the interval.
func (rl *CallRateLimiter) Allow(uid domain.UserID) (time.Duration, bool) {
	if rl.limit <= 0 {
		return 0, true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	r, ok := rl.users[uid]
	if !ok {
		r = &attemptRing{at: make([]time.Time, 0, rl.limit)}
		rl.users[uid] = r
	}
	if len(r.at) < rl.limit {
		r.at = append(r.at, now)
		r.last = now
		return 0, true
	}

	if wait := r.at[r.head].Add(rl.interval).Sub(now); wait > 0 {
		return wait, false
	}
	r.at[r.head] = now
	r.head = (r.head + 1) % rl.limit
	r.last = now
	return 0, true
}

// sweep forgets users idle for a whole interval, at most once per interval.
func (rl *CallRateLimiter) sweep(now time.Time) {
	if now.Before(rl.nextSweep) {
		return
	}
	rl.nextSweep = now.Add(rl.interval)
	for uid, r := range rl.users {
		if !now.Before(r.last.Add(rl.interval)) {
			delete(rl.users, uid)
		}
	}
}
