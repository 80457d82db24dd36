package cascade

import (
	"sync"
	"time"

	"github.com/For-Sunny/cascade-memory/internal/logging"
)

// RateLimiter implements two sliding windows of equal width: a global
// window and a per-operation window, both admitting on a simple
// prune-then-check-then-append sequence (§4.6).
type RateLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	globalCap int
	opCaps   map[string]int
	defaultOpCap int

	global []time.Time
	ops    map[string][]time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter builds a limiter with window width, a global cap, and
// per-operation caps (falling back to defaultOpCap for unlisted ops).
func NewRateLimiter(window time.Duration, globalCap int, opCaps map[string]int, defaultOpCap int) *RateLimiter {
	return &RateLimiter{
		window:       window,
		globalCap:    globalCap,
		opCaps:       opCaps,
		defaultOpCap: defaultOpCap,
		ops:          make(map[string][]time.Time),
		stopCh:       make(chan struct{}),
	}
}

// Admit records timestamp now against op's window and the global window. On
// denial it returns the operation's retry-after in milliseconds, clamped to
// at least 1000ms (§4.6, §8 property 12).
func (r *RateLimiter) Admit(op string, now time.Time) (admitted bool, retryAfterMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.window)
	r.global = pruneBefore(r.global, cutoff)
	opList := pruneBefore(r.ops[op], cutoff)
	r.ops[op] = opList

	opCap := r.opCaps[op]
	if opCap == 0 {
		opCap = r.defaultOpCap
	}

	if len(r.global) >= r.globalCap {
		return false, retryAfterFor(r.global, now, r.window)
	}
	if len(opList) >= opCap {
		return false, retryAfterFor(opList, now, r.window)
	}

	r.global = append(r.global, now)
	r.ops[op] = append(r.ops[op], now)
	return true, 0
}

func retryAfterFor(window []time.Time, now time.Time, width time.Duration) int64 {
	if len(window) == 0 {
		return 1000
	}
	oldest := window[0]
	wait := oldest.Add(width).Sub(now).Milliseconds()
	if wait < 1000 {
		wait = 1000
	}
	return wait
}

func pruneBefore(list []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(list) && list[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return list
	}
	return append([]time.Time(nil), list[i:]...)
}

// StartCleanup runs a cooperative cleanup every five minutes to bound
// memory from operations that have gone idle (§4.6).
func (r *RateLimiter) StartCleanup() {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

func (r *RateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-r.window)
	r.global = pruneBefore(r.global, cutoff)
	for op, list := range r.ops {
		pruned := pruneBefore(list, cutoff)
		if len(pruned) == 0 {
			delete(r.ops, op)
		} else {
			r.ops[op] = pruned
		}
	}
	logging.RateLimit("cleanup: %d global entries retained", len(r.global))
}

// Stop halts the cleanup ticker. Safe to call multiple times.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}
