package alerting

import (
	"sync"
	"sync/atomic"
	"time"
)

// cooldownLedger tracks the last-fired instant per (rule, target) key. Updates
// use compare-and-swap so two evaluations racing past the same cooldown window
// cannot both fire; exactly one wins the CAS and the other observes the fresh
// timestamp.
type cooldownLedger struct {
	mu      sync.Mutex // guards map growth only
	entries map[string]*atomic.Int64
}

func newCooldownLedger() *cooldownLedger {
	return &cooldownLedger{entries: make(map[string]*atomic.Int64)}
}

// tryFire atomically claims a firing slot for key if at least cooldown has
// elapsed since the last successful claim. It returns false when the key is
// still inside its cooldown window.
func (l *cooldownLedger) tryFire(key string, now time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}

	entry := l.entry(key)
	nowNanos := now.UnixNano()

	for {
		last := entry.Load()
		if last != 0 && now.Sub(time.Unix(0, last)) < cooldown {
			return false
		}
		if entry.CompareAndSwap(last, nowNanos) {
			return true
		}
		// Lost the race; re-read and re-check the window.
	}
}

// lastFired returns the last successful firing time for key, or the zero time.
func (l *cooldownLedger) lastFired(key string) time.Time {
	l.mu.Lock()
	entry, ok := l.entries[key]
	l.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	nanos := entry.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func (l *cooldownLedger) entry(key string) *atomic.Int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		entry = new(atomic.Int64)
		l.entries[key] = entry
	}
	return entry
}
