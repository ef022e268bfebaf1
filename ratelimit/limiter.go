// Package ratelimit implements dual sliding-window admission control for
// outbound messages: a small window per destination number and a larger
// window across the whole device. Admission is a joint decision, so both
// windows live behind a single mutex and are appended together or not at
// all.
package ratelimit

import (
	"sync"
	"time"
)

const (
	perNumberLimit  = 5
	perNumberWindow = 5 * time.Minute

	deviceLimit  = 60
	deviceWindow = time.Hour
)

type Limiter struct {
	mu        sync.Mutex
	now       func() time.Time
	perNumber map[string][]time.Time
	device    []time.Time
}

// New returns a limiter using now as its clock. Pass nil for time.Now.
func New(now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		now:       now,
		perNumber: make(map[string][]time.Time),
	}
}

// Admit reports whether a send to destination is allowed right now and,
// if so, records it in both windows.
func (l *Limiter) Admit(destination string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	q := pruneBefore(l.perNumber[destination], now.Add(-perNumberWindow))
	l.perNumber[destination] = q
	if len(q) >= perNumberLimit {
		return false
	}

	l.device = pruneBefore(l.device, now.Add(-deviceWindow))
	if len(l.device) >= deviceLimit {
		return false
	}

	l.perNumber[destination] = append(q, now)
	l.device = append(l.device, now)
	return true
}

// Prune drops stale timestamps and empty per-number entries. Admit prunes
// lazily on its own; this keeps idle destinations from pinning memory.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for number, q := range l.perNumber {
		q = pruneBefore(q, now.Add(-perNumberWindow))
		if len(q) == 0 {
			delete(l.perNumber, number)
		} else {
			l.perNumber[number] = q
		}
	}
	l.device = pruneBefore(l.device, now.Add(-deviceWindow))
}

func pruneBefore(q []time.Time, threshold time.Time) []time.Time {
	i := 0
	for i < len(q) && q[i].Before(threshold) {
		i++
	}
	return q[i:]
}
