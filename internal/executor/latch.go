package executor

import "sync/atomic"

// RevealLatch fires its callback exactly once, on the first call to Fire,
// no matter how many goroutines race to call it.
type RevealLatch struct {
	fired atomic.Bool
	fn    func()
}

// NewRevealLatch returns a latch that runs fn when it first fires. fn may be nil.
func NewRevealLatch(fn func()) *RevealLatch {
	return &RevealLatch{fn: fn}
}

// Fire trips the latch and reports whether this call was the one that did.
func (l *RevealLatch) Fire() bool {
	if l == nil || !l.fired.CompareAndSwap(false, true) {
		return false
	}
	if l.fn != nil {
		l.fn()
	}
	return true
}

// Fired reports whether the latch has been tripped.
func (l *RevealLatch) Fired() bool {
	return l != nil && l.fired.Load()
}
