package fastpath

import (
	"runtime"
	"sync/atomic"
)

// spinLock is the per-flow lock protecting the cursors and rings. Critical
// sections are short byte-copy loops, so spinning with a yield beats a
// full mutex on the fast path.
type spinLock struct {
	v atomic.Uint32
}

func (l *spinLock) Lock() {
	for !l.v.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

func (l *spinLock) Unlock() {
	l.v.Store(0)
}
