package store

import (
	"sync"

	"github.com/CodeUnit7/Isiziba/core"
)

// changeFeed is the non-blocking notification channel shared by both store
// implementations. Writers never block on slow consumers; a full buffer
// drops the notification and counts it. The collections stay queryable, so
// consumers whose effects must not be lost (reputation accrual) reconcile
// against the collections rather than trusting the feed alone.
type changeFeed struct {
	ch        chan core.Change
	closeOnce sync.Once

	mu      sync.Mutex
	dropped int
}

func newChangeFeed(buffer int) *changeFeed {
	return &changeFeed{ch: make(chan core.Change, buffer)}
}

func (f *changeFeed) emit(ch core.Change) {
	defer func() {
		// A write racing close hits a closed channel; the durable write
		// already succeeded, so the lost notification is tolerable.
		_ = recover()
	}()
	select {
	case f.ch <- ch:
	default:
		f.mu.Lock()
		f.dropped++
		f.mu.Unlock()
	}
}

func (f *changeFeed) close() {
	f.closeOnce.Do(func() { close(f.ch) })
}

// Dropped reports how many notifications were discarded due to backpressure.
func (f *changeFeed) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
