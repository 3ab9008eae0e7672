package docstore

import "sync"

// Feed is a Subscription backed by a one-slot channel where a newer snapshot
// replaces an undelivered older one. Implementations publish into it.
type Feed struct {
	ch     chan Snapshot
	done   chan struct{}
	mu     sync.Mutex
	closed bool
	onStop func()
}

// NewFeed creates a feed; onStop runs once when the feed is stopped.
func NewFeed(onStop func()) *Feed {
	return &Feed{
		ch:     make(chan Snapshot, 1),
		done:   make(chan struct{}),
		onStop: onStop,
	}
}

// Publish replaces any pending snapshot with s. It returns false once stopped.
func (f *Feed) Publish(s Snapshot) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	select {
	case <-f.ch:
	default:
	}
	f.ch <- s
	return true
}

// Snapshots implements Subscription.
func (f *Feed) Snapshots() <-chan Snapshot {
	return f.ch
}

// Done is closed when the feed stops.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

// Stop implements Subscription. It is idempotent.
func (f *Feed) Stop() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.done)
	close(f.ch)
	f.mu.Unlock()
	if f.onStop != nil {
		f.onStop()
	}
}
