package watcher

import (
	"context"
	"sync"
)

// State is the latest known snapshot of the watched file: either its content
// or the error that prevented reading it. States are immutable; the watch
// loop replaces the current one on every observed change.
type State struct {
	Content string
	Err     error
}

// Feed is a single-writer, multi-reader cell holding the latest State.
//
// The watch loop is the only publisher. Readers either sample the current
// value with Latest or block on a Subscription until something newer is
// published. The feed keeps no history: a subscriber that sleeps through
// several publications wakes once and observes only the newest state.
type Feed struct {
	mu      sync.Mutex
	state   State
	version uint64
	changed chan struct{} // closed and replaced on every publication
	closed  bool
}

// NewFeed creates a feed holding the given initial state.
func NewFeed(initial State) *Feed {
	return &Feed{state: initial, changed: make(chan struct{})}
}

// Latest returns the current state.
func (f *Feed) Latest() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Publish replaces the current state and wakes every blocked subscriber.
// Publishing on a closed feed is a no-op.
func (f *Feed) Publish(state State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.state = state
	f.version++
	close(f.changed)
	f.changed = make(chan struct{})
}

// Close marks the feed as finished and wakes every blocked subscriber with
// a false result. Close is idempotent.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.changed)
}

// Subscribe registers a reader positioned at the current state: Changed
// reports only publications that happen after this call.
func (f *Feed) Subscribe() *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &Subscription{feed: f, seen: f.version}
}

// Subscription tracks how far one reader has observed a Feed.
type Subscription struct {
	feed *Feed
	seen uint64
}

// Changed blocks until a state newer than the last one observed through this
// subscription has been published, then returns true. It returns false when
// ctx is done or the feed is closed. Intermediate states may be skipped; the
// next Latest call sees only the newest value.
func (s *Subscription) Changed(ctx context.Context) bool {
	for {
		s.feed.mu.Lock()
		if s.feed.version > s.seen {
			s.seen = s.feed.version
			s.feed.mu.Unlock()
			return true
		}
		if s.feed.closed {
			s.feed.mu.Unlock()
			return false
		}
		changed := s.feed.changed
		s.feed.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return false
		}
	}
}

// Latest returns the feed's current state.
func (s *Subscription) Latest() State {
	return s.feed.Latest()
}
