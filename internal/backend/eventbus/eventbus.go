// Package eventbus adapts internal/query's bounded-broadcast pattern for the secondary backends: one producer (a session's reader
// loop) fanning Envelopes out to however many ReceiveMessages/
// ReceiveResponse callers are active, with the same lag-as-error semantics
// so a slow consumer never stalls the reader.
package eventbus

import (
	"sync"

	"github.com/anthropic-agentcli/agentcli-go/internal/backend"
)

const defaultCapacity = 1024

// Broadcaster fans one producer out to many independent subscribers with
// bounded per-subscriber capacity.
type Broadcaster struct {
	mu       sync.Mutex
	subs     map[*Subscription]struct{}
	capacity int
	closed   bool
}

// New constructs a Broadcaster. capacity <= 0 uses the default of 1024.
func New(capacity int) *Broadcaster {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Broadcaster{subs: make(map[*Subscription]struct{}), capacity: capacity}
}

// Subscription is one subscriber's view of the stream. lagged is written
// under the broadcaster's mutex before Ch is closed, so a consumer that has
// observed the close may call Lagged without further synchronization.
type Subscription struct {
	Ch     chan backend.Envelope
	lagged bool
	b      *Broadcaster
}

// Lagged reports whether this subscription was dropped for falling behind.
// Only meaningful after Ch has been observed closed.
func (s *Subscription) Lagged() bool { return s.lagged }

// Err is the lag error a consumer should surface when Lagged reports true.
func (s *Subscription) Err() error { return lagErr }

// Subscribe creates a new view. Safe to call after the broadcaster has
// already closed; the new subscriber then gets an already-closed channel.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription{Ch: make(chan backend.Envelope, b.capacity), b: b}
	if b.closed {
		close(sub.Ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe drops a subscription. Safe to call multiple times and
// concurrently with Publish.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

var lagErr = errLag{}

type errLag struct{}

func (errLag) Error() string { return "eventbus: subscriber fell behind, dropped" }

// Publish delivers env to every current subscriber without blocking. A
// subscriber whose channel is full is marked lagged, dropped from the
// fan-out set, and its channel closed; closing (rather than queueing a lag
// item) guarantees the consumer observes the drop even when no slot is free.
func (b *Broadcaster) Publish(env backend.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.Ch <- env:
		default:
			sub.lagged = true
			delete(b.subs, sub)
			close(sub.Ch)
		}
	}
}

// Close publishes nothing further and closes every subscriber's channel.
// Subsequent Subscribe calls get an already-closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.Ch)
	}
	b.subs = make(map[*Subscription]struct{})
}
