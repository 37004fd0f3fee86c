package query

import (
	"encoding/json"
	"sync"
)

// ControlMessage is one value the reader task publishes to the broadcaster.
// Exactly one field is meaningful per the Kind.
type ControlMessage struct {
	Kind ControlMessageKind
	Data json.RawMessage // Kind == MsgData
	Err  error           // Kind == MsgError
}

// ControlMessageKind discriminates a ControlMessage.
type ControlMessageKind int

const (
	MsgData ControlMessageKind = iota
	MsgEnd
	MsgError
	// MsgInlineError carries a non-fatal parse error on a single line. Unlike
	// MsgError (stream-ending), a subscriber surfaces it and keeps reading.
	MsgInlineError
)

const defaultBroadcastCapacity = 1024

// broadcaster fans one producer out to many independent subscribers with
// bounded per-subscriber capacity. A subscriber that falls behind is dropped
// and its channel closed with the lagged flag set, so its view ends with a
// lag error. The reader task never blocks on a slow consumer.
type broadcaster struct {
	mu       sync.Mutex
	subs     map[*subscription]struct{}
	capacity int
	closed   bool
}

func newBroadcaster(capacity int) *broadcaster {
	if capacity <= 0 {
		capacity = defaultBroadcastCapacity
	}
	return &broadcaster{subs: make(map[*subscription]struct{}), capacity: capacity}
}

// subscription is one subscriber's view of the stream. lagged is written
// under the broadcaster's mutex before ch is closed, so a consumer that has
// observed the close may read it without further synchronization.
type subscription struct {
	ch     chan ControlMessage
	lagged bool
	b      *broadcaster
}

// Subscribe creates a new view. Safe to call concurrently, and safe to call
// after the broadcaster has already published End/Error (the subscriber
// immediately receives an End item, whichever terminal item was published).
func (b *broadcaster) Subscribe() *subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscription{ch: make(chan ControlMessage, b.capacity), b: b}
	if b.closed {
		// Terminal state already reached; hand the new subscriber an
		// immediate End so it never blocks.
		sub.ch <- ControlMessage{Kind: MsgEnd}
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe drops a subscription. Safe to call multiple times and safe to
// call concurrently with Publish; dropping a subscriber view is silent.
func (b *broadcaster) Unsubscribe(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
	}
}

// Publish delivers msg to every current subscriber without blocking. A
// subscriber whose channel is full is marked lagged, removed from the
// fan-out set, and its channel closed; closing (rather than queueing a lag
// marker) guarantees the consumer observes the drop even when the channel
// has no free slot left.
func (b *broadcaster) Publish(msg ControlMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.ch <- msg:
		default:
			sub.lagged = true
			delete(b.subs, sub)
			close(sub.ch)
		}
	}
}

// Close publishes a terminal item to every subscriber and marks the
// broadcaster closed; subsequent Subscribe calls get an immediate terminal
// item instead of joining the (now defunct) fan-out set.
func (b *broadcaster) Close(terminal ControlMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		select {
		case sub.ch <- terminal:
		default:
		}
		close(sub.ch)
	}
	b.subs = make(map[*subscription]struct{})
}
