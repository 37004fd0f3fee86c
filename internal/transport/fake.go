package transport

import (
	"context"
	"encoding/json"
	"sync"
)

// Fake is an in-memory Transport used by tests in this module and by
// consumers of this package. Writes made by the system under test are
// recorded in Written; lines queued via Feed are delivered through
// ReadMessages in order.
type Fake struct {
	mu      sync.Mutex
	ready   bool
	closed  bool
	lines   chan Line
	endOnce sync.Once
	Written [][]byte
	OnWrite func(line string) error
}

// NewFake creates a disconnected Fake transport.
func NewFake() *Fake {
	return &Fake{lines: make(chan Line, 256)}
}

func (f *Fake) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = true
	return nil
}

func (f *Fake) Write(line string) error {
	f.mu.Lock()
	if !f.ready || f.closed {
		f.mu.Unlock()
		return &NotConnectedError{}
	}
	hook := f.OnWrite
	f.mu.Unlock()

	f.Written = append(f.Written, []byte(line))
	if hook != nil {
		return hook(line)
	}
	return nil
}

func (f *Fake) ReadMessages() <-chan Line { return f.lines }

// Feed enqueues a JSON value as if the peer had written it to stdout.
func (f *Fake) Feed(v any) {
	raw, _ := json.Marshal(v)
	f.lines <- Line{Value: raw}
}

// FeedRaw enqueues a raw JSON line verbatim.
func (f *Fake) FeedRaw(raw json.RawMessage) { f.lines <- Line{Value: raw} }

// FeedError enqueues a parse error without ending the stream.
func (f *Fake) FeedError(err error) { f.lines <- Line{Err: err} }

// End closes the read stream, simulating the child's stdout EOF. Safe to
// call alongside Close; the stream closes exactly once.
func (f *Fake) End() { f.endOnce.Do(func() { close(f.lines) }) }

func (f *Fake) EndInput() error { return nil }

// Close mirrors the real transport: after it, the read stream is ended (a
// killed child's stdout reaches EOF) and writes fail.
func (f *Fake) Close() error {
	f.mu.Lock()
	f.ready = false
	f.closed = true
	f.mu.Unlock()
	f.End()
	return nil
}

func (f *Fake) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

var _ Transport = (*Fake)(nil)
