package chat

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn implements Conn with an inspectable outbound queue.
type fakeConn struct {
	id        string
	userID    int64
	channelID int64

	mu      sync.Mutex
	events  []Event
	closed  bool
	reason  string
	drained chan struct{}
	// full simulates a consumer whose buffer never drains
	full bool
}

func (f *fakeConn) ID() string       { return f.id }
func (f *fakeConn) UserID() int64    { return f.userID }
func (f *fakeConn) ChannelID() int64 { return f.channelID }

func (f *fakeConn) Enqueue(ev Event, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return NewError(CodeTransientDelivery, "outbound buffer full")
	}
	if f.closed {
		return NewError(CodeTransientDelivery, "connection closed")
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeConn) Close(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.reason = reason
	if f.drained != nil {
		close(f.drained)
	}
}

// Drained reports immediately once the fake is closed; there is no pump to
// wait for.
func (f *fakeConn) Drained() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.drained == nil {
		f.drained = make(chan struct{})
		if f.closed {
			close(f.drained)
		}
	}
	return f.drained
}

func (f *fakeConn) snapshot() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// recordBC captures broadcasts for assertions.
type recordBC struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordBC) Broadcast(channelID int64, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ChannelID = channelID
	r.events = append(r.events, ev)
}

func (r *recordBC) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordBC) ofType(t string) []Event {
	var out []Event
	for _, ev := range r.snapshot() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// fakeMembers is a membership validator over a fixed set.
type fakeMembers struct {
	mu      sync.Mutex
	members map[presenceKey]bool
	err     error
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{members: make(map[presenceKey]bool)}
}

func (f *fakeMembers) add(channelID, userID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[presenceKey{channelID, userID}] = true
}

func (f *fakeMembers) IsMember(_ context.Context, channelID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.members[presenceKey{channelID, userID}], nil
}

// fakeStore assigns ids and per-channel sequences in memory. failures, when
// set, makes that many PersistMessage calls fail before the next succeeds.
// persistDelay injects latency inside PersistMessage for write-before-broadcast
// checks.
type fakeStore struct {
	mu           sync.Mutex
	nextID       int64
	seqs         map[int64]int64
	persisted    []Message
	failures     int
	persistDelay time.Duration
	touched      map[int64]time.Time
	hasErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{seqs: make(map[int64]int64), touched: make(map[int64]time.Time)}
}

func (f *fakeStore) PersistMessage(_ context.Context, m *Message) (int64, int64, error) {
	if f.persistDelay > 0 {
		time.Sleep(f.persistDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return 0, 0, NewError(CodeInternal, "store down")
	}
	f.nextID++
	f.seqs[m.ChannelID]++
	stored := *m
	stored.ID = f.nextID
	stored.Sequence = f.seqs[m.ChannelID]
	f.persisted = append(f.persisted, stored)
	return stored.ID, stored.Sequence, nil
}

func (f *fakeStore) TouchChannel(_ context.Context, channelID int64, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[channelID] = ts
	return nil
}

func (f *fakeStore) HasMessage(_ context.Context, channelID, messageID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hasErr != nil {
		return false, f.hasErr
	}
	for _, m := range f.persisted {
		if m.ID == messageID && m.ChannelID == channelID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.persisted))
	copy(out, f.persisted)
	return out
}
