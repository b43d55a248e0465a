package chat

import (
	"log/slog"
	"sync"
	"time"
)

// Typing tracks short-lived per-user composing flags. The TTL clock lives
// here on the server: a tab that never sends an explicit stop still stops
// typing once the TTL lapses.
type Typing struct {
	mu     sync.Mutex
	ttl    time.Duration
	active map[presenceKey]*time.Timer
	bc     Broadcaster
	log    *slog.Logger
	closed bool
}

func NewTyping(ttl time.Duration, bc Broadcaster, log *slog.Logger) *Typing {
	return &Typing{
		ttl:    ttl,
		active: make(map[presenceKey]*time.Timer),
		bc:     bc,
		log:    log.With("component", "typing"),
	}
}

// SetTyping refreshes or clears the user's typing state. typing:start goes
// out only on the off->on edge; refreshes just push the TTL, so a client
// hammering typing frames produces one event per burst.
func (t *Typing) SetTyping(channelID, userID int64, isTyping bool) {
	k := presenceKey{channelID, userID}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	timer, on := t.active[k]

	if !isTyping {
		if !on {
			t.mu.Unlock()
			return
		}
		timer.Stop()
		delete(t.active, k)
		t.mu.Unlock()
		t.bc.Broadcast(channelID, typingEvent(channelID, userID, false))
		return
	}

	if on {
		timer.Reset(t.ttl)
		t.mu.Unlock()
		return
	}
	t.active[k] = time.AfterFunc(t.ttl, func() { t.expire(k) })
	t.mu.Unlock()

	t.bc.Broadcast(channelID, typingEvent(channelID, userID, true))
}

func (t *Typing) expire(k presenceKey) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if _, ok := t.active[k]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.active, k)
	t.mu.Unlock()

	t.log.Debug("typing ttl expired", "user_id", k.userID, "channel_id", k.channelID)
	t.bc.Broadcast(k.channelID, typingEvent(k.channelID, k.userID, false))
}

// Clear drops the user's typing state when their connection goes away,
// emitting the stop event if they were mid-composition.
func (t *Typing) Clear(channelID, userID int64) {
	t.SetTyping(channelID, userID, false)
}

// Close stops every TTL timer without emitting events.
func (t *Typing) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for k, timer := range t.active {
		timer.Stop()
		delete(t.active, k)
	}
}
