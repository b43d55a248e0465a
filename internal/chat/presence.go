package chat

import (
	"log/slog"
	"sync"
	"time"
)

// Broadcaster is the slice of the registry the presence tracker and typing
// coordinator need.
type Broadcaster interface {
	Broadcast(channelID int64, ev Event)
}

type presenceKey struct {
	channelID int64
	userID    int64
}

// Presence derives per-channel online state from registry transitions. A user
// goes online on their first live connection and offline only after the grace
// window passes with no connection, so rapid reconnects (page navigation,
// flaky radio) never flap join/leave events.
type Presence struct {
	mu      sync.Mutex
	grace   time.Duration
	online  map[presenceKey]struct{}
	leaving map[presenceKey]*time.Timer
	bc      Broadcaster
	log     *slog.Logger
	closed  bool
}

func NewPresence(grace time.Duration, bc Broadcaster, log *slog.Logger) *Presence {
	return &Presence{
		grace:   grace,
		online:  make(map[presenceKey]struct{}),
		leaving: make(map[presenceKey]*time.Timer),
		bc:      bc,
		log:     log.With("component", "presence"),
	}
}

// ConnectionOpened implements TransitionListener.
func (p *Presence) ConnectionOpened(channelID, userID int64) {
	k := presenceKey{channelID, userID}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if t, ok := p.leaving[k]; ok {
		// reconnect inside the grace window: still online, no events
		t.Stop()
		delete(p.leaving, k)
		p.mu.Unlock()
		return
	}
	if _, ok := p.online[k]; ok {
		p.mu.Unlock()
		return
	}
	p.online[k] = struct{}{}
	p.mu.Unlock()

	p.log.Info("user online", "user_id", userID, "channel_id", channelID)
	p.bc.Broadcast(channelID, Event{Type: EventUserJoined, ChannelID: channelID, UserID: userID})
}

// ConnectionClosed implements TransitionListener. The offline transition is
// deferred by the grace window and cancelled by any reconnect in between.
func (p *Presence) ConnectionClosed(channelID, userID int64) {
	k := presenceKey{channelID, userID}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if _, ok := p.online[k]; !ok {
		return
	}
	if t, ok := p.leaving[k]; ok {
		t.Stop()
	}
	p.leaving[k] = time.AfterFunc(p.grace, func() { p.expire(k) })
}

func (p *Presence) expire(k presenceKey) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if _, ok := p.leaving[k]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.leaving, k)
	delete(p.online, k)
	p.mu.Unlock()

	p.log.Info("user offline", "user_id", k.userID, "channel_id", k.channelID)
	p.bc.Broadcast(k.channelID, Event{Type: EventUserLeft, ChannelID: k.channelID, UserID: k.userID})
}

// Online reports whether the user currently counts as online on the channel,
// including the grace window after their last connection dropped.
func (p *Presence) Online(channelID, userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.online[presenceKey{channelID, userID}]
	return ok
}

// Close stops all pending offline timers without emitting events.
func (p *Presence) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for k, t := range p.leaving {
		t.Stop()
		delete(p.leaving, k)
	}
}
