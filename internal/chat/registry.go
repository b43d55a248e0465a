package chat

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Conn is the transport surface the registry manages. *Client implements it
// over a gorilla websocket; tests plug in fakes.
type Conn interface {
	ID() string
	UserID() int64
	ChannelID() int64
	// Enqueue hands an event to the connection's outbound path, waiting at
	// most timeout for buffer space.
	Enqueue(ev Event, timeout time.Duration) error
	// Close shuts the connection down; reason ends up in the close frame.
	Close(reason string)
	// Drained is closed once the connection's outbound path has finished
	// flushing after Close.
	Drained() <-chan struct{}
}

// TransitionListener is notified when a user's live-connection count on a
// channel moves between zero and one. Connection replacement does not cross
// that boundary and is never reported.
type TransitionListener interface {
	ConnectionOpened(channelID, userID int64)
	ConnectionClosed(channelID, userID int64)
}

// Registry owns the channel -> user -> connection map. Each channel has its
// own lock so activity on one channel never blocks another; the outer mutex
// only guards the channel map itself.
type Registry struct {
	mu          sync.RWMutex
	channels    map[int64]*channelConns
	sendTimeout time.Duration
	listener    TransitionListener
	log         *slog.Logger
}

type channelConns struct {
	mu sync.Mutex
	// one live connection per user per channel
	conns map[int64]Conn
}

func NewRegistry(sendTimeout time.Duration, log *slog.Logger) *Registry {
	return &Registry{
		channels:    make(map[int64]*channelConns),
		sendTimeout: sendTimeout,
		log:         log.With("component", "registry"),
	}
}

// SetListener wires the presence tracker in. Must be called before the first
// Register.
func (r *Registry) SetListener(l TransitionListener) { r.listener = l }

func (r *Registry) channel(id int64) *channelConns {
	r.mu.Lock()
	defer r.mu.Unlock()
	cc, ok := r.channels[id]
	if !ok {
		cc = &channelConns{conns: make(map[int64]Conn)}
		r.channels[id] = cc
	}
	return cc
}

func (r *Registry) lookup(id int64) *channelConns {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[id]
}

// Register adds conn for its (user, channel). An existing connection for the
// same pair is told it was replaced and closed first, so the pair never holds
// two live sockets and presence never double-counts.
func (r *Registry) Register(conn Conn) {
	cc := r.channel(conn.ChannelID())

	cc.mu.Lock()
	old, replaced := cc.conns[conn.UserID()]
	cc.conns[conn.UserID()] = conn
	cc.mu.Unlock()

	if replaced {
		if err := old.Enqueue(Event{Type: EventReplaced, ChannelID: conn.ChannelID(), UserID: conn.UserID()}, r.sendTimeout); err != nil {
			r.log.Debug("replaced notice lost", "user_id", conn.UserID(), "channel_id", conn.ChannelID())
		}
		old.Close("replaced")
		r.log.Info("connection replaced", "user_id", conn.UserID(), "channel_id", conn.ChannelID())
		return
	}
	if r.listener != nil {
		r.listener.ConnectionOpened(conn.ChannelID(), conn.UserID())
	}
}

// Unregister removes conn if it is still the live connection for its pair
// and reports whether it was. A connection that was already replaced
// unregisters as a no-op, so the replacement never loses its slot to the
// dying socket's teardown.
func (r *Registry) Unregister(conn Conn) bool {
	cc := r.lookup(conn.ChannelID())
	if cc == nil {
		return false
	}

	cc.mu.Lock()
	cur, ok := cc.conns[conn.UserID()]
	if !ok || cur.ID() != conn.ID() {
		cc.mu.Unlock()
		return false
	}
	delete(cc.conns, conn.UserID())
	cc.mu.Unlock()

	if r.listener != nil {
		r.listener.ConnectionClosed(conn.ChannelID(), conn.UserID())
	}
	return true
}

// Broadcast delivers ev to every live connection on the channel. Enqueues
// happen under the channel lock so concurrent broadcasts for one channel are
// never interleaved out of order. A connection that cannot accept the event
// within the send timeout is dropped rather than stalling the rest.
func (r *Registry) Broadcast(channelID int64, ev Event) {
	cc := r.lookup(channelID)
	if cc == nil {
		return
	}

	var stale []Conn
	cc.mu.Lock()
	for _, conn := range cc.conns {
		if err := conn.Enqueue(ev, r.sendTimeout); err != nil {
			stale = append(stale, conn)
		}
	}
	for _, conn := range stale {
		delete(cc.conns, conn.UserID())
	}
	cc.mu.Unlock()

	for _, conn := range stale {
		r.log.Warn("dropping slow connection",
			"user_id", conn.UserID(), "channel_id", channelID, "code", CodeTransientDelivery)
		conn.Close("slow consumer")
		if r.listener != nil {
			r.listener.ConnectionClosed(channelID, conn.UserID())
		}
	}
}

// OnlineUsers returns the users with a live connection on the channel,
// sorted for stable snapshots.
func (r *Registry) OnlineUsers(channelID int64) []int64 {
	cc := r.lookup(channelID)
	if cc == nil {
		return nil
	}
	cc.mu.Lock()
	users := lo.Keys(cc.conns)
	cc.mu.Unlock()
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// Shutdown closes every connection and waits for their outbound paths to
// finish flushing, up to the grace deadline; whatever has not drained by
// then is abandoned.
func (r *Registry) Shutdown(grace time.Duration) {
	r.mu.Lock()
	channels := r.channels
	r.channels = make(map[int64]*channelConns)
	r.mu.Unlock()

	var conns []Conn
	for _, cc := range channels {
		cc.mu.Lock()
		for _, conn := range cc.conns {
			conns = append(conns, conn)
		}
		cc.conns = make(map[int64]Conn)
		cc.mu.Unlock()
	}
	for _, conn := range conns {
		conn.Close("server shutdown")
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	for _, conn := range conns {
		select {
		case <-conn.Drained():
		case <-deadline.C:
			r.log.Warn("shutdown grace elapsed with undrained connections")
			return
		}
	}
}
