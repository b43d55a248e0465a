package chat

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/questloop/chatd/internal/httpx"
)

// TokenVerifier resolves a bearer credential to a user id. Implemented by
// internal/auth over the platform's JWTs.
type TokenVerifier interface {
	VerifyToken(token string) (int64, error)
}

// Options tunes the engine's server-owned clocks and limits.
type Options struct {
	SendTimeout   time.Duration
	PresenceGrace time.Duration
	TypingTTL     time.Duration
	MaxContentLen int
}

// Gateway admits websocket connections and routes their frames to the broker
// and typing coordinator. Admission happens entirely before the upgrade: a
// caller with a bad token or no membership never opens a socket.
type Gateway struct {
	registry *Registry
	presence *Presence
	typing   *Typing
	broker   *Broker

	verifier TokenVerifier
	members  MembershipValidator
	store    MessageStore

	upgrader    websocket.Upgrader
	sendTimeout time.Duration
	log         *slog.Logger
}

func NewGateway(opts Options, verifier TokenVerifier, members MembershipValidator, store MessageStore, log *slog.Logger) *Gateway {
	registry := NewRegistry(opts.SendTimeout, log)
	presence := NewPresence(opts.PresenceGrace, registry, log)
	registry.SetListener(presence)

	return &Gateway{
		registry: registry,
		presence: presence,
		typing:   NewTyping(opts.TypingTTL, registry, log),
		broker:   NewBroker(members, store, registry, opts.MaxContentLen, log),
		verifier: verifier,
		members:  members,
		store:    store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Allow CORS for demo; tighten in prod.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sendTimeout: opts.SendTimeout,
		log:         log.With("component", "gateway"),
	}
}

// RegisterWS mounts GET /ws/:channelID.
// Auth works via:
// 1) Header: Authorization: Bearer <JWT>
// 2) Query:  ?token=<JWT>
func (g *Gateway) RegisterWS(rg *gin.RouterGroup) {
	rg.GET("/ws/:channelID", g.handleWS)
}

func (g *Gateway) handleWS(c *gin.Context) {
	channelID, err := strconv.ParseInt(c.Param("channelID"), 10, 64)
	if err != nil {
		httpx.Refuse(c, http.StatusBadRequest, string(CodeValidation), "invalid channel id")
		return
	}

	token := c.Query("token")
	if token == "" {
		h := c.GetHeader("Authorization")
		if strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token == "" {
		httpx.Refuse(c, http.StatusUnauthorized, string(CodeAuth), "missing token")
		return
	}

	userID, err := g.verifier.VerifyToken(token)
	if err != nil {
		httpx.Refuse(c, http.StatusUnauthorized, string(CodeAuth), "invalid token")
		return
	}

	member, err := g.members.IsMember(c.Request.Context(), channelID, userID)
	if err != nil {
		httpx.Refuse(c, http.StatusInternalServerError, string(CodeInternal), "membership check failed")
		return
	}
	if !member {
		httpx.Refuse(c, http.StatusForbidden, string(CodePermissionDenied), "not a member of this channel")
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		id:        uuid.NewString(),
		userID:    userID,
		channelID: channelID,
		conn:      conn,
		gw:        g,
		send:      make(chan Event, sendBuffer),
		done:      make(chan struct{}),
		drained:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}

	g.registry.Register(client)
	g.log.Info("connection opened", "user_id", userID, "channel_id", channelID, "conn_id", client.id)

	snapshot := Event{Type: EventConnected, ChannelID: channelID, OnlineUsers: g.registry.OnlineUsers(channelID)}
	if err := client.Enqueue(snapshot, g.sendTimeout); err != nil {
		g.log.Warn("snapshot delivery failed", "user_id", userID, "channel_id", channelID)
	}

	go client.writePump()
	go client.readPump()
}

func (g *Gateway) route(c *Client, frame Frame) {
	switch frame.Type {
	case FrameMessage:
		if _, err := g.broker.Submit(c.ctx, c.channelID, c.userID, frame.Content, frame.ReplyToID, frame.ThreadID); err != nil {
			g.log.Warn("submit rejected", "user_id", c.userID, "channel_id", c.channelID, "code", CodeOf(err))
			_ = c.Enqueue(errorEvent(err), g.sendTimeout)
		}
	case FrameTyping:
		g.typing.SetTyping(c.channelID, c.userID, frame.IsTyping)
	case FrameReadReceipt:
		g.readReceipt(c, frame.MessageID)
	default:
		_ = c.Enqueue(errorEvent(NewError(CodeValidation, "unknown frame type")), g.sendTimeout)
	}
}

// readReceipt is a best-effort pass-through: the receipt must reference a
// message in this channel but its delivery carries no ordering guarantee.
func (g *Gateway) readReceipt(c *Client, messageID int64) {
	ok, err := g.store.HasMessage(c.ctx, c.channelID, messageID)
	if err != nil {
		_ = c.Enqueue(errorEvent(WrapError(CodeInternal, "read receipt lookup failed", err)), g.sendTimeout)
		return
	}
	if !ok {
		_ = c.Enqueue(errorEvent(NewError(CodeNotFound, "unknown message")), g.sendTimeout)
		return
	}
	g.registry.Broadcast(c.channelID, Event{
		Type:      EventReadReceipt,
		ChannelID: c.channelID,
		UserID:    c.userID,
		MessageID: messageID,
	})
}

// disconnect runs on read-pump exit for every teardown path: client close,
// dead socket, replacement, shutdown. Registry, presence (via the registry
// listener) and typing all release the connection here.
func (g *Gateway) disconnect(c *Client) {
	if g.registry.Unregister(c) {
		// only the live connection owns the user's typing state; a replaced
		// socket tearing down must not clear the successor's flag
		g.typing.Clear(c.channelID, c.userID)
	}
	c.Close("going away")
	g.log.Info("connection closed", "user_id", c.userID, "channel_id", c.channelID, "conn_id", c.id)
}

// Shutdown stops timers and drains connections within the grace period.
func (g *Gateway) Shutdown(grace time.Duration) {
	g.typing.Close()
	g.presence.Close()
	g.registry.Shutdown(grace)
}
