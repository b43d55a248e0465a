package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/questloop/chatd/internal/utils"
)

// MembershipValidator answers whether a user belongs to a channel.
type MembershipValidator interface {
	IsMember(ctx context.Context, channelID, userID int64) (bool, error)
}

// MessageStore is the durable side of the engine. PersistMessage assigns the
// message id and the per-channel sequence inside one transaction; a failed
// persist consumes neither.
type MessageStore interface {
	PersistMessage(ctx context.Context, m *Message) (id, sequence int64, err error)
	TouchChannel(ctx context.Context, channelID int64, ts time.Time) error
	HasMessage(ctx context.Context, channelID, messageID int64) (bool, error)
}

// Broker validates, persists and fans out messages. Submits for one channel
// are serialized so subscribers always observe broadcasts in sequence order;
// unrelated channels proceed in parallel.
type Broker struct {
	members MembershipValidator
	store   MessageStore
	bc      Broadcaster

	maxContentLen int
	retries       int
	backoff       time.Duration

	validate *validator.Validate
	log      *slog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewBroker(members MembershipValidator, store MessageStore, bc Broadcaster, maxContentLen int, log *slog.Logger) *Broker {
	return &Broker{
		members:       members,
		store:         store,
		bc:            bc,
		maxContentLen: maxContentLen,
		retries:       3,
		backoff:       50 * time.Millisecond,
		validate:      validator.New(),
		locks:         make(map[int64]*sync.Mutex),
		log:           log.With("component", "broker"),
	}
}

func (b *Broker) channelLock(channelID int64) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[channelID]
	if !ok {
		l = &sync.Mutex{}
		b.locks[channelID] = l
	}
	return l
}

// Submit runs the full accept path: validate, authorize, persist, touch,
// broadcast. The message is durable before any subscriber sees it, so a
// client re-fetching history right after the socket event always finds it.
func (b *Broker) Submit(ctx context.Context, channelID, senderID int64, content string, replyTo, thread *int64) (*Message, error) {
	if err := b.validate.Var(content, fmt.Sprintf("required,max=%d", b.maxContentLen)); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			return nil, NewError(CodeValidation, utils.Reason("content", verrs))
		}
		return nil, NewError(CodeValidation, "invalid content")
	}

	ok, err := b.members.IsMember(ctx, channelID, senderID)
	if err != nil {
		return nil, WrapError(CodeInternal, "membership check failed", err)
	}
	if !ok {
		return nil, NewError(CodePermissionDenied, "not a member of this channel")
	}

	msg := &Message{
		ChannelID: channelID,
		SenderID:  senderID,
		Content:   content,
		ReplyToID: replyTo,
		ThreadID:  thread,
		CreatedAt: time.Now().UTC(),
	}

	lock := b.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()

	if err := b.persist(ctx, msg); err != nil {
		return nil, err
	}

	if err := b.store.TouchChannel(ctx, channelID, msg.CreatedAt); err != nil {
		// message is already durable; a stale last_message_at is tolerable
		b.log.Warn("touch channel failed", "channel_id", channelID, "error", err)
	}

	b.bc.Broadcast(channelID, Event{Type: EventNewMessage, ChannelID: channelID, Message: msg})
	return msg, nil
}

// persist retries transient store failures with doubling backoff before
// giving up with Internal. No sequence number survives a failed attempt.
func (b *Broker) persist(ctx context.Context, msg *Message) error {
	var err error
	wait := b.backoff
	for attempt := 0; attempt <= b.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return WrapError(CodeInternal, "persist cancelled", ctx.Err())
			case <-time.After(wait):
			}
			wait *= 2
		}
		var id, seq int64
		id, seq, err = b.store.PersistMessage(ctx, msg)
		if err == nil {
			msg.ID = id
			msg.Sequence = seq
			return nil
		}
		if CodeOf(err) == CodeNotFound {
			return err
		}
		b.log.Warn("persist attempt failed", "channel_id", msg.ChannelID, "attempt", attempt+1, "error", err)
	}
	return WrapError(CodeInternal, "message persistence failed", err)
}
