package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/questloop/chatd/internal/chat"
)

// PersistMessage bumps the channel's sequence counter and inserts the row in
// one transaction, so accepted messages get gapless monotonic sequences and
// a rolled-back insert consumes nothing.
func (s *Sqlite) PersistMessage(ctx context.Context, m *chat.Message) (int64, int64, error) {
	tx, err := s.Db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`UPDATE channels SET seq = seq + 1 WHERE id=? RETURNING seq`, m.ChannelID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, chat.NewError(chat.CodeNotFound, "channel not found")
	}
	if err != nil {
		return 0, 0, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (channel_id, sender_id, content, reply_to_id, thread_id, sequence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ChannelID, m.SenderID, m.Content, m.ReplyToID, m.ThreadID, seq, m.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return id, seq, nil
}

func (s *Sqlite) TouchChannel(ctx context.Context, channelID int64, ts time.Time) error {
	_, err := s.Db.ExecContext(ctx,
		`UPDATE channels SET last_message_at=? WHERE id=?`, ts.UTC().Format(time.RFC3339Nano), channelID)
	return err
}

func (s *Sqlite) HasMessage(ctx context.Context, channelID, messageID int64) (bool, error) {
	var n int
	err := s.Db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM messages WHERE id=? AND channel_id=? AND deleted=0`, messageID, channelID).Scan(&n)
	return n > 0, err
}

func (s *Sqlite) IsMember(ctx context.Context, channelID, userID int64) (bool, error) {
	var n int
	err := s.Db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM channel_members WHERE channel_id=? AND user_id=?`, channelID, userID).Scan(&n)
	return n > 0, err
}
