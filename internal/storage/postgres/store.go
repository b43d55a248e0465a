package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/questloop/chatd/internal/chat"
)

// PersistMessage mirrors the sqlite backend: sequence bump and insert share
// one transaction so a failed insert never consumes a sequence number.
func (s *Postgres) PersistMessage(ctx context.Context, m *chat.Message) (int64, int64, error) {
	tx, err := s.Db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`UPDATE channels SET seq = seq + 1 WHERE id=$1 RETURNING seq`, m.ChannelID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, chat.NewError(chat.CodeNotFound, "channel not found")
	}
	if err != nil {
		return 0, 0, err
	}

	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO messages (channel_id, sender_id, content, reply_to_id, thread_id, sequence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		m.ChannelID, m.SenderID, m.Content, m.ReplyToID, m.ThreadID, seq, m.CreatedAt.UTC()).Scan(&id)
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return id, seq, nil
}

func (s *Postgres) TouchChannel(ctx context.Context, channelID int64, ts time.Time) error {
	_, err := s.Db.ExecContext(ctx,
		`UPDATE channels SET last_message_at=$1 WHERE id=$2`, ts.UTC(), channelID)
	return err
}

func (s *Postgres) HasMessage(ctx context.Context, channelID, messageID int64) (bool, error) {
	var exists bool
	err := s.Db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM messages WHERE id=$1 AND channel_id=$2 AND NOT deleted)`,
		messageID, channelID).Scan(&exists)
	return exists, err
}

func (s *Postgres) IsMember(ctx context.Context, channelID, userID int64) (bool, error) {
	var exists bool
	err := s.Db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM channel_members WHERE channel_id=$1 AND user_id=$2)`,
		channelID, userID).Scan(&exists)
	return exists, err
}
