package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/questloop/chatd/internal/chat"
)

func newTestStore(t *testing.T) *Sqlite {
	t.Helper()
	s, err := New("file:" + filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Migrate(filepath.Join("..", "..", "..", "sql", "schema.sql")))
	return s
}

func TestMigrate_MissingSchemaFile(t *testing.T) {
	s, err := New("file:" + filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.Error(t, s.Migrate(filepath.Join(t.TempDir(), "no-such-schema.sql")))
}

func seedChannel(t *testing.T, s *Sqlite, members ...int64) int64 {
	t.Helper()
	res, err := s.Db.Exec(`INSERT INTO channels (kind) VALUES ('group')`)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	for _, uid := range members {
		_, err := s.Db.Exec(`INSERT INTO channel_members (channel_id, user_id) VALUES (?, ?)`, id, uid)
		require.NoError(t, err)
	}
	return id
}

func TestPersistMessage_AssignsGaplessSequences(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()
	ch := seedChannel(t, s, 1)

	m := &chat.Message{ChannelID: ch, SenderID: 1, Content: "one", CreatedAt: time.Now().UTC()}
	id1, seq1, err := s.PersistMessage(ctx, m)
	req.NoError(err)
	req.Equal(int64(1), seq1)
	req.NotZero(id1)

	m2 := &chat.Message{ChannelID: ch, SenderID: 1, Content: "two", CreatedAt: time.Now().UTC()}
	_, seq2, err := s.PersistMessage(ctx, m2)
	req.NoError(err)
	req.Equal(int64(2), seq2)

	// another channel sequences independently
	other := seedChannel(t, s, 1)
	m3 := &chat.Message{ChannelID: other, SenderID: 1, Content: "three", CreatedAt: time.Now().UTC()}
	_, seq3, err := s.PersistMessage(ctx, m3)
	req.NoError(err)
	req.Equal(int64(1), seq3)
}

func TestPersistMessage_UnknownChannelIsNotFound(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)

	m := &chat.Message{ChannelID: 999, SenderID: 1, Content: "nope", CreatedAt: time.Now().UTC()}
	_, _, err := s.PersistMessage(context.Background(), m)
	req.Error(err)
	req.Equal(chat.CodeNotFound, chat.CodeOf(err))

	// no orphan rows
	var n int
	req.NoError(s.Db.QueryRow(`SELECT COUNT(1) FROM messages`).Scan(&n))
	req.Zero(n)
}

func TestIsMember(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()
	ch := seedChannel(t, s, 1, 2)

	ok, err := s.IsMember(ctx, ch, 1)
	req.NoError(err)
	req.True(ok)

	ok, err = s.IsMember(ctx, ch, 99)
	req.NoError(err)
	req.False(ok)
}

func TestHasMessage(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()
	ch := seedChannel(t, s, 1)

	m := &chat.Message{ChannelID: ch, SenderID: 1, Content: "hello", CreatedAt: time.Now().UTC()}
	id, _, err := s.PersistMessage(ctx, m)
	req.NoError(err)

	ok, err := s.HasMessage(ctx, ch, id)
	req.NoError(err)
	req.True(ok)

	ok, err = s.HasMessage(ctx, ch, id+1)
	req.NoError(err)
	req.False(ok)

	// a message belongs to its channel only
	other := seedChannel(t, s)
	ok, err = s.HasMessage(ctx, other, id)
	req.NoError(err)
	req.False(ok)
}

func TestTouchChannel(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()
	ch := seedChannel(t, s, 1)

	ts := time.Now().UTC().Truncate(time.Second)
	req.NoError(s.TouchChannel(ctx, ch, ts))

	var got string
	req.NoError(s.Db.QueryRow(`SELECT last_message_at FROM channels WHERE id=?`, ch).Scan(&got))
	parsed, err := time.Parse(time.RFC3339Nano, got)
	req.NoError(err)
	req.True(parsed.Equal(ts))
}
