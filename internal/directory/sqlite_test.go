package directory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/Pulse/internal/app"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ app.Directory = (*SQLite)(nil)
	_ app.Directory = (*Remote)(nil)
)

func openTest(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "pulse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenSQLiteNeedsPath(t *testing.T) {
	_, err := OpenSQLite("  ")
	assert.Error(t, err)
}

func TestSQLiteUsers(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.PutUser(ctx, domain.User{ID: "u1", Username: "alice"}))

	u, err := s.User(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.False(t, u.Banned())

	require.NoError(t, s.PutUser(ctx, domain.User{ID: "u1", Username: "alice", Status: domain.UserBanned}))
	u, err = s.User(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.Banned())

	_, err = s.User(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteConversationParticipants(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.PutConversation(ctx, "c1", "b", "d"))

	got, err := s.ConversationParticipants(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"b", "d"}, got)

	require.NoError(t, s.PutConversation(ctx, "c1", "b", "d", "e"))
	got, err = s.ConversationParticipants(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, got, 3)

	_, err = s.ConversationParticipants(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteStreamAccess(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.PutStream(ctx, domain.Stream{ID: "free", OwnerID: "s", Status: domain.StreamLive}))
	require.NoError(t, s.PutStream(ctx, domain.Stream{ID: "subs", OwnerID: "s", Status: domain.StreamLive, Access: domain.AccessSubscriber}))
	require.NoError(t, s.PutStream(ctx, domain.Stream{ID: "paid", OwnerID: "s", Status: domain.StreamLive, Access: domain.AccessPaid}))

	st, err := s.Stream(ctx, "free")
	require.NoError(t, err)
	assert.Equal(t, domain.AccessFree, st.Access)
	assert.Equal(t, domain.StreamLive, st.Status)
	ok, err := s.HasStreamAccess(ctx, st, "v")
	require.NoError(t, err)
	assert.True(t, ok)

	subs, err := s.Stream(ctx, "subs")
	require.NoError(t, err)
	ok, _ = s.HasStreamAccess(ctx, subs, "v")
	assert.False(t, ok)
	ok, _ = s.HasStreamAccess(ctx, subs, "s")
	assert.True(t, ok, "the owner always has access")
	require.NoError(t, s.Subscribe(ctx, "v", "s", time.Now().Add(-time.Hour)))
	ok, _ = s.HasStreamAccess(ctx, subs, "v")
	assert.False(t, ok, "expired subscription")
	require.NoError(t, s.Subscribe(ctx, "v", "s", time.Time{}))
	ok, _ = s.HasStreamAccess(ctx, subs, "v")
	assert.True(t, ok)

	paid, err := s.Stream(ctx, "paid")
	require.NoError(t, err)
	ok, _ = s.HasStreamAccess(ctx, paid, "v")
	assert.False(t, ok)
	require.NoError(t, s.Purchase(ctx, "v", "paid"))
	ok, _ = s.HasStreamAccess(ctx, paid, "v")
	assert.True(t, ok)

	_, err = s.Stream(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteSubscriptionExpiresOnWholeSecond(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.PutStream(ctx, domain.Stream{ID: "subs", OwnerID: "s", Status: domain.StreamLive, Access: domain.AccessSubscriber}))
	subs, err := s.Stream(ctx, "subs")
	require.NoError(t, err)

	require.NoError(t, s.Subscribe(ctx, "v", "s", time.Now().Truncate(time.Second)))
	ok, err := s.HasStreamAccess(ctx, subs, "v")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Subscribe(ctx, "v", "s", time.Now().Add(time.Minute).Truncate(time.Second)))
	ok, err = s.HasStreamAccess(ctx, subs, "v")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteMessagesAndViewerCount(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	require.NoError(t, s.PutStream(ctx, domain.Stream{ID: "live", OwnerID: "s", Status: domain.StreamLive}))

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := domain.Message{ID: "m1", ConversationID: "c1", SenderID: "b", Content: "hi", Type: domain.MessageText, CreatedAt: at}
	require.NoError(t, s.SaveMessage(ctx, msg))
	require.NoError(t, s.SaveMessage(ctx, msg), "saving twice is harmless")

	got, err := s.Messages(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, msg, got[0])

	require.NoError(t, s.UpdateViewerCount(ctx, "live", 7))
	n, err := s.ViewerCount(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	assert.ErrorIs(t, s.UpdateViewerCount(ctx, "gone", 1), domain.ErrNotFound)
}

func TestSQLiteClosedIsTransient(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.Close())
	_, err := s.User(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrTransient)
}
