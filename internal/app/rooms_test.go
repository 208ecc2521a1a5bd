package app

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Pulse/internal/app/apptest"
	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/core/coretest"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/dkeye/Pulse/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type fixture struct {
	dir      *apptest.Directory
	rooms    *Rooms
	presence *Presence
	counts   sync.Map
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{dir: apptest.NewDirectory()}
	f.presence = &Presence{Counts: func(streamID string, n int) { f.counts.Store(streamID, n) }}
	f.rooms = NewRooms(f.dir, f.presence, time.Second)

	for _, u := range []string{"a", "b", "d", "s", "v1", "v2", "v3"} {
		f.dir.AddUser(u, "name-"+u)
	}
	f.dir.AddConversation("c1", "b", "d")
	f.dir.AddStream(domain.Stream{ID: "live", OwnerID: "s", Status: domain.StreamLive, Access: domain.AccessFree})
	return f
}

func (f *fixture) session(id, user string) (*core.Session, *coretest.Conn) {
	conn := coretest.NewConn()
	u := &domain.User{ID: domain.UserID(user), Username: "name-" + user, Status: domain.UserActive}
	return core.NewSession(core.ConnID(id), u, conn), conn
}

// consistent checks the bidirectional membership invariant for the given sessions.
func (f *fixture) consistent(t *testing.T, sessions ...*core.Session) {
	t.Helper()
	for _, info := range f.rooms.List() {
		for _, id := range f.rooms.MembersOf(info.ID) {
			found := false
			for _, s := range sessions {
				if s.ID() == id {
					found = true
					assert.True(t, s.InRoom(info.ID), "%s member of %s but not in join-set", id, info.ID)
				}
			}
			assert.True(t, found, "unknown member %s", id)
		}
	}
	for _, s := range sessions {
		for _, rid := range s.Rooms() {
			assert.Contains(t, f.rooms.MembersOf(rid), s.ID(), "%s has %s in join-set but is not a member", s.ID(), rid)
		}
	}
}

func TestJoinTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, _ := f.session("cb", "b")

	added, err := f.rooms.Join(ctx, b, "conversation:c1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = f.rooms.Join(ctx, b, "conversation:c1")
	require.NoError(t, err)
	assert.False(t, added)

	assert.Equal(t, []core.ConnID{"cb"}, f.rooms.MembersOf("conversation:c1"))
	f.consistent(t, b)
}

func TestLeaveNotJoinedIsSilent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, connB := f.session("cb", "b")
	d, _ := f.session("cd", "d")
	_, err := f.rooms.Join(ctx, b, "conversation:c1")
	require.NoError(t, err)
	connB.Reset()

	assert.False(t, f.rooms.Leave(d, "conversation:c1"))
	assert.False(t, f.rooms.Leave(d, "stream:nowhere"))
	assert.Empty(t, connB.Frames(), "no event for a no-op leave")
}

func TestNonParticipantIsForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, _ := f.session("cb", "b")
	a, _ := f.session("ca", "a")
	_, err := f.rooms.Join(ctx, b, "conversation:c1")
	require.NoError(t, err)

	_, err = f.rooms.Join(ctx, a, "conversation:c1")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.Equal(t, []core.ConnID{"cb"}, f.rooms.MembersOf("conversation:c1"))
	assert.Empty(t, a.Rooms())
}

func TestConversationParticipantsAreNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _ := f.session("ca", "a")

	_, err := f.rooms.Join(ctx, a, "conversation:c1")
	require.ErrorIs(t, err, domain.ErrForbidden)

	f.dir.AddConversation("c1", "a", "b", "d")
	_, err = f.rooms.Join(ctx, a, "conversation:c1")
	assert.NoError(t, err)
}

func TestUnknownRoomsAreNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _ := f.session("ca", "a")

	_, err := f.rooms.Join(ctx, a, "conversation:missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.rooms.Join(ctx, a, "stream:missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.rooms.List())
}

func TestCollaboratorFailureFailsClosed(t *testing.T) {
	f := newFixture(t)
	b, _ := f.session("cb", "b")
	f.dir.SetFail(true)

	_, err := f.rooms.Join(context.Background(), b, "conversation:c1")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, "forbidden", domain.Code(err))
	assert.Empty(t, f.rooms.List())
}

func TestUserChannelOnlyForOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _ := f.session("ca", "a")

	_, err := f.rooms.Join(ctx, a, domain.UserRoom("a"))
	require.NoError(t, err)
	_, err = f.rooms.Join(ctx, a, domain.UserRoom("b"))
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestStreamAccessRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.dir.AddStream(domain.Stream{ID: "paid", OwnerID: "s", Status: domain.StreamLive, Access: domain.AccessPaid})
	f.dir.AddStream(domain.Stream{ID: "soon", OwnerID: "s", Status: domain.StreamScheduled, Access: domain.AccessFree})
	f.dir.AddStream(domain.Stream{ID: "over", OwnerID: "s", Status: domain.StreamEnded, Access: domain.AccessFree})
	v1, _ := f.session("c-v1", "v1")
	v2, _ := f.session("c-v2", "v2")
	owner, _ := f.session("c-s", "s")

	_, err := f.rooms.Join(ctx, v1, "stream:paid")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	f.dir.Entitle("paid", "v1")
	_, err = f.rooms.Join(ctx, v1, "stream:paid")
	assert.NoError(t, err)

	_, err = f.rooms.Join(ctx, v2, "stream:soon")
	assert.ErrorIs(t, err, domain.ErrNotFound, "viewers cannot join a stream that is not live")
	_, err = f.rooms.Join(ctx, owner, "stream:soon")
	assert.NoError(t, err, "the broadcaster may join before going live")

	_, err = f.rooms.Join(ctx, owner, "stream:over")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStreamViewerCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, connS := f.session("c-s", "s")
	v1, connV1 := f.session("c-v1", "v1")

	_, err := f.rooms.Join(ctx, s, "stream:live")
	require.NoError(t, err)
	_, err = f.rooms.Join(ctx, v1, "stream:live")
	require.NoError(t, err)

	counts := connV1.OfType(protocol.EvViewerCount)
	require.Len(t, counts, 1, "the joiner gets the new total")
	assert.EqualValues(t, 2, counts[0]["count"])

	sCounts := connS.OfType(protocol.EvViewerCount)
	require.Len(t, sCounts, 2)
	assert.EqualValues(t, 1, sCounts[0]["count"])
	assert.EqualValues(t, 2, sCounts[1]["count"])

	joined := connS.OfType(protocol.EvViewerJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "c-v1", joined[0]["connectionId"])
	assert.Empty(t, connV1.OfType(protocol.EvViewerJoined), "the joiner is not told about itself")

	n, _ := f.counts.Load("live")
	assert.Equal(t, 2, n)

	assert.True(t, f.rooms.Leave(v1, "stream:live"))
	sCounts = connS.OfType(protocol.EvViewerCount)
	assert.EqualValues(t, 1, sCounts[len(sCounts)-1]["count"])
	assert.Len(t, connS.OfType(protocol.EvViewerLeft), 1)

	assert.True(t, f.rooms.Leave(s, "stream:live"))
	assert.Nil(t, f.rooms.Get("stream:live"), "empty stream rooms are destroyed")
	assert.Empty(t, f.rooms.MembersOf("stream:live"))
	_, ok := f.rooms.Snapshot("stream:live")
	assert.False(t, ok)
	n, _ = f.counts.Load("live")
	assert.Equal(t, 0, n)
}

func TestBroadcasterLeavingEndsStream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.session("c-s", "s")
	v1, connV1 := f.session("c-v1", "v1")
	_, err := f.rooms.Join(ctx, s, "stream:live")
	require.NoError(t, err)
	_, err = f.rooms.Join(ctx, v1, "stream:live")
	require.NoError(t, err)

	f.rooms.Leave(s, "stream:live")
	assert.Len(t, connV1.OfType(protocol.EvStreamEnded), 1)
	assert.NotNil(t, f.rooms.Get("stream:live"), "the room lives on while viewers remain")
}

func TestConversationMemberEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, connB := f.session("cb", "b")
	d, connD := f.session("cd", "d")
	_, _ = f.rooms.Join(ctx, b, "conversation:c1")
	_, _ = f.rooms.Join(ctx, d, "conversation:c1")

	assert.Len(t, connB.OfType(protocol.EvMemberJoined), 1)
	assert.Empty(t, connD.OfType(protocol.EvMemberJoined))

	f.rooms.Leave(d, "conversation:c1")
	assert.Len(t, connB.OfType(protocol.EvMemberLeft), 1)

	f.rooms.Leave(b, "conversation:c1")
	assert.Nil(t, f.rooms.Get("conversation:c1"))
}

func TestRemoveConnectionLeavesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.session("c-s", "s")
	_, _ = f.rooms.Join(ctx, s, "stream:live")
	v, connV := f.session("c-v1", "v1")
	b, _ := f.session("cb", "b")
	f.dir.AddConversation("c2", "v1", "b")
	_, _ = f.rooms.Join(ctx, b, "conversation:c2")

	for _, id := range []domain.RoomID{domain.UserRoom("v1"), "conversation:c2", "stream:live"} {
		_, err := f.rooms.Join(ctx, v, id)
		require.NoError(t, err)
	}
	require.Len(t, v.Rooms(), 3)
	snap, _ := f.rooms.Snapshot("stream:live")
	require.Equal(t, 2, snap.Count)

	n, ok := f.rooms.RemoveConnection(v)
	assert.True(t, ok)
	assert.Equal(t, 3, n)
	assert.Empty(t, v.Rooms())
	snap, _ = f.rooms.Snapshot("stream:live")
	assert.Equal(t, 1, snap.Count)
	assert.Nil(t, f.rooms.Get(domain.UserRoom("v1")))
	f.consistent(t, s, b, v)

	connV.Reset()
	n, ok = f.rooms.RemoveConnection(v)
	assert.False(t, ok, "second removal is a no-op")
	assert.Zero(t, n)

	_, err := f.rooms.Join(ctx, v, "stream:live")
	assert.ErrorIs(t, err, core.ErrClosed, "a removed connection cannot join again")
	snap, _ = f.rooms.Snapshot("stream:live")
	assert.Equal(t, 1, snap.Count)
}

func TestConcurrentJoinLeaveKeepsInvariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sessions := make([]*core.Session, 0, 40)
	for i := 0; i < 40; i++ {
		uid := fmt.Sprintf("viewer-%d", i)
		f.dir.AddUser(uid, uid)
		s, _ := f.session(fmt.Sprintf("conn-%d", i), uid)
		sessions = append(sessions, s)
	}

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *core.Session) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, err := f.rooms.Join(ctx, s, "stream:live")
				assert.NoError(t, err)
				f.rooms.Leave(s, "stream:live")
			}
			_, err := f.rooms.Join(ctx, s, "stream:live")
			assert.NoError(t, err)
		}(s)
	}
	wg.Wait()

	snap, ok := f.rooms.Snapshot("stream:live")
	require.True(t, ok)
	assert.Equal(t, 40, snap.Count)
	f.consistent(t, sessions...)

	for _, s := range sessions {
		wg.Add(1)
		go func(s *core.Session) {
			defer wg.Done()
			f.rooms.RemoveConnection(s)
		}(s)
	}
	wg.Wait()
	assert.Nil(t, f.rooms.Get("stream:live"))
	assert.Empty(t, f.rooms.List())
}

func TestSharedRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.session("c-s", "s")
	v1, _ := f.session("c-v1", "v1")
	v2, _ := f.session("c-v2", "v2")
	_, _ = f.rooms.Join(ctx, s, "stream:live")
	_, _ = f.rooms.Join(ctx, v1, "stream:live")
	_, _ = f.rooms.Join(ctx, s, domain.UserRoom("s"))

	id, ok := f.rooms.SharedRoom(v1, s)
	assert.True(t, ok)
	assert.Equal(t, domain.RoomID("stream:live"), id)

	_, ok = f.rooms.SharedRoom(v2, s)
	assert.False(t, ok)
}

func TestPublishToMissingRoomDeliversNothing(t *testing.T) {
	f := newFixture(t)
	res, room, err := f.rooms.Publish("conversation:none", protocol.Pong{Type: protocol.EvPong}, "")
	assert.NoError(t, err)
	assert.Nil(t, room)
	assert.Zero(t, res.SendTo)
}
