package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/dkeye/Pulse/internal/metrics"
	"github.com/dkeye/Pulse/internal/protocol"
	"github.com/rs/zerolog/log"
)

// MembershipHook observes successful joins and leaves. It runs inside the
// room's critical section and must not block. It returns the members that
// overflowed on whatever it published.
type MembershipHook interface {
	Joined(tx *core.RoomTx, s *core.Session) []*core.Session
	Left(tx *core.RoomTx, s *core.Session) []*core.Session
}

type RoomInfo struct {
	ID          domain.RoomID   `json:"id"`
	Kind        domain.RoomKind `json:"kind"`
	MemberCount int             `json:"member_count"`
}

// PresenceSnapshot is the member count of one room at the time of reading.
type PresenceSnapshot struct {
	RoomID domain.RoomID `json:"room_id"`
	Count  int           `json:"count"`
}

// Rooms is the only mutator of room membership. Rooms are created on first
// join and destroyed when their last member leaves.
type Rooms struct {
	mu      sync.RWMutex
	rooms   map[domain.RoomID]*core.Room
	access  AccessChecker
	hook    MembershipHook
	timeout time.Duration

	// OnSlow receives the members that overflowed on presence events. It is
	// called after the room lock is released.
	OnSlow func(room *core.Room, slow []*core.Session)
}

func NewRooms(access AccessChecker, hook MembershipHook, timeout time.Duration) *Rooms {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Rooms{
		rooms:   make(map[domain.RoomID]*core.Room),
		access:  access,
		hook:    hook,
		timeout: timeout,
	}
}

type grant struct {
	owner domain.UserID
}

// Join adds s to the room after checking the kind-specific precondition.
// Joining a room twice is a successful no-op; added reports which case.
func (r *Rooms) Join(ctx context.Context, s *core.Session, id domain.RoomID) (added bool, err error) {
	g, err := r.authorize(ctx, s, id)
	if err != nil {
		return false, err
	}
	for {
		room := r.getOrCreate(id)
		var addErr error
		var slow []*core.Session
		alive := room.Update(func(tx *core.RoomTx) {
			added, addErr = tx.Add(s)
			if !added || addErr != nil {
				if tx.Count() == 0 {
					r.destroy(tx, room)
				}
				return
			}
			if g.owner != "" && tx.Owner() == "" {
				tx.SetOwner(g.owner)
			}
			if r.hook != nil {
				slow = r.hook.Joined(tx, s)
			}
		})
		r.slow(room, slow)
		if !alive {
			// lost a race with the last leave; the room is gone, make a new one
			continue
		}
		if addErr != nil {
			return false, fmt.Errorf("join %s: %w", id, addErr)
		}
		if added {
			log.Info().Str("module", "app.rooms").Str("conn", string(s.ID())).Str("room", string(id)).Msg("room joined")
		}
		return added, nil
	}
}

// Leave is idempotent: leaving a room not joined reports false and emits nothing.
func (r *Rooms) Leave(s *core.Session, id domain.RoomID) bool {
	room := r.Get(id)
	if room == nil {
		return false
	}
	left := false
	var slow []*core.Session
	room.Update(func(tx *core.RoomTx) {
		if _, ok := tx.Remove(s.ID()); !ok {
			return
		}
		left = true
		if r.hook != nil {
			slow = r.hook.Left(tx, s)
		}
		if tx.Count() == 0 {
			r.destroy(tx, room)
		}
	})
	r.slow(room, slow)
	if left {
		log.Info().Str("module", "app.rooms").Str("conn", string(s.ID())).Str("room", string(id)).Msg("room left")
	}
	return left
}

// RemoveConnection leaves every room in the join-set of s in one pass and
// stops any further joins. A second call for the same session is a no-op.
func (r *Rooms) RemoveConnection(s *core.Session) (int, bool) {
	ids, ok := s.Close()
	if !ok {
		return 0, false
	}
	n := 0
	for _, id := range ids {
		if r.Leave(s, id) {
			n++
		}
	}
	return n, true
}

func (r *Rooms) slow(room *core.Room, slow []*core.Session) {
	if len(slow) > 0 && r.OnSlow != nil {
		r.OnSlow(room, slow)
	}
}

// MembersOf returns the current members; empty for rooms that do not exist.
func (r *Rooms) MembersOf(id domain.RoomID) []core.ConnID {
	room := r.Get(id)
	if room == nil {
		return nil
	}
	return room.Members()
}

func (r *Rooms) Snapshot(id domain.RoomID) (PresenceSnapshot, bool) {
	room := r.Get(id)
	if room == nil {
		return PresenceSnapshot{RoomID: id}, false
	}
	return PresenceSnapshot{RoomID: id, Count: room.Count()}, true
}

// Publish fans ev out to every member of the room except exclude.
func (r *Rooms) Publish(id domain.RoomID, ev protocol.Outbound, exclude core.ConnID) (core.PublishResult, *core.Room, error) {
	room := r.Get(id)
	if room == nil {
		return core.PublishResult{}, nil, nil
	}
	f, err := protocol.Encode(ev)
	if err != nil {
		return core.PublishResult{}, room, err
	}
	return room.Publish(f, exclude), room, nil
}

// SharedRoom finds a conversation or stream room both sessions belong to.
func (r *Rooms) SharedRoom(a, b *core.Session) (domain.RoomID, bool) {
	ids := a.Rooms()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if id.Kind().Shared() && b.InRoom(id) {
			return id, true
		}
	}
	return "", false
}

func (r *Rooms) Get(id domain.RoomID) *core.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[id]
}

func (r *Rooms) List() []RoomInfo {
	r.mu.RLock()
	rooms := make([]*core.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	out := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, RoomInfo{ID: room.ID(), Kind: room.Kind(), MemberCount: room.Count()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Rooms) getOrCreate(id domain.RoomID) *core.Room {
	r.mu.RLock()
	room, ok := r.rooms[id]
	r.mu.RUnlock()
	if ok {
		return room
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok = r.rooms[id]; ok {
		return room
	}
	room = core.NewRoom(id)
	r.rooms[id] = room
	metrics.Rooms.WithLabelValues(string(id.Kind())).Inc()
	return room
}

// destroy runs inside the room's critical section; lock order is room, then registry.
func (r *Rooms) destroy(tx *core.RoomTx, room *core.Room) {
	tx.Destroy()
	r.mu.Lock()
	if r.rooms[room.ID()] == room {
		delete(r.rooms, room.ID())
		metrics.Rooms.WithLabelValues(string(room.Kind())).Dec()
	}
	r.mu.Unlock()
	log.Debug().Str("module", "app.rooms").Str("room", string(room.ID())).Msg("room destroyed")
}

// authorize checks the join precondition before any room lock is taken.
func (r *Rooms) authorize(ctx context.Context, s *core.Session, id domain.RoomID) (grant, error) {
	uid := s.UserID()
	switch id.Kind() {
	case domain.KindUser:
		if id != domain.UserRoom(uid) {
			return grant{}, fmt.Errorf("user channel %s belongs to another user: %w", id, domain.ErrForbidden)
		}
		return grant{}, nil
	case domain.KindConversation, domain.KindStream:
	default:
		return grant{}, fmt.Errorf("room %s: %w", id, domain.ErrBadRequest)
	}
	if r.access == nil {
		return grant{}, fmt.Errorf("no access checker: %w", domain.ErrForbidden)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if id.Kind() == domain.KindConversation {
		participants, err := r.access.ConversationParticipants(ctx, id.Ref())
		if err != nil {
			return grant{}, failClosed("conversation participants", err)
		}
		if !slices.Contains(participants, uid) {
			return grant{}, fmt.Errorf("not a participant of %s: %w", id, domain.ErrForbidden)
		}
		return grant{}, nil
	}

	stream, err := r.access.Stream(ctx, id.Ref())
	if err != nil {
		return grant{}, failClosed("stream lookup", err)
	}
	if stream.OwnerID == uid {
		if stream.Status == domain.StreamEnded {
			return grant{}, fmt.Errorf("stream %s has ended: %w", id, domain.ErrNotFound)
		}
		return grant{owner: stream.OwnerID}, nil
	}
	if stream.Status != domain.StreamLive {
		return grant{}, fmt.Errorf("stream %s is not live: %w", id, domain.ErrNotFound)
	}
	ok, err := r.access.HasStreamAccess(ctx, stream, uid)
	if err != nil {
		return grant{}, failClosed("stream access", err)
	}
	if !ok {
		return grant{}, fmt.Errorf("no %s access to %s: %w", stream.Access, id, domain.ErrForbidden)
	}
	return grant{owner: stream.OwnerID}, nil
}

// failClosed keeps NotFound and turns every other collaborator failure into Forbidden.
func failClosed(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrForbidden) {
		return fmt.Errorf("%s: %w", op, err)
	}
	metrics.CollaboratorErrors.WithLabelValues(op).Inc()
	return fmt.Errorf("%s: %w: %w", op, domain.ErrForbidden, err)
}
