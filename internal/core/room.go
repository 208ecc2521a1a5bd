package core

import (
	"errors"
	"sort"
	"sync"

	"github.com/dkeye/Pulse/internal/domain"
	"github.com/rs/zerolog/log"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo int
	Slow   []*Session
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ConnectionID ConnID            `json:"connectionId"`
	User         domain.PublicUser `json:"user"`
}

// Room is a threadsafe in-memory member set.
// Every mutation and every publish runs inside the room's single critical
// section, so a fan-out always sees the member set left by the mutation
// that preceded it. It never closes adapter-owned resources.
type Room struct {
	id      domain.RoomID
	mu      sync.Mutex
	members map[ConnID]*Session
	owner   domain.UserID
	closed  bool
}

func NewRoom(id domain.RoomID) *Room {
	return &Room{id: id, members: make(map[ConnID]*Session)}
}

func (r *Room) ID() domain.RoomID     { return r.id }
func (r *Room) Kind() domain.RoomKind { return r.id.Kind() }

// Update runs fn inside the critical section. It reports false when the
// room was already destroyed; callers then look the room up again.
func (r *Room) Update(fn func(tx *RoomTx)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	fn(&RoomTx{r: r})
	return true
}

// Publish fans f out to every member except exclude.
func (r *Room) Publish(f Frame, exclude ConnID) PublishResult {
	var res PublishResult
	r.Update(func(tx *RoomTx) { res = tx.Publish(f, exclude) })
	return res
}

func (r *Room) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *Room) Members() []ConnID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (&RoomTx{r: r}).memberIDs()
}

func (r *Room) Has(id ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[id]
	return ok
}

func (r *Room) MembersSnapshot() []MemberDTO {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (&RoomTx{r: r}).Snapshot()
}

// RoomTx is only valid inside Room.Update.
type RoomTx struct {
	r *Room
}

func (tx *RoomTx) ID() domain.RoomID { return tx.r.id }
func (tx *RoomTx) Count() int        { return len(tx.r.members) }

// Owner is the broadcaster of a stream room.
func (tx *RoomTx) Owner() domain.UserID     { return tx.r.owner }
func (tx *RoomTx) SetOwner(u domain.UserID) { tx.r.owner = u }

// HasUser reports whether any connection of uid is still a member.
func (tx *RoomTx) HasUser(uid domain.UserID) bool {
	for _, s := range tx.r.members {
		if s.UserID() == uid {
			return true
		}
	}
	return false
}

func (tx *RoomTx) Has(id ConnID) bool {
	_, ok := tx.r.members[id]
	return ok
}

// Add reports false when the session already was a member.
func (tx *RoomTx) Add(s *Session) (bool, error) {
	if _, ok := tx.r.members[s.ID()]; ok {
		return false, nil
	}
	if !s.trackJoin(tx.r.id) {
		return false, ErrClosed
	}
	tx.r.members[s.ID()] = s
	log.Debug().Str("module", "core.room").Str("room", string(tx.r.id)).Str("conn", string(s.ID())).Msg("member added")
	return true, nil
}

func (tx *RoomTx) Remove(id ConnID) (*Session, bool) {
	s, ok := tx.r.members[id]
	if !ok {
		return nil, false
	}
	delete(tx.r.members, id)
	s.trackLeave(tx.r.id)
	log.Debug().Str("module", "core.room").Str("room", string(tx.r.id)).Str("conn", string(id)).Msg("member removed")
	return s, true
}

// Destroy marks an empty room as gone.
func (tx *RoomTx) Destroy() {
	tx.r.closed = true
}

func (tx *RoomTx) Publish(f Frame, exclude ConnID) PublishResult {
	res := PublishResult{}
	for id, s := range tx.r.members {
		if id == exclude {
			continue
		}
		err := s.Send(f)
		switch {
		case err == nil:
			res.SendTo++
		case errors.Is(err, ErrBackpressure):
			res.SendTo++
			res.Slow = append(res.Slow, s)
		default:
			res.Slow = append(res.Slow, s)
		}
	}
	return res
}

func (tx *RoomTx) Snapshot() []MemberDTO {
	out := make([]MemberDTO, 0, len(tx.r.members))
	for id, s := range tx.r.members {
		out = append(out, MemberDTO{ConnectionID: id, User: s.User().Public()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}

func (tx *RoomTx) memberIDs() []ConnID {
	out := make([]ConnID, 0, len(tx.r.members))
	for id := range tx.r.members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
