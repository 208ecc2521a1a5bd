package core

import (
	"sync"

	"github.com/dkeye/Pulse/internal/domain"
)

// Session is one authenticated connection together with its join-set.
// The join-set is only mutated by Room transactions, which keeps it in step
// with room member sets.
type Session struct {
	id     ConnID
	user   *domain.User
	signal SignalConnection

	mu     sync.Mutex
	rooms  map[domain.RoomID]struct{}
	closed bool
}

func NewSession(id ConnID, user *domain.User, signal SignalConnection) *Session {
	return &Session{
		id:     id,
		user:   user,
		signal: signal,
		rooms:  make(map[domain.RoomID]struct{}),
	}
}

func (s *Session) ID() ConnID               { return s.id }
func (s *Session) User() *domain.User       { return s.user }
func (s *Session) UserID() domain.UserID    { return s.user.ID }
func (s *Session) Signal() SignalConnection { return s.signal }

// Send delivers a frame directly to this connection.
func (s *Session) Send(f Frame) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return s.signal.TrySend(f)
}

// Rooms returns a snapshot of the join-set.
func (s *Session) Rooms() []domain.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RoomID, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	return out
}

func (s *Session) InRoom(id domain.RoomID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[id]
	return ok
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops further joins and returns the rooms still to be left.
// Only the first call reports ok.
func (s *Session) Close() ([]domain.RoomID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	s.closed = true
	out := make([]domain.RoomID, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	return out, true
}

func (s *Session) trackJoin(id domain.RoomID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.rooms[id] = struct{}{}
	return true
}

func (s *Session) trackLeave(id domain.RoomID) {
	s.mu.Lock()
	delete(s.rooms, id)
	s.mu.Unlock()
}
