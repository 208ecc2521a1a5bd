// Package apptest provides an in-memory app.Directory for tests.
package apptest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Pulse/internal/domain"
)

type Directory struct {
	mu            sync.Mutex
	users         map[domain.UserID]*domain.User
	conversations map[string][]domain.UserID
	streams       map[string]*domain.Stream
	entitled      map[string]map[domain.UserID]bool
	messages      []domain.Message
	counts        map[string]int

	// Fail makes every call return a transient error.
	Fail      bool
	SaveErr   error
	CountErr  error
	CallCount int
}

func NewDirectory() *Directory {
	return &Directory{
		users:         make(map[domain.UserID]*domain.User),
		conversations: make(map[string][]domain.UserID),
		streams:       make(map[string]*domain.Stream),
		entitled:      make(map[string]map[domain.UserID]bool),
		counts:        make(map[string]int),
	}
}

func (d *Directory) AddUser(id, name string) *domain.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := &domain.User{ID: domain.UserID(id), Username: name, Status: domain.UserActive}
	d.users[u.ID] = u
	return u
}

func (d *Directory) Ban(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.users[domain.UserID(id)]; ok {
		u.Status = domain.UserBanned
	}
}

func (d *Directory) AddConversation(id string, participants ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]domain.UserID, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, domain.UserID(p))
	}
	d.conversations[id] = ids
}

func (d *Directory) AddStream(s domain.Stream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streams[s.ID] = &s
}

func (d *Directory) Entitle(streamID, uid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.entitled[streamID] == nil {
		d.entitled[streamID] = make(map[domain.UserID]bool)
	}
	d.entitled[streamID][domain.UserID(uid)] = true
}

func (d *Directory) Messages() []domain.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.Message(nil), d.messages...)
}

func (d *Directory) ViewerCount(streamID string) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.counts[streamID]
	return n, ok
}

func (d *Directory) SetFail(fail bool) {
	d.mu.Lock()
	d.Fail = fail
	d.mu.Unlock()
}

func (d *Directory) enter() error {
	d.CallCount++
	if d.Fail {
		return fmt.Errorf("directory down: %w", domain.ErrTransient)
	}
	return nil
}

func (d *Directory) User(_ context.Context, id domain.UserID) (*domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(); err != nil {
		return nil, err
	}
	u, ok := d.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (d *Directory) ConversationParticipants(_ context.Context, id string) ([]domain.UserID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(); err != nil {
		return nil, err
	}
	p, ok := d.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	return append([]domain.UserID(nil), p...), nil
}

func (d *Directory) Stream(_ context.Context, id string) (*domain.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(); err != nil {
		return nil, err
	}
	s, ok := d.streams[id]
	if !ok {
		return nil, fmt.Errorf("stream %s: %w", id, domain.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (d *Directory) HasStreamAccess(_ context.Context, s *domain.Stream, uid domain.UserID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(); err != nil {
		return false, err
	}
	if s.Access == domain.AccessFree || s.OwnerID == uid {
		return true, nil
	}
	return d.entitled[s.ID][uid], nil
}

func (d *Directory) SaveMessage(_ context.Context, msg domain.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(); err != nil {
		return err
	}
	if d.SaveErr != nil {
		return d.SaveErr
	}
	d.messages = append(d.messages, msg)
	return nil
}

func (d *Directory) UpdateViewerCount(_ context.Context, streamID string, count int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(); err != nil {
		return err
	}
	if d.CountErr != nil {
		return d.CountErr
	}
	d.counts[streamID] = count
	return nil
}
