package app

import (
	"context"
	"sync"

	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Session *core.Session
	Cancel  context.CancelFunc
}

// Registry owns the live connections accepted by the gateway.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.ConnID]*sessionEntry
	byUser   map[domain.UserID]map[core.ConnID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.ConnID]*sessionEntry),
		byUser:   make(map[domain.UserID]map[core.ConnID]struct{}),
	}
}

func (r *Registry) Bind(sess *core.Session, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID()] = &sessionEntry{Session: sess, Cancel: cancel}
	uid := sess.UserID()
	if r.byUser[uid] == nil {
		r.byUser[uid] = make(map[core.ConnID]struct{})
	}
	r.byUser[uid][sess.ID()] = struct{}{}
	log.Info().Str("module", "app.registry").Str("conn", string(sess.ID())).Str("user", string(uid)).Msg("bound session")
}

func (r *Registry) GetSession(id core.ConnID) (*core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[id]; ok {
		return e.Session, true
	}
	return nil, false
}

// Unbind removes the connection. Only the first call for an id reports ok.
func (r *Registry) Unbind(id core.ConnID) (*core.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	uid := e.Session.UserID()
	if conns := r.byUser[uid]; conns != nil {
		delete(conns, id)
		if len(conns) == 0 {
			delete(r.byUser, uid)
		}
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unbind session")
	return e.Session, true
}

// SessionsOf lists the open connections of a user.
func (r *Registry) SessionsOf(uid domain.UserID) []*core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Session, 0, len(r.byUser[uid]))
	for id := range r.byUser[uid] {
		out = append(out, r.sessions[id].Session)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Cancel stops the transport pumps of a connection.
func (r *Registry) Cancel(id core.ConnID) bool {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled session")
	return true
}
