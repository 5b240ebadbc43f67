package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/medbridge/callcore/internal/core"
	"github.com/medbridge/callcore/internal/domain"
)

type connEntry struct {
	conn   core.SignalConnection
	user   domain.UserID
	cancel context.CancelFunc
}

// Registry is the connection directory: every live gateway connection and the
// identity currently associated with it.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.ConnID]*connEntry)}
}

// Bind registers a fresh connection under its assigned id.
func (r *Registry) Bind(id domain.ConnID, sc core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{conn: sc, cancel: cancel}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("bound connection")
}

// Identify records the user identity for a connection. A later association
// overwrites an earlier one; the registry does not arbitrate identity.
func (r *Registry) Identify(id domain.ConnID, user domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[id]; ok {
		e.user = user
		log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(user)).Msg("identified")
	}
}

// UserOf returns the identity currently associated with a connection.
func (r *Registry) UserOf(id domain.ConnID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return "", false
	}
	return e.user, true
}

// Conn returns the transport endpoint for a live connection id.
func (r *Registry) Conn(id domain.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Send delivers one frame to a live connection; drops are reported, never fatal.
func (r *Registry) Send(id domain.ConnID, f core.Frame) bool {
	sc, ok := r.Conn(id)
	if !ok {
		return false
	}
	if err := sc.TrySend(f); err != nil {
		log.Warn().Err(err).Str("module", "app.registry").Str("conn", string(id)).Msg("send dropped")
		return false
	}
	return true
}

// Unbind cancels the connection-scoped context and discards the mapping. It
// reports whether the id was still bound, which is the exactly-once guard for
// disconnect cleanup.
func (r *Registry) Unbind(id domain.ConnID) bool {
	r.mu.Lock()
	e, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, id)
	r.mu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unbound connection")
	return true
}
