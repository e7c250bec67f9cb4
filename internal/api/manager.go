// Package api exposes serviceability checks and booking sessions over HTTP.
package api

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/urbanserve/dispatch-core/internal/booking"
	"github.com/urbanserve/dispatch-core/internal/journal"
	"github.com/urbanserve/dispatch-core/internal/kvstore"
	"github.com/urbanserve/dispatch-core/internal/observability"
)

// Session pairs a coordinator with the dispatch parameters it was created
// with, so retries re-dispatch the same booking.
type Session struct {
	ID     string
	Coord  *booking.Coordinator
	Params booking.DispatchParams
}

// Manager owns the live booking sessions.
type Manager struct {
	backend booking.Backend
	store   kvstore.Store
	jnl     journal.Journal
	log     *slog.Logger
	base    booking.Config

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(backend booking.Backend, store kvstore.Store, jnl journal.Journal, base booking.Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if jnl == nil {
		jnl = journal.Nop{}
	}
	return &Manager{
		backend:  backend,
		store:    store,
		jnl:      jnl,
		log:      log,
		base:     base,
		sessions: make(map[string]*Session),
	}
}

// Create builds a coordinator for the given booking and registers it under
// a fresh session id. The countdown persistence key is derived from the
// booking identity, not the session id, so a client that reloads and
// creates a new session resumes the same countdown.
func (m *Manager) Create(ctx context.Context, p booking.DispatchParams) (*Session, error) {
	cfg := m.base
	cfg.ServiceKey = ServiceKey(p)

	coord, err := booking.New(ctx, cfg, m.backend, m.store, m.jnl, m.log)
	if err != nil {
		return nil, err
	}

	s := &Session{ID: uuid.NewString(), Coord: coord, Params: p}
	m.mu.Lock()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()
	observability.SetActiveSessions(n)
	return s, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove closes a session and drops it from the registry.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	if ok {
		s.Coord.Close()
	}
	observability.SetActiveSessions(n)
}

// CloseAll tears down every session, waiting for in-flight cleanup.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Coord.Close()
	}
	observability.SetActiveSessions(0)
}

// ServiceKey is the stable identity of a booking: same city, pincode and
// service set means the same persisted countdown.
func ServiceKey(p booking.DispatchParams) string {
	ids := make([]string, 0, len(p.Services))
	for _, s := range p.Services {
		ids = append(ids, s.ServiceID)
	}
	sort.Strings(ids)
	return strings.ToLower(strings.TrimSpace(p.City)) + ":" + p.Pincode + ":" + strings.Join(ids, "+")
}
