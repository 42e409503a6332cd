package gateway

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"

	"agentdeck/internal/supervisor"
)

const (
	DefaultSessionID   = "default"
	DefaultMaxSessions = 64
)

var (
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrTooManySessions  = errors.New("too many sessions")
	sessionIDPattern    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)
)

// SessionFactory builds the session for id, wired to sink.
type SessionFactory func(id string, sink supervisor.Sink) *supervisor.Session

type entry struct {
	session *supervisor.Session
	hub     *Hub
	// refs counts open connections.
	refs int
}

// Registry maps session ids to sessions and their hubs. Sessions are created
// on first use. A session is dropped when its last connection leaves and it
// has no agent, no draining exit and no pending retry. Sessions whose agent
// outlived its clients are reclaimed once idle, when room is needed.
type Registry struct {
	factory     SessionFactory
	maxSessions int

	mu       sync.Mutex
	sessions map[string]*entry
}

type RegistryOption func(*Registry)

// WithMaxSessions caps the number of live sessions.
func WithMaxSessions(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxSessions = n
		}
	}
}

func NewRegistry(factory SessionFactory, opts ...RegistryOption) *Registry {
	if factory == nil {
		factory = func(id string, sink supervisor.Sink) *supervisor.Session {
			return supervisor.NewSession(supervisor.Options{ID: id, Sink: sink})
		}
	}
	r := &Registry{factory: factory, maxSessions: DefaultMaxSessions, sessions: map[string]*entry{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func NormalizeSessionID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultSessionID, nil
	}
	if !sessionIDPattern.MatchString(id) {
		return "", ErrInvalidSessionID
	}
	return id, nil
}

// Get returns the session for id, creating it if needed, without holding it.
func (r *Registry) Get(id string) (*supervisor.Session, *Hub, error) {
	id, err := NormalizeSessionID(id)
	if err != nil {
		return nil, nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.getLocked(id)
	if err != nil {
		return nil, nil, err
	}
	return e.session, e.hub, nil
}

// Acquire is Get for a connection. The session stays registered until
// release is called; release is safe to call more than once.
func (r *Registry) Acquire(id string) (*supervisor.Session, *Hub, func(), error) {
	id, err := NormalizeSessionID(id)
	if err != nil {
		return nil, nil, nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.getLocked(id)
	if err != nil {
		return nil, nil, nil, err
	}
	e.refs++
	var once sync.Once
	release := func() {
		once.Do(func() { r.release(id, e) })
	}
	return e.session, e.hub, release, nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) getLocked(id string) (*entry, error) {
	if e, ok := r.sessions[id]; ok {
		return e, nil
	}
	if len(r.sessions) >= r.maxSessions {
		r.evictIdleLocked()
		if len(r.sessions) >= r.maxSessions {
			return nil, ErrTooManySessions
		}
	}
	hub := NewHub()
	e := &entry{session: r.factory(id, hub), hub: hub}
	r.sessions[id] = e
	return e, nil
}

func (r *Registry) release(id string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs <= 0 && r.sessions[id] == e && e.session.Idle() {
		delete(r.sessions, id)
	}
}

func (r *Registry) evictIdleLocked() {
	for id, e := range r.sessions {
		if e.refs <= 0 && e.session.Idle() {
			delete(r.sessions, id)
		}
	}
}

// Snapshots returns the status of every known session ordered by id.
func (r *Registry) Snapshots() []supervisor.Snapshot {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	out := make([]supervisor.Snapshot, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.session.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Session < out[j].Session })
	return out
}

// StopAll stops every session's agent. Used on shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(s *supervisor.Session) {
			defer wg.Done()
			s.Stop()
		}(e.session)
	}
	wg.Wait()
}
