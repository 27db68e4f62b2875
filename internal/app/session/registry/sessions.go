// Package registry holds the in-memory session and connection registries.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/speakerq/internal/domain/meeting"
	"github.com/osa030/speakerq/internal/infra/idgen"
)

var (
	ErrSessionNotFound = errors.New("session not found")
)

// SessionsConfig controls how new sessions are initialized.
type SessionsConfig struct {
	DefaultMaxDurationSec int
	SecretDigits          int
	IDLength              int
	Placeholder           string
}

// Sessions creates and looks up sessions. Sessions live for the process
// lifetime; there is no deletion path.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]*meeting.Session
	config   SessionsConfig
	now      func() time.Time
}

// NewSessions creates an empty session registry.
func NewSessions(cfg SessionsConfig) *Sessions {
	if cfg.DefaultMaxDurationSec <= 0 {
		cfg.DefaultMaxDurationSec = meeting.DefaultMaxDurationSec
	}
	if cfg.SecretDigits <= 0 {
		cfg.SecretDigits = 4
	}
	if cfg.IDLength <= 0 {
		cfg.IDLength = 8
	}
	return &Sessions{
		sessions: make(map[string]*meeting.Session),
		config:   cfg,
		now:      time.Now,
	}
}

// Ensure returns the session with the given ID, creating it on first
// reference. The second result reports whether it was created.
func (r *Sessions) Ensure(id string) (*meeting.Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock
	if s, ok := r.sessions[id]; ok {
		return s, false
	}

	s = meeting.NewSession(id, idgen.Secret(r.config.SecretDigits), r.config.DefaultMaxDurationSec, r.now())
	s.SetPlaceholder(r.config.Placeholder)
	r.sessions[id] = s
	return s, true
}

// Get returns an existing session.
func (r *Sessions) Get(id string) (*meeting.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// NewID generates an identifier not used by any existing session.
func (r *Sessions) NewID() (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		id, err := idgen.SessionID(r.config.IDLength)
		if err != nil {
			return "", err
		}
		r.mu.RLock()
		_, taken := r.sessions[id]
		r.mu.RUnlock()
		if !taken {
			return id, nil
		}
	}
	return "", errors.Newf("no free session id after 5 attempts (length %d)", r.config.IDLength)
}

// IDs returns all session IDs in sorted order.
func (r *Sessions) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of sessions.
func (r *Sessions) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
