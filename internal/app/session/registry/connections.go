package registry

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/osa030/speakerq/internal/domain/participant"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
)

// Connections manages connection bindings with thread-safe access.
type Connections struct {
	mu    sync.RWMutex
	conns map[string]*participant.Participant
}

// NewConnections creates a new connection registry.
func NewConnections() *Connections {
	return &Connections{
		conns: make(map[string]*participant.Participant),
	}
}

// Register adds a new, unjoined connection and returns its ID.
func (r *Connections) Register(now time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New().String()
	r.conns[id] = participant.New(id, now)
	return id
}

// Get returns a copy of the connection's binding.
func (r *Connections) Get(connID string) (participant.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.conns[connID]
	if !ok {
		return participant.Participant{}, ErrUnknownConnection
	}
	return *p, nil
}

// Bind records a successful join and returns the previous session ID.
func (r *Connections) Bind(connID, sessionID string, role participant.Role, displayName string, at time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.conns[connID]
	if !ok {
		return "", ErrUnknownConnection
	}
	previous := p.SessionID
	p.Join(sessionID, role, displayName, at)
	return previous, nil
}

// RecordRequest renames the connection when name is set and counts an enqueue.
func (r *Connections) RecordRequest(connID, name string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.conns[connID]; ok {
		p.Rename(name)
		p.RecordRequest(at)
	}
}

// Remove deletes a connection and returns its final binding.
func (r *Connections) Remove(connID string) (participant.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.conns[connID]
	if !ok {
		return participant.Participant{}, false
	}
	delete(r.conns, connID)
	return *p, true
}

// Count returns the number of open connections.
func (r *Connections) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
