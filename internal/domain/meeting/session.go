package meeting

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// Session is one conference's isolated coordination state.
type Session struct {
	mu sync.Mutex

	id        string
	secret    string
	createdAt time.Time
	state     *State
}

// NewSession creates a session holding an empty state.
func NewSession(id, secret string, maxDurationSec int, createdAt time.Time) *Session {
	return &Session{
		id:        id,
		secret:    secret,
		createdAt: createdAt,
		state:     NewState(maxDurationSec),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Secret returns the moderator secret. It never changes after creation.
func (s *Session) Secret() string {
	return s.secret
}

// CheckSecret reports whether supplied matches the moderator secret exactly.
func (s *Session) CheckSecret(supplied string) bool {
	return s.secret != "" && supplied == s.secret
}

// SetPlaceholder sets the display name substituted for blank names.
func (s *Session) SetPlaceholder(name string) {
	if name = strings.TrimSpace(name); name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Placeholder = name
}

// Do runs fn with exclusive access to the session state.
// Everything fn does, including publishing the resulting snapshot, is
// ordered against every other mutation of this session.
func (s *Session) Do(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// Snapshot returns an immutable copy of the state.
func (s *Session) Snapshot(now time.Time) StateView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.View(now)
}

// StateView is the copy of a session's state sent to viewers.
// It never contains the moderator secret.
type StateView struct {
	Queue      []QueueItem     `json:"queue"`
	Speaking   *CurrentSpeaker `json:"speaking"`
	Locked     bool            `json:"locked"`
	Settings   Settings        `json:"settings"`
	ServerTime time.Time       `json:"serverTime"`
}

// View copies the state. Callers must hold the session lock.
func (s *State) View(now time.Time) StateView {
	view := StateView{
		Queue:      s.QueueView(),
		Locked:     s.Locked,
		Settings:   s.Settings,
		ServerTime: now,
	}
	if s.Speaking != nil {
		sp := *s.Speaking
		sp.RequestedDurationSec = cloneInt(sp.RequestedDurationSec)
		view.Speaking = &sp
	}
	return view
}

// QueueView copies the queue sequence. Callers must hold the session lock.
func (s *State) QueueView() []QueueItem {
	queue := slices.Clone(s.Queue)
	if queue == nil {
		queue = make([]QueueItem, 0)
	}
	for i := range queue {
		queue[i].RequestedDurationSec = cloneInt(queue[i].RequestedDurationSec)
	}
	return queue
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
