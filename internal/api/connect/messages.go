package connect

import (
	"github.com/osa030/speakerq/internal/app/session"
	"github.com/osa030/speakerq/internal/domain/meeting"
)

// CreateSessionRequest optionally names the session to create.
type CreateSessionRequest struct {
	ID string `json:"id,omitempty"`
}

// CreateSessionResponse carries the session ID, its moderator secret and links.
type CreateSessionResponse struct {
	ID              string        `json:"id"`
	ModeratorSecret string        `json:"pin"`
	Links           session.Links `json:"links"`
}

// GetStateRequest names the session to read.
type GetStateRequest struct {
	SessionID string `json:"sessionId"`
}

func (r *GetStateRequest) GetSessionID() string { return r.SessionID }

// GetStateResponse is the session snapshot.
type GetStateResponse struct {
	meeting.StateView
}

// SetLockedRequest opens or closes a session's queue to new entries.
type SetLockedRequest struct {
	SessionID string `json:"sessionId"`
	Locked    bool   `json:"locked"`
}

func (r *SetLockedRequest) GetSessionID() string { return r.SessionID }

// SetLockedResponse echoes the applied lock flag.
type SetLockedResponse struct {
	OK     bool `json:"ok"`
	Locked bool `json:"locked"`
}

// WatchSessionRequest names the session to watch.
type WatchSessionRequest struct {
	SessionID string `json:"sessionId"`
}

func (r *WatchSessionRequest) GetSessionID() string { return r.SessionID }

// SessionEvent is one pushed snapshot. Queue is set for queue_updated,
// State for state_updated.
type SessionEvent struct {
	Type       string              `json:"type"`
	SessionID  string              `json:"sessionId"`
	SequenceNo uint64              `json:"sequenceNo"`
	Queue      []meeting.QueueItem `json:"queue,omitempty"`
	State      *meeting.StateView  `json:"state,omitempty"`
}
