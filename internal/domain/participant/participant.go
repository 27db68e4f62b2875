// Package participant provides the connection binding entity.
package participant

import (
	"strings"
	"time"
)

// Role represents what a connection may do in its session.
type Role string

const (
	RoleAttendee  Role = "attendee"
	RoleModerator Role = "moderator"
)

// ParseRole maps a requested role string to a Role.
// Anything other than moderator resolves to attendee.
func ParseRole(s string) Role {
	if strings.EqualFold(strings.TrimSpace(s), string(RoleModerator)) {
		return RoleModerator
	}
	return RoleAttendee
}

// Participant is a transient connection and its session membership.
type Participant struct {
	ID            string     // Connection ID (UUID)
	SessionID     string     // Joined session, empty until join succeeds
	Role          Role       // Role for the current membership
	DisplayName   string     // Trimmed display name
	ConnectedAt   time.Time  // Connection time
	JoinedAt      *time.Time // Time of the last successful join
	TotalRequests int        // Enqueue count across the connection
	LastRequestAt *time.Time // Last enqueue time
}

// New creates an unjoined participant with the attendee role.
func New(id string, connectedAt time.Time) *Participant {
	return &Participant{
		ID:          id,
		Role:        RoleAttendee,
		ConnectedAt: connectedAt,
	}
}

// Join records a successful membership. The role is fixed until the next join.
func (p *Participant) Join(sessionID string, role Role, displayName string, at time.Time) {
	p.SessionID = sessionID
	p.Role = role
	p.DisplayName = strings.TrimSpace(displayName)
	p.JoinedAt = &at
}

// IsJoined reports whether the participant is a member of a session.
func (p *Participant) IsJoined() bool {
	return p.SessionID != ""
}

// Rename replaces the remembered display name when name is not blank.
func (p *Participant) Rename(name string) {
	if name = strings.TrimSpace(name); name != "" {
		p.DisplayName = name
	}
}

// RecordRequest counts an accepted enqueue.
func (p *Participant) RecordRequest(at time.Time) {
	p.TotalRequests++
	p.LastRequestAt = &at
}
