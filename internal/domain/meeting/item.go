// Package meeting provides the speaker queue domain: sessions, queue items
// and the pure state transitions applied to them.
package meeting

import (
	"strings"
	"time"
)

// DefaultDisplayName is used when an attendee enqueues without a name.
const DefaultDisplayName = "Anonymous"

// Status represents where a queue item currently is.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusSpeaking Status = "speaking"
)

// QueueItem represents one request to speak.
type QueueItem struct {
	ID                   string    `json:"id"`
	DisplayName          string    `json:"name"`
	Topic                string    `json:"topic"`
	RequestedDurationSec *int      `json:"requestedDurationSec"`
	Status               Status    `json:"status"`
	Priority             int       `json:"priority"`
	CreatedAt            time.Time `json:"createdAt"`

	seq     uint64 // insertion order, tie-break for equal CreatedAt
	ownerID string // connection that enqueued the item
}

// OwnerID returns the connection that enqueued the item.
func (i QueueItem) OwnerID() string {
	return i.ownerID
}

// CurrentSpeaker is the item occupying the speaking slot.
type CurrentSpeaker struct {
	QueueItem
	StartedAt   time.Time `json:"startedAt"`
	DurationSec int       `json:"durationSec"`
}

// EndsAt returns when the speaking turn is due to end.
func (s CurrentSpeaker) EndsAt() time.Time {
	return s.StartedAt.Add(time.Duration(s.DurationSec) * time.Second)
}

// Remaining returns the time left in the turn at now, floored at zero.
func (s CurrentSpeaker) Remaining(now time.Time) time.Duration {
	left := s.EndsAt().Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// EnqueueRequest carries the attendee-supplied fields of a new item.
type EnqueueRequest struct {
	DisplayName          string
	Topic                string
	RequestedDurationSec *int
	OwnerID              string
}

// normalizeName trims the name and substitutes the placeholder when blank.
func normalizeName(name, placeholder string) string {
	name = strings.TrimSpace(name)
	if name != "" {
		return name
	}
	if placeholder = strings.TrimSpace(placeholder); placeholder != "" {
		return placeholder
	}
	return DefaultDisplayName
}
