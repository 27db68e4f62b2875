// Package notification provides the per-session broadcaster for queue and state events.
package notification

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/speakerq/internal/domain/meeting"
	"github.com/osa030/speakerq/internal/infra/metrics"
)

// ErrSlowSubscriber is returned by streams whose mailbox is full.
var ErrSlowSubscriber = errors.New("subscriber mailbox full")

// EventType represents a push event type.
type EventType string

const (
	EventQueueUpdated EventType = "queue_updated" // Queue sequence only
	EventStateUpdated EventType = "state_updated" // Queue, speaker, lock and settings
)

// Event is a snapshot pushed to every subscriber of a session.
type Event struct {
	Type       EventType
	SessionID  string
	SequenceNo uint64
	Queue      []meeting.QueueItem // set for queue_updated
	State      *meeting.StateView  // set for state_updated
}

// Stream represents a subscriber's delivery channel.
// Send must not block; publishes run inside the session's critical section.
type Stream interface {
	Send(*Event) error
}

// ClosableStream is a stream the server can end on shutdown. Close must not
// block either.
type ClosableStream interface {
	Stream
	Close() error
}

// subscription represents a subscriber's membership in one session group.
type subscription struct {
	id        string
	sessionID string
	stream    Stream
}

// Broadcaster maps session IDs to subscriber sets.
type Broadcaster struct {
	mu     sync.RWMutex
	groups map[string]map[string]*subscription
	index  map[string]*subscription

	sequenceMu sync.Mutex
	sequences  map[string]uint64
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		groups:    make(map[string]map[string]*subscription),
		index:     make(map[string]*subscription),
		sequences: make(map[string]uint64),
	}
}

// Subscribe adds a stream to a session group and returns the subscription ID.
func (b *Broadcaster) Subscribe(sessionID string, stream Stream) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:        uuid.New().String(),
		sessionID: sessionID,
		stream:    stream,
	}
	group, ok := b.groups[sessionID]
	if !ok {
		group = make(map[string]*subscription)
		b.groups[sessionID] = group
	}
	group[sub.id] = sub
	b.index[sub.id] = sub
	return sub.id
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (b *Broadcaster) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.index[subscriptionID]
	if !ok {
		return
	}
	delete(b.index, subscriptionID)
	if group, ok := b.groups[sub.sessionID]; ok {
		delete(group, subscriptionID)
		if len(group) == 0 {
			delete(b.groups, sub.sessionID)
		}
	}
}

// CurrentSequenceNo returns the sequence number of the last event published
// to a session, or zero if none was.
func (b *Broadcaster) CurrentSequenceNo(sessionID string) uint64 {
	b.sequenceMu.Lock()
	defer b.sequenceMu.Unlock()
	return b.sequences[sessionID]
}

func (b *Broadcaster) nextSequenceNo(sessionID string) uint64 {
	b.sequenceMu.Lock()
	defer b.sequenceMu.Unlock()
	b.sequences[sessionID]++
	return b.sequences[sessionID]
}

// Publish stamps the event with the session's next sequence number and
// delivers it to every subscriber of the session, the initiator included.
// Delivery is best-effort: a failing stream is logged and skipped.
// It returns the number of streams that accepted the event.
func (b *Broadcaster) Publish(sessionID string, event *Event) int {
	event.SessionID = sessionID
	event.SequenceNo = b.nextSequenceNo(sessionID)

	b.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	group := b.groups[sessionID]
	subs := make([]*subscription, 0, len(group))
	for _, sub := range group {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if err := sub.stream.Send(event); err != nil {
			metrics.BroadcastFailure(string(event.Type))
			zlog.Warn().Msgf("broadcast delivery failed: session_id=%s subscription_id=%s type=%s seq=%d err=%v",
				sessionID, sub.id, event.Type, event.SequenceNo, err)
			continue
		}
		delivered++
	}
	return delivered
}

// Send delivers an event to a single subscription without stamping it.
func (b *Broadcaster) Send(subscriptionID string, event *Event) error {
	b.mu.RLock()
	sub, ok := b.index[subscriptionID]
	b.mu.RUnlock()
	if !ok {
		return errors.Newf("unknown subscription %s", subscriptionID)
	}
	return sub.stream.Send(event)
}

// SubscriberCount returns the number of subscribers of a session.
func (b *Broadcaster) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups[sessionID])
}

// Close removes all subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.groups = make(map[string]map[string]*subscription)
	b.index = make(map[string]*subscription)
}
