package meeting

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// Change describes what a transition touched, which decides the event
// broadcast afterwards.
type Change int

const (
	ChangeNone  Change = iota // Nothing changed, nothing to broadcast
	ChangeQueue               // Only the queue sequence changed
	ChangeFull                // Speaker, lock or settings changed
)

// String returns the string representation of the change.
func (c Change) String() string {
	switch c {
	case ChangeNone:
		return "none"
	case ChangeQueue:
		return "queue"
	case ChangeFull:
		return "full"
	default:
		return "unknown"
	}
}

// Settings holds moderator-configurable session settings.
type Settings struct {
	MaxDurationSec int `json:"maxDurationSec"`
}

// State is the mutable queue state of one session.
// It does no locking; callers serialize access through Session.Do.
type State struct {
	Queue       []QueueItem
	Speaking    *CurrentSpeaker
	Locked      bool
	Settings    Settings
	Placeholder string

	nextSeq uint64
}

// NewState creates an empty, unlocked state with the given ceiling.
func NewState(maxDurationSec int) *State {
	if maxDurationSec <= 0 {
		maxDurationSec = DefaultMaxDurationSec
	}
	return &State{
		Queue:       make([]QueueItem, 0),
		Settings:    Settings{MaxDurationSec: maxDurationSec},
		Placeholder: DefaultDisplayName,
	}
}

// Enqueue appends a new waiting item.
// Appending keeps the order valid: priority 0 sorts after every promoted
// item and CreatedAt is never earlier than any existing item.
func (s *State) Enqueue(req EnqueueRequest, id string, now time.Time) (QueueItem, Change, error) {
	if s.Locked {
		return QueueItem{}, ChangeNone, ErrQueueLocked
	}

	var requested *int
	if req.RequestedDurationSec != nil && *req.RequestedDurationSec > 0 {
		v := *req.RequestedDurationSec
		requested = &v
	}

	s.nextSeq++
	item := QueueItem{
		ID:                   id,
		DisplayName:          normalizeName(req.DisplayName, s.Placeholder),
		Topic:                strings.TrimSpace(req.Topic),
		RequestedDurationSec: requested,
		Status:               StatusWaiting,
		Priority:             0,
		CreatedAt:            now,
		seq:                  s.nextSeq,
		ownerID:              req.OwnerID,
	}
	s.Queue = append(s.Queue, item)
	return item, ChangeQueue, nil
}

// Withdraw removes the item with the given id. Missing ids are a no-op.
func (s *State) Withdraw(itemID string) (bool, Change) {
	idx := s.indexOf(itemID)
	if idx < 0 {
		return false, ChangeNone
	}
	s.Queue = slices.Delete(s.Queue, idx, idx+1)
	return true, ChangeQueue
}

// Promote raises an item's priority by one and re-sorts the queue.
// Missing ids are a no-op.
func (s *State) Promote(itemID string) (bool, Change) {
	idx := s.indexOf(itemID)
	if idx < 0 {
		return false, ChangeNone
	}
	s.Queue[idx].Priority++
	s.sortQueue()
	return true, ChangeQueue
}

// Start moves an item from the queue into the speaking slot.
// A speaker already in the slot is replaced and not requeued; it is
// returned so the caller can report the drop.
func (s *State) Start(itemID string, adHocSec *int, now time.Time) (CurrentSpeaker, *CurrentSpeaker, Change, error) {
	idx := s.indexOf(itemID)
	if idx < 0 {
		return CurrentSpeaker{}, nil, ChangeNone, ErrItemNotFound
	}

	item := s.Queue[idx]
	s.Queue = slices.Delete(s.Queue, idx, idx+1)

	item.Status = StatusSpeaking
	speaker := CurrentSpeaker{
		QueueItem:   item,
		StartedAt:   now,
		DurationSec: ResolveDuration(s.Settings.MaxDurationSec, adHocSec, item.RequestedDurationSec),
	}

	replaced := s.Speaking
	s.Speaking = &speaker
	return speaker, replaced, ChangeFull, nil
}

// Stop clears the speaking slot. It reports whether a speaker was active;
// the change is full either way so viewers resynchronize.
func (s *State) Stop() (bool, Change) {
	active := s.Speaking != nil
	s.Speaking = nil
	return active, ChangeFull
}

// SetMaxDuration updates the ceiling when v is finite and positive.
// Other values are ignored without error.
func (s *State) SetMaxDuration(v *float64) (bool, Change) {
	sec := NormalizeSeconds(v)
	if sec == nil {
		return false, ChangeFull
	}
	s.Settings.MaxDurationSec = *sec
	return true, ChangeFull
}

// SetLocked sets the lock flag.
func (s *State) SetLocked(locked bool) Change {
	s.Locked = locked
	return ChangeFull
}

// CountOwnedBy returns how many waiting items belong to a connection.
func (s *State) CountOwnedBy(ownerID string) int {
	n := 0
	for _, item := range s.Queue {
		if item.ownerID != "" && item.ownerID == ownerID {
			n++
		}
	}
	return n
}

func (s *State) indexOf(itemID string) int {
	return slices.IndexFunc(s.Queue, func(item QueueItem) bool {
		return item.ID == itemID
	})
}

// sortQueue orders by priority descending, then creation time ascending.
func (s *State) sortQueue() {
	slices.SortStableFunc(s.Queue, func(a, b QueueItem) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
}
