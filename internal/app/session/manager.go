// Package session provides the session manager.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/speakerq/internal/app/filter"
	"github.com/osa030/speakerq/internal/app/gate"
	"github.com/osa030/speakerq/internal/app/notification"
	"github.com/osa030/speakerq/internal/app/session/registry"
	"github.com/osa030/speakerq/internal/domain/meeting"
	"github.com/osa030/speakerq/internal/domain/participant"
	"github.com/osa030/speakerq/internal/infra/config"
	"github.com/osa030/speakerq/internal/infra/idgen"
	"github.com/osa030/speakerq/internal/infra/metrics"
)

// Links are the shareable URLs of a session.
type Links struct {
	Moderator   string `json:"moderator"`
	Participant string `json:"participant"`
	Public      string `json:"public"`
}

// Created is the result of creating (or re-opening) a session.
type Created struct {
	ID              string
	ModeratorSecret string
	Links           Links
	Existed         bool
}

// JoinRequest carries the fields of a join request.
type JoinRequest struct {
	SessionID   string
	DisplayName string
	Role        string
	Secret      string
}

// JoinResult is returned to a connection that joined a session.
// Secret is set only for moderators.
type JoinResult struct {
	SessionID string
	Role      participant.Role
	State     meeting.StateView
	Secret    string
}

// EnqueueRequest carries the fields of an enqueue request. Durations are
// raw client values; non-finite or non-positive values are dropped.
type EnqueueRequest struct {
	DisplayName          string
	Topic                string
	RequestedDurationSec *float64
}

// connection is a live connection's delivery state.
type connection struct {
	stream         notification.Stream
	subscriptionID string
}

// Manager coordinates sessions, connections and broadcasts.
type Manager struct {
	mu sync.RWMutex

	// Configuration
	config *config.Config

	// Components
	sessions     *registry.Sessions
	connections  *registry.Connections
	notification *notification.Broadcaster
	filterChain  *filter.Chain

	// Delivery state per connection ID
	streams map[string]*connection

	now func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewManager creates a new session manager.
func NewManager(cfg *config.Config) (*Manager, error) {
	chain, err := filter.Build(cfg.IsFilterEnabled, cfg.FilterSettings)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build filter chain")
	}

	m := &Manager{
		config: cfg,
		sessions: registry.NewSessions(registry.SessionsConfig{
			DefaultMaxDurationSec: cfg.Session.DefaultMaxDurationSec,
			SecretDigits:          cfg.Session.SecretDigits,
			IDLength:              cfg.Session.IDLength,
			Placeholder:           cfg.Session.DefaultDisplayName,
		}),
		connections:  registry.NewConnections(),
		notification: notification.NewBroadcaster(),
		filterChain:  chain,
		streams:      make(map[string]*connection),
		now:          time.Now,
		done:         make(chan struct{}),
	}

	for _, f := range chain.Filters() {
		zlog.Info().Msgf("enqueue filter enabled: %s", f.Name())
	}
	return m, nil
}

// ensure looks up or creates a session and keeps the gauge current.
func (m *Manager) ensure(sessionID string) (*meeting.Session, bool) {
	s, created := m.sessions.Ensure(sessionID)
	if created {
		metrics.Sessions(m.sessions.Count())
		zlog.Info().Msgf("session created: session_id=%s", sessionID)
	}
	return s, created
}

// CreateSession creates a session, or returns the existing one when
// requestedID is already in use. origin is the caller's Origin header and
// only matters when no public base URL is configured.
func (m *Manager) CreateSession(_ context.Context, requestedID, origin string) (*Created, error) {
	id := strings.TrimSpace(requestedID)
	if id == "" {
		generated, err := m.sessions.NewID()
		if err != nil {
			metrics.Operation("create_session", CodeInternal)
			return nil, err
		}
		id = generated
	}

	s, created := m.ensure(id)
	if !created {
		zlog.Warn().Msgf("create session reused existing session: session_id=%s", id)
	}
	metrics.Operation("create_session", "ok")

	return &Created{
		ID:              id,
		ModeratorSecret: s.Secret(),
		Links:           m.links(id, origin),
		Existed:         !created,
	}, nil
}

func (m *Manager) links(sessionID, origin string) Links {
	base := m.config.BaseURL(origin)
	return Links{
		Moderator:   base + "/moderator/" + sessionID,
		Participant: base + "/p/" + sessionID,
		Public:      base + "/public/" + sessionID,
	}
}

// Links returns the shareable URLs of a session without creating it.
func (m *Manager) Links(sessionID, origin string) Links {
	return m.links(sessionID, origin)
}

// GetState returns the session's snapshot, creating the session on first
// reference.
func (m *Manager) GetState(_ context.Context, sessionID string) (meeting.StateView, error) {
	if strings.TrimSpace(sessionID) == "" {
		return meeting.StateView{}, ErrInvalidSessionID
	}
	s, _ := m.ensure(sessionID)
	return s.Snapshot(m.now()), nil
}

// Authenticate checks a moderator secret against an existing session.
func (m *Manager) Authenticate(sessionID, secret string) error {
	s, err := m.sessions.Get(sessionID)
	if err != nil {
		return errors.Wrap(gate.ErrInvalidCredential, err.Error())
	}
	if _, err := gate.Admit(s, participant.RoleModerator, secret); err != nil {
		return err
	}
	return nil
}

// SetLocked sets a session's lock flag on behalf of an out-of-band caller
// that was authenticated at the transport boundary.
func (m *Manager) SetLocked(_ context.Context, sessionID string, locked bool) (bool, error) {
	if strings.TrimSpace(sessionID) == "" {
		return false, ErrInvalidSessionID
	}
	s, _ := m.ensure(sessionID)
	s.Do(func(st *meeting.State) {
		m.publish(s, st, st.SetLocked(locked))
	})
	metrics.Operation(string(gate.OpSetLocked), "ok")
	zlog.Info().Msgf("lock updated: session_id=%s locked=%t", sessionID, locked)
	return locked, nil
}

// Connect registers a realtime connection whose events go to stream.
func (m *Manager) Connect(stream notification.Stream) string {
	connID := m.connections.Register(m.now())

	m.mu.Lock()
	m.streams[connID] = &connection{stream: stream}
	m.mu.Unlock()

	metrics.Connections(m.connections.Count())
	zlog.Debug().Msgf("connection opened: conn_id=%s", connID)
	return connID
}

// Disconnect discards a connection's binding and subscription.
func (m *Manager) Disconnect(connID string) {
	m.mu.Lock()
	conn, ok := m.streams[connID]
	delete(m.streams, connID)
	m.mu.Unlock()

	if ok && conn.subscriptionID != "" {
		m.notification.Unsubscribe(conn.subscriptionID)
	}
	p, removed := m.connections.Remove(connID)
	metrics.Connections(m.connections.Count())
	if removed {
		zlog.Debug().Msgf("connection closed: conn_id=%s session_id=%s", connID, p.SessionID)
	}
}

// Join binds a connection to a session with the resolved role.
// A failed moderator join leaves any existing binding untouched.
func (m *Manager) Join(ctx context.Context, connID string, req JoinRequest) (*JoinResult, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		m.reject(gate.OpJoin, "", connID, ErrInvalidSessionID)
		return nil, ErrInvalidSessionID
	}

	s, _ := m.ensure(sessionID)
	role, err := gate.Admit(s, participant.ParseRole(req.Role), req.Secret)
	if err != nil {
		m.reject(gate.OpJoin, sessionID, connID, err)
		return nil, err
	}

	var (
		result   *JoinResult
		previous string
	)
	s.Do(func(st *meeting.State) {
		if previous, err = m.connections.Bind(connID, sessionID, role, req.DisplayName, m.now()); err != nil {
			return
		}
		// Subscribing under the session lock keeps the snapshot and the
		// first event contiguous.
		m.resubscribe(connID, sessionID)

		result = &JoinResult{
			SessionID: sessionID,
			Role:      role,
			State:     st.View(m.now()),
		}
		if role == participant.RoleModerator {
			result.Secret = s.Secret()
		}
		ack(ctx, Ack{Op: gate.OpJoin, Join: result})
	})
	if err != nil {
		m.reject(gate.OpJoin, sessionID, connID, err)
		return nil, err
	}

	metrics.Operation(string(gate.OpJoin), "ok")
	if previous != "" && previous != sessionID {
		zlog.Info().Msgf("connection left session: session_id=%s conn_id=%s", previous, connID)
	}
	zlog.Info().Msgf("joined: session_id=%s conn_id=%s role=%s", sessionID, connID, role)
	return result, nil
}

// resubscribe moves a connection's subscription to sessionID.
func (m *Manager) resubscribe(connID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.streams[connID]
	if !ok || conn.stream == nil {
		return
	}
	if conn.subscriptionID != "" {
		m.notification.Unsubscribe(conn.subscriptionID)
	}
	conn.subscriptionID = m.notification.Subscribe(sessionID, conn.stream)
}

// member resolves the caller's session and checks op against its role.
func (m *Manager) member(connID string, op gate.Operation) (participant.Participant, *meeting.Session, error) {
	p, err := m.connections.Get(connID)
	if err != nil {
		return p, nil, err
	}
	if !p.IsJoined() {
		return p, nil, ErrNotJoined
	}
	if err := gate.Authorize(p.Role, op); err != nil {
		return p, nil, err
	}
	s, err := m.sessions.Get(p.SessionID)
	if err != nil {
		return p, nil, err
	}
	return p, s, nil
}

// Enqueue adds a waiting item for the calling connection.
func (m *Manager) Enqueue(ctx context.Context, connID string, req EnqueueRequest) (meeting.QueueItem, error) {
	p, s, err := m.member(connID, gate.OpEnqueue)
	if err != nil {
		m.reject(gate.OpEnqueue, p.SessionID, connID, err)
		return meeting.QueueItem{}, err
	}

	itemID, err := idgen.ItemID(m.config.Session.ItemIDLength)
	if err != nil {
		m.reject(gate.OpEnqueue, p.SessionID, connID, err)
		return meeting.QueueItem{}, err
	}

	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		name = p.DisplayName
	}
	entry := meeting.EnqueueRequest{
		DisplayName:          name,
		Topic:                req.Topic,
		RequestedDurationSec: meeting.NormalizeSeconds(req.RequestedDurationSec),
		OwnerID:              connID,
	}

	var item meeting.QueueItem
	s.Do(func(st *meeting.State) {
		if !st.Locked {
			result := m.filterChain.Execute(ctx, filter.EntryRequest{
				SessionID:            s.ID(),
				ConnectionID:         connID,
				DisplayName:          name,
				Topic:                strings.TrimSpace(req.Topic),
				RequestedDurationSec: entry.RequestedDurationSec,
			}, filter.Requester{
				Role:           p.Role,
				PendingEntries: st.CountOwnedBy(connID),
			})
			if !result.Accepted {
				err = &RejectedError{Code: result.Code}
				return
			}
		}

		var change meeting.Change
		item, change, err = st.Enqueue(entry, itemID, m.now())
		if err != nil {
			return
		}
		m.connections.RecordRequest(connID, req.DisplayName, item.CreatedAt)
		ack(ctx, Ack{Op: gate.OpEnqueue, ItemID: item.ID})
		m.publish(s, st, change)
	})
	if err != nil {
		m.reject(gate.OpEnqueue, s.ID(), connID, err)
		return meeting.QueueItem{}, err
	}

	metrics.Operation(string(gate.OpEnqueue), "ok")
	zlog.Info().Msgf("enqueued: session_id=%s conn_id=%s item_id=%s name=%q", s.ID(), connID, item.ID, item.DisplayName)
	return item, nil
}

// Withdraw removes an item by id. Any member of the session may withdraw
// any item; a missing id is a successful no-op.
func (m *Manager) Withdraw(ctx context.Context, connID, itemID string) (bool, error) {
	p, s, err := m.member(connID, gate.OpWithdraw)
	if err != nil {
		m.reject(gate.OpWithdraw, p.SessionID, connID, err)
		return false, err
	}

	var removed bool
	s.Do(func(st *meeting.State) {
		var change meeting.Change
		removed, change = st.Withdraw(itemID)
		ack(ctx, Ack{Op: gate.OpWithdraw, ItemID: itemID})
		m.publish(s, st, change)
	})

	metrics.Operation(string(gate.OpWithdraw), "ok")
	zlog.Info().Msgf("withdraw: session_id=%s conn_id=%s item_id=%s removed=%t", s.ID(), connID, itemID, removed)
	return removed, nil
}

// Promote raises an item's priority. A missing id is a successful no-op.
func (m *Manager) Promote(ctx context.Context, connID, itemID string) (bool, error) {
	p, s, err := m.member(connID, gate.OpPromote)
	if err != nil {
		m.reject(gate.OpPromote, p.SessionID, connID, err)
		return false, err
	}

	var updated bool
	s.Do(func(st *meeting.State) {
		var change meeting.Change
		updated, change = st.Promote(itemID)
		ack(ctx, Ack{Op: gate.OpPromote, ItemID: itemID})
		m.publish(s, st, change)
	})

	metrics.Operation(string(gate.OpPromote), "ok")
	zlog.Info().Msgf("promote: session_id=%s conn_id=%s item_id=%s updated=%t", s.ID(), connID, itemID, updated)
	return updated, nil
}

// Start moves an item into the speaking slot with its resolved duration.
func (m *Manager) Start(ctx context.Context, connID, itemID string, adHocSec *float64) (meeting.CurrentSpeaker, error) {
	p, s, err := m.member(connID, gate.OpStart)
	if err != nil {
		m.reject(gate.OpStart, p.SessionID, connID, err)
		return meeting.CurrentSpeaker{}, err
	}

	var (
		speaker  meeting.CurrentSpeaker
		replaced *meeting.CurrentSpeaker
	)
	s.Do(func(st *meeting.State) {
		var change meeting.Change
		speaker, replaced, change, err = st.Start(itemID, meeting.NormalizeSeconds(adHocSec), m.now())
		if err != nil {
			return
		}
		ack(ctx, Ack{Op: gate.OpStart, ItemID: itemID})
		m.publish(s, st, change)
	})
	if err != nil {
		m.reject(gate.OpStart, s.ID(), connID, err)
		return meeting.CurrentSpeaker{}, err
	}

	if replaced != nil {
		zlog.Warn().Msgf("speaker replaced and dropped: session_id=%s item_id=%s name=%q", s.ID(), replaced.ID, replaced.DisplayName)
	}
	metrics.Operation(string(gate.OpStart), "ok")
	metrics.EffectiveDuration(speaker.DurationSec)
	zlog.Info().Msgf("speaking started: session_id=%s conn_id=%s item_id=%s duration_sec=%d", s.ID(), connID, itemID, speaker.DurationSec)
	return speaker, nil
}

// Stop clears the speaking slot.
func (m *Manager) Stop(ctx context.Context, connID string) error {
	p, s, err := m.member(connID, gate.OpStop)
	if err != nil {
		m.reject(gate.OpStop, p.SessionID, connID, err)
		return err
	}

	var active bool
	s.Do(func(st *meeting.State) {
		var change meeting.Change
		active, change = st.Stop()
		ack(ctx, Ack{Op: gate.OpStop})
		m.publish(s, st, change)
	})

	metrics.Operation(string(gate.OpStop), "ok")
	zlog.Info().Msgf("speaking stopped: session_id=%s conn_id=%s was_active=%t", s.ID(), connID, active)
	return nil
}

// UpdateSettings sets the duration ceiling. Invalid values leave it
// unchanged without error.
func (m *Manager) UpdateSettings(ctx context.Context, connID string, maxDurationSec *float64) (meeting.Settings, error) {
	p, s, err := m.member(connID, gate.OpUpdateSettings)
	if err != nil {
		m.reject(gate.OpUpdateSettings, p.SessionID, connID, err)
		return meeting.Settings{}, err
	}

	var (
		settings meeting.Settings
		applied  bool
	)
	s.Do(func(st *meeting.State) {
		var change meeting.Change
		applied, change = st.SetMaxDuration(maxDurationSec)
		settings = st.Settings
		ack(ctx, Ack{Op: gate.OpUpdateSettings})
		m.publish(s, st, change)
	})

	metrics.Operation(string(gate.OpUpdateSettings), "ok")
	zlog.Info().Msgf("settings updated: session_id=%s conn_id=%s max_duration_sec=%d applied=%t", s.ID(), connID, settings.MaxDurationSec, applied)
	return settings, nil
}

// SetLockedByConnection sets the lock flag on behalf of a moderator connection.
func (m *Manager) SetLockedByConnection(ctx context.Context, connID string, locked bool) error {
	p, s, err := m.member(connID, gate.OpSetLocked)
	if err != nil {
		m.reject(gate.OpSetLocked, p.SessionID, connID, err)
		return err
	}

	s.Do(func(st *meeting.State) {
		change := st.SetLocked(locked)
		ack(ctx, Ack{Op: gate.OpSetLocked})
		m.publish(s, st, change)
	})

	metrics.Operation(string(gate.OpSetLocked), "ok")
	zlog.Info().Msgf("lock updated: session_id=%s conn_id=%s locked=%t", s.ID(), connID, locked)
	return nil
}

// Watch subscribes a read-only stream to a session. The stream first
// receives a full state event carrying the current sequence number, then
// every subsequent event. The returned function ends the subscription.
func (m *Manager) Watch(_ context.Context, sessionID string, stream notification.Stream) (func(), error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidSessionID
	}
	s, _ := m.ensure(sessionID)

	var (
		subID string
		err   error
	)
	s.Do(func(st *meeting.State) {
		// Under the session lock no event can slip between the snapshot
		// and the subscription.
		subID = m.notification.Subscribe(sessionID, stream)
		view := st.View(m.now())
		err = m.notification.Send(subID, &notification.Event{
			Type:       notification.EventStateUpdated,
			SessionID:  sessionID,
			SequenceNo: m.notification.CurrentSequenceNo(sessionID),
			State:      &view,
		})
		if err != nil {
			m.notification.Unsubscribe(subID)
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to send initial state")
	}

	zlog.Debug().Msgf("watch started: session_id=%s subscription_id=%s subscribers=%d",
		sessionID, subID, m.notification.SubscriberCount(sessionID))
	return func() {
		m.notification.Unsubscribe(subID)
		zlog.Debug().Msgf("watch ended: session_id=%s subscription_id=%s", sessionID, subID)
	}, nil
}

// SessionIDs returns the IDs of all sessions.
func (m *Manager) SessionIDs() []string {
	return m.sessions.IDs()
}

// Done is closed when the manager shuts down.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Close drops every subscription, ends open watch streams and closes the
// realtime connections so clients reconnect instead of waiting for events.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
	m.notification.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	closed := 0
	for _, conn := range m.streams {
		conn.subscriptionID = ""
		if c, ok := conn.stream.(notification.ClosableStream); ok {
			_ = c.Close()
			closed++
		}
	}
	zlog.Info().Msgf("session manager closed: connections_closed=%d", closed)
}

// publish broadcasts the event matching change. Callers hold the session lock.
func (m *Manager) publish(s *meeting.Session, st *meeting.State, change meeting.Change) {
	var event *notification.Event
	switch change {
	case meeting.ChangeQueue:
		event = &notification.Event{
			Type:  notification.EventQueueUpdated,
			Queue: st.QueueView(),
		}
	case meeting.ChangeFull:
		view := st.View(m.now())
		event = &notification.Event{
			Type:  notification.EventStateUpdated,
			State: &view,
		}
	default:
		return
	}

	metrics.QueueLength(len(st.Queue))
	delivered := m.notification.Publish(s.ID(), event)
	zlog.Debug().Msgf("published: session_id=%s type=%s seq=%d delivered=%d", s.ID(), event.Type, event.SequenceNo, delivered)
}

// reject records a refused request.
func (m *Manager) reject(op gate.Operation, sessionID, connID string, err error) {
	code := Code(err)
	metrics.Operation(string(op), code)
	zlog.Warn().Msgf("%s rejected: session_id=%s conn_id=%s code=%s err=%v", op, sessionID, connID, code, err)
}
