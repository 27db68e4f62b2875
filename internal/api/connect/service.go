package connect

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/speakerq/internal/app/notification"
	"github.com/osa030/speakerq/internal/app/session"
	"github.com/osa030/speakerq/internal/infra/config"
)

// SessionServiceName is the fully-qualified name of the session service.
const SessionServiceName = "speakerq.v1.SessionService"

// Procedure paths of the session service.
const (
	CreateSessionProcedure = "/" + SessionServiceName + "/CreateSession"
	GetStateProcedure      = "/" + SessionServiceName + "/GetState"
	SetLockedProcedure     = "/" + SessionServiceName + "/SetLocked"
	WatchSessionProcedure  = "/" + SessionServiceName + "/WatchSession"
)

// OriginHeader carries the browser origin used to build session links.
const OriginHeader = "Origin"

// SessionService implements the session lifecycle RPC.
type SessionService struct {
	session *session.Manager
	config  *config.Config
}

// NewSessionService creates a new SessionService.
func NewSessionService(session *session.Manager, cfg *config.Config) *SessionService {
	return &SessionService{
		session: session,
		config:  cfg,
	}
}

// CreateSession creates a session, or re-opens an existing one by ID.
func (s *SessionService) CreateSession(
	ctx context.Context,
	req *connect.Request[CreateSessionRequest],
) (*connect.Response[CreateSessionResponse], error) {
	created, err := s.session.CreateSession(ctx, req.Msg.ID, req.Header().Get(OriginHeader))
	if err != nil {
		return nil, toConnectError(s.config, err)
	}

	return connect.NewResponse(&CreateSessionResponse{
		ID:              created.ID,
		ModeratorSecret: created.ModeratorSecret,
		Links:           created.Links,
	}), nil
}

// GetState returns the session snapshot.
func (s *SessionService) GetState(
	ctx context.Context,
	req *connect.Request[GetStateRequest],
) (*connect.Response[GetStateResponse], error) {
	view, err := s.session.GetState(ctx, req.Msg.SessionID)
	if err != nil {
		return nil, toConnectError(s.config, err)
	}
	return connect.NewResponse(&GetStateResponse{StateView: view}), nil
}

// SetLocked sets the lock flag. The moderator secret is checked by the
// interceptor before this runs.
func (s *SessionService) SetLocked(
	ctx context.Context,
	req *connect.Request[SetLockedRequest],
) (*connect.Response[SetLockedResponse], error) {
	locked, err := s.session.SetLocked(ctx, req.Msg.SessionID, req.Msg.Locked)
	if err != nil {
		return nil, toConnectError(s.config, err)
	}
	return connect.NewResponse(&SetLockedResponse{OK: true, Locked: locked}), nil
}

// WatchSession streams the session's events, starting with a full state.
func (s *SessionService) WatchSession(
	ctx context.Context,
	req *connect.Request[WatchSessionRequest],
	stream *connect.ServerStream[SessionEvent],
) error {
	adapter := newEventStreamAdapter(s.config.Realtime.OutboxSize)
	unsubscribe, err := s.session.Watch(ctx, req.Msg.SessionID, adapter)
	if err != nil {
		return toConnectError(s.config, err)
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.session.Done():
			return nil
		case <-adapter.overflow:
			zlog.Warn().Msgf("watch stream fell behind: session_id=%s", req.Msg.SessionID)
			return connect.NewError(connect.CodeResourceExhausted, errSlowWatcher)
		case event := <-adapter.events:
			if err := stream.Send(toSessionEvent(event)); err != nil {
				return err
			}
		}
	}
}

// NewSessionServiceHandler builds an HTTP handler serving every session
// service procedure and returns the path to mount it on.
func NewSessionServiceHandler(svc *SessionService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)

	createSession := connect.NewUnaryHandler(CreateSessionProcedure, svc.CreateSession, opts...)
	getState := connect.NewUnaryHandler(GetStateProcedure, svc.GetState, opts...)
	setLocked := connect.NewUnaryHandler(SetLockedProcedure, svc.SetLocked, opts...)
	watchSession := connect.NewServerStreamHandler(WatchSessionProcedure, svc.WatchSession, opts...)

	return "/" + SessionServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case CreateSessionProcedure:
			createSession.ServeHTTP(w, r)
		case GetStateProcedure:
			getState.ServeHTTP(w, r)
		case SetLockedProcedure:
			setLocked.ServeHTTP(w, r)
		case WatchSessionProcedure:
			watchSession.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// SessionServiceClient calls the session service.
type SessionServiceClient struct {
	createSession *connect.Client[CreateSessionRequest, CreateSessionResponse]
	getState      *connect.Client[GetStateRequest, GetStateResponse]
	setLocked     *connect.Client[SetLockedRequest, SetLockedResponse]
	watchSession  *connect.Client[WatchSessionRequest, SessionEvent]
}

// NewSessionServiceClient creates a client for the service at baseURL.
func NewSessionServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *SessionServiceClient {
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
	return &SessionServiceClient{
		createSession: connect.NewClient[CreateSessionRequest, CreateSessionResponse](httpClient, baseURL+CreateSessionProcedure, opts...),
		getState:      connect.NewClient[GetStateRequest, GetStateResponse](httpClient, baseURL+GetStateProcedure, opts...),
		setLocked:     connect.NewClient[SetLockedRequest, SetLockedResponse](httpClient, baseURL+SetLockedProcedure, opts...),
		watchSession:  connect.NewClient[WatchSessionRequest, SessionEvent](httpClient, baseURL+WatchSessionProcedure, opts...),
	}
}

// CreateSession calls CreateSession.
func (c *SessionServiceClient) CreateSession(ctx context.Context, req *connect.Request[CreateSessionRequest]) (*connect.Response[CreateSessionResponse], error) {
	return c.createSession.CallUnary(ctx, req)
}

// GetState calls GetState.
func (c *SessionServiceClient) GetState(ctx context.Context, req *connect.Request[GetStateRequest]) (*connect.Response[GetStateResponse], error) {
	return c.getState.CallUnary(ctx, req)
}

// SetLocked calls SetLocked. The moderator secret goes in ModeratorSecretHeader.
func (c *SessionServiceClient) SetLocked(ctx context.Context, req *connect.Request[SetLockedRequest]) (*connect.Response[SetLockedResponse], error) {
	return c.setLocked.CallUnary(ctx, req)
}

// WatchSession calls WatchSession.
func (c *SessionServiceClient) WatchSession(ctx context.Context, req *connect.Request[WatchSessionRequest]) (*connect.ServerStreamForClient[SessionEvent], error) {
	return c.watchSession.CallServerStream(ctx, req)
}

// eventStreamAdapter adapts a bounded channel to notification.Stream.
type eventStreamAdapter struct {
	events   chan *notification.Event
	overflow chan struct{}
	full     bool
}

func newEventStreamAdapter(size int) *eventStreamAdapter {
	if size <= 0 {
		size = 64
	}
	return &eventStreamAdapter{
		events:   make(chan *notification.Event, size),
		overflow: make(chan struct{}),
	}
}

// Send never blocks. The first dropped event ends the stream so the
// watcher reconnects and resynchronizes from a fresh snapshot.
// Calls are serialized by the session lock.
func (a *eventStreamAdapter) Send(event *notification.Event) error {
	if a.full {
		return notification.ErrSlowSubscriber
	}
	select {
	case a.events <- event:
		return nil
	default:
		a.full = true
		close(a.overflow)
		return notification.ErrSlowSubscriber
	}
}

func toSessionEvent(event *notification.Event) *SessionEvent {
	return &SessionEvent{
		Type:       string(event.Type),
		SessionID:  event.SessionID,
		SequenceNo: event.SequenceNo,
		Queue:      event.Queue,
		State:      event.State,
	}
}
