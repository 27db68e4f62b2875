package realtime

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/osa030/speakerq/internal/app/session"
	"github.com/osa030/speakerq/internal/infra/config"
)

type testServer struct {
	url     string
	manager *session.Manager
}

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	for _, fn := range mutate {
		fn(cfg)
	}
	mgr, err := session.NewManager(cfg)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle(Path, NewHandler(mgr, cfg))
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		mgr.Close()
		server.Close()
	})
	return &testServer{url: server.URL, manager: mgr}
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
	n  int
}

func (s *testServer) dial(t *testing.T) *client {
	t.Helper()
	ws, err := websocket.Dial("ws"+strings.TrimPrefix(s.url, "http")+Path, "", s.url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return &client{t: t, ws: ws}
}

// send writes a request frame and returns its request id.
func (c *client) send(frameType string, payload any) string {
	c.t.Helper()
	c.n++
	requestID := frameType + "-" + string(rune('a'+c.n))
	frame := Frame{Type: frameType, RequestID: requestID}
	if payload != nil {
		frame.Payload = mustJSON(payload)
	}
	require.NoError(c.t, websocket.JSON.Send(c.ws, frame))
	return requestID
}

func (c *client) next() Frame {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame Frame
	require.NoError(c.t, websocket.JSON.Receive(c.ws, &frame))
	return frame
}

// ack reads the next frame and requires it to be the ack of requestID.
func (c *client) ack(requestID string) AckPayload {
	c.t.Helper()
	frame := c.next()
	require.Equal(c.t, FrameAck, frame.Type, "payload: %s", frame.Payload)
	require.Equal(c.t, requestID, frame.RequestID)
	var payload AckPayload
	require.NoError(c.t, json.Unmarshal(frame.Payload, &payload))
	return payload
}

func (c *client) queueUpdated() QueueUpdatedPayload {
	c.t.Helper()
	frame := c.next()
	require.Equal(c.t, FrameQueueUpdated, frame.Type)
	var payload QueueUpdatedPayload
	require.NoError(c.t, json.Unmarshal(frame.Payload, &payload))
	return payload
}

func (c *client) stateUpdated() StateUpdatedPayload {
	c.t.Helper()
	frame := c.next()
	require.Equal(c.t, FrameStateUpdated, frame.Type)
	var payload StateUpdatedPayload
	require.NoError(c.t, json.Unmarshal(frame.Payload, &payload))
	return payload
}

func (s *testServer) secret(t *testing.T, sessionID string) string {
	t.Helper()
	created, err := s.manager.CreateSession(context.Background(), sessionID, "")
	require.NoError(t, err)
	return created.ModeratorSecret
}

func TestRealtime_JoinRoles(t *testing.T) {
	s := newTestServer(t)
	secret := s.secret(t, "ROOM")

	mod := s.dial(t)
	ack := mod.ack(mod.send(FrameJoin, JoinPayload{SessionID: "ROOM", DisplayName: "Chair", Role: "moderator", Secret: secret}))
	assert.True(t, ack.OK)
	assert.Equal(t, "moderator", ack.Role)
	assert.Equal(t, secret, ack.Secret)
	require.NotNil(t, ack.State)
	assert.Equal(t, 120, ack.State.Settings.MaxDurationSec)

	att := s.dial(t)
	ack = att.ack(att.send(FrameJoin, JoinPayload{SessionID: "ROOM", DisplayName: "Ann", Role: "attendee"}))
	assert.True(t, ack.OK)
	assert.Equal(t, "attendee", ack.Role)
	assert.Empty(t, ack.Secret)

	bad := s.dial(t)
	ack = bad.ack(bad.send(FrameJoin, JoinPayload{SessionID: "ROOM", Role: "moderator", Secret: "0000"}))
	assert.False(t, ack.OK)
	require.NotNil(t, ack.Error)
	assert.Equal(t, session.CodeInvalidCredential, ack.Error.Code)
	assert.Equal(t, "Invalid PIN", ack.Error.Message)

	// The failed joiner is not in the session
	ack = bad.ack(bad.send(FrameEnqueue, EnqueuePayload{Topic: "x"}))
	assert.False(t, ack.OK)
	assert.Equal(t, session.CodeNotJoined, ack.Error.Code)
}

func TestRealtime_QueueFlow(t *testing.T) {
	s := newTestServer(t)
	secret := s.secret(t, "ROOM")

	mod := s.dial(t)
	require.True(t, mod.ack(mod.send(FrameJoin, JoinPayload{SessionID: "ROOM", Role: "moderator", Secret: secret})).OK)
	att := s.dial(t)
	require.True(t, att.ack(att.send(FrameJoin, JoinPayload{SessionID: "ROOM", DisplayName: "Ann"})).OK)

	// The initiator gets its ack before the broadcast
	ack := att.ack(att.send(FrameEnqueue, map[string]any{"topic": " A ", "requestedDurationSec": "60"}))
	require.True(t, ack.OK)
	require.NotEmpty(t, ack.ItemID)
	first := ack.ItemID

	update := att.queueUpdated()
	assert.Equal(t, "ROOM", update.SessionID)
	require.Len(t, update.Queue, 1)
	assert.Equal(t, "A", update.Queue[0].Topic)
	assert.Equal(t, "Ann", update.Queue[0].DisplayName)
	assert.Equal(t, update, mod.queueUpdated())

	ack = att.ack(att.send(FrameEnqueue, EnqueuePayload{Topic: "B", RequestedDurationSec: SecondsOf(90)}))
	require.True(t, ack.OK)
	second := ack.ItemID
	att.queueUpdated()
	mod.queueUpdated()

	// Attendees cannot control the floor
	ack = att.ack(att.send(FramePromote, ItemPayload{ItemID: second}))
	assert.False(t, ack.OK)
	assert.Equal(t, session.CodeForbidden, ack.Error.Code)

	require.True(t, mod.ack(mod.send(FrameStart, StartPayload{ItemID: first})).OK)
	state := mod.stateUpdated()
	require.NotNil(t, state.State.Speaking)
	assert.Equal(t, first, state.State.Speaking.ID)
	assert.Equal(t, 60, state.State.Speaking.DurationSec)
	assert.Equal(t, state, att.stateUpdated())

	require.True(t, mod.ack(mod.send(FrameStart, StartPayload{ItemID: second, AdHocDurationSec: SecondsOf(30)})).OK)
	state = mod.stateUpdated()
	assert.Equal(t, 30, state.State.Speaking.DurationSec)
	assert.Empty(t, state.State.Queue)
	att.stateUpdated()

	ack = mod.ack(mod.send(FrameStart, StartPayload{ItemID: first}))
	assert.False(t, ack.OK)
	assert.Equal(t, session.CodeNotFound, ack.Error.Code)

	require.True(t, mod.ack(mod.send(FrameStop, nil)).OK)
	assert.Nil(t, mod.stateUpdated().State.Speaking)
	att.stateUpdated()
}

func TestRealtime_LockAndSettings(t *testing.T) {
	s := newTestServer(t)
	secret := s.secret(t, "ROOM")

	mod := s.dial(t)
	require.True(t, mod.ack(mod.send(FrameJoin, JoinPayload{SessionID: "ROOM", Role: "moderator", Secret: secret})).OK)
	att := s.dial(t)
	require.True(t, att.ack(att.send(FrameJoin, JoinPayload{SessionID: "ROOM"})).OK)

	ack := mod.ack(mod.send(FrameSetLocked, LockPayload{Locked: true}))
	require.True(t, ack.OK)
	require.NotNil(t, ack.Locked)
	assert.True(t, *ack.Locked)
	assert.True(t, mod.stateUpdated().State.Locked)
	assert.True(t, att.stateUpdated().State.Locked)

	ack = att.ack(att.send(FrameEnqueue, EnqueuePayload{Topic: "late"}))
	assert.False(t, ack.OK)
	assert.Equal(t, session.CodeQueueLocked, ack.Error.Code)

	require.True(t, mod.ack(mod.send(FrameUpdateSettings, SettingsPayload{MaxDurationSec: SecondsOf(45)})).OK)
	assert.Equal(t, 45, mod.stateUpdated().State.Settings.MaxDurationSec)

	// Invalid ceilings are ignored without error
	require.True(t, mod.ack(mod.send(FrameUpdateSettings, map[string]any{"maxDurationSec": "soon"})).OK)
	assert.Equal(t, 45, mod.stateUpdated().State.Settings.MaxDurationSec)
}

func TestRealtime_WithdrawIsAlwaysOK(t *testing.T) {
	s := newTestServer(t)
	att := s.dial(t)
	require.True(t, att.ack(att.send(FrameJoin, JoinPayload{SessionID: "ROOM"})).OK)

	ack := att.ack(att.send(FrameEnqueue, EnqueuePayload{Topic: "A"}))
	require.True(t, ack.OK)
	att.queueUpdated()

	require.True(t, att.ack(att.send(FrameWithdraw, ItemPayload{ItemID: ack.ItemID})).OK)
	assert.Empty(t, att.queueUpdated().Queue)

	// Already gone: still acknowledged, nothing broadcast
	require.True(t, att.ack(att.send(FrameWithdraw, ItemPayload{ItemID: ack.ItemID})).OK)
	require.True(t, att.ack(att.send(FrameWithdraw, ItemPayload{ItemID: "missing"})).OK)
}

func TestRealtime_ProtocolErrors(t *testing.T) {
	s := newTestServer(t)
	c := s.dial(t)

	requestID := c.send("dance", nil)
	frame := c.next()
	assert.Equal(t, FrameError, frame.Type)
	assert.Equal(t, requestID, frame.RequestID)
	var body ErrorBody
	require.NoError(t, json.Unmarshal(frame.Payload, &body))
	assert.Equal(t, codeUnsupported, body.Code)

	require.NoError(t, websocket.JSON.Send(c.ws, map[string]any{
		"type": FrameJoin, "request_id": "bad", "payload": map[string]any{"sessionId": 42},
	}))
	frame = c.next()
	assert.Equal(t, FrameError, frame.Type)
	assert.Equal(t, "bad", frame.RequestID)
	require.NoError(t, json.Unmarshal(frame.Payload, &body))
	assert.Equal(t, codeInvalidFrame, body.Code)

	// The connection survives protocol errors
	assert.True(t, c.ack(c.send(FrameJoin, JoinPayload{SessionID: "ROOM"})).OK)
}

func TestRealtime_RateLimitClosesConnection(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Realtime.MaxFramesPerSecond = 2
	})
	c := s.dial(t)

	for i := 0; i < 10; i++ {
		if err := websocket.JSON.Send(c.ws, Frame{Type: "noop"}); err != nil {
			break
		}
	}

	require.NoError(t, c.ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var err error
	for err == nil {
		var frame Frame
		err = websocket.JSON.Receive(c.ws, &frame)
	}
	assert.Error(t, err, "server closes the connection")
}

func TestRealtime_RejectsForeignOrigin(t *testing.T) {
	s := newTestServer(t)
	_, err := websocket.Dial("ws"+strings.TrimPrefix(s.url, "http")+Path, "", "http://evil.example.com")
	assert.Error(t, err)
}

func TestRealtime_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	res, err := http.Post(s.url+Path, "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestSeconds_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in      string
		want    *float64
		wantNaN bool
	}{
		{in: `60`, want: ptr(60)},
		{in: `"45.5"`, want: ptr(45.5)},
		{in: `" 30 "`, want: ptr(30)},
		{in: `"NaN"`, wantNaN: true},
		{in: `null`},
		{in: `"soon"`},
		{in: `true`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var s Seconds
			require.NoError(t, json.Unmarshal([]byte(tt.in), &s))
			switch {
			case tt.wantNaN:
				require.NotNil(t, s.Value)
				assert.True(t, math.IsNaN(*s.Value))
			case tt.want == nil:
				assert.Nil(t, s.Value)
			default:
				require.NotNil(t, s.Value)
				assert.Equal(t, *tt.want, *s.Value)
			}
		})
	}
}

func ptr(v float64) *float64 { return &v }
