package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/speakerq/internal/app/session"
	"github.com/osa030/speakerq/internal/infra/config"
)

func newTestServer(t *testing.T) (*SessionServiceClient, *session.Manager) {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	mgr, err := session.NewManager(cfg)
	require.NoError(t, err)

	mux := http.NewServeMux()
	path, handler := NewSessionServiceHandler(
		NewSessionService(mgr, cfg),
		connect.WithInterceptors(NewModeratorAuthInterceptor(mgr, cfg)),
	)
	mux.Handle(path, handler)

	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		mgr.Close()
		server.Close()
	})
	return NewSessionServiceClient(server.Client(), server.URL), mgr
}

func TestSessionService_CreateSession(t *testing.T) {
	client, _ := newTestServer(t)
	ctx := context.Background()

	req := connect.NewRequest(&CreateSessionRequest{})
	req.Header().Set(OriginHeader, "http://localhost:4173")
	res, err := client.CreateSession(ctx, req)
	require.NoError(t, err)

	assert.Len(t, res.Msg.ID, 8)
	assert.Len(t, res.Msg.ModeratorSecret, 4)
	assert.Equal(t, "http://localhost:4173/moderator/"+res.Msg.ID, res.Msg.Links.Moderator)

	again, err := client.CreateSession(ctx, connect.NewRequest(&CreateSessionRequest{ID: res.Msg.ID}))
	require.NoError(t, err)
	assert.Equal(t, res.Msg.ModeratorSecret, again.Msg.ModeratorSecret)
}

func TestSessionService_GetState(t *testing.T) {
	client, _ := newTestServer(t)
	ctx := context.Background()

	res, err := client.GetState(ctx, connect.NewRequest(&GetStateRequest{SessionID: "ROOM"}))
	require.NoError(t, err)
	assert.Empty(t, res.Msg.Queue)
	assert.Nil(t, res.Msg.Speaking)
	assert.Equal(t, 120, res.Msg.Settings.MaxDurationSec)

	_, err = client.GetState(ctx, connect.NewRequest(&GetStateRequest{}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestSessionService_SetLockedRequiresSecret(t *testing.T) {
	client, _ := newTestServer(t)
	ctx := context.Background()

	created, err := client.CreateSession(ctx, connect.NewRequest(&CreateSessionRequest{ID: "ROOM"}))
	require.NoError(t, err)

	tests := []struct {
		name     string
		secret   string
		wantCode connect.Code
	}{
		{name: "missing secret", secret: "", wantCode: connect.CodeUnauthenticated},
		{name: "wrong secret", secret: "wrong", wantCode: connect.CodePermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := connect.NewRequest(&SetLockedRequest{SessionID: "ROOM", Locked: true})
			if tt.secret != "" {
				req.Header().Set(ModeratorSecretHeader, tt.secret)
			}
			_, err := client.SetLocked(ctx, req)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, connect.CodeOf(err))
		})
	}

	state, err := client.GetState(ctx, connect.NewRequest(&GetStateRequest{SessionID: "ROOM"}))
	require.NoError(t, err)
	assert.False(t, state.Msg.Locked)

	req := connect.NewRequest(&SetLockedRequest{SessionID: "ROOM", Locked: true})
	req.Header().Set(ModeratorSecretHeader, created.Msg.ModeratorSecret)
	res, err := client.SetLocked(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Msg.OK)
	assert.True(t, res.Msg.Locked)

	state, err = client.GetState(ctx, connect.NewRequest(&GetStateRequest{SessionID: "ROOM"}))
	require.NoError(t, err)
	assert.True(t, state.Msg.Locked)
}

func TestSessionService_WatchSession(t *testing.T) {
	client, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	created, err := client.CreateSession(ctx, connect.NewRequest(&CreateSessionRequest{ID: "ROOM"}))
	require.NoError(t, err)

	stream, err := client.WatchSession(ctx, connect.NewRequest(&WatchSessionRequest{SessionID: "ROOM"}))
	require.NoError(t, err)
	defer stream.Close()

	require.True(t, stream.Receive(), "initial state: %v", stream.Err())
	initial := stream.Msg()
	assert.Equal(t, "state_updated", initial.Type)
	assert.Equal(t, "ROOM", initial.SessionID)
	assert.Equal(t, uint64(0), initial.SequenceNo)
	require.NotNil(t, initial.State)
	assert.False(t, initial.State.Locked)

	req := connect.NewRequest(&SetLockedRequest{SessionID: "ROOM", Locked: true})
	req.Header().Set(ModeratorSecretHeader, created.Msg.ModeratorSecret)
	_, err = client.SetLocked(ctx, req)
	require.NoError(t, err)

	require.True(t, stream.Receive(), "update: %v", stream.Err())
	update := stream.Msg()
	assert.Equal(t, "state_updated", update.Type)
	assert.Equal(t, uint64(1), update.SequenceNo)
	require.NotNil(t, update.State)
	assert.True(t, update.State.Locked)
}

func TestCodec(t *testing.T) {
	var c Codec
	assert.Equal(t, "json", c.Name())

	data, err := c.Marshal(&SetLockedRequest{SessionID: "R", Locked: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sessionId":"R","locked":true}`, string(data))

	var req SetLockedRequest
	require.NoError(t, c.Unmarshal(nil, &req))
	assert.Equal(t, SetLockedRequest{}, req)

	assert.Error(t, c.Unmarshal([]byte("{"), &req))
}
