// Package realtime serves the bidirectional WebSocket channel used by
// attendees and moderators.
package realtime

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/websocket"

	"github.com/osa030/speakerq/internal/app/session"
	"github.com/osa030/speakerq/internal/infra/config"
)

// Path is where the channel is mounted.
const Path = "/ws"

// Handler upgrades requests to WebSocket connections bound to the manager.
type Handler struct {
	session *session.Manager
	config  *config.Config
	server  websocket.Server
}

// NewHandler creates a new WebSocket handler.
func NewHandler(mgr *session.Manager, cfg *config.Config) *Handler {
	h := &Handler{
		session: mgr,
		config:  cfg,
	}
	h.server = websocket.Server{
		Handshake: h.checkOrigin,
		Handler:   h.serveConn,
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.server.ServeHTTP(w, r)
}

// checkOrigin accepts clients without an Origin header, same-host origins
// and the configured browser origins.
func (h *Handler) checkOrigin(cfg *websocket.Config, r *http.Request) error {
	raw := r.Header.Get("Origin")
	if raw == "" {
		return nil
	}
	origin, err := url.Parse(raw)
	if err != nil {
		return errors.Wrap(err, "invalid origin")
	}
	cfg.Origin = origin
	if origin.Host == r.Host {
		return nil
	}
	allowed := h.config.Origins()
	if slices.Contains(allowed, "*") || slices.Contains(allowed, origin.Scheme+"://"+origin.Host) {
		return nil
	}
	zlog.Warn().Msgf("websocket origin rejected: origin=%s remote=%s", raw, r.RemoteAddr)
	return errors.Newf("origin %s not allowed", raw)
}

// serveConn runs the read loop of one connection.
func (h *Handler) serveConn(ws *websocket.Conn) {
	defer func() {
		_ = ws.Close()
	}()

	limits := h.config.Realtime
	ws.MaxPayloadBytes = limits.MaxFrameBytes

	p := newPeer(ws, limits.OutboxSize, time.Duration(limits.WriteTimeoutSec)*time.Second)
	go p.run()
	defer p.close()

	connID := h.session.Connect(p)
	defer h.session.Disconnect(connID)

	c := &conn{id: connID, peer: p, session: h.session, config: h.config}
	decoder := json.NewDecoder(ws)

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame Frame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			select {
			case <-p.done:
				return
			default:
			}
			if errors.Is(err, websocket.ErrFrameTooLarge) {
				_ = c.writeError("", codeTooLarge, "frame too large")
				return
			}
			decodeErrors++
			_ = c.writeError("", codeInvalidFrame, "invalid frame")
			if decodeErrors >= limits.MaxDecodeErrors {
				zlog.Warn().Msgf("websocket closed after %d decode errors: conn_id=%s", decodeErrors, connID)
				return
			}
			// The decoder cannot resync after a syntax error.
			decoder = json.NewDecoder(ws)
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > limits.MaxFrameBytes {
			_ = c.writeError(frame.RequestID, codeTooLarge, "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > limits.MaxFramesPerSecond {
			zlog.Warn().Msgf("websocket rate limit exceeded: conn_id=%s", connID)
			_ = c.writeError(frame.RequestID, codeRateLimited, "rate limit exceeded")
			return
		}

		c.dispatch(ws.Request().Context(), frame)
	}
}

// conn handles the frames of one connection.
type conn struct {
	id      string
	peer    *peer
	session *session.Manager
	config  *config.Config
}

func (c *conn) dispatch(ctx context.Context, frame Frame) {
	switch frame.Type {
	case FrameJoin:
		var payload JoinPayload
		if !c.decode(frame, &payload) {
			return
		}
		ctx = c.withAck(ctx, frame.RequestID, func(a session.Ack) AckPayload {
			return AckPayload{
				OK:     true,
				Role:   string(a.Join.Role),
				State:  &a.Join.State,
				Secret: a.Join.Secret,
			}
		})
		_, err := c.session.Join(ctx, c.id, session.JoinRequest{
			SessionID:   payload.SessionID,
			DisplayName: payload.DisplayName,
			Role:        payload.Role,
			Secret:      payload.Secret,
		})
		c.fail(frame.RequestID, err)

	case FrameEnqueue:
		var payload EnqueuePayload
		if !c.decode(frame, &payload) {
			return
		}
		ctx = c.withAck(ctx, frame.RequestID, func(a session.Ack) AckPayload {
			return AckPayload{OK: true, ItemID: a.ItemID}
		})
		_, err := c.session.Enqueue(ctx, c.id, session.EnqueueRequest{
			DisplayName:          payload.DisplayName,
			Topic:                payload.Topic,
			RequestedDurationSec: payload.RequestedDurationSec.Value,
		})
		c.fail(frame.RequestID, err)

	case FrameWithdraw:
		var payload ItemPayload
		if !c.decode(frame, &payload) {
			return
		}
		_, err := c.session.Withdraw(c.withOK(ctx, frame.RequestID), c.id, payload.ItemID)
		c.fail(frame.RequestID, err)

	case FramePromote:
		var payload ItemPayload
		if !c.decode(frame, &payload) {
			return
		}
		_, err := c.session.Promote(c.withOK(ctx, frame.RequestID), c.id, payload.ItemID)
		c.fail(frame.RequestID, err)

	case FrameStart:
		var payload StartPayload
		if !c.decode(frame, &payload) {
			return
		}
		_, err := c.session.Start(c.withOK(ctx, frame.RequestID), c.id, payload.ItemID, payload.AdHocDurationSec.Value)
		c.fail(frame.RequestID, err)

	case FrameStop:
		err := c.session.Stop(c.withOK(ctx, frame.RequestID), c.id)
		c.fail(frame.RequestID, err)

	case FrameUpdateSettings:
		var payload SettingsPayload
		if !c.decode(frame, &payload) {
			return
		}
		_, err := c.session.UpdateSettings(c.withOK(ctx, frame.RequestID), c.id, payload.MaxDurationSec.Value)
		c.fail(frame.RequestID, err)

	case FrameSetLocked:
		var payload LockPayload
		if !c.decode(frame, &payload) {
			return
		}
		locked := payload.Locked
		ctx = c.withAck(ctx, frame.RequestID, func(session.Ack) AckPayload {
			return AckPayload{OK: true, Locked: &locked}
		})
		err := c.session.SetLockedByConnection(ctx, c.id, locked)
		c.fail(frame.RequestID, err)

	default:
		_ = c.writeError(frame.RequestID, codeUnsupported, "unsupported frame type")
	}
}

// decode unmarshals the payload, answering with an error frame on failure.
// A missing payload decodes as the zero value.
func (c *conn) decode(frame Frame, v any) bool {
	if len(frame.Payload) == 0 {
		return true
	}
	if err := json.Unmarshal(frame.Payload, v); err != nil {
		_ = c.writeError(frame.RequestID, codeInvalidFrame, "invalid "+frame.Type+" payload")
		return false
	}
	return true
}

// withAck makes the manager write the success ack through the peer's outbox,
// ahead of the broadcast it triggers.
func (c *conn) withAck(ctx context.Context, requestID string, build func(session.Ack) AckPayload) context.Context {
	return session.WithAck(ctx, func(a session.Ack) {
		_ = c.peer.writeFrame(Frame{Type: FrameAck, RequestID: requestID, Payload: mustJSON(build(a))})
	})
}

func (c *conn) withOK(ctx context.Context, requestID string) context.Context {
	return c.withAck(ctx, requestID, func(session.Ack) AckPayload {
		return AckPayload{OK: true}
	})
}

// fail answers a failed request with a negative ack.
func (c *conn) fail(requestID string, err error) {
	if err == nil {
		return
	}
	code := session.Code(err)
	_ = c.peer.writeFrame(Frame{
		Type:      FrameAck,
		RequestID: requestID,
		Payload: mustJSON(AckPayload{
			OK:    false,
			Error: &ErrorBody{Code: code, Message: c.config.GetMessage(code)},
		}),
	})
}

func (c *conn) writeError(requestID, code, message string) error {
	return c.peer.writeFrame(Frame{
		Type:      FrameError,
		RequestID: requestID,
		Payload:   mustJSON(ErrorBody{Code: code, Message: message}),
	})
}
