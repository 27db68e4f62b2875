package realtime

import (
	"encoding/json"
	"strconv"
	"strings"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/speakerq/internal/app/notification"
	"github.com/osa030/speakerq/internal/domain/meeting"
)

// Frame types.
const (
	FrameJoin           = "join"
	FrameEnqueue        = "enqueue"
	FrameWithdraw       = "withdraw"
	FramePromote        = "promote"
	FrameStart          = "start"
	FrameStop           = "stop"
	FrameUpdateSettings = "update_settings"
	FrameSetLocked      = "set_locked"

	FrameAck          = "ack"
	FrameError        = "error"
	FrameQueueUpdated = string(notification.EventQueueUpdated)
	FrameStateUpdated = string(notification.EventStateUpdated)
)

// Protocol error codes, sent in error frames.
const (
	codeInvalidFrame = "invalid_frame"
	codeTooLarge     = "payload_too_large"
	codeRateLimited  = "rate_limited"
	codeUnsupported  = "unsupported_type"
)

// Frame is the envelope of every message in both directions.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// JoinPayload is the payload of a join frame.
type JoinPayload struct {
	SessionID   string `json:"sessionId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Secret      string `json:"secret,omitempty"`
}

// EnqueuePayload is the payload of an enqueue frame.
type EnqueuePayload struct {
	Topic                string  `json:"topic"`
	DisplayName          string  `json:"displayName"`
	RequestedDurationSec Seconds `json:"requestedDurationSec"`
}

// ItemPayload addresses one queue item.
type ItemPayload struct {
	ItemID string `json:"itemId"`
}

// StartPayload is the payload of a start frame.
type StartPayload struct {
	ItemID           string  `json:"itemId"`
	AdHocDurationSec Seconds `json:"adHocDurationSec"`
}

// SettingsPayload is the payload of an update_settings frame.
type SettingsPayload struct {
	MaxDurationSec Seconds `json:"maxDurationSec"`
}

// LockPayload is the payload of a set_locked frame.
type LockPayload struct {
	Locked bool `json:"locked"`
}

// AckPayload answers one request. OK is false when Error is set.
type AckPayload struct {
	OK     bool               `json:"ok"`
	ItemID string             `json:"itemId,omitempty"`
	Role   string             `json:"role,omitempty"`
	State  *meeting.StateView `json:"state,omitempty"`
	Secret string             `json:"secret,omitempty"`
	Locked *bool              `json:"locked,omitempty"`
	Error  *ErrorBody         `json:"error,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// QueueUpdatedPayload is pushed when only the queue changed.
type QueueUpdatedPayload struct {
	SessionID string              `json:"sessionId"`
	Seq       uint64              `json:"seq"`
	Queue     []meeting.QueueItem `json:"queue"`
}

// StateUpdatedPayload is pushed when the speaker, lock or settings changed.
type StateUpdatedPayload struct {
	SessionID string             `json:"sessionId"`
	Seq       uint64             `json:"seq"`
	State     *meeting.StateView `json:"state"`
}

// Seconds accepts a JSON number or numeric string. Anything else, null
// included, leaves it unset.
type Seconds struct {
	Value *float64
}

func (s *Seconds) UnmarshalJSON(data []byte) error {
	s.Value = nil
	if string(data) == "null" {
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		s.Value = &n
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
			s.Value = &f
		}
	}
	return nil
}

func (s Seconds) MarshalJSON() ([]byte, error) {
	if s.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*s.Value)
}

// SecondsOf wraps v.
func SecondsOf(v float64) Seconds {
	return Seconds{Value: &v}
}

func eventFrame(event *notification.Event) Frame {
	switch event.Type {
	case notification.EventQueueUpdated:
		return Frame{Type: FrameQueueUpdated, Payload: mustJSON(QueueUpdatedPayload{
			SessionID: event.SessionID,
			Seq:       event.SequenceNo,
			Queue:     event.Queue,
		})}
	default:
		return Frame{Type: FrameStateUpdated, Payload: mustJSON(StateUpdatedPayload{
			SessionID: event.SessionID,
			Seq:       event.SequenceNo,
			State:     event.State,
		})}
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		zlog.Error().Msgf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
