package session

import (
	"github.com/cockroachdb/errors"

	"github.com/osa030/speakerq/internal/app/gate"
	"github.com/osa030/speakerq/internal/app/session/registry"
	"github.com/osa030/speakerq/internal/domain/meeting"
)

var (
	ErrNotJoined        = errors.New("connection has not joined a session")
	ErrInvalidSessionID = errors.New("session id is required")
)

// Error codes reported to clients.
const (
	CodeInvalidCredential = "invalid_credential"
	CodeForbidden         = "forbidden"
	CodeQueueLocked       = "queue_locked"
	CodeNotFound          = "not_found"
	CodeNotJoined         = "not_joined"
	CodeInvalidArgument   = "invalid_argument"
	CodeSessionNotFound   = "session_not_found"
	CodeUnknownConnection = "unknown_connection"
	CodeInternal          = "internal"
)

// RejectedError is returned when the enqueue filter chain refuses a request.
type RejectedError struct {
	Code string
}

func (e *RejectedError) Error() string {
	return "request rejected: " + e.Code
}

// Code maps an error returned by the Manager to its client-facing code.
func Code(err error) string {
	var rejected *RejectedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rejected):
		return rejected.Code
	case errors.Is(err, gate.ErrInvalidCredential):
		return CodeInvalidCredential
	case errors.Is(err, gate.ErrForbidden):
		return CodeForbidden
	case errors.Is(err, meeting.ErrQueueLocked):
		return CodeQueueLocked
	case errors.Is(err, meeting.ErrItemNotFound):
		return CodeNotFound
	case errors.Is(err, ErrNotJoined):
		return CodeNotJoined
	case errors.Is(err, ErrInvalidSessionID):
		return CodeInvalidArgument
	case errors.Is(err, registry.ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, registry.ErrUnknownConnection):
		return CodeUnknownConnection
	default:
		return CodeInternal
	}
}
