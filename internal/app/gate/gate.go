// Package gate validates roles and moderator credentials for session operations.
package gate

import (
	"github.com/cockroachdb/errors"

	"github.com/osa030/speakerq/internal/domain/participant"
)

var (
	ErrInvalidCredential = errors.New("invalid moderator secret")
	ErrForbidden         = errors.New("operation requires moderator role")
)

// Operation identifies a request a connection can issue.
type Operation string

const (
	OpJoin           Operation = "join"
	OpEnqueue        Operation = "enqueue"
	OpWithdraw       Operation = "withdraw"
	OpPromote        Operation = "promote"
	OpStart          Operation = "start"
	OpStop           Operation = "stop"
	OpUpdateSettings Operation = "update_settings"
	OpSetLocked      Operation = "set_locked"
)

// moderatorOnly lists operations that mutate session control state.
var moderatorOnly = map[Operation]bool{
	OpPromote:        true,
	OpStart:          true,
	OpStop:           true,
	OpUpdateSettings: true,
	OpSetLocked:      true,
}

// SecretChecker is implemented by sessions holding a moderator secret.
type SecretChecker interface {
	CheckSecret(supplied string) bool
}

// Admit resolves the role a joining connection receives.
// A moderator request must present the session's secret; any other request
// resolves to attendee without a check.
func Admit(session SecretChecker, requested participant.Role, secret string) (participant.Role, error) {
	if requested != participant.RoleModerator {
		return participant.RoleAttendee, nil
	}
	if !session.CheckSecret(secret) {
		return participant.RoleAttendee, ErrInvalidCredential
	}
	return participant.RoleModerator, nil
}

// Authorize checks that role may perform op.
func Authorize(role participant.Role, op Operation) error {
	if RequiresModerator(op) && role != participant.RoleModerator {
		return errors.Wrapf(ErrForbidden, "%s", op)
	}
	return nil
}

// RequiresModerator reports whether op is moderator-only.
func RequiresModerator(op Operation) bool {
	return moderatorOnly[op]
}
