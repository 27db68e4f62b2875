package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/osa030/speakerq/internal/domain/participant"
)

type fixedSecret string

func (f fixedSecret) CheckSecret(supplied string) bool {
	return string(f) != "" && supplied == string(f)
}

func TestAdmit(t *testing.T) {
	tests := []struct {
		name      string
		requested participant.Role
		secret    string
		expected  participant.Role
		wantErr   error
	}{
		{
			name:      "attendee needs no secret",
			requested: participant.RoleAttendee,
			secret:    "",
			expected:  participant.RoleAttendee,
		},
		{
			name:      "attendee with wrong secret is still attendee",
			requested: participant.RoleAttendee,
			secret:    "0000",
			expected:  participant.RoleAttendee,
		},
		{
			name:      "moderator with matching secret",
			requested: participant.RoleModerator,
			secret:    "4821",
			expected:  participant.RoleModerator,
		},
		{
			name:      "moderator with wrong secret",
			requested: participant.RoleModerator,
			secret:    "4822",
			expected:  participant.RoleAttendee,
			wantErr:   ErrInvalidCredential,
		},
		{
			name:      "moderator with empty secret",
			requested: participant.RoleModerator,
			secret:    "",
			expected:  participant.RoleAttendee,
			wantErr:   ErrInvalidCredential,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role, err := Admit(fixedSecret("4821"), tt.requested, tt.secret)
			assert.Equal(t, tt.expected, role)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAuthorize(t *testing.T) {
	ops := []Operation{OpJoin, OpEnqueue, OpWithdraw, OpPromote, OpStart, OpStop, OpUpdateSettings, OpSetLocked}

	for _, op := range ops {
		t.Run(string(op), func(t *testing.T) {
			assert.NoError(t, Authorize(participant.RoleModerator, op))

			err := Authorize(participant.RoleAttendee, op)
			if RequiresModerator(op) {
				assert.ErrorIs(t, err, ErrForbidden)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRequiresModerator(t *testing.T) {
	assert.True(t, RequiresModerator(OpPromote))
	assert.True(t, RequiresModerator(OpStart))
	assert.True(t, RequiresModerator(OpStop))
	assert.True(t, RequiresModerator(OpUpdateSettings))
	assert.True(t, RequiresModerator(OpSetLocked))
	assert.False(t, RequiresModerator(OpEnqueue))
	assert.False(t, RequiresModerator(OpWithdraw))
	assert.False(t, RequiresModerator(OpJoin))
}
