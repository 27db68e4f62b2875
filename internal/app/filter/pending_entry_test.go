package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/speakerq/internal/domain/participant"
)

func TestPendingEntryFilter_Check(t *testing.T) {
	tests := []struct {
		name         string
		config       *PendingEntryConfig
		pending      int
		wantAccepted bool
	}{
		{name: "no pending entries", pending: 0, wantAccepted: true},
		{name: "one pending with default limit", pending: 1, wantAccepted: false},
		{name: "below raised limit", config: &PendingEntryConfig{MaxPending: 3}, pending: 2, wantAccepted: true},
		{name: "at raised limit", config: &PendingEntryConfig{MaxPending: 3}, pending: 3, wantAccepted: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &PendingEntryFilter{config: tt.config}
			result := f.Check(context.Background(), EntryRequest{}, Requester{PendingEntries: tt.pending})
			assert.Equal(t, tt.wantAccepted, result.Accepted)
			if !tt.wantAccepted {
				assert.Equal(t, "pending_entry", result.Code)
			}
		})
	}
}

func TestPendingEntryFilter_ModeratorsBypass(t *testing.T) {
	f := &PendingEntryFilter{}
	assert.True(t, f.AppliesTo(participant.RoleAttendee))
	assert.False(t, f.AppliesTo(participant.RoleModerator))

	c := NewChain()
	c.Add(f)
	result := c.Execute(context.Background(), EntryRequest{}, Requester{Role: participant.RoleModerator, PendingEntries: 5})
	assert.True(t, result.Accepted)
}

func TestPendingEntryFilter_ValidateConfig(t *testing.T) {
	f := &PendingEntryFilter{}
	require.NoError(t, f.ValidateConfig(map[string]any{}))
	assert.Equal(t, 1, f.config.MaxPending)

	assert.Error(t, f.ValidateConfig(map[string]any{"max_pending": -1}))
}
