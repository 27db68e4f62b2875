package filter

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/speakerq/internal/domain/participant"
)

// PendingEntryConfig represents the configuration for PendingEntryFilter.
type PendingEntryConfig struct {
	MaxPending int `yaml:"max_pending" mapstructure:"max_pending" default:"1" validate:"gte=1,lte=100"`
}

// PendingEntryFilter limits how many waiting entries one connection may hold.
type PendingEntryFilter struct {
	config *PendingEntryConfig
}

func (f *PendingEntryFilter) Name() string {
	return "pending_entry_filter"
}

func (f *PendingEntryFilter) Description() string {
	return "Checks if the participant already has entries waiting in the queue"
}

func (f *PendingEntryFilter) ReturnCodes() []string {
	return []string{"pending_entry"}
}

func (f *PendingEntryFilter) ValidateConfig(settings map[string]any) error {
	var config PendingEntryConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.config = &config
	zlog.Info().Msgf("pending entry filter config: %+v", config)
	return nil
}

// Moderators may queue on behalf of others.
func (f *PendingEntryFilter) AppliesTo(role participant.Role) bool {
	return appliesToAttendees(role)
}

func (f *PendingEntryFilter) Check(_ context.Context, _ EntryRequest, r Requester) Result {
	limit := 1
	if f.config != nil {
		limit = f.config.MaxPending
	}
	if r.PendingEntries >= limit {
		return Reject("pending_entry")
	}
	return Accept()
}

func init() {
	Register("pending_entry_filter", func() Filter {
		return &PendingEntryFilter{}
	})
}
