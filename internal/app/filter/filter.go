// Package filter provides the admission chain for queue entries.
package filter

import (
	"context"

	"github.com/osa030/speakerq/internal/domain/participant"
)

// EntryRequest represents an enqueue request to be validated.
type EntryRequest struct {
	SessionID            string
	ConnectionID         string
	DisplayName          string
	Topic                string
	RequestedDurationSec *int
}

// Requester describes the connection submitting the request.
type Requester struct {
	Role           participant.Role
	PendingEntries int // Waiting entries the connection owns in this session
}

// Result represents the result of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "topic_too_long", "pending_entry"
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// Filter is the interface for enqueue filters.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// ValidateConfig validates and applies the filter configuration.
	ValidateConfig(settings map[string]any) error
	// AppliesTo returns true if this filter should run for the given role.
	AppliesTo(role participant.Role) bool
	// Check performs the filter check.
	Check(ctx context.Context, req EntryRequest, r Requester) Result
}

// registry holds registered filter factories.
var registry = make(map[string]func() Filter)

// Register registers a filter factory.
func Register(name string, factory func() Filter) {
	registry[name] = factory
}

// GetRegistered returns all registered filter factories.
func GetRegistered() map[string]func() Filter {
	return registry
}
