package filter

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/osa030/speakerq/internal/domain/participant"
)

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// Build creates a chain of every registered filter that enabled reports as
// on, configured with its settings. Filters are added in name order.
func Build(enabled func(name string) bool, settings func(name string) map[string]any) (*Chain, error) {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	c := NewChain()
	for _, name := range names {
		if !enabled(name) {
			continue
		}
		f := registry[name]()
		if err := f.ValidateConfig(settings(name)); err != nil {
			return nil, errors.Wrapf(err, "filter %s", name)
		}
		c.Add(f)
	}
	return c, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the request.
// Filters are only applied if they declare they apply to the requester's role.
func (c *Chain) Execute(ctx context.Context, req EntryRequest, r Requester) Result {
	for _, f := range c.filters {
		if !f.AppliesTo(r.Role) {
			continue
		}

		result := f.Check(ctx, req, r)
		if !result.Accepted {
			return result
		}
	}
	return Accept()
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}

// appliesToAttendees is shared by filters that moderators bypass.
func appliesToAttendees(role participant.Role) bool {
	return role != participant.RoleModerator
}
