package meeting

import (
	"math"
	"slices"
)

// DefaultMaxDurationSec is the ceiling a new session starts with.
const DefaultMaxDurationSec = 120

// ResolveDuration returns the effective speaking duration in seconds.
// The ceiling is always a candidate, so the result never exceeds it.
// adHoc and requested only count when set and strictly positive.
func ResolveDuration(ceiling int, adHoc, requested *int) int {
	if ceiling <= 0 {
		ceiling = DefaultMaxDurationSec
	}

	candidates := []int{ceiling}
	for _, v := range []*int{adHoc, requested} {
		if v != nil && *v > 0 {
			candidates = append(candidates, *v)
		}
	}
	return slices.Min(candidates)
}

// NormalizeSeconds converts a transport number into whole seconds.
// NaN, infinities and non-positive values yield nil. Fractions round up so
// that a positive value never becomes zero.
func NormalizeSeconds(v *float64) *int {
	if v == nil {
		return nil
	}
	f := *v
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return nil
	}
	if f > math.MaxInt32 {
		f = math.MaxInt32
	}
	sec := int(math.Ceil(f))
	return &sec
}
