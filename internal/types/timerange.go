package types

import (
	"fmt"
	"time"

	"github.com/execledger/execledger/internal/errors"
)

// TimeRange is a bounded trailing window for statistics queries.
type TimeRange int

const (
	// Range7d covers the trailing 7 days.
	Range7d TimeRange = iota
	// Range30d covers the trailing 30 days.
	Range30d
	// Range90d covers the trailing 90 days.
	Range90d
)

// String returns the string representation of the range.
func (t TimeRange) String() string {
	switch t {
	case Range7d:
		return "7d"
	case Range30d:
		return "30d"
	case Range90d:
		return "90d"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// Duration returns the window length.
func (t TimeRange) Duration() time.Duration {
	switch t {
	case Range7d:
		return 7 * 24 * time.Hour
	case Range30d:
		return 30 * 24 * time.Hour
	case Range90d:
		return 90 * 24 * time.Hour
	default:
		return 0
	}
}

// Days returns the window length in days.
func (t TimeRange) Days() int {
	switch t {
	case Range7d:
		return 7
	case Range30d:
		return 30
	case Range90d:
		return 90
	default:
		return 0
	}
}

// Cutoff returns the start of the window relative to now.
func (t TimeRange) Cutoff(now time.Time) time.Time {
	return now.Add(-t.Duration())
}

// ParseTimeRange parses a string into a TimeRange.
func ParseTimeRange(s string) (TimeRange, error) {
	switch s {
	case "7d":
		return Range7d, nil
	case "30d":
		return Range30d, nil
	case "90d":
		return Range90d, nil
	default:
		return Range7d, errors.Wrapf(errors.ErrInvalidTimeRange, "parse %q", s)
	}
}

// AllTimeRanges returns all supported ranges in ascending order.
func AllTimeRanges() []TimeRange {
	return []TimeRange{Range7d, Range30d, Range90d}
}
