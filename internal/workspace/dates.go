package workspace

import (
	"fmt"
	"time"
)

// DateLayout is the bare-date form used for whole-day boundaries.
const DateLayout = "2006-01-02"

// Whole-day events are inclusive on both ends everywhere in this codebase;
// only the calendar API speaks in exclusive end boundaries. The two
// conversions below are the single crossing point: requests pass through
// ExclusiveEnd on the way out and responses through InclusiveEnd on the way
// back, so no other package ever adds or subtracts a day.

// ExclusiveEnd converts an inclusive whole-day end date to the exclusive
// boundary the calendar API expects, one day past the last covered day.
func ExclusiveEnd(inclusive string) (string, error) {
	t, err := time.Parse(DateLayout, inclusive)
	if err != nil {
		return "", fmt.Errorf("whole-day end %q: %w", inclusive, err)
	}
	return t.AddDate(0, 0, 1).Format(DateLayout), nil
}

// InclusiveEnd converts the API's exclusive whole-day end boundary back to
// the inclusive date users see.
func InclusiveEnd(exclusive string) (string, error) {
	t, err := time.Parse(DateLayout, exclusive)
	if err != nil {
		return "", fmt.Errorf("whole-day end %q: %w", exclusive, err)
	}
	return t.AddDate(0, 0, -1).Format(DateLayout), nil
}

// DateOnly reports whether s is a bare YYYY-MM-DD date.
func DateOnly(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// TruncateToDate reduces an RFC3339 timestamp to its date part. Bare dates
// pass through unchanged.
func TruncateToDate(s string) string {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(DateLayout)
	}
	return s
}
