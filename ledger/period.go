package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Reporting boundary for the monthly position
// =============================================================================

// Period is a closed time range [Start, End]. The monthly position is
// always computed for a period, never "as of now".
type Period struct {
	Start time.Time
	End   time.Time
}

// MonthPeriod returns the calendar-month period for year/month, ending
// at the last nanosecond of the month so created_at timestamps on the
// last day are included.
func MonthPeriod(year int, month time.Month) Period {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return Period{Start: start, End: end}
}

// Contains reports whether t falls within [Start, End].
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Start.Year(), p.Start.Month())
}
