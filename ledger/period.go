/*
period.go - Date-granular reconciliation windows

PURPOSE:
  A Period is the [Start, End] date range a reconciliation covers.
  Bounds are inclusive on both ends and normalized to UTC midnight, so
  period equality and transaction membership are plain time comparisons
  with no timezone surprises.

SEE ALSO:
  - types.go: Transaction.Date uses the same Day normalization
*/
package ledger

import (
	"fmt"
	"time"
)

// Period is an inclusive [Start, End] date range over one bank account.
type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod builds a normalized period. The zero granularity is a day:
// both bounds are truncated to UTC midnight. End before Start is
// InvalidInput.
func NewPeriod(start, end time.Time) (Period, error) {
	p := Period{Start: Day(start), End: Day(end)}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate reports a malformed period.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return &ValidationError{Field: "period", Reason: "start and end are required"}
	}
	if p.End.Before(p.Start) {
		return &ValidationError{Field: "period", Reason: "end before start"}
	}
	return nil
}

// Contains reports whether t falls inside the period, inclusive of both
// bounds.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

func (p Period) String() string {
	return fmt.Sprintf("%s..%s", p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))
}

// Day truncates t to UTC midnight. All transaction dates and period
// bounds in the engine pass through here.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date is a shorthand constructor for a UTC-midnight date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
