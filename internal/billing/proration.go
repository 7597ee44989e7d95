// Package billing holds the calendar arithmetic behind rent charges.
//
// All dates are treated as UTC calendar days. A lease that starts at 23:30
// local time on the 14th in a zone west of UTC is billed as starting on the
// 15th; this is a known approximation and callers convert to UTC midnight
// before calling in.
package billing

import "time"

// AnchorDay is the day of month on which recurring rent falls due.
const AnchorDay = 1

// DaysIn returns the number of calendar days in t's month.
func DaysIn(t time.Time) int {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Prorate returns the first charge for a lease starting on start at the given
// monthly rate. A lease starting on the 1st pays the full month; otherwise the
// remaining days of the month, start day included, are billed and the result
// is rounded half up to the nearest cent.
//
// monthlyCents must be non-negative; validation happens at the API boundary.
func Prorate(start time.Time, monthlyCents int64) int64 {
	day := start.UTC().Day()
	if day == AnchorDay || monthlyCents == 0 {
		return monthlyCents
	}
	days := int64(DaysIn(start))
	remaining := days - int64(day) + 1
	// round(a/b) half up for a, b > 0 is floor((2a + b) / 2b).
	num := monthlyCents * remaining
	return (2*num + days) / (2 * days)
}

// NextAnchor returns the first day of the month following ref's month.
func NextAnchor(ref time.Time) time.Time {
	y, m, _ := ref.UTC().Date()
	return time.Date(y, m+1, AnchorDay, 0, 0, 0, 0, time.UTC)
}

// Quote is what a prospective tenant pays for a lease starting on a date.
type Quote struct {
	AmountCents      int64
	MonthlyCents     int64
	NextDueDate      time.Time
	BillingAnchorDay int
}

// Preview combines Prorate and NextAnchor for a lease start.
func Preview(start time.Time, monthlyCents int64) Quote {
	return Quote{
		AmountCents:      Prorate(start, monthlyCents),
		MonthlyCents:     monthlyCents,
		NextDueDate:      NextAnchor(start),
		BillingAnchorDay: AnchorDay,
	}
}
