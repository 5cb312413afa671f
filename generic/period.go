package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Inclusive date range
// =============================================================================

// Period is an inclusive [Start, End] date range.
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Validate rejects a period whose end precedes its start.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return fmt.Errorf("%w: period bounds are required", ErrInvalidInput)
	}
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// BILLING WINDOW - Semimonthly billing unit
// =============================================================================

// WindowHalf identifies which half of the month a window covers.
type WindowHalf string

const (
	FirstHalf  WindowHalf = "first"
	SecondHalf WindowHalf = "second"
)

// BillingWindow is one semimonthly billing period. Start and End are the
// contract; Label is for display only.
type BillingWindow struct {
	Period
	Half  WindowHalf
	Label string
}

// Overlaps reports whether [start, end] intersects the window. A nil end is open-ended.
func (w BillingWindow) Overlaps(start TimePoint, end *TimePoint) bool {
	if start.After(w.End) {
		return false
	}
	return end == nil || !end.Before(w.Start)
}

// Key is the stable string form used in idempotency keys and lock names.
func (w BillingWindow) Key() string {
	return w.Start.String() + "/" + w.End.String()
}

const (
	minYear       = 1
	maxYear       = 9999
	firstHalfLast = 15
)

// ComputeWindows returns the two billing windows of a month:
// [1st, 15th] and [16th, last day of month].
func ComputeWindows(year, month int) (BillingWindow, BillingWindow, error) {
	if month < 1 || month > 12 {
		return BillingWindow{}, BillingWindow{}, fmt.Errorf("%w: %d", ErrInvalidMonth, month)
	}
	if year < minYear || year > maxYear {
		return BillingWindow{}, BillingWindow{}, fmt.Errorf("%w: %d", ErrInvalidYear, year)
	}

	m := time.Month(month)
	monthEnd := EndOfMonth(year, m)
	abbrev := m.String()[:3]

	first := BillingWindow{
		Period: Period{Start: NewTimePoint(year, m, 1), End: NewTimePoint(year, m, firstHalfLast)},
		Half:   FirstHalf,
		Label:  fmt.Sprintf("%s 1-%d, %d", abbrev, firstHalfLast, year),
	}
	second := BillingWindow{
		Period: Period{Start: NewTimePoint(year, m, firstHalfLast+1), End: monthEnd},
		Half:   SecondHalf,
		Label:  fmt.Sprintf("%s %d-%d, %d", abbrev, firstHalfLast+1, monthEnd.Day(), year),
	}
	return first, second, nil
}

// WindowSelector picks which windows of a month a generation run targets.
type WindowSelector string

const (
	SelectFirst  WindowSelector = "first"
	SelectSecond WindowSelector = "second"
	SelectBoth   WindowSelector = "both"
)

// ParseWindowSelector accepts first, second or both; empty means both.
func ParseWindowSelector(s string) (WindowSelector, error) {
	switch WindowSelector(s) {
	case SelectFirst, SelectSecond, SelectBoth:
		return WindowSelector(s), nil
	case "":
		return SelectBoth, nil
	}
	return "", fmt.Errorf("%w: window selector %q", ErrInvalidInput, s)
}

// WindowsFor returns the selected windows of a month in calendar order.
func WindowsFor(year, month int, sel WindowSelector) ([]BillingWindow, error) {
	first, second, err := ComputeWindows(year, month)
	if err != nil {
		return nil, err
	}
	switch sel {
	case SelectFirst:
		return []BillingWindow{first}, nil
	case SelectSecond:
		return []BillingWindow{second}, nil
	case SelectBoth, "":
		return []BillingWindow{first, second}, nil
	}
	return nil, fmt.Errorf("%w: window selector %q", ErrInvalidInput, sel)
}

// WindowContaining returns the billing window that contains date.
func WindowContaining(date TimePoint) BillingWindow {
	first, second, _ := ComputeWindows(date.Year(), int(date.Month()))
	if date.Day() <= firstHalfLast {
		return first
	}
	return second
}
