package billing

import (
	"fmt"

	"github.com/warp/housing-benefits/generic"
)

// =============================================================================
// GENERATION REPORT
// =============================================================================

// Report summarizes one generation run. Partial success is the normal case:
// duplicates and failures are counted, never fatal.
type Report struct {
	Year    int
	Month   int
	Windows []generic.BillingWindow

	Created            int
	SkippedDuplicate   int
	SkippedNoAmount    int
	SkippedNotBillable int
	Failed             int

	Subtotals map[generic.BenefitType]*Subtotal
	Records   []generic.BillingRecord
	Skips     []Skip
	Failures  []Failure
}

// Subtotal aggregates one benefit type's outcomes across the run's windows.
type Subtotal struct {
	Created            int
	SkippedDuplicate   int
	SkippedNoAmount    int
	SkippedNotBillable int
	Failed             int
	Amount             generic.Amount
}

type SkipReason string

const (
	SkipDuplicate   SkipReason = "duplicate"
	SkipNoAmount    SkipReason = "no_amount"
	SkipNotBillable SkipReason = "not_billable" // queued items held while the assignment is pending
)

type Skip struct {
	Key    generic.BillingKey
	Reason SkipReason
}

// Failure is a per-item resolution failure. AssignmentID is empty when the
// whole (benefit, window) pair could not be processed.
type Failure struct {
	AssignmentID generic.AssignmentID
	Benefit      generic.BenefitType
	Window       generic.BillingWindow
	Err          error
}

func (f Failure) Error() string {
	if f.AssignmentID == "" {
		return fmt.Sprintf("%s %s: %v", f.Benefit, f.Window.Label, f.Err)
	}
	return fmt.Sprintf("%s %s assignment %s: %v", f.Benefit, f.Window.Label, f.AssignmentID, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

func newReport(year, month int, windows []generic.BillingWindow) *Report {
	return &Report{
		Year:      year,
		Month:     month,
		Windows:   windows,
		Subtotals: make(map[generic.BenefitType]*Subtotal),
	}
}

func (r *Report) subtotal(b generic.BenefitType) *Subtotal {
	st, ok := r.Subtotals[b]
	if !ok {
		st = &Subtotal{Amount: generic.Sum()}
		r.Subtotals[b] = st
	}
	return st
}

func (r *Report) created(rec generic.BillingRecord) {
	r.Created++
	st := r.subtotal(rec.Benefit)
	st.Created++
	st.Amount = st.Amount.Add(rec.Amount)
	r.Records = append(r.Records, rec)
}

func (r *Report) skipped(key generic.BillingKey, reason SkipReason) {
	st := r.subtotal(key.Benefit)
	switch reason {
	case SkipDuplicate:
		r.SkippedDuplicate++
		st.SkippedDuplicate++
	case SkipNoAmount:
		r.SkippedNoAmount++
		st.SkippedNoAmount++
	case SkipNotBillable:
		r.SkippedNotBillable++
		st.SkippedNotBillable++
	}
	r.Skips = append(r.Skips, Skip{Key: key, Reason: reason})
}

func (r *Report) failed(f Failure) {
	r.Failed++
	r.subtotal(f.Benefit).Failed++
	r.Failures = append(r.Failures, f)
}

// Total is the amount billed across all benefits in the run.
func (r *Report) Total() generic.Amount {
	total := generic.Sum()
	for _, st := range r.Subtotals {
		total = total.Add(st.Amount)
	}
	return total
}

// =============================================================================
// DELETE REPORT
// =============================================================================

type DeleteReport struct {
	Deleted   int
	Released  int // queue items returned to pending
	ByBenefit map[generic.BenefitType]int
	Records   []generic.BillingRecord
}
