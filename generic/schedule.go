package generic

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DEDUCTION - One payroll installment recovering a deposit or prepaid benefit
// =============================================================================

type DeductionStatus string

const (
	DeductionScheduled DeductionStatus = "scheduled"
	DeductionDeducted  DeductionStatus = "deducted"
	DeductionSkipped   DeductionStatus = "skipped"
)

type Deduction struct {
	Sequence      int // 1-based, contiguous
	ScheduledDate TimePoint
	Amount        Amount
	Status        DeductionStatus
	DeductedAt    *TimePoint
}

// =============================================================================
// CADENCE - Where installments land on the calendar
// =============================================================================

type CadenceType string

const (
	CadenceFixedInterval CadenceType = "fixed_interval"
	CadencePayrollAnchor CadenceType = "payroll_anchor"
)

// Cadence generates installment dates.
type Cadence interface {
	// Dates returns count strictly increasing dates for a schedule starting at start.
	Dates(start TimePoint, count int) []TimePoint
	Type() CadenceType
}

// FixedInterval places installment i (1-based) at start + Days*i.
type FixedInterval struct {
	Days int
}

// BiWeekly is the standard security deposit cadence.
var BiWeekly = FixedInterval{Days: 14}

func (f FixedInterval) Type() CadenceType { return CadenceFixedInterval }

func (f FixedInterval) Dates(start TimePoint, count int) []TimePoint {
	interval := f.Days
	if interval <= 0 {
		interval = BiWeekly.Days
	}
	dates := make([]TimePoint, count)
	for i := range dates {
		dates[i] = start.AddDays(interval * (i + 1))
	}
	return dates
}

// PayrollAnchor places installments on fixed days of the month, alternating
// through the anchors: 7th -> 22nd -> 7th of next month for the default.
type PayrollAnchor struct {
	Anchors []int
}

// SemimonthlyPayroll anchors on the 7th and 22nd.
var SemimonthlyPayroll = PayrollAnchor{Anchors: []int{7, 22}}

func (p PayrollAnchor) Type() CadenceType { return CadencePayrollAnchor }

// Validate requires anchors in 1-28 so every month has them.
func (p PayrollAnchor) Validate() error {
	if len(p.Anchors) == 0 {
		return fmt.Errorf("%w: payroll anchor cadence needs at least one anchor day", ErrInvalidInput)
	}
	for _, a := range p.Anchors {
		if a < 1 || a > 28 {
			return fmt.Errorf("%w: anchor day %d must be between 1 and 28", ErrInvalidInput, a)
		}
	}
	return nil
}

func (p PayrollAnchor) Dates(start TimePoint, count int) []TimePoint {
	anchors := p.sortedAnchors()
	dates := make([]TimePoint, 0, count)

	// First installment: nearest anchor on/after start.
	idx := sort.SearchInts(anchors, start.Day())
	month := start.WithDay(1)
	if idx == len(anchors) {
		idx = 0
		month = month.FirstOfNextMonth()
	}

	for len(dates) < count {
		dates = append(dates, month.WithDay(anchors[idx]))
		idx++
		if idx == len(anchors) {
			idx = 0
			month = month.FirstOfNextMonth()
		}
	}
	return dates
}

func (p PayrollAnchor) sortedAnchors() []int {
	if len(p.Anchors) == 0 {
		return SemimonthlyPayroll.Anchors
	}
	anchors := append([]int(nil), p.Anchors...)
	sort.Ints(anchors)
	return anchors
}

// =============================================================================
// SCHEDULE GENERATOR
// =============================================================================

// GenerateSchedule splits total into count installments on the cadence's dates.
//
// Each installment is total/count rounded to cents; the last installment
// absorbs the residual so the schedule sums to total exactly. A non-positive
// total or a zero start date yields an empty schedule: nothing to deduct yet.
func GenerateSchedule(total Amount, start TimePoint, count int, cadence Cadence) ([]Deduction, error) {
	if !total.IsPositive() || start.IsZero() {
		return nil, nil
	}
	if count < 1 {
		return nil, ErrInvalidInstallmentCount
	}
	if cadence == nil {
		return nil, fmt.Errorf("%w: cadence is required", ErrInvalidInput)
	}
	if pa, ok := cadence.(PayrollAnchor); ok {
		if err := pa.Validate(); err != nil {
			return nil, err
		}
	}

	amounts := splitAmount(total, count)
	dates := cadence.Dates(start, count)

	schedule := make([]Deduction, count)
	for i := range schedule {
		schedule[i] = Deduction{
			Sequence:      i + 1,
			ScheduledDate: dates[i],
			Amount:        amounts[i],
			Status:        DeductionScheduled,
		}
	}

	if sum := ScheduleTotal(schedule); !sum.WithinCent(total) {
		panic(&ScheduleInvariantError{Total: total, Sum: sum, Count: count})
	}
	return schedule, nil
}

func splitAmount(total Amount, count int) []Amount {
	n := decimal.NewFromInt(int64(count))
	rest := decimal.NewFromInt(int64(count - 1))

	per := total.Value.Div(n).Round(2)
	// Rounding up on tiny totals can leave nothing for the last installment.
	if per.Mul(rest).GreaterThan(total.Value) {
		per = total.Value.Div(n).Truncate(2)
	}

	amounts := make([]Amount, count)
	for i := 0; i < count-1; i++ {
		amounts[i] = Amount{Value: per, Unit: total.unit()}
	}
	amounts[count-1] = Amount{Value: total.Value.Sub(per.Mul(rest)), Unit: total.unit()}
	return amounts
}

// ScheduleTotal sums installment amounts regardless of status.
func ScheduleTotal(schedule []Deduction) Amount {
	total := Sum()
	for _, d := range schedule {
		total = total.Add(d.Amount)
	}
	return total
}
