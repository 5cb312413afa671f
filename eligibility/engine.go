/*
Package eligibility decides security deposit refunds from a move-out checklist.

PURPOSE:
  The Engine folds an ordered list of independent Rules over one
  Assessment. Every rule runs; none short-circuits another. Each failing
  rule contributes an itemized deduction and marks the deposit ineligible.

AGGREGATION:
  refund          = max(0, deposit total - sum of deductions)
  recommendation  = Full Refund    if refund == total
                    Partial Refund if 0 < refund < total
                    No Refund      if refund == 0

HR REVIEW (advisory, never blocks the decision):
  - the inspector asked for it
  - early departure with a recorded reason
  - a rule asked for it (program overstay)
  - aggregate deductions above FeeSchedule.HRReviewThreshold

EXTENDING:
  New staff categories or checks are new Rule or Exemption values. The
  engine has no knowledge of specific rules.

SEE ALSO:
  - rules.go: Rule implementations and the fee schedule
  - service.go: Persists decisions with their audit trail
*/
package eligibility

import (
	"fmt"
	"time"

	"github.com/warp/housing-benefits/generic"
)

type Engine struct {
	Rules []Rule
	Fees  FeeSchedule
	Now   func() time.Time
}

func NewEngine(fees FeeSchedule) *Engine {
	return &Engine{Rules: DefaultRules(), Fees: fees, Now: time.Now}
}

// WithRule appends an opt-in rule such as ProgramOverstayRule.
func (e *Engine) WithRule(r Rule) *Engine {
	e.Rules = append(e.Rules, r)
	return e
}

// Evaluate runs every rule against the assessment. The evaluation date is
// at if set, else the inspection date, else today.
func (e *Engine) Evaluate(total generic.Amount, a Assessment, at generic.TimePoint) (Result, error) {
	if total.IsNegative() {
		return Result{}, fmt.Errorf("%w: deposit total %s", generic.ErrInvalidAmount, total)
	}
	if err := a.Validate(); err != nil {
		return Result{}, err
	}

	if at.IsZero() {
		at = a.InspectionDate
	}
	if at.IsZero() {
		at = generic.DateOf(e.now())
	}

	in := Input{DepositTotal: total, Assessment: a, EvaluatedAt: at, Fees: e.Fees}
	res := Result{
		IsEligible:      true,
		DepositTotal:    total,
		TotalDeductions: generic.Sum(),
		EvaluatedAt:     at,
	}

	for _, rule := range e.Rules {
		c := rule.Evaluate(in)
		res.Checks = append(res.Checks, c)
		res.Reasons = append(res.Reasons, c.Reason)
		if c.HRReview {
			res.RequiresHRReview = true
		}
		if c.Passed {
			continue
		}
		res.IsEligible = false
		if c.Deduction != nil && c.Deduction.Amount.IsPositive() {
			res.Deductions = append(res.Deductions, *c.Deduction)
			res.TotalDeductions = res.TotalDeductions.Add(c.Deduction.Amount)
		}
	}

	res.RefundAmount = total.Sub(res.TotalDeductions).Max(total.Zero())
	switch {
	case res.RefundAmount.Equal(total):
		res.Recommendation = FullRefund
	case res.RefundAmount.IsPositive():
		res.Recommendation = PartialRefund
	default:
		res.Recommendation = NoRefund
	}

	if a.Residency.HRReviewRequested ||
		(a.EarlyDeparture() && a.Residency.EarlyDepartureReason != "") ||
		res.TotalDeductions.GreaterThan(e.Fees.HRReviewThreshold) {
		res.RequiresHRReview = true
	}
	return res, nil
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}
