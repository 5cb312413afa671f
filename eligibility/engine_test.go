package eligibility_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/housing-benefits/eligibility"
	"github.com/warp/housing-benefits/generic"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(year int, month time.Month, day int) generic.TimePoint {
	return generic.NewTimePoint(year, month, day)
}

func ptr(tp generic.TimePoint) *generic.TimePoint { return &tp }

func usd(s string) generic.Amount { return generic.MustAmount(s) }

func newEngine() *eligibility.Engine {
	e := eligibility.NewEngine(eligibility.DefaultFees())
	e.Now = func() time.Time { return time.Date(2025, time.June, 30, 12, 0, 0, 0, time.UTC) }
	return e
}

func inspected(a eligibility.Assessment) eligibility.Assessment {
	a.InspectorID = "inspector-1"
	a.InspectionDate = date(2025, time.June, 30)
	return a
}

func earlyDeparture(a eligibility.Assessment) eligibility.Assessment {
	a.Residency.StayedUntilEndDate = false
	a.Residency.ActualDepartureDate = ptr(date(2025, time.June, 15))
	return a
}

// =============================================================================
// RECOMMENDATIONS
// =============================================================================

func TestEvaluate_FullyCompliant_FullRefund(t *testing.T) {
	// GIVEN: No damage, clean, items removed, rules followed, stayed to the end
	// THEN: Full Refund of the whole deposit, no deductions

	res, err := newEngine().Evaluate(usd("500"), inspected(eligibility.Compliant("as-1")), generic.TimePoint{})
	require.NoError(t, err)

	assert.True(t, res.IsEligible)
	assert.Equal(t, eligibility.FullRefund, res.Recommendation)
	assert.True(t, res.RefundAmount.Equal(usd("500")))
	assert.Empty(t, res.Deductions)
	assert.False(t, res.RequiresHRReview)
	assert.Len(t, res.Checks, 5)
	assert.Equal(t, generic.DecisionApproved, res.Decision())
}

func TestEvaluate_WorkedExample_PartialWithHRReview(t *testing.T) {
	// GIVEN: $500 deposit, $100 damage, standard cleaning failure ($75)
	// THEN: Refund $325, Partial Refund, HR review required

	a := inspected(eligibility.Compliant("as-1"))
	a.PropertyDamage = eligibility.DamageCheck{HasDamage: true, Description: "hole in wall", EstimatedCost: usd("100")}
	a.Cleaning = eligibility.CleaningCheck{CleanedProperly: false, Issues: []string{"kitchen"}}

	res, err := newEngine().Evaluate(usd("500"), a, generic.TimePoint{})
	require.NoError(t, err)

	assert.False(t, res.IsEligible)
	assert.Equal(t, eligibility.PartialRefund, res.Recommendation)
	assert.Equal(t, "325.00", res.RefundAmount.String())
	assert.Equal(t, "175.00", res.TotalDeductions.String())
	require.Len(t, res.Deductions, 2)
	assert.Equal(t, "Property damage", res.Deductions[0].Reason)
	assert.Equal(t, "Cleaning required", res.Deductions[1].Reason)
	assert.True(t, res.RequiresHRReview)
	assert.Equal(t, generic.DecisionPartial, res.Decision())
}

func TestEvaluate_EarlyDeparture_NoRefundEvenIfAllElsePasses(t *testing.T) {
	a := earlyDeparture(inspected(eligibility.Compliant("as-1")))

	res, err := newEngine().Evaluate(usd("500"), a, generic.TimePoint{})
	require.NoError(t, err)

	assert.False(t, res.IsEligible)
	assert.Equal(t, eligibility.NoRefund, res.Recommendation)
	assert.True(t, res.RefundAmount.IsZero())
	require.Len(t, res.Deductions, 1)
	assert.Equal(t, "500.00", res.Deductions[0].Amount.String())
	assert.Equal(t, generic.DecisionDenied, res.Decision())
}

func TestEvaluate_EarlyDeparture_OtherDeductionsStillListed(t *testing.T) {
	// GIVEN: Early departure plus a dirty unit
	// THEN: Both deductions itemized; refund floors at zero

	a := earlyDeparture(inspected(eligibility.Compliant("as-1")))
	a.Cleaning.CleanedProperly = false
	a.Cleaning.RequiresProfessionalCleaning = true

	res, err := newEngine().Evaluate(usd("500"), a, generic.TimePoint{})
	require.NoError(t, err)

	assert.Len(t, res.Deductions, 2)
	assert.Equal(t, "650.00", res.TotalDeductions.String())
	assert.True(t, res.RefundAmount.IsZero())
	assert.Equal(t, eligibility.NoRefund, res.Recommendation)
}

func TestEvaluate_CompanyRelocation_ExcusesEarlyDeparture(t *testing.T) {
	a := earlyDeparture(inspected(eligibility.Compliant("as-1")))
	a.Residency.CompanyRelocation = true

	res, err := newEngine().Evaluate(usd("500"), a, generic.TimePoint{})
	require.NoError(t, err)

	assert.True(t, res.IsEligible)
	assert.Equal(t, eligibility.FullRefund, res.Recommendation)
	assert.Contains(t, res.Reasons, "Company relocation noted - does not affect deposit eligibility")
}

func TestEvaluate_ProgramEnded_ExemptFromForfeiture(t *testing.T) {
	// GIVEN: Program staff, program ended June 1, assessed June 30
	// WHEN: Departure is nominally early
	// THEN: Not forfeited

	a := earlyDeparture(inspected(eligibility.Compliant("as-1")))
	a.Program = eligibility.ProgramCheck{InProgram: true, ProgramEndDate: ptr(date(2025, time.June, 1))}

	res, err := newEngine().Evaluate(usd("500"), a, generic.TimePoint{})
	require.NoError(t, err)

	assert.True(t, res.IsEligible)
	assert.Equal(t, eligibility.FullRefund, res.Recommendation)
	assert.True(t, res.RefundAmount.Equal(usd("500")))
}

func TestEvaluate_ProgramNotYetEnded_Forfeits(t *testing.T) {
	a := earlyDeparture(inspected(eligibility.Compliant("as-1")))
	a.Program = eligibility.ProgramCheck{InProgram: true, ProgramEndDate: ptr(date(2025, time.August, 31))}

	res, err := newEngine().Evaluate(usd("500"), a, generic.TimePoint{})
	require.NoError(t, err)
	assert.Equal(t, eligibility.NoRefund, res.Recommendation)
}

func TestEvaluate_ProgramEndsOnEvaluationDay_NotYetPassed(t *testing.T) {
	a := earlyDeparture(inspected(eligibility.Compliant("as-1")))
	a.Program = eligibility.ProgramCheck{InProgram: true, ProgramEndDate: ptr(date(2025, time.June, 30))}

	res, err := newEngine().Evaluate(usd("500"), a, generic.TimePoint{})
	require.NoError(t, err)
	assert.Equal(t, eligibility.NoRefund, res.Recommendation)
}

// =============================================================================
// INDIVIDUAL RULES
// =============================================================================

func TestEvaluate_DamageCappedAtDepositTotal(t *testing.T) {
	a := inspected(eligibility.Compliant("as-1"))
	a.PropertyDamage = eligibility.DamageCheck{HasDamage: true, EstimatedCost: usd("800")}

	res, err := newEngine().Evaluate(usd("500"), a, generic.TimePoint{})
	require.NoError(t, err)
	require.Len(t, res.Deductions, 1)
	assert.Equal(t, "500.00", res.Deductions[0].Amount.String())
	assert.Equal(t, eligibility.NoRefund, res.Recommendation)
}

func TestEvaluate_FlatFees(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*eligibility.Assessment)
		want   string
	}{
		{"professional cleaning", func(a *eligibility.Assessment) {
			a.Cleaning = eligibility.CleaningCheck{RequiresProfessionalCleaning: true}
		}, "150.00"},
		{"standard cleaning", func(a *eligibility.Assessment) {
			a.Cleaning = eligibility.CleaningCheck{}
		}, "75.00"},
		{"disposal", func(a *eligibility.Assessment) {
			a.PersonalItems = eligibility.ItemsCheck{ItemsLeft: []string{"sofa"}, DisposalRequired: true}
		}, "100.00"},
		{"items left", func(a *eligibility.Assessment) {
			a.PersonalItems = eligibility.ItemsCheck{ItemsLeft: []string{"shoes"}}
		}, "50.00"},
		{"three violations", func(a *eligibility.Assessment) {
			a.HouseRules = eligibility.RulesCheck{Violations: []string{"noise", "guests", "smoking"}}
		}, "75.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := inspected(eligibility.Compliant("as-1"))
			tt.modify(&a)

			res, err := newEngine().Evaluate(usd("500"), a, generic.TimePoint{})
			require.NoError(t, err)
			assert.False(t, res.IsEligible)
			require.Len(t, res.Deductions, 1)
			assert.Equal(t, tt.want, res.Deductions[0].Amount.String())
		})
	}
}

func TestEvaluate_RulesNotFollowedWithoutListedViolations(t *testing.T) {
	// GIVEN: House rules marked not followed but no violation listed
	// WHEN: Evaluated
	// THEN: Nothing to count, so the resident stays eligible for a full refund

	a := inspected(eligibility.Compliant("as-1"))
	a.HouseRules.RulesFollowed = false

	res, err := newEngine().Evaluate(usd("500"), a, generic.TimePoint{})
	require.NoError(t, err)
	assert.True(t, res.IsEligible)
	assert.Empty(t, res.Deductions)
	assert.Equal(t, eligibility.FullRefund, res.Recommendation)
	assert.Equal(t, "500.00", res.RefundAmount.String())
}

// =============================================================================
// HR REVIEW
// =============================================================================

func TestEvaluate_HRReviewTriggers(t *testing.T) {
	t.Run("explicit flag", func(t *testing.T) {
		a := inspected(eligibility.Compliant("as-1"))
		a.Residency.HRReviewRequested = true
		res, err := newEngine().Evaluate(usd("500"), a, generic.TimePoint{})
		require.NoError(t, err)
		assert.True(t, res.RequiresHRReview)
		assert.Equal(t, eligibility.FullRefund, res.Recommendation, "review does not block the decision")
	})

	t.Run("early departure with reason", func(t *testing.T) {
		a := earlyDeparture(inspected(eligibility.Compliant("as-1")))
		a.Residency.CompanyRelocation = true
		a.Residency.EarlyDepartureReason = "transferred to another resort"
		res, err := newEngine().Evaluate(usd("500"), a, generic.TimePoint{})
		require.NoError(t, err)
		assert.True(t, res.RequiresHRReview)
	})

	t.Run("deductions at threshold", func(t *testing.T) {
		a := inspected(eligibility.Compliant("as-1"))
		a.Cleaning = eligibility.CleaningCheck{RequiresProfessionalCleaning: true}
		res, err := newEngine().Evaluate(usd("500"), a, generic.TimePoint{})
		require.NoError(t, err)
		assert.False(t, res.RequiresHRReview, "150 is not above the threshold")
	})

	t.Run("custom threshold", func(t *testing.T) {
		fees := eligibility.DefaultFees()
		fees.HRReviewThreshold = usd("200")
		e := eligibility.NewEngine(fees)
		a := inspected(eligibility.Compliant("as-1"))
		a.PropertyDamage = eligibility.DamageCheck{HasDamage: true, EstimatedCost: usd("100")}
		a.Cleaning = eligibility.CleaningCheck{}
		res, err := e.Evaluate(usd("500"), a, generic.TimePoint{})
		require.NoError(t, err)
		assert.False(t, res.RequiresHRReview)
	})
}

// =============================================================================
// OPT-IN RULES & VALIDATION
// =============================================================================

func TestEvaluate_ProgramOverstay(t *testing.T) {
	// GIVEN: Program ended June 1, staff left June 20
	// THEN: $100 program violation and HR review

	e := newEngine().WithRule(eligibility.ProgramOverstayRule{})
	a := inspected(eligibility.Compliant("as-1"))
	a.Residency.ActualDepartureDate = ptr(date(2025, time.June, 20))
	a.Program = eligibility.ProgramCheck{InProgram: true, ProgramEndDate: ptr(date(2025, time.June, 1))}

	res, err := e.Evaluate(usd("500"), a, generic.TimePoint{})
	require.NoError(t, err)

	assert.Equal(t, "400.00", res.RefundAmount.String())
	assert.True(t, res.RequiresHRReview)
	assert.Len(t, res.Checks, 6)
}

func TestEvaluate_EvaluationDateFallsBackToClock(t *testing.T) {
	// GIVEN: No inspection date; engine clock June 30
	a := earlyDeparture(eligibility.Compliant("as-1"))
	a.Program = eligibility.ProgramCheck{InProgram: true, ProgramEndDate: ptr(date(2025, time.June, 1))}

	res, err := newEngine().Evaluate(usd("500"), a, generic.TimePoint{})
	require.NoError(t, err)
	assert.True(t, res.EvaluatedAt.Equal(date(2025, time.June, 30)))
	assert.Equal(t, eligibility.FullRefund, res.Recommendation)
}

func TestEvaluate_InvalidInput(t *testing.T) {
	_, err := newEngine().Evaluate(usd("-1"), eligibility.Compliant("as-1"), generic.TimePoint{})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	a := eligibility.Compliant("as-1")
	a.Program.InProgram = true
	_, err = newEngine().Evaluate(usd("500"), a, generic.TimePoint{})
	assert.True(t, generic.IsClientError(err))
}
