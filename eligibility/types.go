package eligibility

import (
	"fmt"

	"github.com/warp/housing-benefits/generic"
)

// =============================================================================
// ASSESSMENT - Move-out inspection checklist (input)
// =============================================================================

type Assessment struct {
	ID        generic.AssessmentID
	DepositID generic.DepositID

	PropertyDamage DamageCheck
	Cleaning       CleaningCheck
	PersonalItems  ItemsCheck
	HouseRules     RulesCheck
	Residency      ResidencyCheck
	Program        ProgramCheck

	InspectorID    string
	InspectionDate generic.TimePoint
	Notes          string
}

type DamageCheck struct {
	HasDamage     bool
	Description   string
	EstimatedCost generic.Amount
}

type CleaningCheck struct {
	CleanedProperly              bool
	Issues                       []string
	RequiresProfessionalCleaning bool
}

type ItemsCheck struct {
	AllItemsRemoved  bool
	ItemsLeft        []string
	DisposalRequired bool
}

type RulesCheck struct {
	RulesFollowed bool
	Violations    []string
}

type ResidencyCheck struct {
	StayedUntilEndDate   bool
	ActualDepartureDate  *generic.TimePoint
	EarlyDepartureReason string
	CompanyRelocation    bool
	HRReviewRequested    bool
}

// ProgramCheck covers program-based staff whose stay is bounded by an
// external program document rather than the assignment end date.
type ProgramCheck struct {
	InProgram      bool
	ProgramEndDate *generic.TimePoint
}

// Compliant returns a checklist with every check passing.
func Compliant(id generic.AssessmentID) Assessment {
	return Assessment{
		ID:            id,
		Cleaning:      CleaningCheck{CleanedProperly: true},
		PersonalItems: ItemsCheck{AllItemsRemoved: true},
		HouseRules:    RulesCheck{RulesFollowed: true},
		Residency:     ResidencyCheck{StayedUntilEndDate: true},
	}
}

func (a Assessment) Validate() error {
	if a.PropertyDamage.HasDamage && a.PropertyDamage.EstimatedCost.IsNegative() {
		return fmt.Errorf("%w: estimated damage cost %s", generic.ErrInvalidAmount, a.PropertyDamage.EstimatedCost)
	}
	if a.Program.InProgram && a.Program.ProgramEndDate == nil {
		return fmt.Errorf("%w: program staff need a program end date", generic.ErrInvalidInput)
	}
	return nil
}

// EarlyDeparture reports whether the occupant left before the agreed end date.
func (a Assessment) EarlyDeparture() bool {
	return !a.Residency.StayedUntilEndDate
}

// =============================================================================
// RESULT (output)
// =============================================================================

type Recommendation string

const (
	FullRefund    Recommendation = "Full Refund"
	PartialRefund Recommendation = "Partial Refund"
	NoRefund      Recommendation = "No Refund"
)

// Deduction is one itemized charge against the deposit.
type Deduction struct {
	Reason string
	Amount generic.Amount
}

// Check is one rule's outcome.
type Check struct {
	Rule      string
	Passed    bool
	Reason    string
	Deduction *Deduction
	HRReview  bool // the rule itself asks for review
}

type Result struct {
	IsEligible       bool
	Recommendation   Recommendation
	DepositTotal     generic.Amount
	RefundAmount     generic.Amount
	TotalDeductions  generic.Amount
	Deductions       []Deduction
	Reasons          []string
	RequiresHRReview bool
	Checks           []Check
	EvaluatedAt      generic.TimePoint
}

// Decision maps the recommendation onto the stored decision outcome.
func (r Result) Decision() generic.DecisionOutcome {
	switch r.Recommendation {
	case FullRefund:
		return generic.DecisionApproved
	case PartialRefund:
		return generic.DecisionPartial
	}
	return generic.DecisionDenied
}
