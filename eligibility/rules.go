package eligibility

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/housing-benefits/generic"
)

// =============================================================================
// FEE SCHEDULE
// =============================================================================

// FeeSchedule holds the flat charges used by the checklist rules.
type FeeSchedule struct {
	ProfessionalCleaning generic.Amount
	StandardCleaning     generic.Amount
	Disposal             generic.Amount
	ItemRemoval          generic.Amount
	PerViolation         generic.Amount
	ProgramOverstay      generic.Amount

	// Aggregate deductions above this route the decision to HR.
	HRReviewThreshold generic.Amount
}

func DefaultFees() FeeSchedule {
	return FeeSchedule{
		ProfessionalCleaning: generic.MustAmount("150"),
		StandardCleaning:     generic.MustAmount("75"),
		Disposal:             generic.MustAmount("100"),
		ItemRemoval:          generic.MustAmount("50"),
		PerViolation:         generic.MustAmount("25"),
		ProgramOverstay:      generic.MustAmount("100"),
		HRReviewThreshold:    generic.MustAmount("150"),
	}
}

// Validate rejects negative fees.
func (f FeeSchedule) Validate() error {
	for name, a := range map[string]generic.Amount{
		"professional_cleaning": f.ProfessionalCleaning,
		"standard_cleaning":     f.StandardCleaning,
		"disposal":              f.Disposal,
		"item_removal":          f.ItemRemoval,
		"per_violation":         f.PerViolation,
		"program_overstay":      f.ProgramOverstay,
		"hr_review_threshold":   f.HRReviewThreshold,
	} {
		if a.IsNegative() {
			return fmt.Errorf("%w: fee %s is negative", generic.ErrInvalidAmount, name)
		}
	}
	return nil
}

// =============================================================================
// RULES - Independent checklist evaluators
// =============================================================================

// Input is what every rule sees.
type Input struct {
	DepositTotal generic.Amount
	Assessment   Assessment
	EvaluatedAt  generic.TimePoint
	Fees         FeeSchedule
}

// Rule evaluates one checklist item. Rules never see each other's results.
type Rule interface {
	Name() string
	Evaluate(in Input) Check
}

func pass(rule, reason string) Check {
	return Check{Rule: rule, Passed: true, Reason: reason}
}

func fail(rule, reason, label string, amount generic.Amount) Check {
	return Check{
		Rule:      rule,
		Reason:    fmt.Sprintf("%s - $%s", reason, amount),
		Deduction: &Deduction{Reason: label, Amount: amount},
	}
}

type DamageRule struct{}

func (DamageRule) Name() string { return "property_damage" }

func (r DamageRule) Evaluate(in Input) Check {
	d := in.Assessment.PropertyDamage
	if !d.HasDamage {
		return pass(r.Name(), "No property damage detected")
	}
	amount := d.EstimatedCost.Min(in.DepositTotal)
	reason := "Property damage"
	if d.Description != "" {
		reason += ": " + d.Description
	}
	return fail(r.Name(), reason, "Property damage", amount)
}

type CleaningRule struct{}

func (CleaningRule) Name() string { return "cleaning" }

func (r CleaningRule) Evaluate(in Input) Check {
	c := in.Assessment.Cleaning
	if c.CleanedProperly {
		return pass(r.Name(), "Unit cleaned to check-in condition")
	}
	fee := in.Fees.StandardCleaning
	if c.RequiresProfessionalCleaning {
		fee = in.Fees.ProfessionalCleaning
	}
	return fail(r.Name(), withList("Unit not cleaned properly", c.Issues), "Cleaning required", fee)
}

type PersonalItemsRule struct{}

func (PersonalItemsRule) Name() string { return "personal_items" }

func (r PersonalItemsRule) Evaluate(in Input) Check {
	p := in.Assessment.PersonalItems
	if p.AllItemsRemoved {
		return pass(r.Name(), "All personal items removed")
	}
	fee := in.Fees.ItemRemoval
	if p.DisposalRequired {
		fee = in.Fees.Disposal
	}
	return fail(r.Name(), withList("Personal items left behind", p.ItemsLeft), "Item disposal", fee)
}

type HouseRulesRule struct{}

func (HouseRulesRule) Name() string { return "house_rules" }

func (r HouseRulesRule) Evaluate(in Input) Check {
	h := in.Assessment.HouseRules
	if len(h.Violations) == 0 {
		if !h.RulesFollowed {
			return pass(r.Name(), "House rules marked not followed, no violations listed")
		}
		return pass(r.Name(), "House rules followed")
	}
	penalty := in.Fees.PerViolation.Mul(decimal.NewFromInt(int64(len(h.Violations))))
	return fail(r.Name(), withList("House rules violations", h.Violations), "House rules violations", penalty)
}

// ResidencyRule forfeits the whole deposit on early departure unless an
// exemption excuses it. The forfeiture is this rule's deduction only; the
// other rules' deductions still stand.
type ResidencyRule struct {
	Exemptions []Exemption
}

func (ResidencyRule) Name() string { return "residency" }

func (r ResidencyRule) Evaluate(in Input) Check {
	if !in.Assessment.EarlyDeparture() {
		return pass(r.Name(), "Stayed until agreed end date")
	}
	for _, ex := range r.Exemptions {
		if ok, reason := ex.Excuses(in); ok {
			return pass(r.Name(), reason)
		}
	}
	return fail(r.Name(), "Early departure - deposit non-refundable", "Early departure - non-refundable", in.DepositTotal)
}

// Exemption excuses an early departure.
type Exemption interface {
	Name() string
	Excuses(in Input) (bool, string)
}

// CompanyRelocation excuses departures the employer initiated.
type CompanyRelocation struct{}

func (CompanyRelocation) Name() string { return "company_relocation" }

func (CompanyRelocation) Excuses(in Input) (bool, string) {
	if in.Assessment.Residency.CompanyRelocation {
		return true, "Company relocation noted - does not affect deposit eligibility"
	}
	return false, ""
}

// ProgramEnded excuses program staff whose program end date is already past
// at evaluation time.
type ProgramEnded struct{}

func (ProgramEnded) Name() string { return "program_ended" }

func (ProgramEnded) Excuses(in Input) (bool, string) {
	p := in.Assessment.Program
	if !p.InProgram || p.ProgramEndDate == nil {
		return false, ""
	}
	if p.ProgramEndDate.Before(in.EvaluatedAt) {
		return true, fmt.Sprintf("Program ended %s - departure authorized", p.ProgramEndDate)
	}
	return false, ""
}

// ProgramOverstayRule charges program staff who left after their program end
// date and sends the decision to HR.
type ProgramOverstayRule struct{}

func (ProgramOverstayRule) Name() string { return "program_overstay" }

func (r ProgramOverstayRule) Evaluate(in Input) Check {
	a := in.Assessment
	if !a.Program.InProgram || a.Program.ProgramEndDate == nil {
		return pass(r.Name(), "Not program staff")
	}
	departed := in.EvaluatedAt
	if a.Residency.ActualDepartureDate != nil {
		departed = *a.Residency.ActualDepartureDate
	}
	if !departed.After(*a.Program.ProgramEndDate) {
		return pass(r.Name(), "Program end date respected")
	}
	c := fail(r.Name(), "Departed after program end date - program violation", "Program violation", in.Fees.ProgramOverstay)
	c.HRReview = true
	return c
}

// DefaultRules is the standard checklist, in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		DamageRule{},
		CleaningRule{},
		PersonalItemsRule{},
		HouseRulesRule{},
		ResidencyRule{Exemptions: []Exemption{CompanyRelocation{}, ProgramEnded{}}},
	}
}

func withList(reason string, items []string) string {
	if len(items) == 0 {
		return reason
	}
	return reason + " (" + strings.Join(items, ", ") + ")"
}
