/*
Package factory provides JSON to Go program conversion.

PURPOSE:
  Converts a JSON benefit-program definition into the Go values the
  engines run on: the eligibility fee schedule, the installment plan per
  benefit, the billing window capacity and the default charge amounts.
  Housing operations can change fees or installment counts without a
  code change.

JSON SCHEMA:
  {
    "name": "Standard staff housing",
    "window_capacity": 1,
    "program_overstay_rule": false,
    "fees": {
      "professional_cleaning": "150",
      "standard_cleaning": "75",
      "disposal": "100",
      "item_removal": "50",
      "per_violation": "25",
      "program_overstay": "100",
      "hr_review_threshold": "150"
    },
    "plans": {
      "security_deposit": {"cadence": "fixed_interval", "interval_days": 14, "installments": 4},
      "flight_agreement": {"cadence": "payroll_anchor", "anchor_days": [7, 22], "installments": 3}
    },
    "default_amounts": {"security_deposit": "500", "bus_card": "50", "transportation": "200"}
  }

DEFAULTS:
  Missing fees, plans or amounts fall back to the standard program, so a
  file only needs the values it changes.

USAGE:
  program, err := factory.ParseProgram(jsonString)
  engine := program.Engine()
  depositSvc.Plans = program.Plans

SEE ALSO:
  - eligibility/rules.go: FeeSchedule
  - deposit/service.go: Plan
*/
package factory

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/housing-benefits/billing"
	"github.com/warp/housing-benefits/deposit"
	"github.com/warp/housing-benefits/eligibility"
	"github.com/warp/housing-benefits/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ProgramJSON is the JSON representation of a benefit program.
type ProgramJSON struct {
	Name                string                     `json:"name"`
	WindowCapacity      int                        `json:"window_capacity,omitempty"`
	ProgramOverstayRule bool                       `json:"program_overstay_rule,omitempty"`
	Fees                *FeesJSON                  `json:"fees,omitempty"`
	Plans               map[string]PlanJSON        `json:"plans,omitempty"`
	DefaultAmounts      map[string]decimal.Decimal `json:"default_amounts,omitempty"`
}

// FeesJSON represents the eligibility fee schedule. Omitted fees keep their defaults.
type FeesJSON struct {
	ProfessionalCleaning *decimal.Decimal `json:"professional_cleaning,omitempty"`
	StandardCleaning     *decimal.Decimal `json:"standard_cleaning,omitempty"`
	Disposal             *decimal.Decimal `json:"disposal,omitempty"`
	ItemRemoval          *decimal.Decimal `json:"item_removal,omitempty"`
	PerViolation         *decimal.Decimal `json:"per_violation,omitempty"`
	ProgramOverstay      *decimal.Decimal `json:"program_overstay,omitempty"`
	HRReviewThreshold    *decimal.Decimal `json:"hr_review_threshold,omitempty"`
}

// PlanJSON represents an installment plan.
type PlanJSON struct {
	Cadence      string `json:"cadence"` // fixed_interval, payroll_anchor
	IntervalDays int    `json:"interval_days,omitempty"`
	AnchorDays   []int  `json:"anchor_days,omitempty"`
	Installments int    `json:"installments"`
}

// =============================================================================
// PROGRAM
// =============================================================================

// Program is the parsed configuration.
type Program struct {
	Name                string
	Fees                eligibility.FeeSchedule
	Plans               map[generic.BenefitType]deposit.Plan
	WindowCapacity      int
	DefaultAmounts      map[generic.BenefitType]generic.Amount
	ProgramOverstayRule bool
}

// DefaultProgram is the standard staff housing program.
func DefaultProgram() *Program {
	return &Program{
		Name:           "Standard staff housing",
		Fees:           eligibility.DefaultFees(),
		Plans:          deposit.DefaultPlans(),
		WindowCapacity: billing.DefaultWindowCapacity,
		DefaultAmounts: map[generic.BenefitType]generic.Amount{
			generic.BenefitSecurityDeposit: generic.MustAmount("500"),
			generic.BenefitBusCard:         generic.MustAmount("50"),
			generic.BenefitTransportation:  generic.MustAmount("200"),
		},
	}
}

// Engine builds the eligibility engine for this program.
func (p *Program) Engine() *eligibility.Engine {
	e := eligibility.NewEngine(p.Fees)
	if p.ProgramOverstayRule {
		e.WithRule(eligibility.ProgramOverstayRule{})
	}
	return e
}

// DefaultAmount returns the configured default charge for a benefit, if any.
func (p *Program) DefaultAmount(b generic.BenefitType) (generic.Amount, bool) {
	a, ok := p.DefaultAmounts[b]
	return a, ok
}

// =============================================================================
// PARSING
// =============================================================================

// ParseProgram parses a JSON program definition.
func ParseProgram(jsonStr string) (*Program, error) {
	var pj ProgramJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, fmt.Errorf("%w: program json: %v", generic.ErrInvalidInput, err)
	}
	return FromJSON(pj)
}

// FromJSON converts a ProgramJSON, filling defaults and validating.
func FromJSON(pj ProgramJSON) (*Program, error) {
	p := DefaultProgram()
	if pj.Name != "" {
		p.Name = pj.Name
	}
	if pj.WindowCapacity < 0 {
		return nil, fmt.Errorf("%w: window_capacity must be positive", generic.ErrInvalidInput)
	}
	if pj.WindowCapacity > 0 {
		p.WindowCapacity = pj.WindowCapacity
	}
	p.ProgramOverstayRule = pj.ProgramOverstayRule

	if pj.Fees != nil {
		applyFees(&p.Fees, *pj.Fees)
	}
	if err := p.Fees.Validate(); err != nil {
		return nil, err
	}

	for name, plj := range pj.Plans {
		b, err := generic.ParseBenefitType(name)
		if err != nil {
			return nil, err
		}
		plan, err := parsePlan(plj)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", name, err)
		}
		p.Plans[b] = plan
	}

	for name, v := range pj.DefaultAmounts {
		b, err := generic.ParseBenefitType(name)
		if err != nil {
			return nil, err
		}
		if v.IsNegative() {
			return nil, fmt.Errorf("%w: default amount for %s", generic.ErrInvalidAmount, name)
		}
		p.DefaultAmounts[b] = generic.NewAmountFromDecimal(v, generic.USD)
	}
	return p, nil
}

func applyFees(fs *eligibility.FeeSchedule, fj FeesJSON) {
	set := func(dst *generic.Amount, v *decimal.Decimal) {
		if v != nil {
			*dst = generic.NewAmountFromDecimal(*v, generic.USD)
		}
	}
	set(&fs.ProfessionalCleaning, fj.ProfessionalCleaning)
	set(&fs.StandardCleaning, fj.StandardCleaning)
	set(&fs.Disposal, fj.Disposal)
	set(&fs.ItemRemoval, fj.ItemRemoval)
	set(&fs.PerViolation, fj.PerViolation)
	set(&fs.ProgramOverstay, fj.ProgramOverstay)
	set(&fs.HRReviewThreshold, fj.HRReviewThreshold)
}

func parsePlan(pj PlanJSON) (deposit.Plan, error) {
	if pj.Installments < 1 {
		return deposit.Plan{}, generic.ErrInvalidInstallmentCount
	}
	switch generic.CadenceType(pj.Cadence) {
	case generic.CadenceFixedInterval:
		days := pj.IntervalDays
		if days == 0 {
			days = generic.BiWeekly.Days
		}
		if days < 0 {
			return deposit.Plan{}, fmt.Errorf("%w: interval_days must be positive", generic.ErrInvalidInput)
		}
		return deposit.Plan{Cadence: generic.FixedInterval{Days: days}, Installments: pj.Installments}, nil
	case generic.CadencePayrollAnchor:
		anchors := pj.AnchorDays
		if len(anchors) == 0 {
			anchors = generic.SemimonthlyPayroll.Anchors
		}
		cadence := generic.PayrollAnchor{Anchors: append([]int(nil), anchors...)}
		if err := cadence.Validate(); err != nil {
			return deposit.Plan{}, err
		}
		return deposit.Plan{Cadence: cadence, Installments: pj.Installments}, nil
	}
	return deposit.Plan{}, fmt.Errorf("%w: unknown cadence %q", generic.ErrInvalidInput, pj.Cadence)
}

// =============================================================================
// SERIALIZATION
// =============================================================================

// ToJSON converts a Program back to its JSON representation.
func ToJSON(p *Program) ProgramJSON {
	dec := func(a generic.Amount) *decimal.Decimal {
		v := a.Value
		return &v
	}
	pj := ProgramJSON{
		Name:                p.Name,
		WindowCapacity:      p.WindowCapacity,
		ProgramOverstayRule: p.ProgramOverstayRule,
		Fees: &FeesJSON{
			ProfessionalCleaning: dec(p.Fees.ProfessionalCleaning),
			StandardCleaning:     dec(p.Fees.StandardCleaning),
			Disposal:             dec(p.Fees.Disposal),
			ItemRemoval:          dec(p.Fees.ItemRemoval),
			PerViolation:         dec(p.Fees.PerViolation),
			ProgramOverstay:      dec(p.Fees.ProgramOverstay),
			HRReviewThreshold:    dec(p.Fees.HRReviewThreshold),
		},
		Plans:          make(map[string]PlanJSON, len(p.Plans)),
		DefaultAmounts: make(map[string]decimal.Decimal, len(p.DefaultAmounts)),
	}
	for b, plan := range p.Plans {
		plj := PlanJSON{Installments: plan.Installments}
		switch c := plan.Cadence.(type) {
		case generic.FixedInterval:
			plj.Cadence = string(generic.CadenceFixedInterval)
			plj.IntervalDays = c.Days
		case generic.PayrollAnchor:
			plj.Cadence = string(generic.CadencePayrollAnchor)
			plj.AnchorDays = append([]int(nil), c.Anchors...)
			sort.Ints(plj.AnchorDays)
		}
		pj.Plans[string(b)] = plj
	}
	for b, a := range p.DefaultAmounts {
		pj.DefaultAmounts[string(b)] = a.Value
	}
	return pj
}

// DefaultProgramJSON returns the standard program as JSON.
func DefaultProgramJSON() string {
	out, _ := json.MarshalIndent(ToJSON(DefaultProgram()), "", "  ")
	return string(out)
}
