/*
Package generic provides the core engine for staff housing benefits.

PURPOSE:
  This package contains the calendar and money primitives shared by every
  benefit engine: semimonthly billing windows, payroll deduction schedules,
  the append-only billing ledger and the persistence contracts. Domain
  packages (billing, deposit, eligibility) build on top of it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A money quantity with a currency unit (e.g., $500.00)
  - Identifiers: Type-safe IDs for assignments, staff, deposits, records
  - Assignment: A staff member's housing/benefit agreement on a room

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal, never float64, for money
  2. Type Safety: Distinct ID types prevent mixing staff/assignment IDs
  3. Immutability: Billing records and audit entries are never edited

USAGE:
  rent := generic.NewAmount(650, generic.USD)
  deposit := generic.MustAmount("500.00")

SEE ALSO:
  - period.go: Billing window calculator
  - schedule.go: Deduction schedule generator
  - store.go: Persistence interfaces
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Money with a currency unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	USD Unit = "USD"
)

// CentTolerance is the largest rounding difference accepted when comparing
// a deduction schedule against its total.
var CentTolerance = decimal.New(1, -2)

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromDecimal(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

// ParseAmount parses a decimal string such as "500.00" into a USD amount.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Amount{Value: d, Unit: USD}, nil
}

// MustAmount is ParseAmount for constants and tests.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Unit: a.unit()} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.unit()} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.unit()} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Unit: a.unit()} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

func (a Amount) Max(b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Cents rounds to two decimal places.
func (a Amount) Cents() Amount { return Amount{Value: a.Value.Round(2), Unit: a.unit()} }

// WithinCent reports whether a and b differ by at most one cent.
func (a Amount) WithinCent(b Amount) bool {
	return a.Value.Sub(b.Value).Abs().LessThanOrEqual(CentTolerance)
}

func (a Amount) String() string { return a.Value.StringFixed(2) }

func (a Amount) unit() Unit {
	if a.Unit == "" {
		return USD
	}
	return a.Unit
}

// Sum adds amounts; an empty slice sums to zero dollars.
func Sum(amounts ...Amount) Amount {
	total := Amount{Value: decimal.Zero, Unit: USD}
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AssignmentID string
type StaffID string
type TenantID string
type PropertyID string
type RoomID string
type DepositID string
type RecordID string
type DecisionID string
type AssessmentID string

// =============================================================================
// ASSIGNMENT - A staff member placed in a room with benefit agreements
// =============================================================================

type AssignmentStatus string

const (
	AssignmentActive     AssignmentStatus = "Active"
	AssignmentPending    AssignmentStatus = "Pending"
	AssignmentExpired    AssignmentStatus = "Expired"
	AssignmentTerminated AssignmentStatus = "Terminated"
)

// Agreements flags which benefits an assignment carries. Zero or more may be set.
type Agreements struct {
	Housing         bool
	Transportation  bool
	FlightAgreement bool
	BusCard         bool
}

// Assignment is owned by the staff-assignment workflow. The engines here
// only read it.
type Assignment struct {
	ID         AssignmentID
	TenantID   TenantID
	StaffID    StaffID // empty when the external staff record is not linked
	PropertyID PropertyID
	RoomID     RoomID

	StartDate TimePoint
	EndDate   *TimePoint // nil = open-ended

	RentAmount      Amount
	TransportAmount Amount
	BusCardAmount   Amount

	Agreements Agreements
	Status     AssignmentStatus
}

// Validate checks the assignment's date invariant.
func (a Assignment) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: assignment id is required", ErrInvalidInput)
	}
	if a.StartDate.IsZero() {
		return fmt.Errorf("assignment %s: %w", a.ID, ErrMissingStartDate)
	}
	if a.EndDate != nil && a.EndDate.Before(a.StartDate) {
		return fmt.Errorf("assignment %s: %w", a.ID, ErrInvalidPeriod)
	}
	switch a.Status {
	case AssignmentActive, AssignmentPending, AssignmentExpired, AssignmentTerminated:
	default:
		return fmt.Errorf("%w: unknown assignment status %q", ErrInvalidInput, a.Status)
	}
	return nil
}

// HasAgreement reports whether the assignment carries the given benefit.
// Security deposits ride on the housing agreement.
func (a Assignment) HasAgreement(b BenefitType) bool {
	switch b {
	case BenefitHousing, BenefitSecurityDeposit:
		return a.Agreements.Housing
	case BenefitTransportation:
		return a.Agreements.Transportation
	case BenefitFlightAgreement:
		return a.Agreements.FlightAgreement
	case BenefitBusCard:
		return a.Agreements.BusCard
	}
	return false
}

// Billable reports whether the assignment's status allows billing. Pending
// assignments have not moved in; expired and terminated ones are still billed
// for windows their dates overlap.
func (a Assignment) Billable() bool {
	return a.Status == AssignmentActive || a.Status == AssignmentExpired || a.Status == AssignmentTerminated
}

// Occupies reports whether the assignment's date range overlaps the period.
func (a Assignment) Occupies(p Period) bool {
	return BillingWindow{Period: p}.Overlaps(a.StartDate, a.EndDate)
}
