/*
errors.go - Centralized error types for the benefit engines

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Validation errors - bad month, missing start date, negative amount.
     Rejected immediately, nothing is written.
  2. Resolution errors - an assignment cannot be resolved to an amount.
     Batch operations record them per item and continue.
  3. Duplicates - a billing key already has a record. Reported as a skip.
  4. Consistency - a schedule that does not sum to its total. This is a
     defect and panics with ScheduleInvariantError.

USAGE:
  if errors.Is(err, generic.ErrDuplicateBilling) {
      report.SkippedDuplicate++
  }

SEE ALSO:
  - ledger.go: Uses ErrDuplicateBilling
  - schedule.go: Raises ScheduleInvariantError
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is the umbrella for malformed caller input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidMonth is returned for a month outside 1-12.
	ErrInvalidMonth = fmt.Errorf("%w: month must be between 1 and 12", ErrInvalidInput)

	// ErrInvalidYear is returned for a year outside 1-9999.
	ErrInvalidYear = fmt.Errorf("%w: year out of range", ErrInvalidInput)

	// ErrInvalidAmount is returned for unparsable or negative money amounts.
	ErrInvalidAmount = fmt.Errorf("%w: invalid amount", ErrInvalidInput)

	// ErrMissingStartDate is returned when a schedule or assignment has no start date.
	ErrMissingStartDate = fmt.Errorf("%w: start date is required", ErrInvalidInput)

	// ErrInvalidInstallmentCount is returned when fewer than one installment is requested.
	ErrInvalidInstallmentCount = fmt.Errorf("%w: installment count must be at least 1", ErrInvalidInput)

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = fmt.Errorf("%w: end before start", ErrInvalidInput)

	// ErrUnknownBenefit is returned for a benefit type with no registered descriptor.
	ErrUnknownBenefit = fmt.Errorf("%w: unknown benefit type", ErrInvalidInput)

	// ErrDuplicateBilling is returned when a billing record already exists for
	// the same (assignment, benefit type, window) key.
	ErrDuplicateBilling = errors.New("duplicate billing record")

	// ErrDuplicateDecision is returned when an assessment already has a refund decision.
	ErrDuplicateDecision = errors.New("refund decision already recorded for assessment")

	// ErrNotFound is the umbrella for missing records.
	ErrNotFound = errors.New("not found")

	ErrAssignmentNotFound = fmt.Errorf("assignment %w", ErrNotFound)
	ErrDepositNotFound    = fmt.Errorf("deposit %w", ErrNotFound)
	ErrDecisionNotFound   = fmt.Errorf("decision %w", ErrNotFound)
	ErrDeductionNotFound  = fmt.Errorf("deduction %w", ErrNotFound)

	// ErrStaffNotLinked is a resolution failure: the assignment has no staff record.
	ErrStaffNotLinked = errors.New("assignment has no linked staff record")

	// ErrScheduleLocked is returned when regenerating a schedule that already
	// has confirmed payroll deductions.
	ErrScheduleLocked = errors.New("schedule has deducted installments")

	// ErrInvalidTransition is returned for an illegal deduction status change.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrGenerationInProgress is returned when another process holds the
	// generation lock for the same benefit type and window.
	ErrGenerationInProgress = errors.New("billing generation already in progress")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DuplicateBillingError names the key that already has a record.
type DuplicateBillingError struct {
	Key BillingKey
}

func (e *DuplicateBillingError) Error() string {
	return fmt.Sprintf("billing record exists for %s", e.Key)
}

func (e *DuplicateBillingError) Unwrap() error { return ErrDuplicateBilling }

// ScheduleInvariantError is raised (via panic) when a generated schedule
// does not sum to its total.
type ScheduleInvariantError struct {
	Total Amount
	Sum   Amount
	Count int
}

func (e *ScheduleInvariantError) Error() string {
	return fmt.Sprintf("deduction schedule invariant violated: %d installments sum to %s, total %s",
		e.Count, e.Sum, e.Total)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsConflict returns true if the error reports existing or locked state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateBilling) ||
		errors.Is(err, ErrDuplicateDecision) ||
		errors.Is(err, ErrScheduleLocked) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrGenerationInProgress)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
