package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// BILLING RECORD - One charge for one assignment, benefit and window
// =============================================================================

// BillingKey identifies at most one billing record.
type BillingKey struct {
	AssignmentID AssignmentID
	Benefit      BenefitType
	WindowStart  TimePoint
	WindowEnd    TimePoint
}

func (k BillingKey) String() string {
	return fmt.Sprintf("%s/%s/%s..%s", k.AssignmentID, k.Benefit, k.WindowStart, k.WindowEnd)
}

// BillingRecord is created only by the orchestrator and never mutated.
type BillingRecord struct {
	ID           RecordID
	AssignmentID AssignmentID
	StaffID      StaffID
	TenantID     TenantID
	PropertyID   PropertyID
	Benefit      BenefitType
	Window       BillingWindow
	Amount       Amount

	// Queue items drawn into this record (SourceQueue benefits only).
	ClaimedDeductionIDs []string

	GeneratedAt time.Time
	GeneratedBy string
}

func (r BillingRecord) Key() BillingKey {
	return BillingKey{
		AssignmentID: r.AssignmentID,
		Benefit:      r.Benefit,
		WindowStart:  r.Window.Start,
		WindowEnd:    r.Window.End,
	}
}

// BillingFilter selects records whose window lies within [From, To].
// Empty Benefits matches every benefit type.
type BillingFilter struct {
	From         TimePoint
	To           TimePoint
	Benefits     []BenefitType
	AssignmentID AssignmentID
}

func (f BillingFilter) Matches(r BillingRecord) bool {
	if !f.From.IsZero() && r.Window.Start.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Window.End.After(f.To) {
		return false
	}
	if f.AssignmentID != "" && r.AssignmentID != f.AssignmentID {
		return false
	}
	return f.matchesBenefit(r.Benefit)
}

func (f BillingFilter) matchesBenefit(b BenefitType) bool {
	if len(f.Benefits) == 0 {
		return true
	}
	for _, fb := range f.Benefits {
		if fb == b {
			return true
		}
	}
	return false
}

// =============================================================================
// PENDING DEDUCTION - Queue item drained by the orchestrator
// =============================================================================

type PendingStatus string

const (
	PendingOpen      PendingStatus = "pending"
	PendingClaimed   PendingStatus = "claimed"
	PendingCancelled PendingStatus = "cancelled"
)

type PendingDeduction struct {
	ID            string
	DepositID     DepositID
	AssignmentID  AssignmentID
	StaffID       StaffID
	Benefit       BenefitType
	Sequence      int
	ScheduledDate TimePoint
	Amount        Amount
	Status        PendingStatus
	ClaimKey      string // billing key that drew this item
}

// ClaimRequest draws up to Limit due items for one assignment and benefit,
// oldest first.
type ClaimRequest struct {
	Benefit      BenefitType
	AssignmentID AssignmentID
	DueBy        TimePoint
	Limit        int
	ClaimKey     string
}

// =============================================================================
// SECURITY DEPOSIT - Generalized benefit charge with an installment schedule
// =============================================================================

type PaymentMethod string

const (
	PaymentPayroll PaymentMethod = "payroll_deduction"
	PaymentCash    PaymentMethod = "cash"
	PaymentCheck   PaymentMethod = "check"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

type SecurityDeposit struct {
	ID            DepositID
	AssignmentID  AssignmentID
	StaffID       StaffID
	Benefit       BenefitType
	TotalAmount   Amount
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	PaidDate      *TimePoint
	StartDate     TimePoint
	Notes         string
	Deductions    []Deduction
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Deducted sums installments confirmed by payroll.
func (d SecurityDeposit) Deducted() Amount {
	total := Sum()
	for _, ded := range d.Deductions {
		if ded.Status == DeductionDeducted {
			total = total.Add(ded.Amount)
		}
	}
	return total
}

// Remaining is the total minus confirmed deductions.
func (d SecurityDeposit) Remaining() Amount {
	return d.TotalAmount.Sub(d.Deducted())
}

// =============================================================================
// REFUND DECISION & AUDIT TRAIL
// =============================================================================

type DecisionOutcome string

const (
	DecisionApproved DecisionOutcome = "Approved"
	DecisionDenied   DecisionOutcome = "Denied"
	DecisionPartial  DecisionOutcome = "Partial"
)

type RefundDecision struct {
	ID               DecisionID
	DepositID        DepositID
	AssessmentID     AssessmentID
	Decision         DecisionOutcome
	Amount           Amount
	Reasons          []string
	RequiresHRReview bool
	ApprovedBy       string
	ApprovedAt       time.Time
	Audit            []AuditEntry
}

type AuditAction string

const (
	AuditEligibilityChecked AuditAction = "Eligibility Check Performed"
	AuditDecisionCreated    AuditAction = "Refund Decision Created"
	AuditReportGenerated    AuditAction = "Report Generated"
	AuditNotificationSent   AuditAction = "Notification Sent"
	AuditHRReviewCompleted  AuditAction = "HR Review Completed"
	AuditNoteAdded          AuditAction = "Note Added"
)

// AuditEntry is immutable once appended.
type AuditEntry struct {
	ID         string
	DecisionID DecisionID
	Action     AuditAction
	Actor      string
	Timestamp  time.Time
	Details    string
}
