/*
store.go - Persistence interfaces for the benefit engines

PURPOSE:
  Defines the boundary between the engines and the database. The engines
  never talk SQL; they read assignments, append billing records, drain the
  pending-deduction queue and append audit entries through these contracts.

KEY INTERFACES:
  AssignmentStore: Staff/room assignments (read by the orchestrator)
  BillingStore:    Billing records keyed by (assignment, benefit, window)
  PendingQueue:    FIFO of scheduled installments awaiting billing
  DepositStore:    Security deposits and their schedules
  GenerationStore: BillingStore + PendingQueue + DepositStore with transactions
  DecisionStore:   Refund decisions and their append-only audit trail

UNIQUENESS CONTRACT:
  AppendBilling MUST reject a second record with the same BillingKey with
  ErrDuplicateBilling. The orchestrator's existence check is an
  optimization; the store's key is what makes concurrent runs safe.

ATOMIC CLAIMS:
  Claim marks items claimed in the same operation that selects them, so
  two runs can never draw the same installment. Inside WithTx the claim
  and the billing insert commit or roll back together.

DEPOSIT WRITES:
  A deposit's schedule and its queued installments change in one WithTx.
  A revision that re-checks for claimed items inside the transaction can
  not interleave with a billing run's claim.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite with UNIQUE index on the billing key
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Idempotent append on top of BillingStore
  - billing/orchestrator.go: Main consumer
*/
package generic

import "context"

// AssignmentFilter narrows assignment listings. Zero values match everything.
type AssignmentFilter struct {
	Benefit BenefitType // only assignments carrying this agreement
	Overlap *Period     // only assignments whose dates overlap
}

type AssignmentStore interface {
	SaveAssignment(ctx context.Context, a Assignment) error
	GetAssignment(ctx context.Context, id AssignmentID) (*Assignment, error)
	ListAssignments(ctx context.Context, filter AssignmentFilter) ([]Assignment, error)
}

// BillingStore persists billing records. Records are never updated.
type BillingStore interface {
	BillingExists(ctx context.Context, key BillingKey) (bool, error)

	// AppendBilling fails with ErrDuplicateBilling if the key exists.
	AppendBilling(ctx context.Context, rec BillingRecord) error

	ListBilling(ctx context.Context, filter BillingFilter) ([]BillingRecord, error)

	// DeleteBilling removes the records matching filter and returns them.
	DeleteBilling(ctx context.Context, filter BillingFilter) ([]BillingRecord, error)
}

type PendingQueue interface {
	Enqueue(ctx context.Context, items []PendingDeduction) error

	// DueAssignments lists assignments with open items scheduled on or before dueBy.
	DueAssignments(ctx context.Context, benefit BenefitType, dueBy TimePoint) ([]AssignmentID, error)

	// Claim atomically marks up to req.Limit open items claimed and returns them.
	Claim(ctx context.Context, req ClaimRequest) ([]PendingDeduction, error)

	// Release returns items claimed under claimKey to the open state.
	Release(ctx context.Context, claimKey string) (int, error)

	// CancelOpen cancels a deposit's unclaimed items.
	CancelOpen(ctx context.Context, deposit DepositID) (int, error)

	ListPending(ctx context.Context, deposit DepositID) ([]PendingDeduction, error)
}

// GenerationTx is the view available inside a transaction.
type GenerationTx interface {
	BillingStore
	PendingQueue
	DepositStore
}

// GenerationStore runs claim-then-insert and deposit-then-queue sequences atomically.
type GenerationStore interface {
	GenerationTx

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	WithTx(ctx context.Context, fn func(GenerationTx) error) error
}

type DepositStore interface {
	SaveDeposit(ctx context.Context, d SecurityDeposit) error
	GetDeposit(ctx context.Context, id DepositID) (*SecurityDeposit, error)
	ListDeposits(ctx context.Context, assignment AssignmentID) ([]SecurityDeposit, error)
}

// DecisionStore keeps refund decisions. The audit trail is append-only:
// there is no update or delete.
type DecisionStore interface {
	// SaveDecision stores a new decision with its initial audit entries.
	// Fails with ErrDuplicateDecision if the assessment already has one.
	SaveDecision(ctx context.Context, d RefundDecision) error

	GetDecision(ctx context.Context, id DecisionID) (*RefundDecision, error)

	AppendAudit(ctx context.Context, entry AuditEntry) error

	// AuditTrail returns entries in append order.
	AuditTrail(ctx context.Context, id DecisionID) ([]AuditEntry, error)
}
