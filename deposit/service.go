/*
Package deposit manages security deposits and prepaid benefit charges.

PURPOSE:
  A deposit is a total amount recovered through payroll installments. This
  package builds the installment schedule from the benefit's Plan, keeps it
  in sync with the pending-deduction queue the billing orchestrator drains,
  and records payroll confirmations.

LIFECYCLE:
  Initialize   -> schedule generated, installments enqueued (payroll only)
  Revise       -> total/start changed: schedule discarded and rebuilt
  MarkDeducted -> payroll confirmed one installment
  Skip         -> payroll skipped one installment
  all settled  -> PaymentStatus = paid

REGENERATION:
  A revision replaces the whole schedule. Once payroll has confirmed any
  installment, or billing has drawn any queued installment, the schedule is
  locked (ErrScheduleLocked).

CONSISTENCY:
  Every write reads the deposit, checks it, and saves schedule and queue in
  one store transaction. Billing claims run in the same kind of transaction,
  so a revision either sees a claim and fails, or replaces the queue before
  billing can draw from it.

SEE ALSO:
  - generic/schedule.go: GenerateSchedule and cadences
  - billing/orchestrator.go: Drains the queue this package fills
*/
package deposit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/housing-benefits/generic"
)

// =============================================================================
// PLANS - How each benefit's total is split
// =============================================================================

// Plan is the installment rule for one benefit type.
type Plan struct {
	Cadence      generic.Cadence
	Installments int
}

// DefaultPlans returns the standard plans: security deposits come out of the
// first four paychecks, flight agreements over three payroll anchors, bus
// cards in one.
func DefaultPlans() map[generic.BenefitType]Plan {
	return map[generic.BenefitType]Plan{
		generic.BenefitSecurityDeposit: {Cadence: generic.BiWeekly, Installments: 4},
		generic.BenefitFlightAgreement: {Cadence: generic.SemimonthlyPayroll, Installments: 3},
		generic.BenefitBusCard:         {Cadence: generic.SemimonthlyPayroll, Installments: 1},
	}
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Store       generic.GenerationStore
	Assignments generic.AssignmentStore
	Plans       map[generic.BenefitType]Plan

	Logger *zap.Logger
	Now    func() time.Time
}

func NewService(store generic.GenerationStore, assignments generic.AssignmentStore) *Service {
	return &Service{
		Store:       store,
		Assignments: assignments,
		Plans:       DefaultPlans(),
		Logger:      zap.NewNop(),
		Now:         time.Now,
	}
}

type InitializeRequest struct {
	AssignmentID  generic.AssignmentID
	Benefit       generic.BenefitType
	TotalAmount   generic.Amount
	StartDate     generic.TimePoint // zero = assignment start date
	PaymentMethod generic.PaymentMethod
	Notes         string
}

// Initialize creates a deposit with its schedule. Payroll-deducted deposits
// for queue-sourced benefits are enqueued for billing.
func (s *Service) Initialize(ctx context.Context, req InitializeRequest) (*generic.SecurityDeposit, error) {
	if req.TotalAmount.IsNegative() {
		return nil, fmt.Errorf("%w: deposit total %s", generic.ErrInvalidAmount, req.TotalAmount)
	}
	plan, err := s.plan(req.Benefit)
	if err != nil {
		return nil, err
	}
	method := req.PaymentMethod
	if method == "" {
		method = generic.PaymentPayroll
	}
	switch method {
	case generic.PaymentPayroll, generic.PaymentCash, generic.PaymentCheck:
	default:
		return nil, fmt.Errorf("%w: payment method %q", generic.ErrInvalidInput, method)
	}

	a, err := s.Assignments.GetAssignment(ctx, req.AssignmentID)
	if err != nil {
		return nil, err
	}
	if !a.HasAgreement(req.Benefit) {
		return nil, fmt.Errorf("%w: assignment %s has no %s agreement", generic.ErrInvalidInput, a.ID, req.Benefit)
	}

	start := req.StartDate
	if start.IsZero() {
		start = a.StartDate
	}
	if start.IsZero() {
		return nil, generic.ErrMissingStartDate
	}

	now := s.now()
	d := generic.SecurityDeposit{
		ID:            generic.DepositID(uuid.NewString()),
		AssignmentID:  a.ID,
		StaffID:       a.StaffID,
		Benefit:       req.Benefit,
		TotalAmount:   req.TotalAmount,
		PaymentMethod: method,
		PaymentStatus: generic.PaymentPending,
		StartDate:     start,
		Notes:         req.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if method == generic.PaymentPayroll {
		d.Deductions, err = generic.GenerateSchedule(d.TotalAmount, start, plan.Installments, plan.Cadence)
		if err != nil {
			return nil, err
		}
	}

	err = s.Store.WithTx(ctx, func(tx generic.GenerationTx) error {
		if err := tx.SaveDeposit(ctx, d); err != nil {
			return fmt.Errorf("save deposit: %w", err)
		}
		return enqueue(ctx, tx, d)
	})
	if err != nil {
		return nil, err
	}

	s.logger().Info("deposit initialized",
		zap.String("deposit_id", string(d.ID)),
		zap.String("assignment_id", string(d.AssignmentID)),
		zap.String("benefit", string(d.Benefit)),
		zap.String("total", d.TotalAmount.String()),
		zap.Int("installments", len(d.Deductions)))
	return &d, nil
}

// ReviseRequest changes a deposit. Nil fields are left as they are.
type ReviseRequest struct {
	TotalAmount *generic.Amount
	StartDate   *generic.TimePoint
	Notes       *string
}

// Revise applies changes. A changed total or start date rebuilds the whole
// schedule and replaces the deposit's queued installments.
func (s *Service) Revise(ctx context.Context, id generic.DepositID, req ReviseRequest) (*generic.SecurityDeposit, error) {
	var (
		d           *generic.SecurityDeposit
		regenerated bool
		cancelled   int
	)
	err := s.Store.WithTx(ctx, func(tx generic.GenerationTx) error {
		var err error
		d, err = tx.GetDeposit(ctx, id)
		if err != nil {
			return err
		}
		if req.Notes != nil {
			d.Notes = *req.Notes
		}

		regenerate := false
		if req.TotalAmount != nil && !req.TotalAmount.Equal(d.TotalAmount) {
			if req.TotalAmount.IsNegative() {
				return fmt.Errorf("%w: deposit total %s", generic.ErrInvalidAmount, *req.TotalAmount)
			}
			d.TotalAmount = *req.TotalAmount
			regenerate = true
		}
		if req.StartDate != nil && !req.StartDate.Equal(d.StartDate) {
			if req.StartDate.IsZero() {
				return generic.ErrMissingStartDate
			}
			d.StartDate = *req.StartDate
			regenerate = true
		}

		if regenerate && d.PaymentMethod == generic.PaymentPayroll {
			if err := ensureUnlocked(ctx, tx, d); err != nil {
				return err
			}
			plan, err := s.plan(d.Benefit)
			if err != nil {
				return err
			}
			d.Deductions, err = generic.GenerateSchedule(d.TotalAmount, d.StartDate, plan.Installments, plan.Cadence)
			if err != nil {
				return err
			}
			cancelled, err = tx.CancelOpen(ctx, d.ID)
			if err != nil {
				return fmt.Errorf("cancel queued installments: %w", err)
			}
			if err := enqueue(ctx, tx, *d); err != nil {
				return err
			}
			regenerated = true
		}

		d.UpdatedAt = s.now()
		if err := tx.SaveDeposit(ctx, *d); err != nil {
			return fmt.Errorf("save deposit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if regenerated {
		s.logger().Info("deposit schedule regenerated",
			zap.String("deposit_id", string(d.ID)),
			zap.String("total", d.TotalAmount.String()),
			zap.Int("cancelled", cancelled),
			zap.Int("installments", len(d.Deductions)))
	}
	return d, nil
}

// ensureUnlocked must run in the transaction that replaces the queue.
func ensureUnlocked(ctx context.Context, tx generic.GenerationTx, d *generic.SecurityDeposit) error {
	for _, ded := range d.Deductions {
		if ded.Status == generic.DeductionDeducted {
			return fmt.Errorf("deposit %s installment %d: %w", d.ID, ded.Sequence, generic.ErrScheduleLocked)
		}
	}
	items, err := tx.ListPending(ctx, d.ID)
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.Status == generic.PendingClaimed {
			return fmt.Errorf("deposit %s installment %d already billed: %w", d.ID, it.Sequence, generic.ErrScheduleLocked)
		}
	}
	return nil
}

// MarkDeducted records payroll's confirmation of one installment.
func (s *Service) MarkDeducted(ctx context.Context, id generic.DepositID, sequence int, at generic.TimePoint) (*generic.SecurityDeposit, error) {
	return s.transition(ctx, id, sequence, generic.DeductionDeducted, at)
}

// Skip records that payroll did not take an installment.
func (s *Service) Skip(ctx context.Context, id generic.DepositID, sequence int) (*generic.SecurityDeposit, error) {
	return s.transition(ctx, id, sequence, generic.DeductionSkipped, generic.TimePoint{})
}

// MarkPaid settles a cash or check deposit.
func (s *Service) MarkPaid(ctx context.Context, id generic.DepositID, paid generic.TimePoint) (*generic.SecurityDeposit, error) {
	var d *generic.SecurityDeposit
	err := s.Store.WithTx(ctx, func(tx generic.GenerationTx) error {
		var err error
		d, err = tx.GetDeposit(ctx, id)
		if err != nil {
			return err
		}
		if d.PaymentMethod == generic.PaymentPayroll {
			return fmt.Errorf("%w: payroll deposits are settled by their installments", generic.ErrInvalidTransition)
		}
		if d.PaymentStatus == generic.PaymentPaid {
			return fmt.Errorf("%w: deposit %s already paid", generic.ErrInvalidTransition, id)
		}
		if paid.IsZero() {
			paid = generic.DateOf(s.now())
		}
		d.PaymentStatus = generic.PaymentPaid
		d.PaidDate = &paid
		d.UpdatedAt = s.now()
		if err := tx.SaveDeposit(ctx, *d); err != nil {
			return fmt.Errorf("save deposit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) transition(ctx context.Context, id generic.DepositID, sequence int, to generic.DeductionStatus, at generic.TimePoint) (*generic.SecurityDeposit, error) {
	var (
		d       *generic.SecurityDeposit
		settled bool
	)
	err := s.Store.WithTx(ctx, func(tx generic.GenerationTx) error {
		var err error
		d, err = tx.GetDeposit(ctx, id)
		if err != nil {
			return err
		}
		idx := -1
		for i, ded := range d.Deductions {
			if ded.Sequence == sequence {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("deposit %s installment %d: %w", id, sequence, generic.ErrDeductionNotFound)
		}
		ded := &d.Deductions[idx]
		if ded.Status != generic.DeductionScheduled {
			return fmt.Errorf("%w: installment %d is %s", generic.ErrInvalidTransition, sequence, ded.Status)
		}

		ded.Status = to
		if to == generic.DeductionDeducted {
			if at.IsZero() {
				at = generic.DateOf(s.now())
			}
			ded.DeductedAt = &at
		}

		settled = true
		var last *generic.TimePoint
		for _, x := range d.Deductions {
			if x.Status == generic.DeductionScheduled {
				settled = false
			}
			if x.DeductedAt != nil && (last == nil || x.DeductedAt.After(*last)) {
				last = x.DeductedAt
			}
		}
		if settled {
			d.PaymentStatus = generic.PaymentPaid
			d.PaidDate = last
		}
		d.UpdatedAt = s.now()

		if err := tx.SaveDeposit(ctx, *d); err != nil {
			return fmt.Errorf("save deposit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger().Info("installment settled",
		zap.String("deposit_id", string(id)),
		zap.Int("sequence", sequence),
		zap.String("status", string(to)),
		zap.Bool("paid", settled))
	return d, nil
}

func enqueue(ctx context.Context, queue generic.PendingQueue, d generic.SecurityDeposit) error {
	if d.PaymentMethod != generic.PaymentPayroll || len(d.Deductions) == 0 {
		return nil
	}
	desc, err := generic.LookupBenefit(d.Benefit)
	if err != nil {
		return err
	}
	if desc.Source != generic.SourceQueue {
		return nil
	}
	items := make([]generic.PendingDeduction, len(d.Deductions))
	for i, ded := range d.Deductions {
		items[i] = generic.PendingDeduction{
			ID:            uuid.NewString(),
			DepositID:     d.ID,
			AssignmentID:  d.AssignmentID,
			StaffID:       d.StaffID,
			Benefit:       d.Benefit,
			Sequence:      ded.Sequence,
			ScheduledDate: ded.ScheduledDate,
			Amount:        ded.Amount,
			Status:        generic.PendingOpen,
		}
	}
	if err := queue.Enqueue(ctx, items); err != nil {
		return fmt.Errorf("enqueue installments: %w", err)
	}
	return nil
}

func (s *Service) plan(b generic.BenefitType) (Plan, error) {
	plan, ok := s.Plans[b]
	if !ok {
		return Plan{}, fmt.Errorf("%w: no installment plan for %q", generic.ErrUnknownBenefit, b)
	}
	if plan.Installments < 1 {
		return Plan{}, generic.ErrInvalidInstallmentCount
	}
	return plan, nil
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
