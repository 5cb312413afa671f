/*
Package billing turns assignments and queued installments into billing records.

PURPOSE:
  The Orchestrator is the batch process behind "generate billing for
  January 2025". For each selected window and benefit type it resolves an
  amount per assignment and appends one record through the BillingLedger.

AMOUNT SOURCES (see generic/benefit.go):
  SourceAssignment: housing, transportation, bus card. Flat per-window charge
                    read from the assignment; non-positive amounts are skipped.
  SourceQueue:      security deposit, flight agreement. Due installments are
                    claimed FIFO up to WindowCapacity and billed as one record.

IDEMPOTENCY:
  Key = (assignment, benefit type, window start, window end). The
  orchestrator checks before inserting and reports a skip; the store's
  unique key catches concurrent runs. Queue claims and the insert share one
  transaction, so a duplicate insert puts the claimed items back.

PARTIAL FAILURE:
  A missing staff link or a store error for one assignment is a Failure in
  the report. The batch keeps going.

LOCKING:
  An optional Locker (store/redislock) serializes runs for the same benefit
  and window across processes. It reduces wasted work; it is not what keeps
  the ledger duplicate-free.

SEE ALSO:
  - generic/ledger.go: Idempotent append
  - generic/period.go: Window calculator
  - deposit/service.go: Fills the queue
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/housing-benefits/generic"
)

// DefaultWindowCapacity is how many queued installments one window bills
// per assignment.
const DefaultWindowCapacity = 1

// Locker guards a (benefit, window) generation across processes.
type Locker interface {
	// Acquire returns ErrGenerationInProgress if the key is held elsewhere.
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

type Orchestrator struct {
	Assignments generic.AssignmentStore
	Store       generic.GenerationStore
	Locker      Locker // optional

	WindowCapacity int
	Logger         *zap.Logger
	Now            func() time.Time
}

func NewOrchestrator(assignments generic.AssignmentStore, store generic.GenerationStore) *Orchestrator {
	return &Orchestrator{
		Assignments:    assignments,
		Store:          store,
		WindowCapacity: DefaultWindowCapacity,
		Logger:         zap.NewNop(),
		Now:            time.Now,
	}
}

// Request selects what to generate. Empty Benefits means every registered type.
type Request struct {
	Year     int
	Month    int
	Period   generic.WindowSelector
	Benefits []generic.BenefitType
	Actor    string
}

// =============================================================================
// GENERATE
// =============================================================================

// Generate bills the selected windows. Invalid input is returned as an error
// before anything is written; everything after that lands in the Report.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Report, error) {
	windows, err := generic.WindowsFor(req.Year, req.Month, req.Period)
	if err != nil {
		return nil, err
	}
	benefits, err := resolveBenefits(req.Benefits)
	if err != nil {
		return nil, err
	}

	report := newReport(req.Year, req.Month, windows)
	for _, w := range windows {
		for _, desc := range benefits {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			o.generateLocked(ctx, req, w, desc, report)
		}
	}

	o.logger().Info("billing generated",
		zap.Int("year", req.Year),
		zap.Int("month", req.Month),
		zap.String("period", string(req.Period)),
		zap.Int("created", report.Created),
		zap.Int("skipped_duplicate", report.SkippedDuplicate),
		zap.Int("skipped_no_amount", report.SkippedNoAmount),
		zap.Int("skipped_not_billable", report.SkippedNotBillable),
		zap.Int("failed", report.Failed),
		zap.String("total", report.Total().String()))
	return report, nil
}

func (o *Orchestrator) generateLocked(ctx context.Context, req Request, w generic.BillingWindow, desc generic.Descriptor, report *Report) {
	if o.Locker != nil {
		release, err := o.Locker.Acquire(ctx, lockKey(desc.Type, w))
		if err != nil {
			o.fail(report, Failure{Benefit: desc.Type, Window: w, Err: err})
			return
		}
		defer func() {
			if err := release(ctx); err != nil {
				o.logger().Warn("release generation lock", zap.Error(err))
			}
		}()
	}

	switch desc.Source {
	case generic.SourceAssignment:
		o.generateFlat(ctx, req, w, desc, report)
	case generic.SourceQueue:
		o.drainQueue(ctx, req, w, desc, report)
	default:
		o.fail(report, Failure{Benefit: desc.Type, Window: w,
			Err: fmt.Errorf("unsupported amount source %q", desc.Source)})
	}
}

func lockKey(b generic.BenefitType, w generic.BillingWindow) string {
	return "billing:" + string(b) + ":" + w.Key()
}

// generateFlat emits one record per billable assignment overlapping the window.
func (o *Orchestrator) generateFlat(ctx context.Context, req Request, w generic.BillingWindow, desc generic.Descriptor, report *Report) {
	overlap := w.Period
	assignments, err := o.Assignments.ListAssignments(ctx, generic.AssignmentFilter{
		Benefit: desc.Type,
		Overlap: &overlap,
	})
	if err != nil {
		o.fail(report, Failure{Benefit: desc.Type, Window: w, Err: fmt.Errorf("list assignments: %w", err)})
		return
	}

	ledger := generic.NewBillingLedger(o.Store)
	for _, a := range assignments {
		if !a.Billable() || !w.Overlaps(a.StartDate, a.EndDate) {
			continue
		}
		key := keyFor(a.ID, desc.Type, w)

		if a.StaffID == "" {
			o.fail(report, Failure{AssignmentID: a.ID, Benefit: desc.Type, Window: w, Err: generic.ErrStaffNotLinked})
			continue
		}
		amount := desc.AssignmentAmount(a)
		if !amount.IsPositive() {
			report.skipped(key, SkipNoAmount)
			continue
		}

		exists, err := ledger.Exists(ctx, key)
		if err != nil {
			o.fail(report, Failure{AssignmentID: a.ID, Benefit: desc.Type, Window: w, Err: err})
			continue
		}
		if exists {
			report.skipped(key, SkipDuplicate)
			continue
		}

		rec := o.newRecord(req, a, desc.Type, w, amount, nil)
		if err := ledger.Append(ctx, rec); err != nil {
			if errors.Is(err, generic.ErrDuplicateBilling) {
				report.skipped(key, SkipDuplicate)
				continue
			}
			o.fail(report, Failure{AssignmentID: a.ID, Benefit: desc.Type, Window: w, Err: err})
			continue
		}
		report.created(rec)
	}
}

// errNothingClaimed aborts a claim transaction that found no due items.
var errNothingClaimed = errors.New("nothing claimed")

// drainQueue bills due installments, one record per assignment and window.
// Assignments already billed for the window are reported as duplicates even
// when their queue holds nothing else due.
func (o *Orchestrator) drainQueue(ctx context.Context, req Request, w generic.BillingWindow, desc generic.Descriptor, report *Report) {
	existing, err := o.Store.ListBilling(ctx, generic.BillingFilter{
		From:     w.Start,
		To:       w.End,
		Benefits: []generic.BenefitType{desc.Type},
	})
	if err != nil {
		o.fail(report, Failure{Benefit: desc.Type, Window: w, Err: fmt.Errorf("list window records: %w", err)})
		return
	}
	billed := make(map[generic.AssignmentID]bool, len(existing))
	for _, rec := range existing {
		if billed[rec.AssignmentID] {
			continue
		}
		billed[rec.AssignmentID] = true
		report.skipped(keyFor(rec.AssignmentID, desc.Type, w), SkipDuplicate)
	}

	due, err := o.Store.DueAssignments(ctx, desc.Type, w.End)
	if err != nil {
		o.fail(report, Failure{Benefit: desc.Type, Window: w, Err: fmt.Errorf("scan queue: %w", err)})
		return
	}

	capacity := o.WindowCapacity
	if capacity < 1 {
		capacity = DefaultWindowCapacity
	}

	for _, id := range due {
		if billed[id] {
			continue
		}
		key := keyFor(id, desc.Type, w)

		a, err := o.Assignments.GetAssignment(ctx, id)
		if err != nil {
			o.fail(report, Failure{AssignmentID: id, Benefit: desc.Type, Window: w, Err: err})
			continue
		}
		if !a.Billable() {
			report.skipped(key, SkipNotBillable)
			continue
		}
		if a.StaffID == "" {
			o.fail(report, Failure{AssignmentID: id, Benefit: desc.Type, Window: w, Err: generic.ErrStaffNotLinked})
			continue
		}

		exists, err := o.Store.BillingExists(ctx, key)
		if err != nil {
			o.fail(report, Failure{AssignmentID: id, Benefit: desc.Type, Window: w, Err: err})
			continue
		}
		if exists {
			report.skipped(key, SkipDuplicate)
			continue
		}

		var rec generic.BillingRecord
		err = o.Store.WithTx(ctx, func(tx generic.GenerationTx) error {
			claimed, err := tx.Claim(ctx, generic.ClaimRequest{
				Benefit:      desc.Type,
				AssignmentID: id,
				DueBy:        w.End,
				Limit:        capacity,
				ClaimKey:     key.String(),
			})
			if err != nil {
				return fmt.Errorf("claim installments: %w", err)
			}
			if len(claimed) == 0 {
				return errNothingClaimed
			}

			amount := generic.Sum()
			ids := make([]string, len(claimed))
			for i, c := range claimed {
				amount = amount.Add(c.Amount)
				ids[i] = c.ID
			}
			rec = o.newRecord(req, *a, desc.Type, w, amount, ids)
			return generic.NewBillingLedger(tx).Append(ctx, rec)
		})

		switch {
		case err == nil:
			report.created(rec)
		case errors.Is(err, errNothingClaimed):
			// drained by a concurrent run between scan and claim
		case errors.Is(err, generic.ErrDuplicateBilling):
			report.skipped(key, SkipDuplicate)
		default:
			o.fail(report, Failure{AssignmentID: id, Benefit: desc.Type, Window: w, Err: err})
		}
	}
}

func (o *Orchestrator) newRecord(req Request, a generic.Assignment, b generic.BenefitType, w generic.BillingWindow, amount generic.Amount, claimed []string) generic.BillingRecord {
	return generic.BillingRecord{
		ID:                  generic.RecordID(uuid.NewString()),
		AssignmentID:        a.ID,
		StaffID:             a.StaffID,
		TenantID:            a.TenantID,
		PropertyID:          a.PropertyID,
		Benefit:             b,
		Window:              w,
		Amount:              amount.Cents(),
		ClaimedDeductionIDs: claimed,
		GeneratedAt:         o.now().UTC(),
		GeneratedBy:         req.Actor,
	}
}

func (o *Orchestrator) fail(report *Report, f Failure) {
	report.failed(f)
	o.logger().Warn("billing item failed",
		zap.String("benefit", string(f.Benefit)),
		zap.String("window", f.Window.Label),
		zap.String("assignment_id", string(f.AssignmentID)),
		zap.Error(f.Err))
}

// =============================================================================
// DELETE PERIOD
// =============================================================================

// DeleteRequest removes records whose window lies within [From, To].
type DeleteRequest struct {
	From     generic.TimePoint
	To       generic.TimePoint
	Benefits []generic.BenefitType
	Actor    string
}

// DeletePeriod removes exactly the matching records and returns the queue
// items they drew to pending, so a later run re-bills them.
func (o *Orchestrator) DeletePeriod(ctx context.Context, req DeleteRequest) (*DeleteReport, error) {
	if err := (generic.Period{Start: req.From, End: req.To}).Validate(); err != nil {
		return nil, err
	}
	if _, err := resolveBenefits(req.Benefits); err != nil {
		return nil, err
	}

	report := &DeleteReport{ByBenefit: make(map[generic.BenefitType]int)}
	err := o.Store.WithTx(ctx, func(tx generic.GenerationTx) error {
		deleted, err := tx.DeleteBilling(ctx, generic.BillingFilter{
			From:     req.From,
			To:       req.To,
			Benefits: req.Benefits,
		})
		if err != nil {
			return fmt.Errorf("delete billing: %w", err)
		}
		for _, rec := range deleted {
			if len(rec.ClaimedDeductionIDs) > 0 {
				n, err := tx.Release(ctx, rec.Key().String())
				if err != nil {
					return fmt.Errorf("release claims for %s: %w", rec.Key(), err)
				}
				report.Released += n
			}
			report.ByBenefit[rec.Benefit]++
		}
		report.Deleted = len(deleted)
		report.Records = deleted
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger().Info("billing period deleted",
		zap.String("from", req.From.String()),
		zap.String("to", req.To.String()),
		zap.String("actor", req.Actor),
		zap.Int("deleted", report.Deleted),
		zap.Int("released", report.Released))
	return report, nil
}

// Records lists billing records for reporting.
func (o *Orchestrator) Records(ctx context.Context, filter generic.BillingFilter) ([]generic.BillingRecord, error) {
	return generic.NewBillingLedger(o.Store).Records(ctx, filter)
}

// =============================================================================
// HELPERS
// =============================================================================

func keyFor(id generic.AssignmentID, b generic.BenefitType, w generic.BillingWindow) generic.BillingKey {
	return generic.BillingKey{AssignmentID: id, Benefit: b, WindowStart: w.Start, WindowEnd: w.End}
}

func resolveBenefits(requested []generic.BenefitType) ([]generic.Descriptor, error) {
	if len(requested) == 0 {
		requested = generic.Benefits()
	}
	seen := make(map[generic.BenefitType]bool, len(requested))
	descs := make([]generic.Descriptor, 0, len(requested))
	for _, b := range requested {
		if seen[b] {
			continue
		}
		seen[b] = true
		d, err := generic.LookupBenefit(b)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return descs, nil
}

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}
