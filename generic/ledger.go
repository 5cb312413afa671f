/*
ledger.go - Append-only billing ledger

PURPOSE:
  The BillingLedger is the only writer of billing records. Every charge
  for an assignment, benefit and window is recorded here exactly once.
  Records are never edited; a bad run is undone by deleting the whole
  period and regenerating it.

CRITICAL INVARIANTS:
  1. AT MOST ONE: One record per (assignment, benefit type, window)
  2. IMMUTABLE: Once written, records are not modified
  3. IDEMPOTENT: Re-running a window appends nothing new

IDEMPOTENCY:
  Append checks the key first and reports a DuplicateBillingError without
  touching the store. The store's own unique key catches the race where two
  runs pass the check at the same time; that surfaces as the same error.

EXAMPLE FLOW:
  1. Run Jan 2025 housing:  A-1 Jan 1-15 $650 appended
  2. Run it again:          A-1 Jan 1-15 -> DuplicateBillingError (skip)
  3. Delete Jan 2025:       record removed, queue claims released
  4. Run it again:          A-1 Jan 1-15 $650 appended

SEE ALSO:
  - store.go: Low-level persistence interface
  - billing/orchestrator.go: Drives the ledger for each window
*/
package generic

import (
	"context"
	"errors"
)

// =============================================================================
// BILLING LEDGER
// =============================================================================

type BillingLedger struct {
	Store BillingStore
}

func NewBillingLedger(store BillingStore) *BillingLedger {
	return &BillingLedger{Store: store}
}

// Exists reports whether a record already covers the key.
func (l *BillingLedger) Exists(ctx context.Context, key BillingKey) (bool, error) {
	return l.Store.BillingExists(ctx, key)
}

// Append adds a record. Fails with *DuplicateBillingError if the key exists.
// This is the ONLY write operation besides period deletion.
func (l *BillingLedger) Append(ctx context.Context, rec BillingRecord) error {
	key := rec.Key()
	exists, err := l.Store.BillingExists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return &DuplicateBillingError{Key: key}
	}
	if err := l.Store.AppendBilling(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateBilling) {
			return &DuplicateBillingError{Key: key}
		}
		return err
	}
	return nil
}

// Records returns records matching filter, ordered by window then assignment.
func (l *BillingLedger) Records(ctx context.Context, filter BillingFilter) ([]BillingRecord, error) {
	return l.Store.ListBilling(ctx, filter)
}

// Total sums the amounts of the records matching filter.
func (l *BillingLedger) Total(ctx context.Context, filter BillingFilter) (Amount, error) {
	recs, err := l.Store.ListBilling(ctx, filter)
	if err != nil {
		return Amount{}, err
	}
	total := Sum()
	for _, r := range recs {
		total = total.Add(r.Amount)
	}
	return total, nil
}
