// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/housing-benefits/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements every persistence interface in package generic.
type Memory struct {
	mu sync.RWMutex
	st *memState
}

type memState struct {
	assignments map[generic.AssignmentID]generic.Assignment
	billing     map[string]generic.BillingRecord
	pending     map[string]generic.PendingDeduction
	deposits    map[generic.DepositID]generic.SecurityDeposit
	decisions   map[generic.DecisionID]generic.RefundDecision
	audit       map[generic.DecisionID][]generic.AuditEntry
}

func newMemState() *memState {
	return &memState{
		assignments: make(map[generic.AssignmentID]generic.Assignment),
		billing:     make(map[string]generic.BillingRecord),
		pending:     make(map[string]generic.PendingDeduction),
		deposits:    make(map[generic.DepositID]generic.SecurityDeposit),
		decisions:   make(map[generic.DecisionID]generic.RefundDecision),
		audit:       make(map[generic.DecisionID][]generic.AuditEntry),
	}
}

func NewMemory() *Memory {
	return &Memory{st: newMemState()}
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

func (m *Memory) SaveAssignment(_ context.Context, a generic.Assignment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.assignments[a.ID] = a
	return nil
}

func (m *Memory) GetAssignment(_ context.Context, id generic.AssignmentID) (*generic.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.st.assignments[id]
	if !ok {
		return nil, generic.ErrAssignmentNotFound
	}
	return &a, nil
}

func (m *Memory) ListAssignments(_ context.Context, filter generic.AssignmentFilter) ([]generic.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []generic.Assignment
	for _, a := range m.st.assignments {
		if filter.Benefit != "" && !a.HasAgreement(filter.Benefit) {
			continue
		}
		if filter.Overlap != nil && !a.Occupies(*filter.Overlap) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// BILLING + QUEUE (GenerationTx)
// =============================================================================

func (m *Memory) BillingExists(_ context.Context, key generic.BillingKey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.billingExists(key), nil
}

func (m *Memory) AppendBilling(_ context.Context, rec generic.BillingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.appendBilling(rec)
}

func (m *Memory) ListBilling(_ context.Context, filter generic.BillingFilter) ([]generic.BillingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listBilling(filter), nil
}

func (m *Memory) DeleteBilling(_ context.Context, filter generic.BillingFilter) ([]generic.BillingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.deleteBilling(filter), nil
}

func (m *Memory) Enqueue(_ context.Context, items []generic.PendingDeduction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.enqueue(items)
	return nil
}

func (m *Memory) DueAssignments(_ context.Context, benefit generic.BenefitType, dueBy generic.TimePoint) ([]generic.AssignmentID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.dueAssignments(benefit, dueBy), nil
}

func (m *Memory) Claim(_ context.Context, req generic.ClaimRequest) ([]generic.PendingDeduction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.claim(req), nil
}

func (m *Memory) Release(_ context.Context, claimKey string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.release(claimKey), nil
}

func (m *Memory) CancelOpen(_ context.Context, deposit generic.DepositID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.cancelOpen(deposit), nil
}

func (m *Memory) ListPending(_ context.Context, deposit generic.DepositID) ([]generic.PendingDeduction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listPending(deposit), nil
}

// WithTx executes fn within a transaction.
// For memory store, fn runs against a copy that replaces the live state on success.
func (m *Memory) WithTx(_ context.Context, fn func(generic.GenerationTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.st.clone()
	if err := fn(&txView{st: work}); err != nil {
		return err
	}
	m.st = work
	return nil
}

// =============================================================================
// DEPOSITS
// =============================================================================

func (m *Memory) SaveDeposit(_ context.Context, d generic.SecurityDeposit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.saveDeposit(d)
	return nil
}

func (m *Memory) GetDeposit(_ context.Context, id generic.DepositID) (*generic.SecurityDeposit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getDeposit(id)
}

func (m *Memory) ListDeposits(_ context.Context, assignment generic.AssignmentID) ([]generic.SecurityDeposit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listDeposits(assignment), nil
}

// =============================================================================
// DECISIONS + AUDIT
// =============================================================================

func (m *Memory) SaveDecision(_ context.Context, d generic.RefundDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.decisions[d.ID]; ok {
		return generic.ErrDuplicateDecision
	}
	if d.AssessmentID != "" {
		for _, existing := range m.st.decisions {
			if existing.AssessmentID == d.AssessmentID {
				return generic.ErrDuplicateDecision
			}
		}
	}
	m.st.audit[d.ID] = append([]generic.AuditEntry(nil), d.Audit...)
	d.Audit = nil
	m.st.decisions[d.ID] = d
	return nil
}

func (m *Memory) GetDecision(_ context.Context, id generic.DecisionID) (*generic.RefundDecision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.st.decisions[id]
	if !ok {
		return nil, generic.ErrDecisionNotFound
	}
	d.Audit = append([]generic.AuditEntry(nil), m.st.audit[id]...)
	return &d, nil
}

func (m *Memory) AppendAudit(_ context.Context, entry generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.decisions[entry.DecisionID]; !ok {
		return generic.ErrDecisionNotFound
	}
	m.st.audit[entry.DecisionID] = append(m.st.audit[entry.DecisionID], entry)
	return nil
}

func (m *Memory) AuditTrail(_ context.Context, id generic.DecisionID) ([]generic.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.st.decisions[id]; !ok {
		return nil, generic.ErrDecisionNotFound
	}
	return append([]generic.AuditEntry(nil), m.st.audit[id]...), nil
}

// =============================================================================
// STATE OPERATIONS - Callers hold the lock
// =============================================================================

func (s *memState) billingExists(key generic.BillingKey) bool {
	_, ok := s.billing[key.String()]
	return ok
}

func (s *memState) appendBilling(rec generic.BillingRecord) error {
	k := rec.Key()
	if s.billingExists(k) {
		return &generic.DuplicateBillingError{Key: k}
	}
	rec.ClaimedDeductionIDs = append([]string(nil), rec.ClaimedDeductionIDs...)
	s.billing[k.String()] = rec
	return nil
}

func (s *memState) listBilling(filter generic.BillingFilter) []generic.BillingRecord {
	var out []generic.BillingRecord
	for _, r := range s.billing {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out
}

func (s *memState) deleteBilling(filter generic.BillingFilter) []generic.BillingRecord {
	var out []generic.BillingRecord
	for k, r := range s.billing {
		if filter.Matches(r) {
			out = append(out, r)
			delete(s.billing, k)
		}
	}
	sortRecords(out)
	return out
}

func sortRecords(recs []generic.BillingRecord) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.Window.Start.Equal(b.Window.Start) {
			return a.Window.Start.Before(b.Window.Start)
		}
		if a.Benefit != b.Benefit {
			return a.Benefit < b.Benefit
		}
		return a.AssignmentID < b.AssignmentID
	})
}

func (s *memState) enqueue(items []generic.PendingDeduction) {
	for _, it := range items {
		if it.Status == "" {
			it.Status = generic.PendingOpen
		}
		s.pending[it.ID] = it
	}
}

// openDue returns open items for the benefit due by dueBy, oldest first.
func (s *memState) openDue(benefit generic.BenefitType, assignment generic.AssignmentID, dueBy generic.TimePoint) []generic.PendingDeduction {
	var out []generic.PendingDeduction
	for _, p := range s.pending {
		if p.Status != generic.PendingOpen || p.Benefit != benefit || p.ScheduledDate.After(dueBy) {
			continue
		}
		if assignment != "" && p.AssignmentID != assignment {
			continue
		}
		out = append(out, p)
	}
	sortPending(out)
	return out
}

func (s *memState) dueAssignments(benefit generic.BenefitType, dueBy generic.TimePoint) []generic.AssignmentID {
	seen := make(map[generic.AssignmentID]bool)
	var out []generic.AssignmentID
	for _, p := range s.openDue(benefit, "", dueBy) {
		if !seen[p.AssignmentID] {
			seen[p.AssignmentID] = true
			out = append(out, p.AssignmentID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *memState) claim(req generic.ClaimRequest) []generic.PendingDeduction {
	due := s.openDue(req.Benefit, req.AssignmentID, req.DueBy)
	if req.Limit > 0 && len(due) > req.Limit {
		due = due[:req.Limit]
	}
	for i := range due {
		due[i].Status = generic.PendingClaimed
		due[i].ClaimKey = req.ClaimKey
		s.pending[due[i].ID] = due[i]
	}
	return due
}

func (s *memState) release(claimKey string) int {
	n := 0
	for id, p := range s.pending {
		if p.Status == generic.PendingClaimed && p.ClaimKey == claimKey {
			p.Status = generic.PendingOpen
			p.ClaimKey = ""
			s.pending[id] = p
			n++
		}
	}
	return n
}

func (s *memState) cancelOpen(deposit generic.DepositID) int {
	n := 0
	for id, p := range s.pending {
		if p.DepositID == deposit && p.Status == generic.PendingOpen {
			p.Status = generic.PendingCancelled
			s.pending[id] = p
			n++
		}
	}
	return n
}

func (s *memState) listPending(deposit generic.DepositID) []generic.PendingDeduction {
	var out []generic.PendingDeduction
	for _, p := range s.pending {
		if deposit == "" || p.DepositID == deposit {
			out = append(out, p)
		}
	}
	sortPending(out)
	return out
}

func sortPending(items []generic.PendingDeduction) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.ScheduledDate.Equal(b.ScheduledDate) {
			return a.ScheduledDate.Before(b.ScheduledDate)
		}
		if a.DepositID != b.DepositID {
			return a.DepositID < b.DepositID
		}
		return a.Sequence < b.Sequence
	})
}

func (s *memState) saveDeposit(d generic.SecurityDeposit) {
	d.Deductions = append([]generic.Deduction(nil), d.Deductions...)
	s.deposits[d.ID] = d
}

func (s *memState) getDeposit(id generic.DepositID) (*generic.SecurityDeposit, error) {
	d, ok := s.deposits[id]
	if !ok {
		return nil, generic.ErrDepositNotFound
	}
	d.Deductions = append([]generic.Deduction(nil), d.Deductions...)
	return &d, nil
}

func (s *memState) listDeposits(assignment generic.AssignmentID) []generic.SecurityDeposit {
	var out []generic.SecurityDeposit
	for _, d := range s.deposits {
		if assignment == "" || d.AssignmentID == assignment {
			d.Deductions = append([]generic.Deduction(nil), d.Deductions...)
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.assignments {
		c.assignments[k] = v
	}
	for k, v := range s.billing {
		c.billing[k] = v
	}
	for k, v := range s.pending {
		c.pending[k] = v
	}
	for k, v := range s.deposits {
		v.Deductions = append([]generic.Deduction(nil), v.Deductions...)
		c.deposits[k] = v
	}
	for k, v := range s.decisions {
		c.decisions[k] = v
	}
	for k, v := range s.audit {
		c.audit[k] = append([]generic.AuditEntry(nil), v...)
	}
	return c
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

type txView struct {
	st *memState
}

func (tv *txView) BillingExists(_ context.Context, key generic.BillingKey) (bool, error) {
	return tv.st.billingExists(key), nil
}

func (tv *txView) AppendBilling(_ context.Context, rec generic.BillingRecord) error {
	return tv.st.appendBilling(rec)
}

func (tv *txView) ListBilling(_ context.Context, filter generic.BillingFilter) ([]generic.BillingRecord, error) {
	return tv.st.listBilling(filter), nil
}

func (tv *txView) DeleteBilling(_ context.Context, filter generic.BillingFilter) ([]generic.BillingRecord, error) {
	return tv.st.deleteBilling(filter), nil
}

func (tv *txView) Enqueue(_ context.Context, items []generic.PendingDeduction) error {
	tv.st.enqueue(items)
	return nil
}

func (tv *txView) DueAssignments(_ context.Context, benefit generic.BenefitType, dueBy generic.TimePoint) ([]generic.AssignmentID, error) {
	return tv.st.dueAssignments(benefit, dueBy), nil
}

func (tv *txView) Claim(_ context.Context, req generic.ClaimRequest) ([]generic.PendingDeduction, error) {
	return tv.st.claim(req), nil
}

func (tv *txView) Release(_ context.Context, claimKey string) (int, error) {
	return tv.st.release(claimKey), nil
}

func (tv *txView) CancelOpen(_ context.Context, deposit generic.DepositID) (int, error) {
	return tv.st.cancelOpen(deposit), nil
}

func (tv *txView) ListPending(_ context.Context, deposit generic.DepositID) ([]generic.PendingDeduction, error) {
	return tv.st.listPending(deposit), nil
}

func (tv *txView) SaveDeposit(_ context.Context, d generic.SecurityDeposit) error {
	tv.st.saveDeposit(d)
	return nil
}

func (tv *txView) GetDeposit(_ context.Context, id generic.DepositID) (*generic.SecurityDeposit, error) {
	return tv.st.getDeposit(id)
}

func (tv *txView) ListDeposits(_ context.Context, assignment generic.AssignmentID) ([]generic.SecurityDeposit, error) {
	return tv.st.listDeposits(assignment), nil
}

// Compile-time interface checks.
var (
	_ generic.AssignmentStore = (*Memory)(nil)
	_ generic.GenerationStore = (*Memory)(nil)
	_ generic.DepositStore    = (*Memory)(nil)
	_ generic.DecisionStore   = (*Memory)(nil)
	_ generic.GenerationTx    = (*txView)(nil)
)
