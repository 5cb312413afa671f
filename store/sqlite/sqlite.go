/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface in generic/store.go using SQLite.
  In production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

INTERFACES IMPLEMENTED:
  generic.AssignmentStore: Staff/room assignments
  generic.GenerationStore: Billing records + pending-deduction queue, transactional
  generic.DepositStore:    Deposits and their installment schedules
  generic.DecisionStore:   Refund decisions and the audit trail

UNIQUENESS ENFORCEMENT:
  - idx_billing_key: UNIQUE(assignment_id, benefit_type, window_start, window_end)
    A second record for the same key fails with ErrDuplicateBilling no
    matter how many processes generate concurrently.
  - refund_decisions.assessment_id UNIQUE: one decision per assessment.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on billing_records or audit_entries
  - billing_records rows are deleted only by DeleteBilling (period deletion)
  - audit_entries are never deleted; seq orders them

KEY TABLES:
  assignments:        Read model of staff assignments
  billing_records:    One row per (assignment, benefit, window)
  deposits:           Deposit header
  deductions:         Installment schedule, replaced wholesale on revision
  pending_deductions: Queue drained by billing generation
  refund_decisions:   One row per assessment
  audit_entries:      Ordered, immutable decision history

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  store, err := sqlite.New("./data/housing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  orchestrator := billing.NewOrchestrator(store, store)

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/housing-benefits/generic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewFromDB wraps an already-migrated database handle.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL DEFAULT '',
		staff_id TEXT NOT NULL DEFAULT '',
		property_id TEXT NOT NULL DEFAULT '',
		room_id TEXT NOT NULL DEFAULT '',
		start_date TEXT NOT NULL,
		end_date TEXT,
		rent_amount TEXT NOT NULL DEFAULT '0',
		transport_amount TEXT NOT NULL DEFAULT '0',
		bus_card_amount TEXT NOT NULL DEFAULT '0',
		housing BOOLEAN NOT NULL DEFAULT FALSE,
		transportation BOOLEAN NOT NULL DEFAULT FALSE,
		flight_agreement BOOLEAN NOT NULL DEFAULT FALSE,
		bus_card BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_dates
		ON assignments(start_date, end_date);

	-- Billing records (one per assignment, benefit and window)
	CREATE TABLE IF NOT EXISTS billing_records (
		id TEXT PRIMARY KEY,
		assignment_id TEXT NOT NULL,
		staff_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL DEFAULT '',
		property_id TEXT NOT NULL DEFAULT '',
		benefit_type TEXT NOT NULL,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		window_half TEXT NOT NULL,
		window_label TEXT NOT NULL,
		amount TEXT NOT NULL,
		unit TEXT NOT NULL,
		claimed_json TEXT,
		generated_at TEXT NOT NULL,
		generated_by TEXT NOT NULL DEFAULT ''
	);

	-- CRITICAL: at most one record per billing key
	CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_key
		ON billing_records(assignment_id, benefit_type, window_start, window_end);

	CREATE INDEX IF NOT EXISTS idx_billing_window
		ON billing_records(window_start, window_end, benefit_type);

	CREATE TABLE IF NOT EXISTS deposits (
		id TEXT PRIMARY KEY,
		assignment_id TEXT NOT NULL,
		staff_id TEXT NOT NULL DEFAULT '',
		benefit_type TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		paid_date TEXT,
		start_date TEXT,
		notes TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deposits_assignment
		ON deposits(assignment_id);

	CREATE TABLE IF NOT EXISTS deductions (
		deposit_id TEXT NOT NULL REFERENCES deposits(id) ON DELETE CASCADE,
		sequence INTEGER NOT NULL,
		scheduled_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		deducted_at TEXT,
		PRIMARY KEY (deposit_id, sequence)
	);

	-- Queue drained by billing generation
	CREATE TABLE IF NOT EXISTS pending_deductions (
		id TEXT PRIMARY KEY,
		deposit_id TEXT NOT NULL,
		assignment_id TEXT NOT NULL,
		staff_id TEXT NOT NULL DEFAULT '',
		benefit_type TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		scheduled_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		claim_key TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_pending_due
		ON pending_deductions(benefit_type, status, scheduled_date);
	CREATE INDEX IF NOT EXISTS idx_pending_claim
		ON pending_deductions(claim_key) WHERE claim_key IS NOT NULL;

	CREATE TABLE IF NOT EXISTS refund_decisions (
		id TEXT PRIMARY KEY,
		deposit_id TEXT NOT NULL,
		assessment_id TEXT NOT NULL UNIQUE,
		decision TEXT NOT NULL,
		amount TEXT NOT NULL,
		reasons_json TEXT,
		requires_hr_review BOOLEAN NOT NULL DEFAULT FALSE,
		approved_by TEXT NOT NULL,
		approved_at TEXT NOT NULL
	);

	-- Append-only decision history
	CREATE TABLE IF NOT EXISTS audit_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		decision_id TEXT NOT NULL REFERENCES refund_decisions(id),
		action TEXT NOT NULL,
		actor TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		details TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_decision
		ON audit_entries(decision_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ASSIGNMENT STORE (generic.AssignmentStore interface)
// =============================================================================

func (s *Store) SaveAssignment(ctx context.Context, a generic.Assignment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO assignments
		(id, tenant_id, staff_id, property_id, room_id, start_date, end_date,
		 rent_amount, transport_amount, bus_card_amount,
		 housing, transportation, flight_agreement, bus_card, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			staff_id = excluded.staff_id,
			property_id = excluded.property_id,
			room_id = excluded.room_id,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			rent_amount = excluded.rent_amount,
			transport_amount = excluded.transport_amount,
			bus_card_amount = excluded.bus_card_amount,
			housing = excluded.housing,
			transportation = excluded.transportation,
			flight_agreement = excluded.flight_agreement,
			bus_card = excluded.bus_card,
			status = excluded.status,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.TenantID, a.StaffID, a.PropertyID, a.RoomID,
		a.StartDate.String(), nullDate(a.EndDate),
		a.RentAmount.Value.String(), a.TransportAmount.Value.String(), a.BusCardAmount.Value.String(),
		a.Agreements.Housing, a.Agreements.Transportation, a.Agreements.FlightAgreement, a.Agreements.BusCard,
		a.Status, nowString(),
	)
	if err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}
	return nil
}

const assignmentColumns = `id, tenant_id, staff_id, property_id, room_id, start_date, end_date,
	rent_amount, transport_amount, bus_card_amount,
	housing, transportation, flight_agreement, bus_card, status`

func (s *Store) GetAssignment(ctx context.Context, id generic.AssignmentID) (*generic.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+assignmentColumns+" FROM assignments WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignment: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, generic.ErrAssignmentNotFound
	}
	a, err := scanAssignment(rows)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListAssignments(ctx context.Context, filter generic.AssignmentFilter) ([]generic.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + assignmentColumns + " FROM assignments"
	var args []any
	if filter.Overlap != nil {
		query += " WHERE start_date <= ? AND (end_date IS NULL OR end_date >= ?)"
		args = append(args, filter.Overlap.End.String(), filter.Overlap.Start.String())
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var out []generic.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		if filter.Benefit != "" && !a.HasAgreement(filter.Benefit) {
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAssignment(rows *sql.Rows) (generic.Assignment, error) {
	var (
		a                        generic.Assignment
		start                    string
		end                      sql.NullString
		rent, transport, busCard string
	)
	err := rows.Scan(
		&a.ID, &a.TenantID, &a.StaffID, &a.PropertyID, &a.RoomID, &start, &end,
		&rent, &transport, &busCard,
		&a.Agreements.Housing, &a.Agreements.Transportation, &a.Agreements.FlightAgreement, &a.Agreements.BusCard,
		&a.Status,
	)
	if err != nil {
		return a, fmt.Errorf("failed to scan assignment: %w", err)
	}
	var dec rowDecoder
	a.StartDate = dec.date(start)
	a.EndDate = dec.nullDate(end)
	a.RentAmount = dec.amount(rent, generic.USD)
	a.TransportAmount = dec.amount(transport, generic.USD)
	a.BusCardAmount = dec.amount(busCard, generic.USD)
	if dec.err != nil {
		return a, fmt.Errorf("failed to decode assignment %s: %w", a.ID, dec.err)
	}
	return a, nil
}

// =============================================================================
// BILLING STORE (generic.BillingStore interface)
// =============================================================================

func (s *Store) BillingExists(ctx context.Context, key generic.BillingKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return billingExists(ctx, s.db, key)
}

func (s *Store) AppendBilling(ctx context.Context, rec generic.BillingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendBilling(ctx, s.db, rec)
}

func (s *Store) ListBilling(ctx context.Context, filter generic.BillingFilter) ([]generic.BillingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listBilling(ctx, s.db, filter)
}

func (s *Store) DeleteBilling(ctx context.Context, filter generic.BillingFilter) ([]generic.BillingRecord, error) {
	var out []generic.BillingRecord
	err := s.WithTx(ctx, func(tx generic.GenerationTx) error {
		var err error
		out, err = tx.DeleteBilling(ctx, filter)
		return err
	})
	return out, err
}

func billingExists(ctx context.Context, q querier, key generic.BillingKey) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM billing_records
		WHERE assignment_id = ? AND benefit_type = ? AND window_start = ? AND window_end = ?`,
		key.AssignmentID, key.Benefit, key.WindowStart.String(), key.WindowEnd.String(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check billing key: %w", err)
	}
	return count > 0, nil
}

func appendBilling(ctx context.Context, q querier, rec generic.BillingRecord) error {
	claimed, _ := json.Marshal(rec.ClaimedDeductionIDs)

	query := `
		INSERT INTO billing_records
		(id, assignment_id, staff_id, tenant_id, property_id, benefit_type,
		 window_start, window_end, window_half, window_label, amount, unit,
		 claimed_json, generated_at, generated_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		rec.ID, rec.AssignmentID, rec.StaffID, rec.TenantID, rec.PropertyID, rec.Benefit,
		rec.Window.Start.String(), rec.Window.End.String(), rec.Window.Half, rec.Window.Label,
		rec.Amount.Value.String(), unitOf(rec.Amount),
		string(claimed), rec.GeneratedAt.UTC().Format(time.RFC3339Nano), rec.GeneratedBy,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &generic.DuplicateBillingError{Key: rec.Key()}
		}
		return fmt.Errorf("failed to append billing record: %w", err)
	}
	return nil
}

const billingColumns = `id, assignment_id, staff_id, tenant_id, property_id, benefit_type,
	window_start, window_end, window_half, window_label, amount, unit,
	claimed_json, generated_at, generated_by`

func billingWhere(filter generic.BillingFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if !filter.From.IsZero() {
		clauses = append(clauses, "window_start >= ?")
		args = append(args, filter.From.String())
	}
	if !filter.To.IsZero() {
		clauses = append(clauses, "window_end <= ?")
		args = append(args, filter.To.String())
	}
	if filter.AssignmentID != "" {
		clauses = append(clauses, "assignment_id = ?")
		args = append(args, filter.AssignmentID)
	}
	if len(filter.Benefits) > 0 {
		marks := make([]string, len(filter.Benefits))
		for i, b := range filter.Benefits {
			marks[i] = "?"
			args = append(args, b)
		}
		clauses = append(clauses, "benefit_type IN ("+strings.Join(marks, ", ")+")")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func listBilling(ctx context.Context, q querier, filter generic.BillingFilter) ([]generic.BillingRecord, error) {
	where, args := billingWhere(filter)
	rows, err := q.QueryContext(ctx,
		"SELECT "+billingColumns+" FROM billing_records"+where+
			" ORDER BY window_start, benefit_type, assignment_id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query billing records: %w", err)
	}
	defer rows.Close()

	var out []generic.BillingRecord
	for rows.Next() {
		rec, err := scanBilling(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func deleteBilling(ctx context.Context, q querier, filter generic.BillingFilter) ([]generic.BillingRecord, error) {
	recs, err := listBilling(ctx, q, filter)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if _, err := q.ExecContext(ctx, "DELETE FROM billing_records WHERE id = ?", rec.ID); err != nil {
			return nil, fmt.Errorf("failed to delete billing record %s: %w", rec.ID, err)
		}
	}
	return recs, nil
}

func scanBilling(rows *sql.Rows) (generic.BillingRecord, error) {
	var (
		rec                generic.BillingRecord
		start, end, amount string
		unit, generatedAt  string
		claimed            sql.NullString
	)
	err := rows.Scan(
		&rec.ID, &rec.AssignmentID, &rec.StaffID, &rec.TenantID, &rec.PropertyID, &rec.Benefit,
		&start, &end, &rec.Window.Half, &rec.Window.Label, &amount, &unit,
		&claimed, &generatedAt, &rec.GeneratedBy,
	)
	if err != nil {
		return rec, fmt.Errorf("failed to scan billing record: %w", err)
	}
	var dec rowDecoder
	rec.Window.Start = dec.date(start)
	rec.Window.End = dec.date(end)
	rec.Amount = dec.amount(amount, generic.Unit(unit))
	rec.GeneratedAt = dec.timestamp(generatedAt)
	rec.ClaimedDeductionIDs = dec.stringList(claimed)
	if dec.err != nil {
		return rec, fmt.Errorf("failed to decode billing record %s: %w", rec.ID, dec.err)
	}
	return rec, nil
}

// =============================================================================
// PENDING QUEUE (generic.PendingQueue interface)
// =============================================================================

func (s *Store) Enqueue(ctx context.Context, items []generic.PendingDeduction) error {
	return s.WithTx(ctx, func(tx generic.GenerationTx) error {
		return tx.Enqueue(ctx, items)
	})
}

func (s *Store) DueAssignments(ctx context.Context, benefit generic.BenefitType, dueBy generic.TimePoint) ([]generic.AssignmentID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return dueAssignments(ctx, s.db, benefit, dueBy)
}

func (s *Store) Claim(ctx context.Context, req generic.ClaimRequest) ([]generic.PendingDeduction, error) {
	var out []generic.PendingDeduction
	err := s.WithTx(ctx, func(tx generic.GenerationTx) error {
		var err error
		out, err = tx.Claim(ctx, req)
		return err
	})
	return out, err
}

func (s *Store) Release(ctx context.Context, claimKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return release(ctx, s.db, claimKey)
}

func (s *Store) CancelOpen(ctx context.Context, deposit generic.DepositID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cancelOpen(ctx, s.db, deposit)
}

func (s *Store) ListPending(ctx context.Context, deposit generic.DepositID) ([]generic.PendingDeduction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPending(ctx, s.db, deposit)
}

func enqueue(ctx context.Context, q querier, items []generic.PendingDeduction) error {
	for _, it := range items {
		status := it.Status
		if status == "" {
			status = generic.PendingOpen
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO pending_deductions
			(id, deposit_id, assignment_id, staff_id, benefit_type, sequence, scheduled_date, amount, status, claim_key)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			it.ID, it.DepositID, it.AssignmentID, it.StaffID, it.Benefit, it.Sequence,
			it.ScheduledDate.String(), it.Amount.Value.String(), status, nullString(it.ClaimKey),
		)
		if err != nil {
			return fmt.Errorf("failed to enqueue deduction %s: %w", it.ID, err)
		}
	}
	return nil
}

func dueAssignments(ctx context.Context, q querier, benefit generic.BenefitType, dueBy generic.TimePoint) ([]generic.AssignmentID, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT assignment_id FROM pending_deductions
		WHERE benefit_type = ? AND status = ? AND scheduled_date <= ?
		ORDER BY assignment_id`,
		benefit, generic.PendingOpen, dueBy.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending queue: %w", err)
	}
	defer rows.Close()

	var out []generic.AssignmentID
	for rows.Next() {
		var id generic.AssignmentID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

const pendingColumns = `id, deposit_id, assignment_id, staff_id, benefit_type, sequence,
	scheduled_date, amount, status, claim_key`

// claim selects and marks items in one transaction; the status guard on the
// UPDATE keeps a concurrent claimer from taking the same row.
func claim(ctx context.Context, q querier, req generic.ClaimRequest) ([]generic.PendingDeduction, error) {
	limit := req.Limit
	if limit < 1 {
		limit = -1 // SQLite: no limit
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+pendingColumns+` FROM pending_deductions
		WHERE benefit_type = ? AND assignment_id = ? AND status = ? AND scheduled_date <= ?
		ORDER BY scheduled_date, deposit_id, sequence
		LIMIT ?`,
		req.Benefit, req.AssignmentID, generic.PendingOpen, req.DueBy.String(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select due deductions: %w", err)
	}
	candidates, err := scanPendingRows(rows)
	if err != nil {
		return nil, err
	}

	var out []generic.PendingDeduction
	for _, c := range candidates {
		res, err := q.ExecContext(ctx,
			"UPDATE pending_deductions SET status = ?, claim_key = ? WHERE id = ? AND status = ?",
			generic.PendingClaimed, req.ClaimKey, c.ID, generic.PendingOpen,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to claim deduction %s: %w", c.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			c.Status = generic.PendingClaimed
			c.ClaimKey = req.ClaimKey
			out = append(out, c)
		}
	}
	return out, nil
}

func release(ctx context.Context, q querier, claimKey string) (int, error) {
	res, err := q.ExecContext(ctx,
		"UPDATE pending_deductions SET status = ?, claim_key = NULL WHERE claim_key = ? AND status = ?",
		generic.PendingOpen, claimKey, generic.PendingClaimed,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release claims: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func cancelOpen(ctx context.Context, q querier, deposit generic.DepositID) (int, error) {
	res, err := q.ExecContext(ctx,
		"UPDATE pending_deductions SET status = ? WHERE deposit_id = ? AND status = ?",
		generic.PendingCancelled, deposit, generic.PendingOpen,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel queued deductions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func listPending(ctx context.Context, q querier, deposit generic.DepositID) ([]generic.PendingDeduction, error) {
	query := "SELECT " + pendingColumns + " FROM pending_deductions"
	var args []any
	if deposit != "" {
		query += " WHERE deposit_id = ?"
		args = append(args, deposit)
	}
	query += " ORDER BY scheduled_date, deposit_id, sequence"
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending deductions: %w", err)
	}
	return scanPendingRows(rows)
}

func scanPendingRows(rows *sql.Rows) ([]generic.PendingDeduction, error) {
	defer rows.Close()
	var out []generic.PendingDeduction
	for rows.Next() {
		var (
			p         generic.PendingDeduction
			scheduled string
			amount    string
			claimKey  sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.DepositID, &p.AssignmentID, &p.StaffID, &p.Benefit, &p.Sequence,
			&scheduled, &amount, &p.Status, &claimKey); err != nil {
			return nil, fmt.Errorf("failed to scan pending deduction: %w", err)
		}
		var dec rowDecoder
		p.ScheduledDate = dec.date(scheduled)
		p.Amount = dec.amount(amount, generic.USD)
		p.ClaimKey = claimKey.String
		if dec.err != nil {
			return nil, fmt.Errorf("failed to decode pending deduction %s: %w", p.ID, dec.err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (generic.GenerationStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(generic.GenerationTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) BillingExists(ctx context.Context, key generic.BillingKey) (bool, error) {
	return billingExists(ctx, ts.tx, key)
}

func (ts *txStore) AppendBilling(ctx context.Context, rec generic.BillingRecord) error {
	return appendBilling(ctx, ts.tx, rec)
}

func (ts *txStore) ListBilling(ctx context.Context, filter generic.BillingFilter) ([]generic.BillingRecord, error) {
	return listBilling(ctx, ts.tx, filter)
}

func (ts *txStore) DeleteBilling(ctx context.Context, filter generic.BillingFilter) ([]generic.BillingRecord, error) {
	return deleteBilling(ctx, ts.tx, filter)
}

func (ts *txStore) Enqueue(ctx context.Context, items []generic.PendingDeduction) error {
	return enqueue(ctx, ts.tx, items)
}

func (ts *txStore) DueAssignments(ctx context.Context, benefit generic.BenefitType, dueBy generic.TimePoint) ([]generic.AssignmentID, error) {
	return dueAssignments(ctx, ts.tx, benefit, dueBy)
}

func (ts *txStore) Claim(ctx context.Context, req generic.ClaimRequest) ([]generic.PendingDeduction, error) {
	return claim(ctx, ts.tx, req)
}

func (ts *txStore) Release(ctx context.Context, claimKey string) (int, error) {
	return release(ctx, ts.tx, claimKey)
}

func (ts *txStore) CancelOpen(ctx context.Context, deposit generic.DepositID) (int, error) {
	return cancelOpen(ctx, ts.tx, deposit)
}

func (ts *txStore) ListPending(ctx context.Context, deposit generic.DepositID) ([]generic.PendingDeduction, error) {
	return listPending(ctx, ts.tx, deposit)
}

func (ts *txStore) SaveDeposit(ctx context.Context, d generic.SecurityDeposit) error {
	return saveDeposit(ctx, ts.tx, d)
}

func (ts *txStore) GetDeposit(ctx context.Context, id generic.DepositID) (*generic.SecurityDeposit, error) {
	return getDeposit(ctx, ts.tx, id)
}

func (ts *txStore) ListDeposits(ctx context.Context, assignment generic.AssignmentID) ([]generic.SecurityDeposit, error) {
	return listDeposits(ctx, ts.tx, assignment)
}

// =============================================================================
// DEPOSIT STORE (generic.DepositStore interface)
// =============================================================================

// SaveDeposit upserts the deposit and replaces its schedule.
func (s *Store) SaveDeposit(ctx context.Context, d generic.SecurityDeposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := saveDeposit(ctx, tx, d); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetDeposit(ctx context.Context, id generic.DepositID) (*generic.SecurityDeposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDeposit(ctx, s.db, id)
}

func (s *Store) ListDeposits(ctx context.Context, assignment generic.AssignmentID) ([]generic.SecurityDeposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listDeposits(ctx, s.db, assignment)
}

func saveDeposit(ctx context.Context, q querier, d generic.SecurityDeposit) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = now
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO deposits
		(id, assignment_id, staff_id, benefit_type, total_amount, payment_method, payment_status,
		 paid_date, start_date, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_amount = excluded.total_amount,
			payment_method = excluded.payment_method,
			payment_status = excluded.payment_status,
			paid_date = excluded.paid_date,
			start_date = excluded.start_date,
			notes = excluded.notes,
			updated_at = excluded.updated_at`,
		d.ID, d.AssignmentID, d.StaffID, d.Benefit, d.TotalAmount.Value.String(),
		d.PaymentMethod, d.PaymentStatus, nullDate(d.PaidDate), nullDate(&d.StartDate), d.Notes,
		d.CreatedAt.Format(time.RFC3339Nano), d.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save deposit: %w", err)
	}

	if _, err := q.ExecContext(ctx, "DELETE FROM deductions WHERE deposit_id = ?", d.ID); err != nil {
		return fmt.Errorf("failed to clear schedule: %w", err)
	}
	for _, ded := range d.Deductions {
		_, err := q.ExecContext(ctx, `
			INSERT INTO deductions (deposit_id, sequence, scheduled_date, amount, status, deducted_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			d.ID, ded.Sequence, ded.ScheduledDate.String(), ded.Amount.Value.String(), ded.Status, nullDate(ded.DeductedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to save installment %d: %w", ded.Sequence, err)
		}
	}
	return nil
}

const depositColumns = `id, assignment_id, staff_id, benefit_type, total_amount, payment_method,
	payment_status, paid_date, start_date, notes, created_at, updated_at`

func getDeposit(ctx context.Context, q querier, id generic.DepositID) (*generic.SecurityDeposit, error) {
	deps, err := queryDeposits(ctx, q, "SELECT "+depositColumns+" FROM deposits WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(deps) == 0 {
		return nil, generic.ErrDepositNotFound
	}
	return &deps[0], nil
}

func listDeposits(ctx context.Context, q querier, assignment generic.AssignmentID) ([]generic.SecurityDeposit, error) {
	if assignment == "" {
		return queryDeposits(ctx, q, "SELECT "+depositColumns+" FROM deposits ORDER BY id")
	}
	return queryDeposits(ctx, q, "SELECT "+depositColumns+" FROM deposits WHERE assignment_id = ? ORDER BY id", assignment)
}

func queryDeposits(ctx context.Context, q querier, query string, args ...any) ([]generic.SecurityDeposit, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deposits: %w", err)
	}

	var deps []generic.SecurityDeposit
	for rows.Next() {
		var (
			d                    generic.SecurityDeposit
			total                string
			paid, start, notes   sql.NullString
			createdAt, updatedAt string
			dec                  rowDecoder
		)
		if err := rows.Scan(&d.ID, &d.AssignmentID, &d.StaffID, &d.Benefit, &total, &d.PaymentMethod,
			&d.PaymentStatus, &paid, &start, &notes, &createdAt, &updatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan deposit: %w", err)
		}
		d.TotalAmount = dec.amount(total, generic.USD)
		d.PaidDate = dec.nullDate(paid)
		if sd := dec.nullDate(start); sd != nil {
			d.StartDate = *sd
		}
		d.Notes = notes.String
		d.CreatedAt = dec.timestamp(createdAt)
		d.UpdatedAt = dec.timestamp(updatedAt)
		if dec.err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to decode deposit %s: %w", d.ID, dec.err)
		}
		deps = append(deps, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range deps {
		sched, err := loadSchedule(ctx, q, deps[i].ID)
		if err != nil {
			return nil, err
		}
		deps[i].Deductions = sched
	}
	return deps, nil
}

func loadSchedule(ctx context.Context, q querier, id generic.DepositID) ([]generic.Deduction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT sequence, scheduled_date, amount, status, deducted_at
		FROM deductions WHERE deposit_id = ? ORDER BY sequence`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule: %w", err)
	}
	defer rows.Close()

	var out []generic.Deduction
	for rows.Next() {
		var (
			ded               generic.Deduction
			scheduled, amount string
			deductedAt        sql.NullString
			dec               rowDecoder
		)
		if err := rows.Scan(&ded.Sequence, &scheduled, &amount, &ded.Status, &deductedAt); err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		ded.ScheduledDate = dec.date(scheduled)
		ded.Amount = dec.amount(amount, generic.USD)
		ded.DeductedAt = dec.nullDate(deductedAt)
		if dec.err != nil {
			return nil, fmt.Errorf("failed to decode installment %d of %s: %w", ded.Sequence, id, dec.err)
		}
		out = append(out, ded)
	}
	return out, rows.Err()
}

// =============================================================================
// DECISION STORE (generic.DecisionStore interface)
// =============================================================================

func (s *Store) SaveDecision(ctx context.Context, d generic.RefundDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	reasons, _ := json.Marshal(d.Reasons)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO refund_decisions
		(id, deposit_id, assessment_id, decision, amount, reasons_json, requires_hr_review, approved_by, approved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.DepositID, d.AssessmentID, d.Decision, d.Amount.Value.String(), string(reasons),
		d.RequiresHRReview, d.ApprovedBy, d.ApprovedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateDecision
		}
		return fmt.Errorf("failed to save decision: %w", err)
	}
	for _, e := range d.Audit {
		if err := appendAudit(ctx, tx, e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetDecision(ctx context.Context, id generic.DecisionID) (*generic.RefundDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		d                  generic.RefundDecision
		amount, approvedAt string
		reasons            sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, deposit_id, assessment_id, decision, amount, reasons_json, requires_hr_review, approved_by, approved_at
		FROM refund_decisions WHERE id = ?`, id,
	).Scan(&d.ID, &d.DepositID, &d.AssessmentID, &d.Decision, &amount, &reasons,
		&d.RequiresHRReview, &d.ApprovedBy, &approvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrDecisionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load decision: %w", err)
	}
	var dec rowDecoder
	d.Amount = dec.amount(amount, generic.USD)
	d.ApprovedAt = dec.timestamp(approvedAt)
	d.Reasons = dec.stringList(reasons)
	if dec.err != nil {
		return nil, fmt.Errorf("failed to decode decision %s: %w", id, dec.err)
	}

	d.Audit, err = auditTrail(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) AppendAudit(ctx context.Context, entry generic.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ok, err := decisionExists(ctx, s.db, entry.DecisionID); err != nil {
		return err
	} else if !ok {
		return generic.ErrDecisionNotFound
	}
	return appendAudit(ctx, s.db, entry)
}

func (s *Store) AuditTrail(ctx context.Context, id generic.DecisionID) ([]generic.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ok, err := decisionExists(ctx, s.db, id); err != nil {
		return nil, err
	} else if !ok {
		return nil, generic.ErrDecisionNotFound
	}
	return auditTrail(ctx, s.db, id)
}

func decisionExists(ctx context.Context, q querier, id generic.DecisionID) (bool, error) {
	var count int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM refund_decisions WHERE id = ?", id).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check decision: %w", err)
	}
	return count > 0, nil
}

func appendAudit(ctx context.Context, q querier, e generic.AuditEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_entries (id, decision_id, action, actor, timestamp, details)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.DecisionID, e.Action, e.Actor, e.Timestamp.UTC().Format(time.RFC3339Nano), e.Details,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func auditTrail(ctx context.Context, q querier, id generic.DecisionID) ([]generic.AuditEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, decision_id, action, actor, timestamp, details
		FROM audit_entries WHERE decision_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer rows.Close()

	var out []generic.AuditEntry
	for rows.Next() {
		var (
			e       generic.AuditEntry
			ts      string
			details sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.DecisionID, &e.Action, &e.Actor, &ts, &details); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		var dec rowDecoder
		e.Timestamp = dec.timestamp(ts)
		e.Details = details.String
		if dec.err != nil {
			return nil, fmt.Errorf("failed to decode audit entry %s: %w", e.ID, dec.err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(tp *generic.TimePoint) sql.NullString {
	if tp == nil || tp.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: tp.String(), Valid: true}
}

// rowDecoder converts stored text columns and keeps the first failure.
type rowDecoder struct {
	err error
}

func (d *rowDecoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *rowDecoder) date(s string) generic.TimePoint {
	tp, err := generic.ParseDate(s)
	if err != nil {
		d.fail(fmt.Errorf("date %q is not YYYY-MM-DD", s))
	}
	return tp
}

func (d *rowDecoder) nullDate(ns sql.NullString) *generic.TimePoint {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	tp := d.date(ns.String)
	return &tp
}

func (d *rowDecoder) amount(value string, unit generic.Unit) generic.Amount {
	v, err := decimal.NewFromString(value)
	if err != nil {
		d.fail(fmt.Errorf("amount %q: %w", value, err))
	}
	if unit == "" {
		unit = generic.USD
	}
	return generic.NewAmountFromDecimal(v, unit)
}

func (d *rowDecoder) timestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		d.fail(fmt.Errorf("timestamp %q: %w", s, err))
	}
	return t
}

func (d *rowDecoder) stringList(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" || ns.String == "null" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		d.fail(fmt.Errorf("json list: %w", err))
	}
	return out
}

func unitOf(a generic.Amount) generic.Unit {
	if a.Unit == "" {
		return generic.USD
	}
	return a.Unit
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Compile-time interface checks.
var (
	_ generic.AssignmentStore = (*Store)(nil)
	_ generic.GenerationStore = (*Store)(nil)
	_ generic.DepositStore    = (*Store)(nil)
	_ generic.DecisionStore   = (*Store)(nil)
	_ generic.GenerationTx    = (*txStore)(nil)
)
