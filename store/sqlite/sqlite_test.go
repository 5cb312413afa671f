package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/housing-benefits/billing"
	"github.com/warp/housing-benefits/generic"
	"github.com/warp/housing-benefits/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func date(year int, month time.Month, day int) generic.TimePoint {
	return generic.NewTimePoint(year, month, day)
}

func usd(s string) generic.Amount { return generic.MustAmount(s) }

func firstHalf() generic.BillingWindow {
	w, _, _ := generic.ComputeWindows(2025, 1)
	return w
}

func record(id generic.RecordID, assignment generic.AssignmentID, w generic.BillingWindow, amount string) generic.BillingRecord {
	return generic.BillingRecord{
		ID:           id,
		AssignmentID: assignment,
		StaffID:      "S-1",
		Benefit:      generic.BenefitHousing,
		Window:       w,
		Amount:       usd(amount),
		GeneratedAt:  time.Date(2025, time.February, 1, 8, 0, 0, 0, time.UTC),
		GeneratedBy:  "admin",
	}
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

func TestAssignments_RoundTripAndOverlapFilter(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	end := date(2025, time.January, 10)

	require.NoError(t, st.SaveAssignment(ctx, generic.Assignment{
		ID: "A-1", StaffID: "S-1", StartDate: date(2025, time.January, 1), EndDate: &end,
		RentAmount: usd("650"), Agreements: generic.Agreements{Housing: true}, Status: generic.AssignmentActive,
	}))
	require.NoError(t, st.SaveAssignment(ctx, generic.Assignment{
		ID: "A-2", StaffID: "S-2", StartDate: date(2025, time.March, 1),
		TransportAmount: usd("200"), Agreements: generic.Agreements{Transportation: true}, Status: generic.AssignmentActive,
	}))

	got, err := st.GetAssignment(ctx, "A-1")
	require.NoError(t, err)
	assert.Equal(t, "650.00", got.RentAmount.String())
	require.NotNil(t, got.EndDate)
	assert.True(t, got.EndDate.Equal(end))

	january := generic.Period{Start: date(2025, time.January, 1), End: date(2025, time.January, 31)}
	list, err := st.ListAssignments(ctx, generic.AssignmentFilter{Overlap: &january})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, generic.AssignmentID("A-1"), list[0].ID)

	list, err = st.ListAssignments(ctx, generic.AssignmentFilter{Benefit: generic.BenefitSecurityDeposit})
	require.NoError(t, err)
	require.Len(t, list, 1, "deposits ride on the housing agreement")

	_, err = st.GetAssignment(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrAssignmentNotFound)
}

// =============================================================================
// BILLING RECORDS
// =============================================================================

func TestAppendBilling_UniqueKey(t *testing.T) {
	// GIVEN: A record for (A-1, housing, Jan 1-15)
	// WHEN: A second record with a different ID targets the same key
	// THEN: The unique index rejects it as a duplicate

	st := newStore(t)
	ctx := context.Background()
	w := firstHalf()

	require.NoError(t, st.AppendBilling(ctx, record("R-1", "A-1", w, "314.52")))

	err := st.AppendBilling(ctx, record("R-2", "A-1", w, "314.52"))
	var dup *generic.DuplicateBillingError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, generic.AssignmentID("A-1"), dup.Key.AssignmentID)
	assert.ErrorIs(t, err, generic.ErrDuplicateBilling)

	exists, err := st.BillingExists(ctx, record("", "A-1", w, "0").Key())
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListAndDeleteBilling_ByRange(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	first, second, _ := generic.ComputeWindows(2025, 1)
	feb, _, _ := generic.ComputeWindows(2025, 2)

	rec := record("R-1", "A-1", first, "100")
	rec.ClaimedDeductionIDs = []string{"q-1", "q-2"}
	require.NoError(t, st.AppendBilling(ctx, rec))
	require.NoError(t, st.AppendBilling(ctx, record("R-2", "A-1", second, "100")))
	require.NoError(t, st.AppendBilling(ctx, record("R-3", "A-1", feb, "100")))

	january := generic.BillingFilter{From: first.Start, To: second.End}
	recs, err := st.ListBilling(ctx, january)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []string{"q-1", "q-2"}, recs[0].ClaimedDeductionIDs)
	assert.Equal(t, first, recs[0].Window)

	deleted, err := st.DeleteBilling(ctx, january)
	require.NoError(t, err)
	assert.Len(t, deleted, 2)

	rest, err := st.ListBilling(ctx, generic.BillingFilter{})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, generic.RecordID("R-3"), rest[0].ID)
}

// =============================================================================
// PENDING QUEUE
// =============================================================================

func pending(id string, seq int, due generic.TimePoint) generic.PendingDeduction {
	return generic.PendingDeduction{
		ID: id, DepositID: "D-1", AssignmentID: "A-1", StaffID: "S-1",
		Benefit: generic.BenefitSecurityDeposit, Sequence: seq, ScheduledDate: due, Amount: usd("125"),
	}
}

func TestQueue_ClaimOldestFirstAndRelease(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	require.NoError(t, st.Enqueue(ctx, []generic.PendingDeduction{
		pending("q-2", 2, date(2025, time.February, 3)),
		pending("q-1", 1, date(2025, time.January, 20)),
		pending("q-3", 3, date(2025, time.February, 17)),
	}))

	due, err := st.DueAssignments(ctx, generic.BenefitSecurityDeposit, date(2025, time.February, 14))
	require.NoError(t, err)
	assert.Equal(t, []generic.AssignmentID{"A-1"}, due)

	claimed, err := st.Claim(ctx, generic.ClaimRequest{
		Benefit: generic.BenefitSecurityDeposit, AssignmentID: "A-1",
		DueBy: date(2025, time.February, 14), Limit: 1, ClaimKey: "key-1",
	})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "q-1", claimed[0].ID)
	assert.Equal(t, generic.PendingClaimed, claimed[0].Status)

	n, err := st.Release(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cancelled, err := st.CancelOpen(ctx, "D-1")
	require.NoError(t, err)
	assert.Equal(t, 3, cancelled)

	items, err := st.ListPending(ctx, "D-1")
	require.NoError(t, err)
	require.Len(t, items, 3)
	for _, it := range items {
		assert.Equal(t, generic.PendingCancelled, it.Status)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	w := firstHalf()

	err := st.WithTx(ctx, func(tx generic.GenerationTx) error {
		require.NoError(t, tx.AppendBilling(ctx, record("R-1", "A-1", w, "100")))
		return errors.New("boom")
	})
	require.Error(t, err)

	recs, err := st.ListBilling(ctx, generic.BillingFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// =============================================================================
// DEPOSITS
// =============================================================================

func TestDeposit_RoundTripReplacesSchedule(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	sched, err := generic.GenerateSchedule(usd("500"), date(2025, time.January, 6), 4, generic.BiWeekly)
	require.NoError(t, err)
	d := generic.SecurityDeposit{
		ID: "D-1", AssignmentID: "A-1", StaffID: "S-1", Benefit: generic.BenefitSecurityDeposit,
		TotalAmount: usd("500"), PaymentMethod: generic.PaymentPayroll, PaymentStatus: generic.PaymentPending,
		StartDate: date(2025, time.January, 6), Deductions: sched,
	}
	require.NoError(t, st.SaveDeposit(ctx, d))

	got, err := st.GetDeposit(ctx, "D-1")
	require.NoError(t, err)
	require.Len(t, got.Deductions, 4)
	assert.True(t, got.Deductions[0].ScheduledDate.Equal(date(2025, time.January, 20)))
	assert.Equal(t, "500.00", generic.ScheduleTotal(got.Deductions).String())

	d.Deductions = d.Deductions[:2]
	require.NoError(t, st.SaveDeposit(ctx, d))
	got, err = st.GetDeposit(ctx, "D-1")
	require.NoError(t, err)
	assert.Len(t, got.Deductions, 2)

	list, err := st.ListDeposits(ctx, "A-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = st.GetDeposit(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrDepositNotFound)
}

// =============================================================================
// DECISIONS & AUDIT
// =============================================================================

func TestDecision_AuditTrailOrderedAndAssessmentUnique(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	at := time.Date(2025, time.June, 30, 15, 0, 0, 0, time.UTC)

	d := generic.RefundDecision{
		ID: "DEC-1", DepositID: "D-1", AssessmentID: "as-1", Decision: generic.DecisionPartial,
		Amount: usd("325"), Reasons: []string{"Property damage"}, RequiresHRReview: true,
		ApprovedBy: "manager-1", ApprovedAt: at,
		Audit: []generic.AuditEntry{
			{ID: "e-1", DecisionID: "DEC-1", Action: generic.AuditEligibilityChecked, Actor: "manager-1", Timestamp: at},
			{ID: "e-2", DecisionID: "DEC-1", Action: generic.AuditDecisionCreated, Actor: "manager-1", Timestamp: at},
		},
	}
	require.NoError(t, st.SaveDecision(ctx, d))
	require.NoError(t, st.AppendAudit(ctx, generic.AuditEntry{
		ID: "e-3", DecisionID: "DEC-1", Action: generic.AuditReportGenerated, Actor: "manager-1", Timestamp: at,
	}))

	got, err := st.GetDecision(ctx, "DEC-1")
	require.NoError(t, err)
	assert.Equal(t, "325.00", got.Amount.String())
	assert.Equal(t, []string{"Property damage"}, got.Reasons)
	require.Len(t, got.Audit, 3)
	assert.Equal(t, generic.AuditReportGenerated, got.Audit[2].Action)

	again := d
	again.ID = "DEC-2"
	again.Audit = nil
	assert.ErrorIs(t, st.SaveDecision(ctx, again), generic.ErrDuplicateDecision)

	err = st.AppendAudit(ctx, generic.AuditEntry{ID: "e-4", DecisionID: "missing", Action: generic.AuditNoteAdded})
	assert.ErrorIs(t, err, generic.ErrDecisionNotFound)
}

// =============================================================================
// ORCHESTRATOR ON SQLITE
// =============================================================================

func TestOrchestrator_IdempotentOnSQLite(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveAssignment(ctx, generic.Assignment{
		ID: "A-1", StaffID: "S-1", StartDate: date(2025, time.January, 1),
		RentAmount: usd("650"), Agreements: generic.Agreements{Housing: true}, Status: generic.AssignmentActive,
	}))

	o := billing.NewOrchestrator(st, st)
	req := billing.Request{Year: 2025, Month: 1, Period: generic.SelectBoth, Benefits: []generic.BenefitType{generic.BenefitHousing}, Actor: "admin"}

	first, err := o.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)

	second, err := o.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 2, second.SkippedDuplicate)
}

// =============================================================================
// DRIVER ERROR PATHS
// =============================================================================

func newMock(t *testing.T) (*sqlite.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlite.NewFromDB(db), mock
}

func TestAppendBilling_DriverUniqueErrorMapsToDuplicate(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectExec("INSERT INTO billing_records").
		WillReturnError(errors.New("UNIQUE constraint failed: billing_records.assignment_id"))

	err := st.AppendBilling(context.Background(), record("R-1", "A-1", firstHalf(), "100"))
	assert.ErrorIs(t, err, generic.ErrDuplicateBilling)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_CallbackErrorRollsBack(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO billing_records").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	err := st.WithTx(context.Background(), func(tx generic.GenerationTx) error {
		if err := tx.AppendBilling(context.Background(), record("R-1", "A-1", firstHalf(), "100")); err != nil {
			return err
		}
		return errors.New("claim failed")
	})
	assert.EqualError(t, err, "claim failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectCommit()

	err := st.WithTx(context.Background(), func(tx generic.GenerationTx) error {
		exists, err := tx.BillingExists(context.Background(), record("", "A-1", firstHalf(), "0").Key())
		if err != nil {
			return err
		}
		assert.False(t, exists)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDecision_QueryErrorIsWrapped(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectQuery("FROM refund_decisions").WillReturnError(errors.New("disk I/O error"))

	_, err := st.GetDecision(context.Background(), "DEC-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load decision")
	assert.False(t, generic.IsNotFound(err))
}

func billingRow(claimed, generatedAt string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "assignment_id", "staff_id", "tenant_id", "property_id", "benefit_type",
		"window_start", "window_end", "window_half", "window_label", "amount", "unit",
		"claimed_json", "generated_at", "generated_by",
	}).AddRow("R-1", "A-1", "S-1", "T-1", "P-1", "security_deposit",
		"2025-01-01", "2025-01-15", "first", "Jan 1-15, 2025", "125", "USD",
		claimed, generatedAt, "admin")
}

func TestListBilling_CorruptColumnsAreErrors(t *testing.T) {
	tests := []struct {
		name        string
		claimed     string
		generatedAt string
	}{
		{"claimed ids not json", "[p1", "2025-01-20T00:00:00Z"},
		{"generated_at not a timestamp", `["p1"]`, "yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, mock := newMock(t)
			mock.ExpectQuery("FROM billing_records").WillReturnRows(billingRow(tt.claimed, tt.generatedAt))

			recs, err := st.ListBilling(context.Background(), generic.BillingFilter{})
			require.Error(t, err)
			assert.Nil(t, recs)
			assert.Contains(t, err.Error(), "failed to decode billing record R-1")
			assert.False(t, generic.IsClientError(err))
		})
	}
}

func TestListBilling_WellFormedRowDecodes(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectQuery("FROM billing_records").WillReturnRows(billingRow(`["p1","p2"]`, "2025-01-20T00:00:00Z"))

	recs, err := st.ListBilling(context.Background(), generic.BillingFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"p1", "p2"}, recs[0].ClaimedDeductionIDs)
	assert.Equal(t, "125.00", recs[0].Amount.String())
}

func TestGetDecision_CorruptApprovedAtIsError(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectQuery("FROM refund_decisions").WillReturnRows(sqlmock.NewRows([]string{
		"id", "deposit_id", "assessment_id", "decision", "amount", "reasons_json",
		"requires_hr_review", "approved_by", "approved_at",
	}).AddRow("DEC-1", "D-1", "AS-1", "full_refund", "500", `["clean"]`, false, "system", "not-a-time"))

	_, err := st.GetDecision(context.Background(), "DEC-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode decision DEC-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}
