package deposit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/housing-benefits/deposit"
	"github.com/warp/housing-benefits/generic"
	"github.com/warp/housing-benefits/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(year int, month time.Month, day int) generic.TimePoint {
	return generic.NewTimePoint(year, month, day)
}

func newService(t *testing.T) (*deposit.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveAssignment(context.Background(), generic.Assignment{
		ID:         "A-1",
		StaffID:    "S-1",
		TenantID:   "T-1",
		StartDate:  date(2025, time.January, 6),
		RentAmount: generic.MustAmount("650"),
		Agreements: generic.Agreements{Housing: true, FlightAgreement: true},
		Status:     generic.AssignmentActive,
	}))
	svc := deposit.NewService(mem, mem)
	svc.Now = func() time.Time { return time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC) }
	return svc, mem
}

// =============================================================================
// INITIALIZE
// =============================================================================

func TestInitialize_SecurityDeposit_FourBiWeeklyInstallments(t *testing.T) {
	// GIVEN: $500 security deposit, assignment starting Jan 6
	// WHEN: Initialized with the default plan
	// THEN: 4 x $125 every 14 days after the start, all enqueued for billing

	svc, mem := newService(t)
	ctx := context.Background()

	d, err := svc.Initialize(ctx, deposit.InitializeRequest{
		AssignmentID: "A-1",
		Benefit:      generic.BenefitSecurityDeposit,
		TotalAmount:  generic.MustAmount("500"),
	})
	require.NoError(t, err)

	require.Len(t, d.Deductions, 4)
	wantDates := []generic.TimePoint{
		date(2025, time.January, 20),
		date(2025, time.February, 3),
		date(2025, time.February, 17),
		date(2025, time.March, 3),
	}
	for i, ded := range d.Deductions {
		assert.Equal(t, i+1, ded.Sequence)
		assert.True(t, ded.ScheduledDate.Equal(wantDates[i]), "installment %d on %s", i+1, ded.ScheduledDate)
		assert.Equal(t, "125.00", ded.Amount.String())
	}
	assert.Equal(t, generic.StaffID("S-1"), d.StaffID)
	assert.Equal(t, generic.PaymentPending, d.PaymentStatus)

	queued, err := mem.ListPending(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, queued, 4)
	for _, q := range queued {
		assert.Equal(t, generic.PendingOpen, q.Status)
		assert.Equal(t, generic.AssignmentID("A-1"), q.AssignmentID)
	}
}

func TestInitialize_FlightAgreement_PayrollAnchors(t *testing.T) {
	// GIVEN: $1000 flight agreement starting Jan 10
	// WHEN: Initialized
	// THEN: Installments on Jan 22, Feb 7, Feb 22; last absorbs the residual

	svc, _ := newService(t)

	d, err := svc.Initialize(context.Background(), deposit.InitializeRequest{
		AssignmentID: "A-1",
		Benefit:      generic.BenefitFlightAgreement,
		TotalAmount:  generic.MustAmount("1000"),
		StartDate:    date(2025, time.January, 10),
	})
	require.NoError(t, err)

	require.Len(t, d.Deductions, 3)
	assert.True(t, d.Deductions[0].ScheduledDate.Equal(date(2025, time.January, 22)))
	assert.True(t, d.Deductions[1].ScheduledDate.Equal(date(2025, time.February, 7)))
	assert.True(t, d.Deductions[2].ScheduledDate.Equal(date(2025, time.February, 22)))
	assert.Equal(t, "333.33", d.Deductions[0].Amount.String())
	assert.Equal(t, "333.34", d.Deductions[2].Amount.String())
	assert.True(t, generic.ScheduleTotal(d.Deductions).Equal(generic.MustAmount("1000")))
}

func TestInitialize_CashDeposit_NoScheduleNoQueue(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()

	d, err := svc.Initialize(ctx, deposit.InitializeRequest{
		AssignmentID:  "A-1",
		Benefit:       generic.BenefitSecurityDeposit,
		TotalAmount:   generic.MustAmount("500"),
		PaymentMethod: generic.PaymentCash,
	})
	require.NoError(t, err)
	assert.Empty(t, d.Deductions)

	queued, err := mem.ListPending(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, queued)

	paid, err := svc.MarkPaid(ctx, d.ID, date(2025, time.January, 8))
	require.NoError(t, err)
	assert.Equal(t, generic.PaymentPaid, paid.PaymentStatus)
	require.NotNil(t, paid.PaidDate)
	assert.True(t, paid.PaidDate.Equal(date(2025, time.January, 8)))
}

func TestInitialize_Rejections(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Initialize(ctx, deposit.InitializeRequest{
		AssignmentID: "A-1", Benefit: generic.BenefitSecurityDeposit, TotalAmount: generic.MustAmount("-5"),
	})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	_, err = svc.Initialize(ctx, deposit.InitializeRequest{
		AssignmentID: "A-1", Benefit: generic.BenefitBusCard, TotalAmount: generic.MustAmount("50"),
	})
	assert.True(t, generic.IsClientError(err), "assignment has no bus card agreement")

	_, err = svc.Initialize(ctx, deposit.InitializeRequest{
		AssignmentID: "missing", Benefit: generic.BenefitSecurityDeposit, TotalAmount: generic.MustAmount("500"),
	})
	assert.ErrorIs(t, err, generic.ErrAssignmentNotFound)

	_, err = svc.Initialize(ctx, deposit.InitializeRequest{
		AssignmentID: "A-1", Benefit: generic.BenefitHousing, TotalAmount: generic.MustAmount("500"),
	})
	assert.ErrorIs(t, err, generic.ErrUnknownBenefit, "housing has no installment plan")
}

// =============================================================================
// REVISE
// =============================================================================

func TestRevise_TotalChange_RegeneratesAndRequeues(t *testing.T) {
	// GIVEN: $500 deposit with 4 queued installments
	// WHEN: Total revised to $600
	// THEN: New 4 x $150 schedule, old queue items cancelled, new ones open

	svc, mem := newService(t)
	ctx := context.Background()

	d, err := svc.Initialize(ctx, deposit.InitializeRequest{
		AssignmentID: "A-1", Benefit: generic.BenefitSecurityDeposit, TotalAmount: generic.MustAmount("500"),
	})
	require.NoError(t, err)

	total := generic.MustAmount("600")
	revised, err := svc.Revise(ctx, d.ID, deposit.ReviseRequest{TotalAmount: &total})
	require.NoError(t, err)

	require.Len(t, revised.Deductions, 4)
	for _, ded := range revised.Deductions {
		assert.Equal(t, "150.00", ded.Amount.String())
	}

	queued, err := mem.ListPending(ctx, d.ID)
	require.NoError(t, err)
	open, cancelled := 0, 0
	for _, q := range queued {
		switch q.Status {
		case generic.PendingOpen:
			open++
			assert.Equal(t, "150.00", q.Amount.String())
		case generic.PendingCancelled:
			cancelled++
		}
	}
	assert.Equal(t, 4, open)
	assert.Equal(t, 4, cancelled)
}

func TestRevise_AfterDeduction_Locked(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	d, err := svc.Initialize(ctx, deposit.InitializeRequest{
		AssignmentID: "A-1", Benefit: generic.BenefitSecurityDeposit, TotalAmount: generic.MustAmount("500"),
	})
	require.NoError(t, err)
	_, err = svc.MarkDeducted(ctx, d.ID, 1, date(2025, time.January, 20))
	require.NoError(t, err)

	start := date(2025, time.February, 1)
	_, err = svc.Revise(ctx, d.ID, deposit.ReviseRequest{StartDate: &start})
	assert.ErrorIs(t, err, generic.ErrScheduleLocked)
}

func TestRevise_NotesOnly_KeepsSchedule(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()

	d, err := svc.Initialize(ctx, deposit.InitializeRequest{
		AssignmentID: "A-1", Benefit: generic.BenefitSecurityDeposit, TotalAmount: generic.MustAmount("500"),
	})
	require.NoError(t, err)

	notes := "key returned"
	revised, err := svc.Revise(ctx, d.ID, deposit.ReviseRequest{Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, "key returned", revised.Notes)
	assert.Equal(t, d.Deductions, revised.Deductions)

	queued, err := mem.ListPending(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, queued, 4)
}

// =============================================================================
// INSTALLMENT TRANSITIONS
// =============================================================================

func TestMarkDeducted_AllSettled_MarksPaid(t *testing.T) {
	// GIVEN: 4-installment deposit
	// WHEN: 3 deducted and 1 skipped
	// THEN: Deposit is paid, paid date = last deduction date

	svc, _ := newService(t)
	ctx := context.Background()

	d, err := svc.Initialize(ctx, deposit.InitializeRequest{
		AssignmentID: "A-1", Benefit: generic.BenefitSecurityDeposit, TotalAmount: generic.MustAmount("500"),
	})
	require.NoError(t, err)

	for seq, day := range map[int]generic.TimePoint{
		1: date(2025, time.January, 20),
		2: date(2025, time.February, 3),
		3: date(2025, time.February, 17),
	} {
		_, err := svc.MarkDeducted(ctx, d.ID, seq, day)
		require.NoError(t, err)
	}
	final, err := svc.Skip(ctx, d.ID, 4)
	require.NoError(t, err)

	assert.Equal(t, generic.PaymentPaid, final.PaymentStatus)
	require.NotNil(t, final.PaidDate)
	assert.True(t, final.PaidDate.Equal(date(2025, time.February, 17)))
	assert.Equal(t, "375.00", final.Deducted().String())
	assert.Equal(t, "125.00", final.Remaining().String())
}

func TestMarkDeducted_InvalidTransitions(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	d, err := svc.Initialize(ctx, deposit.InitializeRequest{
		AssignmentID: "A-1", Benefit: generic.BenefitSecurityDeposit, TotalAmount: generic.MustAmount("500"),
	})
	require.NoError(t, err)

	_, err = svc.MarkDeducted(ctx, d.ID, 1, date(2025, time.January, 20))
	require.NoError(t, err)

	_, err = svc.MarkDeducted(ctx, d.ID, 1, date(2025, time.January, 21))
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	_, err = svc.Skip(ctx, d.ID, 9)
	assert.ErrorIs(t, err, generic.ErrDeductionNotFound)

	_, err = svc.MarkPaid(ctx, d.ID, date(2025, time.March, 1))
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestSkip_LeavesQueueAndSettlesWithDeductions(t *testing.T) {
	// GIVEN: A $500 payroll deposit
	// WHEN: One installment is skipped and the other three deducted
	// THEN: The deposit is paid on the last deduction date and the queue is untouched

	svc, mem := newService(t)
	ctx := context.Background()

	d, err := svc.Initialize(ctx, deposit.InitializeRequest{
		AssignmentID: "A-1",
		Benefit:      generic.BenefitSecurityDeposit,
		TotalAmount:  generic.MustAmount("500"),
	})
	require.NoError(t, err)

	d, err = svc.Skip(ctx, d.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, generic.DeductionSkipped, d.Deductions[1].Status)
	assert.Nil(t, d.Deductions[1].DeductedAt)

	for _, seq := range []int{1, 3, 4} {
		d, err = svc.MarkDeducted(ctx, d.ID, seq, d.Deductions[seq-1].ScheduledDate)
		require.NoError(t, err)
	}
	assert.Equal(t, generic.PaymentPaid, d.PaymentStatus)
	require.NotNil(t, d.PaidDate)
	assert.True(t, d.PaidDate.Equal(date(2025, time.March, 3)))

	queued, err := mem.ListPending(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, queued, 4)

	_, err = svc.Skip(ctx, d.ID, 2)
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestMarkPaid_PayrollDepositRejected(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	d, err := svc.Initialize(ctx, deposit.InitializeRequest{
		AssignmentID: "A-1",
		Benefit:      generic.BenefitSecurityDeposit,
		TotalAmount:  generic.MustAmount("500"),
	})
	require.NoError(t, err)

	_, err = svc.MarkPaid(ctx, d.ID, date(2025, time.January, 8))
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	_, err = svc.MarkPaid(ctx, "missing", generic.TimePoint{})
	assert.ErrorIs(t, err, generic.ErrDepositNotFound)
}
