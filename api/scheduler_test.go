package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/housing-benefits/billing"
	"github.com/warp/housing-benefits/generic"
	"github.com/warp/housing-benefits/generic/store"
)

func TestDue_FirstHalfIncludesPreviousSecondWindow(t *testing.T) {
	reqs := Due(generic.NewTimePoint(2025, time.January, 10))
	require.Len(t, reqs, 2)
	assert.Equal(t, 2024, reqs[0].Year)
	assert.Equal(t, 12, reqs[0].Month)
	assert.Equal(t, generic.SelectSecond, reqs[0].Period)
	assert.Equal(t, generic.SelectFirst, reqs[1].Period)

	reqs = Due(generic.NewTimePoint(2025, time.January, 16))
	require.Len(t, reqs, 1)
	assert.Equal(t, generic.SelectBoth, reqs[0].Period)
}

func TestRunNow_IdempotentAcrossTicks(t *testing.T) {
	// GIVEN: A housing assignment and a scheduler on Jan 20
	// WHEN: Two ticks run
	// THEN: The first bills both January windows, the second creates nothing

	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveAssignment(ctx, generic.Assignment{
		ID: "A-1", StaffID: "S-1", StartDate: generic.NewTimePoint(2025, time.January, 1),
		RentAmount: generic.MustAmount("650"), Agreements: generic.Agreements{Housing: true},
		Status: generic.AssignmentActive,
	}))

	gs := NewGenerationScheduler(billing.NewOrchestrator(mem, mem), nil)
	gs.Now = func() time.Time { return time.Date(2025, time.January, 20, 2, 0, 0, 0, time.UTC) }

	reports := gs.RunNow(ctx)
	require.Len(t, reports, 1)
	assert.Equal(t, 2, reports[0].Created)

	reports = gs.RunNow(ctx)
	require.Len(t, reports, 1)
	assert.Equal(t, 0, reports[0].Created)
	assert.Equal(t, 2, reports[0].SkippedDuplicate)
}

func TestScheduler_DisabledDoesNotStart(t *testing.T) {
	gs := NewGenerationScheduler(billing.NewOrchestrator(store.NewMemory(), store.NewMemory()), nil)
	gs.Enabled = false
	gs.Start()
	gs.Stop()
	assert.Nil(t, gs.ticker)
}

func TestScheduler_RestartAfterStop(t *testing.T) {
	// GIVEN: An enabled scheduler with no assignments
	// WHEN: It is started and stopped twice
	// THEN: Each cycle runs cleanly and a repeated Start is a no-op

	mem := store.NewMemory()
	gs := NewGenerationScheduler(billing.NewOrchestrator(mem, mem), nil)
	gs.Enabled = true
	gs.CheckInterval = time.Hour
	gs.Now = func() time.Time { return time.Date(2025, time.January, 20, 2, 0, 0, 0, time.UTC) }

	for i := 0; i < 2; i++ {
		gs.Start()
		gs.Start()
		require.NotNil(t, gs.ticker, "cycle %d", i+1)
		assert.NotPanics(t, gs.Stop, "cycle %d", i+1)
		assert.Nil(t, gs.ticker)
	}
}
