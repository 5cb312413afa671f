package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/housing-benefits/generic"
)

func TestGenerateSchedule_SumsToTotal(t *testing.T) {
	start := generic.NewTimePoint(2025, time.January, 6)

	tests := []struct {
		total string
		count int
	}{
		{"500", 4},
		{"100", 3},
		{"1000", 7},
		{"0.05", 4},
		{"0.05", 8},
		{"0.01", 3},
		{"333.33", 1},
		{"1234.56", 12},
	}

	for _, tt := range tests {
		t.Run(tt.total, func(t *testing.T) {
			total := generic.MustAmount(tt.total)
			schedule, err := generic.GenerateSchedule(total, start, tt.count, generic.BiWeekly)
			require.NoError(t, err)
			require.Len(t, schedule, tt.count)

			assert.True(t, generic.ScheduleTotal(schedule).Equal(total),
				"schedule sums to %s, want %s", generic.ScheduleTotal(schedule), total)
			for i, d := range schedule {
				assert.Equal(t, i+1, d.Sequence)
				assert.Equal(t, generic.DeductionScheduled, d.Status)
				assert.False(t, d.Amount.IsNegative(), "installment %d negative", d.Sequence)
			}
		})
	}
}

func TestGenerateSchedule_LastInstallmentAbsorbsResidual(t *testing.T) {
	// GIVEN: $100 over 3 installments
	// WHEN: The schedule is generated
	// THEN: 33.33, 33.33, 33.34

	schedule, err := generic.GenerateSchedule(generic.MustAmount("100"), generic.NewTimePoint(2025, time.January, 6), 3, generic.BiWeekly)
	require.NoError(t, err)

	assert.Equal(t, "33.33", schedule[0].Amount.String())
	assert.Equal(t, "33.33", schedule[1].Amount.String())
	assert.Equal(t, "33.34", schedule[2].Amount.String())
}

func TestGenerateSchedule_TinyTotalTruncates(t *testing.T) {
	// GIVEN: $0.05 over 8 installments, where 0.00625 rounds up to 0.01
	// WHEN: The schedule is generated
	// THEN: Installments truncate to zero and the last one carries the total

	schedule, err := generic.GenerateSchedule(generic.MustAmount("0.05"), generic.NewTimePoint(2025, time.January, 6), 8, generic.BiWeekly)
	require.NoError(t, err)

	assert.Equal(t, "0.00", schedule[0].Amount.String())
	assert.Equal(t, "0.05", schedule[7].Amount.String())
}

func TestGenerateSchedule_FixedIntervalDates(t *testing.T) {
	start := generic.NewTimePoint(2025, time.January, 6)
	schedule, err := generic.GenerateSchedule(generic.MustAmount("500"), start, 4, generic.BiWeekly)
	require.NoError(t, err)

	want := []string{"2025-01-20", "2025-02-03", "2025-02-17", "2025-03-03"}
	for i, d := range schedule {
		assert.Equal(t, want[i], d.ScheduledDate.String())
		assert.Equal(t, "125.00", d.Amount.String())
	}
}

func TestGenerateSchedule_PayrollAnchorDates(t *testing.T) {
	tests := []struct {
		name  string
		start generic.TimePoint
		want  []string
	}{
		{"before first anchor", generic.NewTimePoint(2025, time.January, 3),
			[]string{"2025-01-07", "2025-01-22", "2025-02-07", "2025-02-22"}},
		{"on an anchor", generic.NewTimePoint(2025, time.January, 22),
			[]string{"2025-01-22", "2025-02-07", "2025-02-22", "2025-03-07"}},
		{"after last anchor", generic.NewTimePoint(2025, time.December, 23),
			[]string{"2026-01-07", "2026-01-22", "2026-02-07", "2026-02-22"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schedule, err := generic.GenerateSchedule(generic.MustAmount("400"), tt.start, 4, generic.SemimonthlyPayroll)
			require.NoError(t, err)
			for i, d := range schedule {
				assert.Equal(t, tt.want[i], d.ScheduledDate.String())
			}
		})
	}
}

func TestGenerateSchedule_DatesStrictlyIncrease(t *testing.T) {
	for _, cadence := range []generic.Cadence{generic.BiWeekly, generic.FixedInterval{Days: 7}, generic.SemimonthlyPayroll} {
		schedule, err := generic.GenerateSchedule(generic.MustAmount("900"), generic.NewTimePoint(2024, time.February, 20), 9, cadence)
		require.NoError(t, err)
		for i := 1; i < len(schedule); i++ {
			assert.True(t, schedule[i-1].ScheduledDate.Before(schedule[i].ScheduledDate), "%s: installment %d", cadence.Type(), i+1)
		}
	}
}

func TestGenerateSchedule_EmptyAndInvalid(t *testing.T) {
	start := generic.NewTimePoint(2025, time.January, 6)

	schedule, err := generic.GenerateSchedule(generic.MustAmount("0"), start, 4, generic.BiWeekly)
	require.NoError(t, err)
	assert.Empty(t, schedule, "zero total has nothing to deduct")

	schedule, err = generic.GenerateSchedule(generic.MustAmount("500"), generic.TimePoint{}, 4, generic.BiWeekly)
	require.NoError(t, err)
	assert.Empty(t, schedule, "no start date yet")

	_, err = generic.GenerateSchedule(generic.MustAmount("500"), start, 0, generic.BiWeekly)
	assert.ErrorIs(t, err, generic.ErrInvalidInstallmentCount)

	_, err = generic.GenerateSchedule(generic.MustAmount("500"), start, 2, generic.PayrollAnchor{Anchors: []int{7, 31}})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}
