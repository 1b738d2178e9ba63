package calendar

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var weekdaysMonFri = []int{1, 2, 3, 4, 5}

func mustTemplate(t *testing.T, breakStart, breakEnd string, step int) Template {
	t.Helper()
	tpl, err := NewTemplate("09:00", "18:00", breakStart, breakEnd, weekdaysMonFri, step)
	require.NoError(t, err)
	return tpl
}

func clocks(plan DayPlan) []string {
	out := make([]string, 0, len(plan.Slots))
	for _, s := range plan.Slots {
		out = append(out, s.Start.Format("15:04"))
	}
	return out
}

func TestPlan_SaturdayHasNoSlots(t *testing.T) {
	tpl := mustTemplate(t, "", "", 30)
	saturday := time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)

	plans := Plan(tpl, 30*time.Minute, 1, time.UTC, saturday)
	assert.Empty(t, plans)
}

func TestPlan_FullDayWithBreak(t *testing.T) {
	tpl := mustTemplate(t, "13:00", "14:00", 30)
	monday := time.Date(2025, 3, 3, 6, 0, 0, 0, time.UTC)

	plans := Plan(tpl, 30*time.Minute, 1, time.UTC, monday)
	require.Len(t, plans, 1)

	want := []string{
		"09:00", "09:30", "10:00", "10:30", "11:00", "11:30", "12:00", "12:30",
		"14:00", "14:30", "15:00", "15:30", "16:00", "16:30", "17:00", "17:30",
	}
	if diff := cmp.Diff(want, clocks(plans[0])); diff != "" {
		t.Fatalf("slot starts mismatch (-want +got):\n%s", diff)
	}
	for _, s := range plans[0].Slots {
		assert.Equal(t, 30*time.Minute, s.Duration())
	}
}

func TestPlan_LongServiceRespectsBreakAndClosing(t *testing.T) {
	tpl := mustTemplate(t, "13:00", "14:00", 30)
	monday := time.Date(2025, 3, 3, 6, 0, 0, 0, time.UTC)

	plans := Plan(tpl, time.Hour, 1, time.UTC, monday)
	require.Len(t, plans, 1)

	want := []string{
		"09:00", "09:30", "10:00", "10:30", "11:00", "11:30", "12:00",
		"14:00", "14:30", "15:00", "15:30", "16:00", "16:30", "17:00",
	}
	if diff := cmp.Diff(want, clocks(plans[0])); diff != "" {
		t.Fatalf("slot starts mismatch (-want +got):\n%s", diff)
	}
}

func TestPlan_SkipsElapsedSteps(t *testing.T) {
	tpl := mustTemplate(t, "", "", 60)
	monday := time.Date(2025, 3, 3, 10, 10, 0, 0, time.UTC)

	plans := Plan(tpl, 30*time.Minute, 1, time.UTC, monday)
	require.Len(t, plans, 1)
	assert.Equal(t, []string{"11:00", "12:00", "13:00", "14:00", "15:00", "16:00", "17:00"}, clocks(plans[0]))
}

func TestPlan_DefaultStepAndHorizon(t *testing.T) {
	tpl := mustTemplate(t, "", "", 0)
	monday := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	plans := Plan(tpl, 30*time.Minute, 7, time.UTC, monday)
	require.Len(t, plans, 5)
	for _, p := range plans {
		assert.Len(t, p.Slots, 18)
		assert.NotEqual(t, time.Saturday, p.Date.Weekday())
		assert.NotEqual(t, time.Sunday, p.Date.Weekday())
	}
}

func TestPlan_UsesLocation(t *testing.T) {
	tpl := mustTemplate(t, "", "", 60)
	loc := time.FixedZone("UTC+3", 3*60*60)
	// 22:00 UTC Sunday is already 01:00 Monday in UTC+3.
	now := time.Date(2025, 3, 2, 22, 0, 0, 0, time.UTC)

	plans := Plan(tpl, time.Hour, 1, loc, now)
	require.Len(t, plans, 1)
	assert.Equal(t, time.Monday, plans[0].Date.Weekday())
	assert.Equal(t, 6, plans[0].Slots[0].Start.UTC().Hour())
}

func TestNewTemplate_Validation(t *testing.T) {
	_, err := NewTemplate("18:00", "09:00", "", "", weekdaysMonFri, 30)
	assert.ErrorIs(t, err, ErrInvalidTemplate)

	_, err = NewTemplate("09:00", "18:00", "13:00", "", weekdaysMonFri, 30)
	assert.ErrorIs(t, err, ErrInvalidTemplate)

	_, err = NewTemplate("09:00", "18:00", "", "", []int{7}, 30)
	assert.ErrorIs(t, err, ErrInvalidTemplate)

	_, err = NewTemplate("9am", "18:00", "", "", weekdaysMonFri, 30)
	assert.ErrorIs(t, err, ErrInvalidTemplate)

	_, err = NewTemplate("09:00", "18:00", "", "", nil, 30)
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestDaysUntilExpiry(t *testing.T) {
	now := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 10, DaysUntilExpiry(now.Add(10*24*time.Hour), now))
	assert.Equal(t, 1, DaysUntilExpiry(now.Add(time.Hour), now))
	assert.LessOrEqual(t, DaysUntilExpiry(now.Add(-48*time.Hour), now), 0)

	assert.True(t, NeedsRenewal(now.Add(20*24*time.Hour), now, 30))
	assert.False(t, NeedsRenewal(now.Add(40*24*time.Hour), now, 30))
}
