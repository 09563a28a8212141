package scoring

import (
	"testing"
	"time"

	"promotion_engine/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestPeriodKeys(t *testing.T) {
	cases := []struct {
		name   string
		period Period
		at     time.Time
		want   string
	}{
		{"month", Monthly, time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC), "2026-10"},
		{"month converts to utc", Monthly, time.Date(2026, 11, 1, 1, 0, 0, 0, time.FixedZone("CET", 2*3600)), "2026-10"},
		{"week", Weekly, time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC), "2026-W42"},
		{"monday starts week", Weekly, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), "2026-W43"},
		{"sunday ends week", Weekly, time.Date(2026, 10, 18, 23, 59, 59, 0, time.UTC), "2026-W42"},
		{"iso year differs from calendar year", Weekly, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), "2026-W53"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.period.Key(tc.at))
		})
	}
}

func TestShouldReset(t *testing.T) {
	now := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC) // Monday
	require.True(t, ShouldReset(Monthly, "2026-10", now))
	require.False(t, ShouldReset(Monthly, "2026-11", now))
	require.True(t, ShouldReset(Monthly, "", now))
	require.True(t, ShouldReset(Weekly, "2026-W44", now))
	require.False(t, ShouldReset(Weekly, "2026-W45", now))
}

func TestApplyRollsOverOnFirstEventAfterBoundary(t *testing.T) {
	var s domain.PromotionScore
	oct := time.Date(2026, 10, 30, 10, 0, 0, 0, time.UTC) // Friday
	Apply(&s, 100, oct, oct)
	Apply(&s, 50, oct.Add(time.Hour), oct.Add(time.Hour))
	require.Equal(t, int64(150), s.MonthlyScore)
	require.Equal(t, int64(150), s.WeeklyScore)

	nov := time.Date(2026, 11, 1, 10, 0, 0, 0, time.UTC) // Sunday, same ISO week
	Apply(&s, 20, nov, nov)
	require.Equal(t, int64(170), s.TotalScore)
	require.Equal(t, int64(20), s.MonthlyScore)
	require.Equal(t, "2026-11", s.MonthKey)
	require.Equal(t, int64(170), s.WeeklyScore)

	mon := time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC)
	Apply(&s, 5, mon, mon)
	require.Equal(t, int64(5), s.WeeklyScore)
	require.Equal(t, "2026-W45", s.WeekKey)
	require.Equal(t, int64(25), s.MonthlyScore)
}

func TestApplyIgnoresLateEventForClosedPeriod(t *testing.T) {
	var s domain.PromotionScore
	nov := time.Date(2026, 11, 3, 10, 0, 0, 0, time.UTC)
	Apply(&s, 40, nov, nov)
	Apply(&s, 10, nov.AddDate(0, 0, -5), nov)
	require.Equal(t, int64(50), s.TotalScore)
	require.Equal(t, int64(40), s.MonthlyScore)
	require.Equal(t, "2026-11", s.MonthKey)
	require.Equal(t, nov, s.LastEventAt)
}

func TestApplyRollingWindow(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	var s domain.PromotionScore
	Apply(&s, 1, now.AddDate(0, 0, -29), now)
	Apply(&s, 10, now.AddDate(0, 0, -27), now)
	Apply(&s, 100, now.AddDate(0, 0, -1), now)
	require.Equal(t, int64(110), s.Past28DaysScore)
	require.Equal(t, int64(111), s.TotalScore)
}

func TestCurrentScore(t *testing.T) {
	now := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)
	require.Equal(t, int64(0), CurrentScore(Monthly, 30, "2026-10", now))
	require.Equal(t, int64(30), CurrentScore(Monthly, 30, "2026-11", now))
}
