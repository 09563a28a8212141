package scoring

import (
	"fmt"
	"time"

	"promotion_engine/internal/domain"
)

// Window is the length of the rolling score window
const Window = 28 * 24 * time.Hour

// Period is a calendar window with a hard reset
type Period int

// Calendar periods
const (
	Monthly Period = iota // Calendar month
	Weekly                // ISO week, Monday start
)

// Key identifies the period containing t. Keys of the same period sort chronologically.
func (p Period) Key(t time.Time) string {
	t = t.UTC()
	switch p {
	case Weekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	default:
		return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
	}
}

// ShouldReset reports whether a score stamped with lastPeriodKey belongs to a period other than the one containing now
func ShouldReset(p Period, lastPeriodKey string, now time.Time) bool {
	return lastPeriodKey != p.Key(now)
}

// Apply folds one ledger event into s. now is the aggregation time and bounds the rolling window.
func Apply(s *domain.PromotionScore, points int64, occurredAt, now time.Time) {
	s.TotalScore += points
	applyPeriod(&s.MonthlyScore, &s.MonthKey, Monthly, points, occurredAt)
	applyPeriod(&s.WeeklyScore, &s.WeekKey, Weekly, points, occurredAt)
	if InWindow(occurredAt, now) {
		s.Past28DaysScore += points
	}
	if occurredAt.After(s.LastEventAt) {
		s.LastEventAt = occurredAt
	}
}

// InWindow reports whether t falls in the rolling window ending at now
func InWindow(t, now time.Time) bool {
	return !t.Before(now.Add(-Window)) && !t.After(now)
}

func applyPeriod(score *int64, key *string, p Period, points int64, occurredAt time.Time) {
	eventKey := p.Key(occurredAt)
	switch {
	case !ShouldReset(p, *key, occurredAt):
		*score += points
	case eventKey > *key:
		// first event after a boundary starts the new period
		*score = points
		*key = eventKey
	default:
		// late event from an already closed period
	}
}

// CurrentScore returns the value of a period score as seen at now. A score stamped with an older period reads as zero.
func CurrentScore(p Period, score int64, key string, now time.Time) int64 {
	if ShouldReset(p, key, now) {
		return 0
	}
	return score
}
