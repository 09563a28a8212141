package engine

import (
	"errors"

	"promotion_engine/internal/domain"
	"promotion_engine/internal/metrics"
)

// errStale signals a lost optimistic lock; the whole unit is retried
var errStale = errors.New("stale wallet version")

// withRetry runs fn until it stops reporting errStale, at most attempts times
func withRetry(attempts int, operation string, m *metrics.PromotionMetrics, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		err := fn()
		if !errors.Is(err, errStale) {
			return err
		}
		m.ConflictRetry(operation)
	}
	return domain.ErrConflict
}
