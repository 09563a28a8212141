package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PromotionMetrics groups the engine's collectors
type PromotionMetrics struct {
	boostsApplied   *prometheus.CounterVec
	pointsSpent     *prometheus.CounterVec
	boostsRejected  *prometheus.CounterVec
	claims          *prometheus.CounterVec
	conflictRetries *prometheus.CounterVec
	aggregateDrift  prometheus.Counter
	eventsApplied   prometheus.Counter
	outboxBacklog   prometheus.Gauge
}

var (
	promotionOnce     sync.Once
	promotionRegistry *PromotionMetrics
)

// Promotion returns the process-wide metrics, registering them on first use
func Promotion() *PromotionMetrics {
	promotionOnce.Do(func() {
		promotionRegistry = &PromotionMetrics{
			boostsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "promotion_boosts_applied_total",
				Help: "Boosts committed to the ledger by source and entity type.",
			}, []string{"source", "entity_type"}),
			pointsSpent: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "promotion_points_spent_total",
				Help: "Points spent on boosts by source.",
			}, []string{"source"}),
			boostsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "promotion_boosts_rejected_total",
				Help: "Boosts rejected before any write, by reason.",
			}, []string{"reason"}),
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "promotion_daily_claims_total",
				Help: "Daily claim attempts by outcome.",
			}, []string{"outcome"}),
			conflictRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "promotion_conflict_retries_total",
				Help: "Optimistic lock retries by operation.",
			}, []string{"operation"}),
			aggregateDrift: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "promotion_aggregate_drift_total",
				Help: "Rolling window scores corrected by reconciliation.",
			}),
			eventsApplied: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "promotion_aggregate_events_applied_total",
				Help: "Ledger entries folded into the aggregates.",
			}),
			outboxBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "promotion_outbox_backlog",
				Help: "Ledger entries waiting for aggregation at the last drain.",
			}),
		}
		prometheus.MustRegister(
			promotionRegistry.boostsApplied,
			promotionRegistry.pointsSpent,
			promotionRegistry.boostsRejected,
			promotionRegistry.claims,
			promotionRegistry.conflictRetries,
			promotionRegistry.aggregateDrift,
			promotionRegistry.eventsApplied,
			promotionRegistry.outboxBacklog,
		)
	})
	return promotionRegistry
}

// BoostApplied records a committed boost
func (m *PromotionMetrics) BoostApplied(source, entityType string, points int64) {
	if m == nil {
		return
	}
	m.boostsApplied.WithLabelValues(source, entityType).Inc()
	m.pointsSpent.WithLabelValues(source).Add(float64(points))
}

// BoostRejected records a refused boost
func (m *PromotionMetrics) BoostRejected(reason string) {
	if m == nil {
		return
	}
	m.boostsRejected.WithLabelValues(reason).Inc()
}

// Claim records a daily claim attempt
func (m *PromotionMetrics) Claim(outcome string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(outcome).Inc()
}

// ConflictRetry records one optimistic lock retry
func (m *PromotionMetrics) ConflictRetry(operation string) {
	if m == nil {
		return
	}
	m.conflictRetries.WithLabelValues(operation).Inc()
}

// DriftCorrected records rolling window rows fixed by reconciliation
func (m *PromotionMetrics) DriftCorrected(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.aggregateDrift.Add(float64(n))
}

// EventsApplied records ledger entries folded into aggregates
func (m *PromotionMetrics) EventsApplied(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.eventsApplied.Add(float64(n))
}

// SetOutboxBacklog reports the pending outbox size
func (m *PromotionMetrics) SetOutboxBacklog(n int64) {
	if m == nil {
		return
	}
	m.outboxBacklog.Set(float64(n))
}

// Collectors exposes the raw collectors for tests
func (m *PromotionMetrics) Collectors() (rejected *prometheus.CounterVec, drift prometheus.Counter) {
	return m.boostsRejected, m.aggregateDrift
}

// Retries exposes the conflict retry counter for tests
func (m *PromotionMetrics) Retries() *prometheus.CounterVec {
	return m.conflictRetries
}
