package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPromotionCollectors(t *testing.T) {
	m := Promotion()
	require.Same(t, m, Promotion())

	rejected, drift := m.Collectors()
	before := testutil.ToFloat64(rejected.WithLabelValues("insufficient_balance"))
	m.BoostRejected("insufficient_balance")
	require.Equal(t, before+1, testutil.ToFloat64(rejected.WithLabelValues("insufficient_balance")))

	d := testutil.ToFloat64(drift)
	m.DriftCorrected(3)
	require.Equal(t, d+3, testutil.ToFloat64(drift))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *PromotionMetrics
	require.NotPanics(t, func() {
		m.BoostApplied("subscription", "tour", 10)
		m.BoostRejected("x")
		m.Claim("credited")
		m.ConflictRetry("boost")
		m.DriftCorrected(1)
		m.EventsApplied(1)
		m.SetOutboxBacklog(4)
	})
}
