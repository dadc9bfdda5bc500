package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// These metrics are promauto-registered against the global registry, so the
// main thing to verify is that every vector accepts its declared label
// arity without panicking and that written values are readable back.
func TestMetricsRegistration(t *testing.T) {
	t.Run("RedisOperationsTotal", func(t *testing.T) {
		RedisOperationsTotal.WithLabelValues("get", "success").Inc()
		val := testutil.ToFloat64(RedisOperationsTotal.WithLabelValues("get", "success"))
		if val < 1 {
			t.Errorf("expected RedisOperationsTotal to be at least 1, got %v", val)
		}
	})

	t.Run("RedisOperationDuration", func(t *testing.T) {
		RedisOperationDuration.WithLabelValues("get").Observe(0.1)
	})

	t.Run("AlarmsByKind", func(t *testing.T) {
		AlarmsScheduled.WithLabelValues("afk_warning").Inc()
		AlarmsFired.WithLabelValues("afk_warning").Inc()
		if v := testutil.ToFloat64(AlarmsScheduled.WithLabelValues("afk_warning")); v < 1 {
			t.Errorf("expected AlarmsScheduled to be at least 1, got %v", v)
		}
	})

	t.Run("GaugesMove", func(t *testing.T) {
		before := testutil.ToFloat64(ActiveWebSocketConnections)
		IncConnection()
		if after := testutil.ToFloat64(ActiveWebSocketConnections); after != before+1 {
			t.Errorf("expected gauge to increment by 1, got %v -> %v", before, after)
		}
		DecConnection()
	})

	t.Run("MessageProcessingDuration", func(t *testing.T) {
		MessageProcessingDuration.WithLabelValues("ROLL_DICE").Observe(0.002)
	})
}
