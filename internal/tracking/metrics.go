package tracking

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsTracker counts events in Prometheus. Conversion values are summed
// separately so revenue-style metrics can be graphed.
type MetricsTracker struct {
	events           *prometheus.CounterVec
	conversionValues *prometheus.CounterVec
}

func NewMetricsTracker(reg prometheus.Registerer) *MetricsTracker {
	factory := promauto.With(reg)
	return &MetricsTracker{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dxp_experiment_events_total",
			Help: "Experiment analytics events by name, experiment and variant",
		}, []string{"event", "experiment_id", "variant_id"}),
		conversionValues: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dxp_experiment_conversion_value_total",
			Help: "Sum of conversion values by experiment, variant and metric",
		}, []string{"experiment_id", "variant_id", "metric_id"}),
	}
}

func (t *MetricsTracker) Track(_ context.Context, name string, props map[string]any) error {
	experimentID := label(props, "experiment_id")
	variantID := label(props, "variant_id")

	t.events.WithLabelValues(name, experimentID, variantID).Inc()

	if name == EventConversion {
		value, ok := props["value"].(float64)
		if !ok {
			return fmt.Errorf("conversion event without numeric value")
		}
		if value < 0 {
			// Prometheus counters cannot decrease
			return fmt.Errorf("negative conversion value %v", value)
		}
		t.conversionValues.WithLabelValues(experimentID, variantID, label(props, "metric_id")).Add(value)
	}

	return nil
}

func label(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}
