package experiment

import (
	"context"

	"github.com/dislink/dxp/internal/store"
	"github.com/dislink/dxp/internal/tracking"
)

// DefaultConversionValue is recorded when callers do not supply a value.
const DefaultConversionValue = 1.0

// TrackConversion records a conversion against the user's current variant.
// Users without an active assignment are ignored. Failures are logged, never
// returned.
func (s *Service) TrackConversion(ctx context.Context, userID, experimentID, metricID string, value float64) {
	log := s.log.With("user_id", userID, "experiment_id", experimentID, "metric_id", metricID)

	exp, err := s.cached(ctx, experimentID)
	if err != nil {
		return
	}

	variantID, found, err := s.activeVariant(ctx, userID, exp.ID)
	if err != nil {
		log.Warn("conversion dropped: assignment lookup failed", "error", err)
		return
	}
	if !found {
		return
	}

	c := &store.Conversion{
		UserID:       userID,
		ExperimentID: exp.ID,
		VariantID:    variantID,
		MetricID:     metricID,
		Value:        value,
		ConvertedAt:  s.now(),
	}
	if err := s.store.InsertConversion(ctx, c); err != nil {
		log.Warn("conversion dropped: insert failed", "error", err)
		return
	}

	s.track(ctx, tracking.EventConversion, map[string]any{
		"user_id":       userID,
		"experiment_id": exp.ID,
		"variant_id":    variantID,
		"metric_id":     metricID,
		"value":         value,
	})
}
