package stats

import "github.com/dislink/dxp/internal/store"

// VariantResult contains statistics for a single variant. Rates and
// confidences are percentages.
type VariantResult struct {
	VariantID               string             `json:"variant_id"`
	Name                    string             `json:"name"`
	IsControl               bool               `json:"is_control"`
	Participants            int                `json:"participants"`
	Conversions             float64            `json:"conversions"`
	MetricConversions       map[string]float64 `json:"metric_conversions"`
	ConversionRate          float64            `json:"conversion_rate"`
	Confidence              float64            `json:"confidence"`
	StatisticalSignificance bool               `json:"statistical_significance"`
	CILower                 float64            `json:"ci_lower"`
	CIUpper                 float64            `json:"ci_upper"`
	VsControl               float64            `json:"vs_control"`
}

// Summary is the aggregate view across all variants of an experiment.
type Summary struct {
	TotalParticipants       int     `json:"total_participants"`
	TotalConversions        float64 `json:"total_conversions"`
	AverageConversionRate   float64 `json:"average_conversion_rate"`
	BestPerformingVariant   string  `json:"best_performing_variant"`
	StatisticalSignificance bool    `json:"statistical_significance"`
}

// Analyze builds per-variant results in experiment variant order.
// Participants are counted from active assignments; conversions are summed
// by value across all metrics, with per-metric sums kept alongside.
func Analyze(exp *store.Experiment, assignments []*store.Assignment, conversions []*store.Conversion) []VariantResult {
	participants := make(map[string]int)
	for _, a := range assignments {
		if a.IsActive {
			participants[a.VariantID]++
		}
	}

	totals := make(map[string]float64)
	perMetric := make(map[string]map[string]float64)
	for _, c := range conversions {
		totals[c.VariantID] += c.Value
		if perMetric[c.VariantID] == nil {
			perMetric[c.VariantID] = make(map[string]float64)
		}
		perMetric[c.VariantID][c.MetricID] += c.Value
	}

	results := make([]VariantResult, len(exp.Variants))
	for i, v := range exp.Variants {
		n := participants[v.ID]
		conv := totals[v.ID]

		rate := 0.0
		if n > 0 {
			rate = conv / float64(n) * 100
		}

		confidence := Confidence(conv, n)
		lower, upper := WilsonInterval(conv, n, 0.95)

		metrics := perMetric[v.ID]
		if metrics == nil {
			metrics = map[string]float64{}
		}

		results[i] = VariantResult{
			VariantID:               v.ID,
			Name:                    v.Name,
			IsControl:               v.IsControl,
			Participants:            n,
			Conversions:             conv,
			MetricConversions:       metrics,
			ConversionRate:          rate,
			Confidence:              confidence,
			StatisticalSignificance: Significant(confidence),
			CILower:                 lower * 100,
			CIUpper:                 upper * 100,
		}
	}

	applyControlConfidence(results)
	return results
}

// ControlConfidence returns the percentage confidence, from a two-proportion
// z-test, that a variant outperforms the control.
func ControlConfidence(variant, control VariantResult) float64 {
	return SignificanceTest(
		variant.Conversions, variant.Participants,
		control.Conversions, control.Participants,
	) * 100
}

func applyControlConfidence(results []VariantResult) {
	controlIdx := -1
	for i, r := range results {
		if r.IsControl {
			controlIdx = i
			break
		}
	}
	if controlIdx < 0 {
		return
	}

	for i := range results {
		if i == controlIdx {
			continue
		}
		results[i].VsControl = ControlConfidence(results[i], results[controlIdx])
	}
}

// Summarize folds per-variant results into totals. The best performing
// variant is the one with the highest conversion rate; the first one wins ties.
func Summarize(results []VariantResult) Summary {
	var summary Summary
	best := -1

	for i, r := range results {
		summary.TotalParticipants += r.Participants
		summary.TotalConversions += r.Conversions
		if r.StatisticalSignificance {
			summary.StatisticalSignificance = true
		}
		if best < 0 || r.ConversionRate > results[best].ConversionRate {
			best = i
		}
	}

	if summary.TotalParticipants > 0 {
		summary.AverageConversionRate = summary.TotalConversions / float64(summary.TotalParticipants) * 100
	}
	if best >= 0 {
		summary.BestPerformingVariant = results[best].VariantID
	}

	return summary
}
