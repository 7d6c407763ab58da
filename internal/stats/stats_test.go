package stats_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/dislink/dxp/internal/stats"
	"github.com/dislink/dxp/internal/store"
)

func TestWilsonInterval_50PercentConversion(t *testing.T) {
	// 50 successes out of 100 trials
	lower, upper := stats.WilsonInterval(50, 100, 0.95)

	if lower < 0.38 || lower > 0.42 {
		t.Errorf("lower bound %f not in expected range [0.38, 0.42]", lower)
	}
	if upper < 0.58 || upper > 0.62 {
		t.Errorf("upper bound %f not in expected range [0.58, 0.62]", upper)
	}
}

func TestWilsonInterval_LowConversion(t *testing.T) {
	lower, upper := stats.WilsonInterval(5, 100, 0.95)

	if lower < 0.01 || lower > 0.03 {
		t.Errorf("lower bound %f not in expected range [0.01, 0.03]", lower)
	}
	if upper < 0.09 || upper > 0.13 {
		t.Errorf("upper bound %f not in expected range [0.09, 0.13]", upper)
	}
}

func TestWilsonInterval_ZeroTrials(t *testing.T) {
	lower, upper := stats.WilsonInterval(0, 0, 0.95)

	if lower != 0 || upper != 0 {
		t.Errorf("expected (0, 0) for zero trials, got (%f, %f)", lower, upper)
	}
}

func TestWilsonInterval_ValueSumAboveTrials(t *testing.T) {
	// Revenue-style conversions can sum past the participant count
	lower, upper := stats.WilsonInterval(250, 100, 0.95)

	if math.IsNaN(lower) || math.IsNaN(upper) {
		t.Fatalf("expected finite bounds, got (%f, %f)", lower, upper)
	}
	if upper < 0.99 || upper > 1 {
		t.Errorf("expected upper bound near 1, got %f", upper)
	}
}

func TestZScore(t *testing.T) {
	tests := []struct {
		confidence float64
		expected   float64
		tolerance  float64
	}{
		{0.90, 1.645, 0.01},
		{0.95, 1.96, 0.01},
		{0.99, 2.576, 0.01},
		{0.50, 0.674, 0.01},
		{0.68, 0.994, 0.01},
		{0, 0, 0},
	}

	for _, tt := range tests {
		z := stats.ZScore(tt.confidence)
		if math.Abs(z-tt.expected) > tt.tolerance {
			t.Errorf("ZScore(%f) = %f, want %f (tolerance %f)", tt.confidence, z, tt.expected, tt.tolerance)
		}
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name         string
		conversions  float64
		participants int
		expected     float64
	}{
		// p=0.25, se=0.0433, moe=0.0849
		{"quarter converted", 25, 100, 91.51},
		{"no participants", 0, 0, 0},
		{"nobody converted", 0, 100, 100},
		{"everybody converted", 100, 100, 100},
		// p=0.5, se=0.25, moe=0.49
		{"two of four", 2, 4, 51.0},
		{"one of two", 1, 2, 30.70},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stats.Confidence(tt.conversions, tt.participants)
			if math.Abs(got-tt.expected) > 0.01 {
				t.Errorf("Confidence(%v, %d) = %f, want %f", tt.conversions, tt.participants, got, tt.expected)
			}
		})
	}
}

func TestConfidence_ValueSumAboveParticipants(t *testing.T) {
	got := stats.Confidence(250, 100)
	if math.IsNaN(got) || got != 100 {
		t.Errorf("expected proportion clamped to 1 and confidence 100, got %f", got)
	}
}

func TestSignificant(t *testing.T) {
	if stats.Significant(94.99) {
		t.Error("94.99 should not be significant")
	}
	if !stats.Significant(95) {
		t.Error("95 should be significant")
	}
}

func TestSignificanceTest_ClearWinner(t *testing.T) {
	// A: 10% (100/1000), B: 5% (50/1000)
	confidence := stats.SignificanceTest(100, 1000, 50, 1000)

	if confidence < 0.95 {
		t.Errorf("expected high confidence (>0.95), got %f", confidence)
	}
}

func TestSignificanceTest_NoSignificance(t *testing.T) {
	confidence := stats.SignificanceTest(50, 1000, 50, 1000)

	if confidence > 0.60 {
		t.Errorf("expected low confidence (<0.60) for equal rates, got %f", confidence)
	}
}

func TestSignificanceTest_OnlyOneVariantHasParticipants(t *testing.T) {
	confidence := stats.SignificanceTest(10, 100, 0, 0)

	if confidence != 0.5 {
		t.Errorf("expected 0.5 when only one variant has data, got %f", confidence)
	}
}

func experiment(variants ...store.Variant) *store.Experiment {
	return &store.Experiment{ID: "exp-1", Name: "Profile CTA", Variants: variants, Status: store.StatusRunning}
}

func participants(variantID string, n int) []*store.Assignment {
	out := make([]*store.Assignment, n)
	for i := range out {
		out[i] = &store.Assignment{
			UserID:       fmt.Sprintf("%s-user-%d", variantID, i),
			ExperimentID: "exp-1",
			VariantID:    variantID,
			IsActive:     true,
		}
	}
	return out
}

func conversion(variantID, metricID string, value float64) *store.Conversion {
	return &store.Conversion{ExperimentID: "exp-1", VariantID: variantID, MetricID: metricID, Value: value}
}

func TestAnalyze_ResultsArithmetic(t *testing.T) {
	exp := experiment(store.Variant{ID: "control", Name: "Control", IsControl: true})

	var conversions []*store.Conversion
	for i := 0; i < 20; i++ {
		conversions = append(conversions, conversion("control", "signup", 1))
	}
	conversions = append(conversions, conversion("control", "share", 5))

	results := stats.Analyze(exp, participants("control", 100), conversions)

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Participants != 100 {
		t.Errorf("participants = %d, want 100", r.Participants)
	}
	if r.Conversions != 25 {
		t.Errorf("conversions = %f, want 25", r.Conversions)
	}
	if r.ConversionRate != 25 {
		t.Errorf("conversion rate = %f, want 25", r.ConversionRate)
	}
	if math.Abs(r.Confidence-91.51) > 0.01 {
		t.Errorf("confidence = %f, want 91.51", r.Confidence)
	}
	if r.StatisticalSignificance {
		t.Error("expected no significance below 95")
	}
	if r.MetricConversions["signup"] != 20 || r.MetricConversions["share"] != 5 {
		t.Errorf("unexpected per-metric sums: %v", r.MetricConversions)
	}
	if r.CILower >= r.ConversionRate || r.CIUpper <= r.ConversionRate {
		t.Errorf("interval [%f, %f] should bracket %f", r.CILower, r.CIUpper, r.ConversionRate)
	}
}

func TestAnalyze_IgnoresInactiveAssignments(t *testing.T) {
	exp := experiment(store.Variant{ID: "a", Name: "A"})

	assignments := participants("a", 3)
	assignments[0].IsActive = false

	results := stats.Analyze(exp, assignments, nil)
	if results[0].Participants != 2 {
		t.Errorf("participants = %d, want 2", results[0].Participants)
	}
}

func TestAnalyze_EmptyData(t *testing.T) {
	exp := experiment(store.Variant{ID: "a", Name: "A"}, store.Variant{ID: "b", Name: "B"})

	results := stats.Analyze(exp, nil, nil)

	if len(results) != 2 {
		t.Fatalf("expected 2 variants even with no data, got %d", len(results))
	}
	for _, r := range results {
		if r.Participants != 0 || r.Conversions != 0 || r.ConversionRate != 0 || r.Confidence != 0 {
			t.Errorf("expected zeroed result, got %+v", r)
		}
		if r.MetricConversions == nil {
			t.Error("expected non-nil metric map")
		}
	}
}

func TestAnalyze_VsControl(t *testing.T) {
	exp := experiment(
		store.Variant{ID: "control", Name: "Control", IsControl: true},
		store.Variant{ID: "treatment", Name: "Treatment"},
	)

	assignments := append(participants("control", 1000), participants("treatment", 1000)...)
	var conversions []*store.Conversion
	for i := 0; i < 50; i++ {
		conversions = append(conversions, conversion("control", "signup", 1))
	}
	for i := 0; i < 100; i++ {
		conversions = append(conversions, conversion("treatment", "signup", 1))
	}

	results := stats.Analyze(exp, assignments, conversions)

	if results[0].VsControl != 0 {
		t.Errorf("control should not be compared to itself, got %f", results[0].VsControl)
	}
	if results[1].VsControl < 95 {
		t.Errorf("expected treatment to beat control with >95%% confidence, got %f", results[1].VsControl)
	}
}

func TestSummarize(t *testing.T) {
	results := []stats.VariantResult{
		{VariantID: "a", Participants: 100, Conversions: 10, ConversionRate: 10, Confidence: 94},
		{VariantID: "b", Participants: 100, Conversions: 30, ConversionRate: 30, Confidence: 96, StatisticalSignificance: true},
	}

	summary := stats.Summarize(results)

	if summary.TotalParticipants != 200 {
		t.Errorf("total participants = %d, want 200", summary.TotalParticipants)
	}
	if summary.TotalConversions != 40 {
		t.Errorf("total conversions = %f, want 40", summary.TotalConversions)
	}
	if summary.AverageConversionRate != 20 {
		t.Errorf("average rate = %f, want 20", summary.AverageConversionRate)
	}
	if summary.BestPerformingVariant != "b" {
		t.Errorf("best variant = %s, want b", summary.BestPerformingVariant)
	}
	if !summary.StatisticalSignificance {
		t.Error("expected significance when any variant is significant")
	}
}

func TestSummarize_TieGoesToFirstVariant(t *testing.T) {
	results := []stats.VariantResult{
		{VariantID: "first", Participants: 50, Conversions: 10, ConversionRate: 20},
		{VariantID: "second", Participants: 100, Conversions: 20, ConversionRate: 20},
	}

	if best := stats.Summarize(results).BestPerformingVariant; best != "first" {
		t.Errorf("best variant = %s, want first", best)
	}
}

func TestSummarize_NoParticipants(t *testing.T) {
	summary := stats.Summarize([]stats.VariantResult{{VariantID: "a"}, {VariantID: "b"}})

	if summary.AverageConversionRate != 0 {
		t.Errorf("average rate = %f, want 0", summary.AverageConversionRate)
	}
	if summary.BestPerformingVariant != "a" {
		t.Errorf("best variant = %s, want a", summary.BestPerformingVariant)
	}

	if empty := stats.Summarize(nil); empty.BestPerformingVariant != "" {
		t.Errorf("expected no best variant without variants, got %s", empty.BestPerformingVariant)
	}
}
