package stats

import "math"

// SignificanceThreshold is the confidence percentage at which a variant
// is reported as statistically significant.
const SignificanceThreshold = 95.0

// Confidence scores a single variant from the width of its 95% normal
// confidence interval: p = conversions/participants, se = sqrt(p(1-p)/n),
// moe = 1.96*se, result = (1-moe)*100 clamped to [0, 100].
//
// It does not compare against control. See ControlConfidence for that.
func Confidence(conversions float64, participants int) float64 {
	if participants <= 0 {
		return 0
	}

	n := float64(participants)
	p := clamp(conversions/n, 0, 1)
	se := math.Sqrt(p * (1 - p) / n)
	moe := ZScore(0.95) * se

	return clamp((1-moe)*100, 0, 100)
}

// Significant reports whether a confidence percentage clears the threshold.
func Significant(confidence float64) bool {
	return confidence >= SignificanceThreshold
}

// SignificanceTest performs a two-proportion z-test.
// Returns confidence level (0-1) that variant A beats variant B.
func SignificanceTest(aConv float64, aN int, bConv float64, bN int) float64 {
	// Need data from both variants
	if aN <= 0 || bN <= 0 {
		return 0.5
	}

	pA := clamp(aConv/float64(aN), 0, 1)
	pB := clamp(bConv/float64(bN), 0, 1)

	// Pooled proportion under null hypothesis (pA = pB)
	pooledP := (pA*float64(aN) + pB*float64(bN)) / float64(aN+bN)

	se := math.Sqrt(pooledP * (1 - pooledP) * (1/float64(aN) + 1/float64(bN)))

	if se == 0 {
		if pA > pB {
			return 1.0
		} else if pA < pB {
			return 0.0
		}
		return 0.5
	}

	z := (pA - pB) / se

	// P(Z < z) is the confidence that A > B
	return normalCDF(z)
}

// normalCDF approximates the cumulative distribution function
// of the standard normal distribution
// (Abramowitz and Stegun, formula 7.1.26).
func normalCDF(x float64) float64 {
	a1 := 0.254829592
	a2 := -0.284496736
	a3 := 1.421413741
	a4 := -1.453152027
	a5 := 1.061405429
	p := 0.3275911

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt(2)

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}
