package experiment

import (
	"slices"
	"unicode/utf16"

	"github.com/dislink/dxp/internal/store"
)

// Hash is a 31-multiplier polynomial rolling hash over the UTF-16 code units
// of s, wrapped to int32, returned as its absolute value. It must stay stable
// across releases: traffic exclusion for existing users depends on it.
func Hash(s string) int64 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return v
}

// Bucket maps a user id onto [0, 100).
func Bucket(userID string) int {
	return int(Hash(userID) % 100)
}

// InTraffic reports whether a user falls inside an experiment's traffic
// allocation. The answer is deterministic per user id.
func InTraffic(userID string, allocation int) bool {
	return Bucket(userID) < allocation
}

// Eligible evaluates targeting rules. Only user id allow-lists are enforced;
// device, segment, country, custom and unknown rule kinds always pass.
func Eligible(rules []store.Rule, userID string) bool {
	for _, r := range rules {
		switch r.Kind {
		case store.RuleUserIDs:
			if !slices.Contains(r.Values, userID) {
				return false
			}
		default:
			// Pass-through hook for rule kinds without an evaluator
		}
	}
	return true
}

// SelectVariant picks a variant by weight. draw must be in [0, 1). Weights
// are normalized by their sum; when they sum to zero the first variant is
// returned. Returns nil only for an empty list.
func SelectVariant(variants []store.Variant, draw float64) *store.Variant {
	if len(variants) == 0 {
		return nil
	}

	var total float64
	for _, v := range variants {
		if v.TrafficWeight > 0 {
			total += v.TrafficWeight
		}
	}
	if total <= 0 {
		return &variants[0]
	}

	target := draw * total
	var cumulative float64
	last := 0
	for i, v := range variants {
		if v.TrafficWeight <= 0 {
			continue
		}
		cumulative += v.TrafficWeight
		last = i
		if target < cumulative {
			return &variants[i]
		}
	}

	// Rounding can leave target == total
	return &variants[last]
}
