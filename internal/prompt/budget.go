package prompt

import (
	"github.com/marginalia-app/marginalia/internal/conversation"
	"github.com/marginalia-app/marginalia/internal/profile"
)

// tokenRange is a tier's [min, max] output budget in tokens.
type tokenRange struct {
	min, max int
}

var tierTokenRanges = map[conversation.Tier]tokenRange{
	conversation.TierFree: {200, 600},
	conversation.TierPlus: {400, 1000},
	conversation.TierPro:  {600, 1600},
}

// complexityPoint positions the budget within the tier range before the
// style factor is applied. Simple questions sit at the floor; advanced
// ones near the ceiling but never at it, leaving the style factor room
// to matter.
var complexityPoint = map[profile.Complexity]float64{
	profile.ComplexitySimple:   0.0,
	profile.ComplexityModerate: 0.6,
	profile.ComplexityAdvanced: 0.8,
}

// styleFactor scales the budget by the reader's preferred length. The
// factors are strictly increasing along the style scale.
var styleFactor = map[profile.ResponseStyle]float64{
	profile.StyleConcise:       0.8,
	profile.StyleBalanced:      0.9,
	profile.StyleDetailed:      1.0,
	profile.StyleComprehensive: 1.3,
}

// OutputTokenBudget computes the completion token limit for one
// request. The result always lands inside the tier's range: scaling by
// complexity picks a point in [min, max], the style factor shifts it,
// and the final clamp restores the bounds.
func OutputTokenBudget(tier conversation.Tier, complexity profile.Complexity, style profile.ResponseStyle) int {
	r, ok := tierTokenRanges[tier]
	if !ok {
		r = tierTokenRanges[conversation.TierFree]
	}

	point, ok := complexityPoint[complexity]
	if !ok {
		point = complexityPoint[profile.ComplexityModerate]
	}
	factor, ok := styleFactor[style]
	if !ok {
		factor = styleFactor[profile.StyleBalanced]
	}

	budget := float64(r.min) + point*float64(r.max-r.min)
	budget *= factor

	result := int(budget)
	if result < r.min {
		result = r.min
	}
	if result > r.max {
		result = r.max
	}
	return result
}
