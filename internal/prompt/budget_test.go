package prompt

import (
	"testing"

	"github.com/marginalia-app/marginalia/internal/conversation"
	"github.com/marginalia-app/marginalia/internal/profile"
)

func TestOutputTokenBudget_WithinTierRange(t *testing.T) {
	tiers := []conversation.Tier{conversation.TierFree, conversation.TierPlus, conversation.TierPro}
	complexities := []profile.Complexity{profile.ComplexitySimple, profile.ComplexityModerate, profile.ComplexityAdvanced}
	styles := []profile.ResponseStyle{profile.StyleConcise, profile.StyleBalanced, profile.StyleDetailed, profile.StyleComprehensive}

	for _, tier := range tiers {
		r := tierTokenRanges[tier]
		for _, cx := range complexities {
			for _, style := range styles {
				got := OutputTokenBudget(tier, cx, style)
				if got < r.min || got > r.max {
					t.Errorf("OutputTokenBudget(%s, %s, %s) = %d, outside [%d, %d]",
						tier, cx, style, got, r.min, r.max)
				}
			}
		}
	}
}

func TestOutputTokenBudget_MonotoneInStyle(t *testing.T) {
	styles := []profile.ResponseStyle{profile.StyleConcise, profile.StyleBalanced, profile.StyleDetailed, profile.StyleComprehensive}
	prev := 0
	for _, style := range styles {
		got := OutputTokenBudget(conversation.TierPlus, profile.ComplexityModerate, style)
		if got < prev {
			t.Errorf("budget decreased from %d to %d at style %s", prev, got, style)
		}
		prev = got
	}
}

func TestOutputTokenBudget_MonotoneInComplexity(t *testing.T) {
	complexities := []profile.Complexity{profile.ComplexitySimple, profile.ComplexityModerate, profile.ComplexityAdvanced}
	prev := 0
	for _, cx := range complexities {
		got := OutputTokenBudget(conversation.TierPro, cx, profile.StyleDetailed)
		if got < prev {
			t.Errorf("budget decreased from %d to %d at complexity %s", prev, got, cx)
		}
		prev = got
	}
}

func TestOutputTokenBudget_Values(t *testing.T) {
	tests := []struct {
		name       string
		tier       conversation.Tier
		complexity profile.Complexity
		style      profile.ResponseStyle
		want       int
	}{
		// free [200,600]: simple sits at the floor, concise factor clamps up.
		{"free simple concise clamps to min", conversation.TierFree, profile.ComplexitySimple, profile.StyleConcise, 200},
		// pro [600,1600]: advanced comprehensive, 600+0.8*1000=1400, *1.3=1820, clamped.
		{"pro advanced comprehensive clamps to max", conversation.TierPro, profile.ComplexityAdvanced, profile.StyleComprehensive, 1600},
		// plus [400,1000]: moderate detailed, 400+0.6*600=760, *1.0.
		{"plus moderate detailed unclamped", conversation.TierPlus, profile.ComplexityModerate, profile.StyleDetailed, 760},
		// unknown tier falls back to free.
		{"unknown tier uses free range", conversation.Tier("vip"), profile.ComplexitySimple, profile.StyleConcise, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OutputTokenBudget(tt.tier, tt.complexity, tt.style); got != tt.want {
				t.Errorf("OutputTokenBudget(%s, %s, %s) = %d, want %d",
					tt.tier, tt.complexity, tt.style, got, tt.want)
			}
		})
	}
}
