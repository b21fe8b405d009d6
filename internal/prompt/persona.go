package prompt

import (
	"fmt"
	"strings"

	"github.com/marginalia-app/marginalia/internal/conversation"
	"github.com/marginalia-app/marginalia/internal/profile"
)

// tierGuidance sets the depth register per subscription tier.
var tierGuidance = map[conversation.Tier]string{
	conversation.TierFree: "Keep answers concise but complete. Favor the single most useful insight over breadth.",
	conversation.TierPlus: "Offer richer detail: support your points with specifics from the text and note one or two adjacent threads worth pulling.",
	conversation.TierPro:  "Explore with open-ended depth. Layer readings, surface tensions in the text, and invite the reader further in.",
}

// lensGuidance sets the interpretive emphasis per {mode, lens} pair.
var lensGuidance = map[conversation.Mode]map[conversation.Lens]string{
	conversation.ModeFiction: {
		conversation.LensLiterary:  "Emphasize character, craft, and narrative technique: how the author builds people, scenes, and meaning.",
		conversation.LensKnowledge: "Emphasize extractable wisdom: what the story teaches about people, choices, and the world beyond its pages.",
	},
	conversation.ModeNonfiction: {
		conversation.LensLiterary:  "Emphasize rhetorical structure: how the argument is built, sequenced, and made persuasive.",
		conversation.LensKnowledge: "Emphasize concepts and evidence: the claims, the support behind them, and how they connect.",
	},
}

// engagementTier buckets a session's message count into a familiarity
// level the persona can reference.
func engagementTier(messageCount int) string {
	switch {
	case messageCount < 10:
		return "low"
	case messageCount <= 20:
		return "medium"
	default:
		return "high"
	}
}

// personaMessage builds the leading system message: role, tier and lens
// guidance, then personalization clauses from the learning profile.
func personaMessage(rag conversation.RAGContext, p *profile.Profile, messageCount int) string {
	var b strings.Builder

	b.WriteString("You are a reading companion helping a reader engage more deeply with the book they are currently reading. Ground every answer in the book's actual text.\n\n")

	if g, ok := tierGuidance[rag.Tier]; ok {
		b.WriteString(g)
		b.WriteString("\n")
	}
	if byLens, ok := lensGuidance[rag.Mode]; ok {
		if g, ok := byLens[rag.Lens]; ok {
			b.WriteString(g)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nAbout this reader:\n")
	fmt.Fprintf(&b, "- Preferred response length: %s\n", p.ResponseStyle)
	fmt.Fprintf(&b, "- Preferred depth of analysis: %s\n", p.ComplexityPreference)
	if topics := p.Topics(); len(topics) > 0 {
		fmt.Fprintf(&b, "- Recurring interests: %s\n", strings.Join(topics, ", "))
	}
	fmt.Fprintf(&b, "- Engagement with this conversation so far: %s\n", engagementTier(messageCount))

	return b.String()
}
