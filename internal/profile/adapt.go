package profile

import (
	"strings"

	"github.com/marginalia-app/marginalia/internal/conversation"
)

// maxAffinities bounds the topic-affinity list kept on a profile.
const maxAffinities = 5

// complexityAdaptDistance is the largest gap, in scale steps, across
// which helpful feedback may pull the complexity preference. A single
// outlier query two steps away never moves the profile.
const complexityAdaptDistance = 1

// simpleMarkers and advancedMarkers drive the query complexity
// heuristic. Anything matching neither set classifies as moderate.
var (
	simpleMarkers = []string{
		"what is", "what's", "who is", "who's", "where is",
		"summarize", "summary", "recap", "define", "definition",
	}
	advancedMarkers = []string{
		"analyze", "analyse", "compare", "contrast", "evaluate",
		"critique", "interpret", "justify", "synthesize", "implications",
	}
)

// ClassifyComplexity buckets a query into {simple, moderate, advanced}
// from surface keywords. It is deliberately crude; the profile's
// adjacency rule absorbs misclassifications.
func ClassifyComplexity(query string) Complexity {
	q := strings.ToLower(query)
	for _, marker := range advancedMarkers {
		if strings.Contains(q, marker) {
			return ComplexityAdvanced
		}
	}
	for _, marker := range simpleMarkers {
		if strings.Contains(q, marker) {
			return ComplexitySimple
		}
	}
	return ComplexityModerate
}

// topicTaxonomy maps query keywords to the fixed topic tags tracked in
// affinities. Multiple keywords may map to the same tag.
var topicTaxonomy = map[string]string{
	"character":   "character",
	"protagonist": "character",
	"villain":     "character",
	"motivation":  "character",
	"theme":       "theme",
	"meaning":     "theme",
	"symbol":      "theme",
	"metaphor":    "theme",
	"plot":        "plot",
	"ending":      "plot",
	"twist":       "plot",
	"foreshadow":  "plot",
	"style":       "style",
	"prose":       "style",
	"tone":        "style",
	"voice":       "style",
	"context":     "context",
	"historical":  "context",
	"setting":     "context",
	"author":      "context",
	"analysis":    "analysis",
	"analyze":     "analysis",
	"analyse":     "analysis",
	"compare":     "analysis",
	"evaluate":    "analysis",
	"critique":    "analysis",
	"argument":    "argument",
	"evidence":    "argument",
	"claim":       "argument",
}

// ExtractTopics returns the distinct topic tags a query touches, in
// first-mention order.
func ExtractTopics(query string) []string {
	q := strings.ToLower(query)
	var topics []string
	seen := map[string]bool{}
	// Scan taxonomy keys in query order so ties carry mention order.
	for _, word := range strings.FieldsFunc(q, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		tag, ok := topicTaxonomy[word]
		if !ok {
			// Crude plural handling: "characters" counts as "character".
			tag, ok = topicTaxonomy[strings.TrimSuffix(word, "s")]
		}
		if !ok {
			continue
		}
		if !seen[tag] {
			seen[tag] = true
			topics = append(topics, tag)
		}
	}
	return topics
}

// MergeAffinities folds newly seen topics into the existing affinity
// list and returns the top-ranked entries. Rank is by count descending;
// ties break toward the more recently inserted topic.
func MergeAffinities(existing []TopicAffinity, topics []string) []TopicAffinity {
	merged := make([]TopicAffinity, len(existing))
	copy(merged, existing)

	for _, topic := range topics {
		found := false
		for i := range merged {
			if merged[i].Topic == topic {
				merged[i].Count++
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, TopicAffinity{Topic: topic, Count: 1})
		}
	}

	// Stable sort by count keeps insertion order within equal counts;
	// later insertions should win ties, so prefer the higher index.
	out := make([]TopicAffinity, 0, len(merged))
	for len(merged) > 0 && len(out) < maxAffinities {
		best := 0
		for i := 1; i < len(merged); i++ {
			if merged[i].Count >= merged[best].Count {
				best = i
			}
		}
		out = append(out, merged[best])
		merged = append(merged[:best], merged[best+1:]...)
	}
	return out
}

// AdaptStyle steps the response style one notch on explicit feedback.
// too_long moves shorter, too_short moves longer; helpful and off_topic
// leave it alone. Steps clamp at the scale ends.
func AdaptStyle(current ResponseStyle, label conversation.FeedbackLabel) ResponseStyle {
	rank := styleRank(current)
	if rank < 0 {
		return StyleBalanced
	}
	switch label {
	case conversation.FeedbackTooLong:
		if rank > 0 {
			rank--
		}
	case conversation.FeedbackTooShort:
		if rank < len(styleOrder)-1 {
			rank++
		}
	}
	return styleOrder[rank]
}

// AdaptComplexity moves the preference toward the query's classified
// complexity, but only on helpful feedback and only across an adjacent
// step. Everything else leaves the preference unchanged.
func AdaptComplexity(current, observed Complexity, label conversation.FeedbackLabel) Complexity {
	if label != conversation.FeedbackHelpful {
		return current
	}
	cur, obs := complexityRank(current), complexityRank(observed)
	if cur < 0 || obs < 0 {
		return current
	}
	distance := obs - cur
	if distance < 0 {
		distance = -distance
	}
	if distance == 0 || distance > complexityAdaptDistance {
		return current
	}
	return observed
}
