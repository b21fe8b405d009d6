// Package profile maintains per-reader adaptive learning profiles: the
// preferred response style, complexity level, and topic affinities that
// the prompt composer uses to personalize answers. Profiles are
// reader-scoped, created lazily with neutral defaults, and mutated
// incrementally from query patterns and explicit feedback.
package profile

import (
	"time"
)

// ResponseStyle is the reader's preferred answer length, on an ordered
// scale from shortest to longest.
type ResponseStyle string

// Response styles, ordered shortest to longest.
const (
	StyleConcise       ResponseStyle = "concise"
	StyleBalanced      ResponseStyle = "balanced"
	StyleDetailed      ResponseStyle = "detailed"
	StyleComprehensive ResponseStyle = "comprehensive"
)

// styleOrder defines the ordered scale feedback steps along.
var styleOrder = []ResponseStyle{StyleConcise, StyleBalanced, StyleDetailed, StyleComprehensive}

// Valid reports whether s is a known response style.
func (s ResponseStyle) Valid() bool {
	return styleRank(s) >= 0
}

func styleRank(s ResponseStyle) int {
	for i, v := range styleOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// Complexity is the depth of analysis a query calls for, on an ordered
// scale.
type Complexity string

// Complexity levels, ordered simplest to deepest.
const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityAdvanced Complexity = "advanced"
)

var complexityOrder = []Complexity{ComplexitySimple, ComplexityModerate, ComplexityAdvanced}

// Valid reports whether c is a known complexity level.
func (c Complexity) Valid() bool {
	return complexityRank(c) >= 0
}

func complexityRank(c Complexity) int {
	for i, v := range complexityOrder {
		if v == c {
			return i
		}
	}
	return -1
}

// TopicAffinity is one entry in a profile's bounded topic list, with the
// running count used for top-N ranking.
type TopicAffinity struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// Profile is a reader's cross-session learning record. One profile
// exists per reader; it is never replaced wholesale, only stepped.
type Profile struct {
	ReaderID             string
	ResponseStyle        ResponseStyle
	ComplexityPreference Complexity
	TopicAffinities      []TopicAffinity
	TotalQueries         int
	FeedbackCount        int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Topics returns just the topic names, in rank order.
func (p *Profile) Topics() []string {
	topics := make([]string, 0, len(p.TopicAffinities))
	for _, a := range p.TopicAffinities {
		topics = append(topics, a.Topic)
	}
	return topics
}
