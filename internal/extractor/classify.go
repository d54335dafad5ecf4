package extractor

import (
	"math"
	"strings"
)

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}

// classify tags an item with the MemoryType its category routes to by
// default. §4.7 derives the tag "from LLM scoring, bounded by length and
// entity-count heuristics" — in the absence of a dedicated classification
// call, the category itself is the strongest signal available, refined by
// the heuristics below for the ambiguous fact/decision middle ground.
func classify(it Item) MemoryType {
	switch it.Category {
	case CategoryUserPreference:
		return TypeConversational
	case CategoryAgentLearning, CategoryActionItem:
		return TypeProcedural
	default: // facts, decisions
		if looksProcedural(it.Text()) {
			return TypeProcedural
		}
		return TypeFactual
	}
}

// looksProcedural flags content that reads like a step or instruction
// rather than a standalone claim, nudging facts/decisions phrased as
// "how to" guidance toward Procedural instead of Factual.
func looksProcedural(content string) bool {
	for _, marker := range []string{"step ", "first,", "then ", "run ", "use the", "to do this"} {
		if containsFold(content, marker) {
			return true
		}
	}
	return false
}

// importance scores an item in [0,10]: confidence carries most of the
// weight, with small bounded bonuses for longer content and a richer
// entity list — both weak proxies for "more durable" facts per §4.7.
func importance(it Item) float64 {
	base := it.Confidence * 6.0
	lengthBonus := math.Min(float64(len(it.Text()))/200.0, 2.0)
	entityBonus := math.Min(float64(len(it.Entities))*0.5, 2.0)
	score := base + lengthBonus + entityBonus
	if score > 10 {
		score = 10
	}
	if score < 0 {
		score = 0
	}
	return score
}
