package retrieval

import (
	"math"
	"strings"
)

// Layer weights applied when max-merging scores across L0/L1/L2 hits for
// the same URI — L2 (full detail) counts fully, L1 partially, L0 least.
const (
	WeightL0 = 0.5
	WeightL1 = 0.7
	WeightL2 = 1.0
)

// queryTypeFactor nudges scores toward content whose nature matches the
// query's classified intent (a small additive bonus, not a filter).
const queryTypeFactor = 0.1

// relevanceWeights: the blended coverage/term-frequency score (0.7) plus
// entity coverage (0.3), mirroring the teacher's weighted
// keyword-matching scheme in RankFiles but over prose entities/terms
// instead of code symbols.
const (
	coverageWeight      = 0.7
	entityWeight        = 0.3
	tfShare             = 0.3
	coverageBaseShare   = 0.7
)

// RelevanceScore computes a [0, 1.1] relevance score for a candidate
// document's text against the analyzed Intent: coverage+TF (0.7) plus
// entity coverage (0.3), with a small bonus (0.1) when the document's
// text appears to match the query's classified type.
func RelevanceScore(intent Intent, text string) float64 {
	lower := strings.ToLower(text)
	words := strings.Fields(lower)
	total := len(words)
	if total == 0 {
		return 0
	}

	termFreq := map[string]int{}
	for _, w := range words {
		termFreq[strings.Trim(w, ".,!?;:\"'()")]++
	}

	matched := 0
	tfSum := 0.0
	for _, term := range intent.Terms {
		count := termFreq[term]
		if count > 0 {
			matched++
			tfSum += float64(count) / float64(total)
		}
	}

	var coverage, tf float64
	if len(intent.Terms) > 0 {
		coverage = float64(matched) / float64(len(intent.Terms))
		tf = math.Min(tfSum, 1.0)
	}
	coverageScore := coverageBaseShare*coverage + tfShare*tf

	entityMatched := 0
	for _, e := range intent.Entities {
		if strings.Contains(text, e) {
			entityMatched++
		}
	}
	var entityScore float64
	if len(intent.Entities) > 0 {
		entityScore = float64(entityMatched) / float64(len(intent.Entities))
	}

	score := coverageWeight*coverageScore + entityWeight*entityScore

	if matchesQueryType(intent.Type, text) {
		score += queryTypeFactor
	}
	return score
}

func matchesQueryType(qt QueryType, text string) bool {
	lower := strings.ToLower(text)
	switch qt {
	case QueryProcedural:
		return strings.Contains(lower, "step") || strings.Contains(lower, "first") || strings.Contains(lower, "then")
	case QueryTemporal:
		return timePhrasePattern.MatchString(text)
	case QueryFactual:
		return strings.Contains(text, "?") || strings.Contains(lower, "is") || strings.Contains(lower, "was")
	default:
		return false
	}
}

// BM25 parameters from the classic Okapi formulation.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// BM25Score computes the Okapi BM25 score for a document against query
// terms, given per-term document frequency (docFreq) across the corpus,
// the corpus size, and the average document length — a substitutable
// alternative to RelevanceScore's coverage/TF blend for corpora where
// classic IDF weighting is preferred.
func BM25Score(queryTerms []string, docText string, docFreq map[string]int, corpusSize int, avgDocLen float64) float64 {
	words := strings.Fields(strings.ToLower(docText))
	docLen := float64(len(words))
	if docLen == 0 || corpusSize == 0 {
		return 0
	}

	termFreq := map[string]int{}
	for _, w := range words {
		termFreq[strings.Trim(w, ".,!?;:\"'()")]++
	}

	var score float64
	for _, term := range queryTerms {
		tf := float64(termFreq[term])
		if tf == 0 {
			continue
		}
		df := docFreq[term]
		if df == 0 {
			df = 1
		}
		idf := math.Log(1 + (float64(corpusSize)-float64(df)+0.5)/(float64(df)+0.5))
		numerator := tf * (bm25K1 + 1)
		denominator := tf + bm25K1*(1-bm25B+bm25B*(docLen/avgDocLen))
		score += idf * (numerator / denominator)
	}
	return score
}

// MaxMergeLayer picks the highest layer weight among a set of layer
// names a URI was matched at, implementing the layered-search max-merge
// rule (distinct layer hits for the same URI combine by taking the max,
// not summing).
func MaxMergeLayer(layers ...string) float64 {
	max := 0.0
	for _, l := range layers {
		var w float64
		switch l {
		case "L0":
			w = WeightL0
		case "L1":
			w = WeightL1
		case "L2":
			w = WeightL2
		}
		if w > max {
			max = w
		}
	}
	return max
}
