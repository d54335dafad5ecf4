// Package retrieval implements C9: hybrid retrieval over the layered
// memory store — intent analysis, layered vector search with BFS
// drill-down, rerank, and relevance scoring — grounded on the teacher's
// SparseRetriever keyword-extraction-and-ranking pipeline
// (internal/retrieval/sparse.go), generalized from ripgrep-over-source to
// vector/full-text-over-memories.
package retrieval

import (
	"regexp"
	"strings"
)

// QueryType classifies a query's apparent intent, used as a light
// weighting factor during scoring rather than a hard routing decision.
type QueryType string

const (
	QueryFactual    QueryType = "factual"
	QueryTemporal   QueryType = "temporal"
	QueryProcedural QueryType = "procedural"
	QueryGeneral    QueryType = "general"
)

// Intent is the result of analyzing a raw query string.
type Intent struct {
	RawQuery    string
	Terms       []string
	Entities    []string
	TimePhrases []string
	Type        QueryType
}

var (
	capitalizedWordPattern = regexp.MustCompile(`\b([A-Z][a-zA-Z0-9_]{1,})\b`)
	timePhrasePattern      = regexp.MustCompile(`(?i)\b(today|yesterday|tomorrow|last\s+\w+|next\s+\w+|this\s+\w+|\d{4}-\d{2}-\d{2}|\d+\s+(?:days?|weeks?|months?|years?)\s+ago)\b`)
	proceduralPattern      = regexp.MustCompile(`(?i)^(how (do|to|can)|what('s| is) the (process|procedure|way) (to|for))`)
)

// stopwords mirrors the common-word filter used to keep keyword
// extraction from drowning in function words — grounded on the
// teacher's isCommonWord table, trimmed to prose rather than code terms.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"to": true, "of": true, "in": true, "for": true, "on": true,
	"with": true, "at": true, "by": true, "from": true, "as": true,
	"and": true, "but": true, "or": true, "so": true,
	"if": true, "then": true, "when": true, "where": true, "why": true, "how": true,
	"all": true, "some": true, "no": true, "not": true, "only": true,
	"this": true, "that": true, "these": true, "those": true,
	"it": true, "its": true, "i": true, "you": true, "he": true, "she": true,
	"we": true, "they": true, "my": true, "your": true, "our": true, "their": true,
	"what": true, "which": true, "who": true, "whom": true,
}

func isStopword(word string) bool {
	return stopwords[strings.ToLower(word)]
}

// AnalyzeIntent extracts search terms, capitalized entities, and time
// phrases from a raw query, and classifies its rough type.
func AnalyzeIntent(query string) Intent {
	terms := extractTerms(query)
	entities := extractEntities(query)
	timePhrases := timePhrasePattern.FindAllString(query, -1)

	return Intent{
		RawQuery:    query,
		Terms:       terms,
		Entities:    entities,
		TimePhrases: timePhrases,
		Type:        classify(query, timePhrases),
	}
}

func extractTerms(query string) []string {
	fields := strings.Fields(query)
	seen := map[string]bool{}
	var out []string
	for _, f := range fields {
		w := strings.Trim(f, ".,!?;:\"'()")
		if w == "" || len(w) < 2 || isStopword(w) {
			continue
		}
		lower := strings.ToLower(w)
		if !seen[lower] {
			seen[lower] = true
			out = append(out, lower)
		}
	}
	return out
}

func extractEntities(query string) []string {
	matches := capitalizedWordPattern.FindAllStringSubmatch(query, -1)
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		if len(m) < 2 || isStopword(m[1]) || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
	}
	return out
}

func classify(query string, timePhrases []string) QueryType {
	if proceduralPattern.MatchString(strings.TrimSpace(query)) {
		return QueryProcedural
	}
	if len(timePhrases) > 0 {
		return QueryTemporal
	}
	if strings.Contains(query, "?") {
		return QueryFactual
	}
	return QueryGeneral
}
