package retrieval

import "testing"

func TestAnalyzeIntentExtractsTermsEntitiesAndTimePhrases(t *testing.T) {
	intent := AnalyzeIntent("What did Alice decide about the Kyoto trip last week?")
	if intent.Type != QueryFactual {
		t.Fatalf("expected factual query type, got %s", intent.Type)
	}
	foundAlice, foundKyoto := false, false
	for _, e := range intent.Entities {
		if e == "Alice" {
			foundAlice = true
		}
		if e == "Kyoto" {
			foundKyoto = true
		}
	}
	if !foundAlice || !foundKyoto {
		t.Fatalf("expected Alice and Kyoto as entities, got %v", intent.Entities)
	}
	if len(intent.TimePhrases) == 0 {
		t.Fatal("expected at least one time phrase")
	}
}

func TestAnalyzeIntentClassifiesProcedural(t *testing.T) {
	intent := AnalyzeIntent("How do I configure the embedding provider")
	if intent.Type != QueryProcedural {
		t.Fatalf("expected procedural query type, got %s", intent.Type)
	}
}

func TestRelevanceScoreRewardsTermAndEntityCoverage(t *testing.T) {
	intent := AnalyzeIntent("What does Alice like to drink")
	high := RelevanceScore(intent, "Alice likes to drink espresso every morning.")
	low := RelevanceScore(intent, "The weather in Kyoto was pleasant in spring.")
	if high <= low {
		t.Fatalf("expected higher score for matching text: high=%f low=%f", high, low)
	}
}

func TestBM25ScoreZeroWhenNoTermsMatch(t *testing.T) {
	score := BM25Score([]string{"zzz"}, "completely unrelated content here", map[string]int{"zzz": 1}, 10, 5.0)
	if score != 0 {
		t.Fatalf("expected zero score for non-matching terms, got %f", score)
	}
}

func TestMaxMergeLayerPicksHighestWeight(t *testing.T) {
	if MaxMergeLayer("L0", "L2", "L1") != WeightL2 {
		t.Fatal("expected L2 weight to dominate max-merge")
	}
}
