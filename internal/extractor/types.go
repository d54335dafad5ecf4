// Package extractor implements C11: LLM-driven structured extraction of
// durable memories from a session timeline, confidence filtering,
// similarity-based dedup, and the Updater that decides how an extracted
// item lands in the store (create, merge, supersede, or no-op) —
// grounded on the teacher's llm.Client.Extract / schema-forcing pattern
// and the episodic-store PutMemory upsert-with-soft-delete shape from
// the example pack.
package extractor

// MemoryType classifies an extracted item for storage routing and
// importance scoring.
type MemoryType string

const (
	TypeConversational MemoryType = "conversational"
	TypeFactual         MemoryType = "factual"
	TypeProcedural      MemoryType = "procedural"
)

// Category names the five extraction buckets the LLM schema produces.
type Category string

const (
	CategoryFact            Category = "facts"
	CategoryDecision        Category = "decisions"
	CategoryActionItem      Category = "action_items"
	CategoryUserPreference  Category = "user_preferences"
	CategoryAgentLearning   Category = "agent_learnings"
)

// Item is one extracted unit, regardless of category.
type Item struct {
	Category    Category   `json:"category"`
	Content     string     `json:"content"`
	Confidence  float64    `json:"confidence"`
	Entities    []string   `json:"entities,omitempty"`
	Topics      []string   `json:"topics,omitempty"`
	SourceRole  string     `json:"source_role,omitempty"`
	Description string     `json:"description,omitempty"` // decisions
	Rationale   string     `json:"rationale,omitempty"`    // decisions
	Type        MemoryType `json:"-"`
	Importance  float64    `json:"-"`
}

// Result is the full structured output of one extraction pass. Field
// names match the JSON-schema pinned in llm.ExtractionSchema.
type Result struct {
	Facts           []Item `json:"facts"`
	Decisions       []Item `json:"decisions"`
	ActionItems     []Item `json:"action_items"`
	UserPreferences []Item `json:"user_preferences"`
	AgentLearnings  []Item `json:"agent_learnings"`
}

// All flattens Result into a single slice, tagging each Item with its
// Category if not already set.
func (r Result) All() []Item {
	var out []Item
	out = append(out, tag(r.Facts, CategoryFact)...)
	out = append(out, tag(r.Decisions, CategoryDecision)...)
	out = append(out, tag(r.ActionItems, CategoryActionItem)...)
	out = append(out, tag(r.UserPreferences, CategoryUserPreference)...)
	out = append(out, tag(r.AgentLearnings, CategoryAgentLearning)...)
	return out
}

// Merge combines another Result's buckets into r, in place.
func (r *Result) Merge(other Result) {
	r.Facts = append(r.Facts, other.Facts...)
	r.Decisions = append(r.Decisions, other.Decisions...)
	r.ActionItems = append(r.ActionItems, other.ActionItems...)
	r.UserPreferences = append(r.UserPreferences, other.UserPreferences...)
	r.AgentLearnings = append(r.AgentLearnings, other.AgentLearnings...)
}

func tag(items []Item, c Category) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		it.Category = c
		out[i] = it
	}
	return out
}

// Text returns the item's primary natural-language content regardless of
// which category-specific field it lives in (facts/preferences/etc. use
// Content, decisions use Description).
func (it Item) Text() string {
	if it.Content != "" {
		return it.Content
	}
	return it.Description
}
