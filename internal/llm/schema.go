package llm

// ExtractionSchema builds the JSON-Schema document the extractor (C11)
// pins in its structured-extraction call: an object with facts, decisions,
// action_items, user_preferences and agent_learnings arrays, each item
// carrying a confidence score. Grounded on the teacher's
// BuildPiggybackEnvelopeSchema convention of constructing a literal
// map[string]interface{} schema rather than reflecting off a struct.
func ExtractionSchema() map[string]interface{} {
	item := func(extra map[string]interface{}) map[string]interface{} {
		props := map[string]interface{}{
			"content":    map[string]interface{}{"type": "string"},
			"confidence": map[string]interface{}{"type": "number"},
			"topics":     map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		}
		for k, v := range extra {
			props[k] = v
		}
		required := []string{"content", "confidence"}
		return map[string]interface{}{
			"type":       "object",
			"properties": props,
			"required":   required,
		}
	}

	factItem := item(map[string]interface{}{
		"entities":    map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		"source_role": map[string]interface{}{"type": "string"},
	})
	decisionItem := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"description": map[string]interface{}{"type": "string"},
			"rationale":   map[string]interface{}{"type": "string"},
			"confidence":  map[string]interface{}{"type": "number"},
			"topics":      map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		},
		"required": []string{"description", "confidence"},
	}

	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"facts":             map[string]interface{}{"type": "array", "items": factItem},
			"decisions":         map[string]interface{}{"type": "array", "items": decisionItem},
			"action_items":      map[string]interface{}{"type": "array", "items": item(nil)},
			"user_preferences":  map[string]interface{}{"type": "array", "items": item(nil)},
			"agent_learnings":   map[string]interface{}{"type": "array", "items": item(nil)},
		},
		"required": []string{"facts", "decisions", "action_items", "user_preferences", "agent_learnings"},
	}
}
