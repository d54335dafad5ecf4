package extractor

import (
	"encoding/json"
	"regexp"
	"strings"

	"cortex/internal/cortexerr"
	"cortex/internal/session"
)

// thinkBlockRe strips any <think>...</think> reasoning trace some models
// emit ahead of their structured answer, per §4.7 post-processing.
var thinkBlockRe = regexp.MustCompile(`(?is)<think>.*?</think>`)

// codeFenceRe unwraps a ```json ... ``` or bare ``` ... ``` fence some
// models wrap structured output in despite being asked for raw JSON.
var codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// blankLineRunRe collapses three-or-more consecutive newlines down to two,
// the "normalize whitespace" step named in §4.7 — intentionally mild, since
// aggressive collapsing would corrupt multi-line fact content.
var blankLineRunRe = regexp.MustCompile(`\n{3,}`)

// postProcess cleans a raw LLM extraction response before JSON parsing:
// strip reasoning traces, unwrap code fences, normalize whitespace.
func postProcess(raw string) string {
	cleaned := thinkBlockRe.ReplaceAllString(raw, "")
	if m := codeFenceRe.FindStringSubmatch(cleaned); m != nil {
		cleaned = m[1]
	}
	cleaned = blankLineRunRe.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

// parseResult post-processes and parses one LLM extraction response into a
// Result, surfacing parse failures as cortexerr.Serialization.
func parseResult(raw json.RawMessage) (Result, error) {
	cleaned := postProcess(string(raw))
	if cleaned == "" {
		return Result{}, cortexerr.New(cortexerr.Llm, "empty input: extraction response had no content")
	}
	var r Result
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return Result{}, cortexerr.Wrap(cortexerr.Serialization, "parse extraction JSON", err)
	}
	return r, nil
}

// buildPrompt renders a window of session messages as a role-prefixed
// transcript, the shape the extraction system prompt expects — "User:
// .../Assistant: ..." per §6's conversation-style ingestion convention.
func buildPrompt(messages []session.Message) string {
	var sb strings.Builder
	sb.WriteString("Extract structured memories from the following conversation. ")
	sb.WriteString("Respond with JSON only, matching the pinned schema; omit nothing, invent nothing.\n\n")
	for _, m := range messages {
		switch m.Role {
		case session.RoleUser:
			sb.WriteString("User: ")
		case session.RoleAssistant:
			sb.WriteString("Assistant: ")
		default:
			sb.WriteString("System: ")
		}
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// batchMessages splits messages into windows of at most size, the default
// 50-messages-per-LLM-call batching named in §5.
func batchMessages(messages []session.Message, size int) [][]session.Message {
	if size <= 0 {
		size = 50
	}
	if len(messages) == 0 {
		return nil
	}
	var batches [][]session.Message
	for i := 0; i < len(messages); i += size {
		end := i + size
		if end > len(messages) {
			end = len(messages)
		}
		batches = append(batches, messages[i:end])
	}
	return batches
}
