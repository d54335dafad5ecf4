package extractor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cortex/internal/cortexerr"
	"cortex/internal/cortexuri"
	"cortex/internal/embedding"
	"cortex/internal/fsstore"
	"cortex/internal/fulltext"
	"cortex/internal/layer"
	"cortex/internal/llm"
	"cortex/internal/logging"
	"cortex/internal/session"
	"cortex/internal/vectorstore"
)

// dedupSearchLimit bounds how many candidate matches the dedup search
// pulls back before filtering down to L2 hits; the Updater only ever
// looks at the single best match.
const dedupSearchLimit = 5

// Stats reports the outcome of one extraction pass: how many items the
// LLM returned per category, how many were dropped below the confidence
// floor, and — when autoSave is on — how the Updater routed each
// surviving item.
type Stats struct {
	Facts           int
	Decisions       int
	ActionItems     int
	Preferences     int
	Learnings       int
	BelowConfidence int
	Persisted       int
	Actions         map[Action]int
}

// Config bundles the collaborators an Extractor wires together. Fulltext
// is optional; a nil index simply skips full-text indexing of new/updated
// memories.
type Config struct {
	FS       *fsstore.Store
	Layers   *layer.Manager
	Sessions *session.Manager
	LLM      llm.Client
	Embedder embedding.Engine
	Vectors  vectorstore.Store
	Fulltext *fulltext.Index

	MinConfidence  float64 // default 0.5, per §4.7
	MergeThreshold float64 // default 0.75, per §4.7
	AllowSupersede bool    // §9 Open Question 3: off unless [memory] deduplicate/auto_enhance says otherwise
	BatchSize      int     // default 50 messages per LLM call, per §5
}

// Extractor implements C11: turning a session timeline into structured,
// deduplicated, classified memories, and (when asked) persisting them
// through the Updater (C4.8).
type Extractor struct {
	fs       *fsstore.Store
	layers   *layer.Manager
	sessions *session.Manager
	llmc     llm.Client
	embedder embedding.Engine
	vectors  vectorstore.Store
	fulltext *fulltext.Index
	updater  *Updater

	minConfidence  float64
	mergeThreshold float64
	batchSize      int
}

// New builds an Extractor from cfg, applying the spec's defaults for any
// zero-valued threshold.
func New(cfg Config) *Extractor {
	minConf := cfg.MinConfidence
	if minConf <= 0 {
		minConf = 0.5
	}
	mergeThr := cfg.MergeThreshold
	if mergeThr <= 0 {
		mergeThr = 0.75
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	return &Extractor{
		fs:             cfg.FS,
		layers:         cfg.Layers,
		sessions:       cfg.Sessions,
		llmc:           cfg.LLM,
		embedder:       cfg.Embedder,
		vectors:        cfg.Vectors,
		fulltext:       cfg.Fulltext,
		updater:        NewUpdater(cfg.AllowSupersede),
		minConfidence:  minConf,
		mergeThreshold: mergeThr,
		batchSize:      batch,
	}
}

// Extract runs the raw LLM extraction pass over messages, batched at
// e.batchSize messages per call, merging every batch's Result together.
// It applies no confidence filtering and persists nothing.
func (e *Extractor) Extract(ctx context.Context, messages []session.Message) (Result, error) {
	if e.llmc == nil {
		return Result{}, cortexerr.New(cortexerr.Llm, "no LLM client configured for extraction")
	}
	schema := llm.ExtractionSchema()
	var merged Result
	for _, batch := range batchMessages(messages, e.batchSize) {
		raw, err := e.llmc.Extract(ctx, buildPrompt(batch), schema)
		if err != nil {
			return Result{}, cortexerr.Wrap(cortexerr.Llm, "extract structured memories", err)
		}
		parsed, err := parseResult(raw)
		if err != nil {
			return Result{}, err
		}
		merged.Merge(parsed)
	}
	return merged, nil
}

// ExtractSession reads thread's full timeline via the session manager and
// runs ExtractMessages over it. autoSave gates persistence per §9 Open
// Question 2 (off by default at the caller level; this method just obeys
// whatever the caller passes).
func (e *Extractor) ExtractSession(ctx context.Context, thread, userID, agentID string, autoSave bool) (Result, Stats, error) {
	if e.sessions == nil {
		return Result{}, Stats{}, cortexerr.New(cortexerr.Other, "no session manager configured for extract-session")
	}
	messages, err := e.sessions.ListMessages(thread)
	if err != nil {
		return Result{}, Stats{}, err
	}
	return e.ExtractMessages(ctx, messages, userID, agentID, autoSave)
}

// ExtractMessages runs extraction over an explicit message window,
// confidence-filters the result, and — if autoSave — persists every
// surviving item through the dedup/Updater pipeline.
func (e *Extractor) ExtractMessages(ctx context.Context, messages []session.Message, userID, agentID string, autoSave bool) (Result, Stats, error) {
	raw, err := e.Extract(ctx, messages)
	if err != nil {
		return Result{}, Stats{}, err
	}

	stats := Stats{
		Facts:       len(raw.Facts),
		Decisions:   len(raw.Decisions),
		ActionItems: len(raw.ActionItems),
		Preferences: len(raw.UserPreferences),
		Learnings:   len(raw.AgentLearnings),
		Actions:     map[Action]int{},
	}

	kept, below := filterByConfidence(raw, e.minConfidence)
	stats.BelowConfidence = below

	if !autoSave {
		return kept, stats, nil
	}

	for _, it := range kept.All() {
		decision, _, err := e.persistItem(ctx, it, userID, agentID)
		if err != nil {
			logging.Get(logging.CategoryExtractor).Warn("persist failed for %s item: %v", it.Category, err)
			continue
		}
		stats.Actions[decision.Action]++
		if decision.Action != ActionNoOp {
			stats.Persisted++
		}
	}
	return kept, stats, nil
}

// filterByConfidence drops every item below min, counting how many were
// dropped. min_confidence is an inclusive lower bound — items scoring
// exactly at min are kept.
func filterByConfidence(r Result, min float64) (Result, int) {
	below := 0
	keep := func(items []Item) []Item {
		var out []Item
		for _, it := range items {
			if it.Confidence < min {
				below++
				continue
			}
			out = append(out, it)
		}
		return out
	}
	return Result{
		Facts:           keep(r.Facts),
		Decisions:       keep(r.Decisions),
		ActionItems:     keep(r.ActionItems),
		UserPreferences: keep(r.UserPreferences),
		AgentLearnings:  keep(r.AgentLearnings),
	}, below
}

// dimensionFor routes an item to the dimension/id its category requires:
// preferences always land under the user, learnings always under the
// agent, everything else goes wherever the caller supplied an id
// (user takes priority when both are given).
func dimensionFor(cat Category, userID, agentID string) (cortexuri.Dimension, string, error) {
	switch cat {
	case CategoryUserPreference:
		if userID == "" {
			return "", "", cortexerr.New(cortexerr.Other, "a user-preference item requires a user id")
		}
		return cortexuri.DimUser, userID, nil
	case CategoryAgentLearning:
		if agentID == "" {
			return "", "", cortexerr.New(cortexerr.Other, "an agent-learning item requires an agent id")
		}
		return cortexuri.DimAgent, agentID, nil
	default:
		if userID != "" {
			return cortexuri.DimUser, userID, nil
		}
		if agentID != "" {
			return cortexuri.DimAgent, agentID, nil
		}
		return "", "", cortexerr.New(cortexerr.Other, "item requires at least a user id or an agent id")
	}
}

func newShortID() string {
	s := strings.ReplaceAll(uuid.NewString(), "-", "")
	return s[:8]
}

// newMemoryURI builds the destination path for a brand-new item, per §3's
// "<dim>/<id>/memories/YYYY-MM/DD/HH_MM_SS_<shortid>.md" convention (and
// the preference/learning-specific siblings named in §4.1).
func (e *Extractor) newMemoryURI(dim cortexuri.Dimension, id string, it Item) cortexuri.URI {
	resource := cortexuri.ShardedResource(time.Now(), newShortID())
	switch it.Category {
	case CategoryUserPreference:
		return cortexuri.UserPreferences(id, resource)
	case CategoryAgentLearning:
		return cortexuri.AgentLearnings(id, resource)
	default:
		if dim == cortexuri.DimUser {
			return cortexuri.UserMemories(id, resource)
		}
		return cortexuri.AgentMemories(id, resource)
	}
}

// persistItem runs the §4.7 dedup check and the §4.8 Updater policy for
// one extracted item, writing (or skipping) it accordingly. It returns
// the Updater's Decision and the URI the item now lives at (the matched
// existing URI for Merge/NoOp, a fresh URI for Create/Supersede).
func (e *Extractor) persistItem(ctx context.Context, it Item, userID, agentID string) (Decision, string, error) {
	it.Type = classify(it)
	it.Importance = importance(it)

	dim, id, err := dimensionFor(it.Category, userID, agentID)
	if err != nil {
		return Decision{}, "", err
	}

	text := it.Text()
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return Decision{}, "", cortexerr.Wrap(cortexerr.Embedding, "embed item for dedup search", err)
	}

	filter := vectorstore.Filter{Dimension: string(dim), MemoryType: string(it.Type)}
	if dim == cortexuri.DimUser {
		filter.UserID = id
	} else {
		filter.AgentID = id
	}

	match := e.findDedupMatch(ctx, vec, filter)
	if match != nil {
		existingURI, perr := cortexuri.Parse(match.URI)
		if perr == nil {
			if existingContent, rerr := e.fs.Read(existingURI); rerr == nil {
				existingBody := string(existingContent)
				if rest, ok := strings.CutPrefix(existingBody, "---\n"); ok {
					if _, body, found := strings.Cut(rest, "\n---\n"); found {
						existingBody = body
					}
				}
				decision := e.updater.Decide(text, it.Entities, existingBody, existingEntitiesFrom(existingContent))
				uri, werr := e.applyDecision(ctx, decision, it, existingURI, existingContent, dim, id)
				if werr != nil {
					return decision, "", werr
				}
				return decision, uri, nil
			}
		}
	}

	// No candidate above the merge threshold: fresh create.
	newURI := e.newMemoryURI(dim, id, it)
	if err := e.writeMemory(ctx, newURI, renderMemoryFile(it, ""), it, userID, agentID); err != nil {
		return Decision{}, "", err
	}
	return Decision{Action: ActionCreate, Reason: "no existing memory above the merge threshold"}, newURI.String(), nil
}

// findDedupMatch runs the similarity search and keeps only the best L2
// hit; L0/L1 hits describe a whole directory, not a single memory, and
// are not meaningful dedup candidates.
func (e *Extractor) findDedupMatch(ctx context.Context, vec []float32, filter vectorstore.Filter) *vectorstore.SearchResult {
	hits, err := e.vectors.Search(ctx, vec, filter, dedupSearchLimit, e.mergeThreshold)
	if err != nil {
		logging.Get(logging.CategoryExtractor).Warn("dedup search unavailable, treating item as new: %v", err)
		return nil
	}
	var best *vectorstore.SearchResult
	for i := range hits {
		if hits[i].Layer != vectorstore.L2 {
			continue
		}
		if best == nil || hits[i].Score > best.Score {
			best = &hits[i]
		}
	}
	return best
}

// applyDecision carries out the Updater's verdict and returns the URI the
// item now lives at.
func (e *Extractor) applyDecision(ctx context.Context, decision Decision, it Item, existingURI cortexuri.URI, existingContent []byte, dim cortexuri.Dimension, id string) (string, error) {
	userID, agentID := "", ""
	if dim == cortexuri.DimUser {
		userID = id
	} else {
		agentID = id
	}
	switch decision.Action {
	case ActionNoOp:
		return existingURI.String(), nil

	case ActionMerge:
		merged := mergeSubsection(string(existingContent), renderBody(it), time.Now())
		if err := e.writeMemory(ctx, existingURI, []byte(merged), it, userID, agentID); err != nil {
			return "", err
		}
		return existingURI.String(), nil

	case ActionUpdate:
		if err := e.writeMemory(ctx, existingURI, renderMemoryFile(it, ""), it, userID, agentID); err != nil {
			return "", err
		}
		return existingURI.String(), nil

	case ActionSupersede:
		newURI := e.newMemoryURI(dim, id, it)
		if err := e.writeMemory(ctx, newURI, renderMemoryFile(it, ""), it, userID, agentID); err != nil {
			return "", err
		}
		if err := e.retireMemory(ctx, existingURI); err != nil {
			logging.Get(logging.CategoryExtractor).Warn("superseded memory %s could not be fully retired: %v", existingURI, err)
		}
		return newURI.String(), nil

	default: // ActionCreate: contradiction, cross-reference both sides
		newURI := e.newMemoryURI(dim, id, it)
		if err := e.writeMemory(ctx, newURI, renderMemoryFile(it, existingURI.String()), it, userID, agentID); err != nil {
			return "", err
		}
		return newURI.String(), nil
	}
}

// writeMemory writes content at uri through the layer manager (so L0/L1
// regenerate per the write path in §4.2), then indexes the L2 vector with
// memory-aware metadata (memory_type, category, user/agent id) the
// generic filesystem-event indexer has no way to infer from a bare file
// write, and finally re-syncs the parent directory's L0/L1 vectors and the
// full-text doc so §3's index-coherence invariant holds for the whole
// triple, not just L2.
func (e *Extractor) writeMemory(ctx context.Context, uri cortexuri.URI, content []byte, it Item, userID, agentID string) error {
	if err := e.layers.GenerateAllLayers(ctx, uri, content); err != nil {
		return err
	}

	meta := map[string]string{
		"dimension":   string(uri.Dimension),
		"layer":       vectorstore.L2.String(),
		"memory_type": string(it.Type),
		"category":    string(it.Category),
		"importance":  fmt.Sprintf("%.2f", it.Importance),
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	}
	if userID != "" {
		meta["user_id"] = userID
	}
	if agentID != "" {
		meta["agent_id"] = agentID
	}
	if len(it.Entities) > 0 {
		meta["entities"] = strings.Join(it.Entities, ",")
	}
	if len(it.Topics) > 0 {
		meta["topics"] = strings.Join(it.Topics, ",")
	}

	vec, err := e.embedder.Embed(ctx, string(content))
	if err != nil {
		return cortexerr.Wrap(cortexerr.Embedding, "embed memory content for indexing", err)
	}
	point := vectorstore.Point{
		ID:        vectorstore.Fingerprint(uri.String(), vectorstore.L2),
		URI:       uri.String(),
		Layer:     vectorstore.L2,
		Vector:    vec,
		Metadata:  meta,
		UpdatedAt: time.Now(),
	}
	if err := e.vectors.Upsert(ctx, point); err != nil {
		return cortexerr.Wrap(cortexerr.VectorStore, "upsert memory vector", err)
	}
	if e.fulltext != nil {
		if err := e.fulltext.AddDocument(fulltext.Document{URI: uri.String(), Content: string(content), Keywords: it.Entities}); err != nil {
			logging.Get(logging.CategoryExtractor).Warn("fulltext index failed for %s: %v", uri, err)
		}
	}
	return e.syncDirectorySiblings(ctx, uri.Parent())
}

// retireMemory removes a superseded memory: its L2 file, its vector
// entries, its full-text doc, then re-syncs (or removes) the parent
// directory's L0/L1 siblings.
func (e *Extractor) retireMemory(ctx context.Context, uri cortexuri.URI) error {
	if err := e.fs.Delete(uri); err != nil {
		return err
	}
	if err := e.vectors.Delete(ctx, uri.String()); err != nil {
		logging.Get(logging.CategoryExtractor).Warn("vector delete failed for retired memory %s: %v", uri, err)
	}
	if e.fulltext != nil {
		_ = e.fulltext.DeleteDocument(uri.String())
	}
	dir := uri.Parent()
	if err := e.layers.InvalidateDirectory(dir); err != nil {
		return err
	}
	return e.syncDirectorySiblings(ctx, dir)
}

// syncDirectorySiblings keeps dir's L0/L1 vectors aligned with whatever
// InvalidateDirectory/GenerateAllLayers just left on disk: upsert if the
// sibling exists, delete its vector if it doesn't.
func (e *Extractor) syncDirectorySiblings(ctx context.Context, dir cortexuri.URI) error {
	siblings := []struct {
		uri   cortexuri.URI
		layer vectorstore.Layer
	}{
		{dir.Abstract(), vectorstore.L0},
		{dir.Overview(), vectorstore.L1},
	}
	for _, s := range siblings {
		if !e.fs.Exists(s.uri) {
			_ = e.vectors.Delete(ctx, s.uri.String())
			continue
		}
		content, err := e.fs.Read(s.uri)
		if err != nil {
			continue
		}
		vec, err := e.embedder.Embed(ctx, string(content))
		if err != nil {
			continue
		}
		_ = e.vectors.Upsert(ctx, vectorstore.Point{
			ID:        vectorstore.Fingerprint(s.uri.String(), s.layer),
			URI:       s.uri.String(),
			Layer:     s.layer,
			Vector:    vec,
			Metadata:  map[string]string{"dimension": string(dir.Dimension), "layer": s.layer.String()},
			UpdatedAt: time.Now(),
		})
	}
	return nil
}

// renderBody renders just the natural-language content of it, used by the
// Merge path to append a new subsection onto an existing memory file.
func renderBody(it Item) string {
	if it.Category == CategoryDecision && it.Rationale != "" {
		return fmt.Sprintf("%s\n\nRationale: %s", it.Text(), it.Rationale)
	}
	return it.Text()
}

// renderMemoryFile renders a brand-new memory file: a small front-matter
// block (category, type, confidence, importance, entities, source role,
// creation time, and an optional contradiction cross-reference) followed
// by the item's body.
func renderMemoryFile(it Item, contradicts string) []byte {
	var sb strings.Builder
	sb.WriteString("---\n")
	fmt.Fprintf(&sb, "category: %s\n", it.Category)
	fmt.Fprintf(&sb, "type: %s\n", it.Type)
	fmt.Fprintf(&sb, "confidence: %.2f\n", it.Confidence)
	fmt.Fprintf(&sb, "importance: %.2f\n", it.Importance)
	if len(it.Entities) > 0 {
		fmt.Fprintf(&sb, "entities: %s\n", strings.Join(it.Entities, ", "))
	}
	if len(it.Topics) > 0 {
		fmt.Fprintf(&sb, "topics: %s\n", strings.Join(it.Topics, ", "))
	}
	if it.SourceRole != "" {
		fmt.Fprintf(&sb, "source_role: %s\n", it.SourceRole)
	}
	if contradicts != "" {
		fmt.Fprintf(&sb, "contradicts: %s\n", contradicts)
	}
	fmt.Fprintf(&sb, "created_at: %s\n", time.Now().UTC().Format(time.RFC3339))
	sb.WriteString("---\n")
	sb.WriteString(renderBody(it))
	sb.WriteString("\n")
	return []byte(sb.String())
}

// existingEntitiesFrom pulls the "entities: a, b, c" front-matter line (if
// any) out of an existing memory file's raw content, for the Updater's
// strict-superset comparison.
func existingEntitiesFrom(content []byte) []string {
	for _, line := range strings.Split(string(content), "\n") {
		if line == "---" {
			continue
		}
		if !strings.HasPrefix(line, "entities:") {
			continue
		}
		raw := strings.TrimSpace(strings.TrimPrefix(line, "entities:"))
		if raw == "" {
			return nil
		}
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}
