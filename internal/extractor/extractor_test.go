package extractor

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"cortex/internal/cortexuri"
	"cortex/internal/fsstore"
	"cortex/internal/layer"
	"cortex/internal/session"
	"cortex/internal/vectorstore"
)

// fakeEngine is a deterministic stand-in for an embedding.Engine, mirroring
// the one in internal/indexer/indexer_test.go: a simple length-keyed vector
// so near-identical text embeds near-identically.
type fakeEngine struct{}

func (fakeEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 0, 0}, nil
}
func (fakeEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := fakeEngine{}.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}
func (fakeEngine) Dimensions() int { return 4 }
func (fakeEngine) Name() string    { return "fake" }

// memStore is an in-memory vectorstore.Store whose Search actually
// filters and scores, unlike the indexer package's stub — the extractor's
// dedup path depends on Search returning real candidates.
type memStore struct {
	points map[string]vectorstore.Point
}

func newMemStore() *memStore { return &memStore{points: map[string]vectorstore.Point{}} }

func (m *memStore) Upsert(ctx context.Context, p vectorstore.Point) error {
	m.points[p.ID] = p
	return nil
}
func (m *memStore) UpsertBatch(ctx context.Context, ps []vectorstore.Point) error {
	for _, p := range ps {
		m.points[p.ID] = p
	}
	return nil
}

func matchesFilter(p vectorstore.Point, f vectorstore.Filter) bool {
	if f.Dimension != "" && p.Metadata["dimension"] != f.Dimension {
		return false
	}
	if f.UserID != "" && p.Metadata["user_id"] != f.UserID {
		return false
	}
	if f.AgentID != "" && p.Metadata["agent_id"] != f.AgentID {
		return false
	}
	if f.MemoryType != "" && p.Metadata["memory_type"] != f.MemoryType {
		return false
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (m *memStore) Search(ctx context.Context, query []float32, filter vectorstore.Filter, limit int, threshold float64) ([]vectorstore.SearchResult, error) {
	var out []vectorstore.SearchResult
	for _, p := range m.points {
		if !matchesFilter(p, filter) {
			continue
		}
		score := cosine(query, p.Vector)
		if score < threshold {
			continue
		}
		out = append(out, vectorstore.SearchResult{Point: p, Score: score})
	}
	return out, nil
}
func (m *memStore) Get(ctx context.Context, uri string, l vectorstore.Layer) (*vectorstore.Point, error) {
	for _, p := range m.points {
		if p.URI == uri && p.Layer == l {
			return &p, nil
		}
	}
	return nil, nil
}
func (m *memStore) Delete(ctx context.Context, uri string) error {
	for id, p := range m.points {
		if p.URI == uri {
			delete(m.points, id)
		}
	}
	return nil
}
func (m *memStore) List(ctx context.Context, filter vectorstore.Filter, limit int) ([]vectorstore.Point, error) {
	var out []vectorstore.Point
	for _, p := range m.points {
		out = append(out, p)
	}
	return out, nil
}
func (m *memStore) ScrollIDs(ctx context.Context) ([]string, error) {
	var ids []string
	for id := range m.points {
		ids = append(ids, id)
	}
	return ids, nil
}
func (m *memStore) HealthCheck(ctx context.Context) error { return nil }
func (m *memStore) Close() error                          { return nil }

// fakeLLM returns a fixed extraction Result regardless of prompt, encoded
// as the raw JSON an llm.Client.Extract call would return.
type fakeLLM struct {
	result Result
	calls  int
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) { return "", nil }
func (f *fakeLLM) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", nil
}
func (f *fakeLLM) Extract(ctx context.Context, prompt string, schema map[string]interface{}) (json.RawMessage, error) {
	f.calls++
	raw, err := json.Marshal(f.result)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

func newTestExtractor(t *testing.T, fs *fsstore.Store, vecs *memStore, llmc *fakeLLM, mergeThreshold float64, allowSupersede bool) *Extractor {
	t.Helper()
	lm := layer.New(fs, nil, layer.NewTokenCounter(3.0))
	return New(Config{
		FS:             fs,
		Layers:         lm,
		LLM:            llmc,
		Embedder:       fakeEngine{},
		Vectors:        vecs,
		MinConfidence:  0.5,
		MergeThreshold: mergeThreshold,
		AllowSupersede: allowSupersede,
		BatchSize:      50,
	})
}

func sampleMessages() []session.Message {
	now := time.Now()
	return []session.Message{
		{ID: "1", SessionID: "t1", Role: session.RoleUser, Content: "I really like espresso in the morning.", CreatedAt: now},
		{ID: "2", SessionID: "t1", Role: session.RoleAssistant, Content: "Noted, espresso it is.", CreatedAt: now},
	}
}

func TestExtractMergesAcrossBatches(t *testing.T) {
	fs, err := fsstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	vecs := newMemStore()
	llmc := &fakeLLM{result: Result{
		Facts: []Item{{Content: "Alice lives in Portland.", Confidence: 0.9}},
	}}
	e := newTestExtractor(t, fs, vecs, llmc, 0.9, false)

	messages := make([]session.Message, 120) // forces 3 batches at size 50
	for i := range messages {
		messages[i] = session.Message{ID: "m", Role: session.RoleUser, Content: "hi", CreatedAt: time.Now()}
	}

	result, err := e.Extract(context.Background(), messages)
	if err != nil {
		t.Fatal(err)
	}
	if llmc.calls != 3 {
		t.Fatalf("expected 3 batched LLM calls, got %d", llmc.calls)
	}
	if len(result.Facts) != 3 {
		t.Fatalf("expected one fact per batch merged, got %d", len(result.Facts))
	}
}

func TestExtractMessagesFiltersBelowConfidence(t *testing.T) {
	fs, err := fsstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	vecs := newMemStore()
	llmc := &fakeLLM{result: Result{
		Facts: []Item{
			{Content: "High confidence fact.", Confidence: 0.9},
			{Content: "Low confidence fact.", Confidence: 0.1},
		},
	}}
	e := newTestExtractor(t, fs, vecs, llmc, 0.9, false)

	kept, stats, err := e.ExtractMessages(context.Background(), sampleMessages(), "alice", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(kept.Facts) != 1 {
		t.Fatalf("expected 1 fact to survive the confidence floor, got %d", len(kept.Facts))
	}
	if stats.BelowConfidence != 1 {
		t.Fatalf("expected 1 item dropped below confidence, got %d", stats.BelowConfidence)
	}
	if stats.Persisted != 0 {
		t.Fatalf("autoSave=false must not persist anything, got %d", stats.Persisted)
	}
}

func TestExtractMessagesAutoSaveCreatesMemoryFile(t *testing.T) {
	fs, err := fsstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	vecs := newMemStore()
	llmc := &fakeLLM{result: Result{
		Facts: []Item{{Content: "Alice prefers dark roast coffee.", Confidence: 0.95, Entities: []string{"Alice", "coffee"}}},
	}}
	e := newTestExtractor(t, fs, vecs, llmc, 0.9, false)

	_, stats, err := e.ExtractMessages(context.Background(), sampleMessages(), "alice", "", true)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Persisted != 1 {
		t.Fatalf("expected 1 persisted item, got %d", stats.Persisted)
	}
	if stats.Actions[ActionCreate] != 1 {
		t.Fatalf("expected a Create action, got %+v", stats.Actions)
	}

	entries, err := fs.ListMarkdownFilesRecursive(context.Background(), cortexuri.UserMemories("alice"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one memory file on disk, got %d", len(entries))
	}

	// The L2 point must carry rich dedup metadata, not just dimension/layer.
	found := false
	for _, p := range vecs.points {
		if p.Layer == vectorstore.L2 && p.Metadata["user_id"] == "alice" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an L2 point tagged with user_id=alice")
	}
}

func TestPersistItemNoOpsOnIdenticalContent(t *testing.T) {
	fs, err := fsstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	vecs := newMemStore()
	llmc := &fakeLLM{}
	e := newTestExtractor(t, fs, vecs, llmc, 0.5, false)
	ctx := context.Background()

	it := Item{Category: CategoryFact, Content: "Alice likes espresso.", Confidence: 0.9}
	decision, uri1, err := e.persistItem(ctx, it, "alice", "")
	if err != nil {
		t.Fatal(err)
	}
	if decision.Action != ActionCreate {
		t.Fatalf("expected first write to Create, got %s", decision.Action)
	}

	decision2, uri2, err := e.persistItem(ctx, it, "alice", "")
	if err != nil {
		t.Fatal(err)
	}
	if decision2.Action != ActionNoOp {
		t.Fatalf("expected identical content to NoOp, got %s: %s", decision2.Action, decision2.Reason)
	}
	if uri2 != uri1 {
		t.Fatalf("NoOp must resolve to the existing URI, got %s vs %s", uri2, uri1)
	}
}

func TestPersistItemMergesSimilarContent(t *testing.T) {
	fs, err := fsstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	vecs := newMemStore()
	llmc := &fakeLLM{}
	e := newTestExtractor(t, fs, vecs, llmc, 0.5, false)
	ctx := context.Background()

	first := Item{Category: CategoryFact, Content: "Alice likes espresso in the morning before work.", Confidence: 0.9}
	_, uri1, err := e.persistItem(ctx, first, "alice", "")
	if err != nil {
		t.Fatal(err)
	}

	second := Item{Category: CategoryFact, Content: "Alice likes espresso in the morning before her commute.", Confidence: 0.9}
	decision, uri2, err := e.persistItem(ctx, second, "alice", "")
	if err != nil {
		t.Fatal(err)
	}
	if decision.Action != ActionMerge {
		t.Fatalf("expected similar-but-not-identical content to Merge, got %s: %s", decision.Action, decision.Reason)
	}
	if uri2 != uri1 {
		t.Fatalf("merge must write to the existing URI, got %s vs %s", uri2, uri1)
	}

	parsed, err := cortexuri.Parse(uri1)
	if err != nil {
		t.Fatal(err)
	}
	content, err := fs.Read(parsed)
	if err != nil {
		t.Fatal(err)
	}
	if !containsAll(string(content), "### Update", first.Content, second.Content) {
		t.Fatalf("expected merged file to contain both statements under an Update heading, got:\n%s", content)
	}
}

func TestPersistItemUpdatesInPlaceOnReword(t *testing.T) {
	fs, err := fsstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	vecs := newMemStore()
	llmc := &fakeLLM{}
	e := newTestExtractor(t, fs, vecs, llmc, 0.5, false)
	ctx := context.Background()

	first := Item{Category: CategoryFact, Content: "Alice prefers her coffee with a splash of oat milk and no sugar each morning.", Confidence: 0.9}
	_, uri1, err := e.persistItem(ctx, first, "alice", "")
	if err != nil {
		t.Fatal(err)
	}

	second := Item{Category: CategoryFact, Content: "Alice prefers her coffee with a splash of oat milk and no sugar in the morning.", Confidence: 0.9}
	decision, uri2, err := e.persistItem(ctx, second, "alice", "")
	if err != nil {
		t.Fatal(err)
	}
	if decision.Action != ActionUpdate {
		t.Fatalf("expected a near-identical reword to Update, got %s: %s", decision.Action, decision.Reason)
	}
	if uri2 != uri1 {
		t.Fatalf("update must replace the existing URI's content, got %s vs %s", uri2, uri1)
	}

	parsed, err := cortexuri.Parse(uri1)
	if err != nil {
		t.Fatal(err)
	}
	content, err := fs.Read(parsed)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(content), first.Content) {
		t.Fatalf("update must replace the old wording, not retain it, got:\n%s", content)
	}
	if !strings.Contains(string(content), second.Content) {
		t.Fatalf("update must contain the new wording, got:\n%s", content)
	}
}

func containsAll(haystack string, needles ...string) bool {
	for _, n := range needles {
		if !strings.Contains(haystack, n) {
			return false
		}
	}
	return true
}

func TestDimensionForRoutesByCategory(t *testing.T) {
	if _, _, err := dimensionFor(CategoryUserPreference, "", "agent1"); err == nil {
		t.Fatal("expected error for a preference item with no user id")
	}
	if _, _, err := dimensionFor(CategoryAgentLearning, "user1", ""); err == nil {
		t.Fatal("expected error for a learning item with no agent id")
	}
	dim, id, err := dimensionFor(CategoryFact, "user1", "agent1")
	if err != nil {
		t.Fatal(err)
	}
	if dim != cortexuri.DimUser || id != "user1" {
		t.Fatalf("expected a fact to prefer the user id when both are present, got %s/%s", dim, id)
	}
}
