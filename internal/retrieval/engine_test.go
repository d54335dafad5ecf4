package retrieval

import (
	"context"
	"testing"

	"cortex/internal/cortexuri"
	"cortex/internal/fsstore"
	"cortex/internal/vectorstore"
)

// fakeEngine is a deterministic embedding.Engine stand-in, mirroring the one
// in internal/extractor/extractor_test.go: text length plus a fixed tail so
// near-identical text embeds near-identically.
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

// fakeStore is a minimal vectorstore.Store: Search returns a fixed set of
// hits regardless of query, Get looks up by (uri, layer) in a plain map —
// enough to drive vectorSearch/drillDown without a real backend.
type fakeStore struct {
	hits   []vectorstore.SearchResult
	points map[string]vectorstore.Point
}

func newFakeStore() *fakeStore { return &fakeStore{points: map[string]vectorstore.Point{}} }

func pointKey(uri string, layer vectorstore.Layer) string { return uri + "#" + layer.String() }

func (f *fakeStore) put(p vectorstore.Point) { f.points[pointKey(p.URI, p.Layer)] = p }

func (f *fakeStore) Upsert(ctx context.Context, p vectorstore.Point) error { f.put(p); return nil }
func (f *fakeStore) UpsertBatch(ctx context.Context, ps []vectorstore.Point) error {
	for _, p := range ps {
		f.put(p)
	}
	return nil
}
func (f *fakeStore) Search(ctx context.Context, query []float32, filter vectorstore.Filter, limit int, scoreThreshold float64) ([]vectorstore.SearchResult, error) {
	return f.hits, nil
}
func (f *fakeStore) Get(ctx context.Context, uri string, layer vectorstore.Layer) (*vectorstore.Point, error) {
	p, ok := f.points[pointKey(uri, layer)]
	if !ok {
		return nil, errNotFound
	}
	return &p, nil
}
func (f *fakeStore) Delete(ctx context.Context, uri string) error { return nil }
func (f *fakeStore) List(ctx context.Context, filter vectorstore.Filter, limit int) ([]vectorstore.Point, error) {
	return nil, nil
}
func (f *fakeStore) ScrollIDs(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeStore) HealthCheck(ctx context.Context) error           { return nil }
func (f *fakeStore) Close() error                                    { return nil }

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }

var errNotFound error = notFoundErr{}

func TestDrillDownDescendsFromOverviewToEveryL2File(t *testing.T) {
	fs, err := fsstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	dir := cortexuri.UserMemories("alice")
	overview := dir.Overview()
	note1 := dir.Child("note1.md")
	note2 := dir.Child("note2.md")

	for _, w := range []struct {
		uri     cortexuri.URI
		content string
	}{
		{overview, "Summary of Alice's memories."},
		{note1, "Alice likes espresso."},
		{note2, "Alice works remotely on Fridays."},
	} {
		if err := fs.Write(w.uri, []byte(w.content)); err != nil {
			t.Fatal(err)
		}
	}

	eng := fakeEngine{}
	vecs := newFakeStore()
	ctx := context.Background()
	for _, w := range []struct {
		uri   cortexuri.URI
		layer vectorstore.Layer
	}{
		{note1, vectorstore.L2},
		{note2, vectorstore.L2},
	} {
		content, _ := fs.Read(w.uri)
		vec, _ := eng.Embed(ctx, string(content))
		vecs.put(vectorstore.Point{URI: w.uri.String(), Layer: w.layer, Vector: vec})
	}

	e := New(Config{FS: fs, Embedder: eng, Vectors: vecs})
	queryVec, _ := eng.Embed(ctx, "Alice likes espresso.")

	results, err := e.drillDown(ctx, queryVec, overview.String(), vectorstore.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected both L2 files to be scored, got %d: %+v", len(results), results)
	}
	seen := map[string]bool{}
	for _, r := range results {
		if r.Layer != vectorstore.L2 {
			t.Fatalf("expected L2 results, got layer %v for %s", r.Layer, r.URI)
		}
		seen[r.URI] = true
	}
	if !seen[note1.String()] || !seen[note2.String()] {
		t.Fatalf("expected both note1 and note2 in results, got %+v", results)
	}
}

func TestDrillDownDescendsFromAbstractToOverview(t *testing.T) {
	fs, err := fsstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	dir := cortexuri.UserMemories("alice")
	abstract := dir.Abstract()
	overview := dir.Overview()
	if err := fs.Write(overview, []byte("Overview of Alice's memories.")); err != nil {
		t.Fatal(err)
	}

	eng := fakeEngine{}
	vecs := newFakeStore()
	ctx := context.Background()
	vec, _ := eng.Embed(ctx, "Overview of Alice's memories.")
	vecs.put(vectorstore.Point{URI: overview.String(), Layer: vectorstore.L1, Vector: vec})

	e := New(Config{FS: fs, Embedder: eng, Vectors: vecs})
	results, err := e.drillDown(ctx, vec, abstract.String(), vectorstore.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Layer != vectorstore.L1 || results[0].URI != overview.String() {
		t.Fatalf("expected a single L1 result for the overview, got %+v", results)
	}
}
