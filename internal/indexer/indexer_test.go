package indexer

import (
	"context"
	"testing"

	"cortex/internal/cortexuri"
	"cortex/internal/fsstore"
	"cortex/internal/layer"
	"cortex/internal/vectorstore"
)

// fakeEngine is a deterministic stand-in for an embedding.Engine so tests
// don't depend on network calls.
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

// memStore is a minimal in-memory vectorstore.Store for tests.
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
func (m *memStore) Search(ctx context.Context, query []float32, filter vectorstore.Filter, limit int, threshold float64) ([]vectorstore.SearchResult, error) {
	return nil, nil
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

func TestBulkIndexWritesVectorsForEveryMarkdownFile(t *testing.T) {
	fs, err := fsstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	lm := layer.New(fs, nil, layer.NewTokenCounter(3.0))

	file := cortexuri.UserMemories("alice", "coffee.md")
	if err := lm.GenerateAllLayers(ctx, file, []byte("Alice likes espresso.")); err != nil {
		t.Fatal(err)
	}

	vecs := newMemStore()
	idx := New(Config{FS: fs, Layers: lm, Embedder: fakeEngine{}, Vectors: vecs, Concurrency: 2})

	stats, err := idx.BulkIndex(ctx, cortexuri.MustParse("cortex://user"))
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalIndexed < 3 { // L0 + L1 + L2
		t.Fatalf("expected at least 3 indexed (L0/L1/L2), got %+v", stats)
	}
	if stats.TotalErrors != 0 {
		t.Fatalf("expected no errors, got %+v", stats)
	}
	if len(vecs.points) < 3 {
		t.Fatalf("expected at least 3 points stored, got %d", len(vecs.points))
	}
}

func TestReconcileVectorStoreRemovesOrphans(t *testing.T) {
	fs, err := fsstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	lm := layer.New(fs, nil, layer.NewTokenCounter(3.0))
	vecs := newMemStore()
	idx := New(Config{FS: fs, Layers: lm, Embedder: fakeEngine{}, Vectors: vecs, Concurrency: 2})

	file := cortexuri.UserMemories("alice", "gone.md")
	if err := lm.GenerateAllLayers(ctx, file, []byte("Temporary content.")); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.BulkIndex(ctx, cortexuri.MustParse("cortex://user")); err != nil {
		t.Fatal(err)
	}

	if err := fs.Delete(file); err != nil {
		t.Fatal(err)
	}
	dir := file.Parent()
	fs.Delete(dir.Abstract())
	fs.Delete(dir.Overview())

	removed, err := idx.ReconcileVectorStore(ctx, cortexuri.MustParse("cortex://user"))
	if err != nil {
		t.Fatal(err)
	}
	if removed < 3 {
		t.Fatalf("expected at least 3 orphaned points removed, got %d", removed)
	}
}
