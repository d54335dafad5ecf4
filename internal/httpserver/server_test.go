package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"cortex/internal/app"
	"cortex/internal/config"
	"cortex/internal/embedding"
	"cortex/internal/extractor"
	"cortex/internal/fsstore"
	"cortex/internal/fulltext"
	"cortex/internal/indexer"
	"cortex/internal/layer"
	"cortex/internal/llm"
	"cortex/internal/retrieval"
	"cortex/internal/session"
	"cortex/internal/vectorstore"
)

// fakeEngine is the same deterministic embedding stand-in used across the
// other packages' tests (internal/indexer, internal/extractor): a
// length-keyed vector, so near-identical text embeds near-identically.
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

var _ embedding.Engine = fakeEngine{}

// fakeLLM never generates real text; it is enough to satisfy layer
// generation's rule-based-fallback-free path for the small fixtures this
// test writes, and extraction is never exercised with autoSave here.
type fakeLLM struct{}

func (fakeLLM) Complete(ctx context.Context, prompt string) (string, error) { return "ok", nil }
func (fakeLLM) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "ok", nil
}
func (fakeLLM) Extract(ctx context.Context, prompt string, schema map[string]interface{}) (json.RawMessage, error) {
	return json.RawMessage(`{"facts":[],"decisions":[],"action_items":[],"user_preferences":[],"agent_learnings":[]}`), nil
}

var _ llm.Client = fakeLLM{}

// memStore is a minimal in-memory vectorstore.Store, mirroring
// internal/indexer/indexer_test.go's stub: good enough for list/health;
// Search always returns no hits.
type memStore struct{ points map[string]vectorstore.Point }

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
	out := make([]vectorstore.Point, 0, len(m.points))
	for _, p := range m.points {
		out = append(out, p)
	}
	return out, nil
}
func (m *memStore) ScrollIDs(ctx context.Context) ([]string, error) { return nil, nil }
func (m *memStore) HealthCheck(ctx context.Context) error           { return nil }
func (m *memStore) Close() error                                    { return nil }

var _ vectorstore.Store = &memStore{}

// newTestApp builds a fully-wired *app.App from fakes/in-memory
// collaborators, without touching the network — the same construction
// app.New performs, minus the real provider dial-out, so the HTTP
// handlers can be tested against real FS/session/retrieval/extractor
// logic end to end.
func newTestApp(t *testing.T) *app.App {
	t.Helper()
	root := filepath.Join(t.TempDir(), "cortex")
	fs, err := fsstore.New(root)
	if err != nil {
		t.Fatalf("fsstore.New: %v", err)
	}
	ft, err := fulltext.OpenInMemory()
	if err != nil {
		t.Fatalf("fulltext.OpenInMemory: %v", err)
	}
	t.Cleanup(func() { _ = ft.Close() })

	embedder := fakeEngine{}
	vectors := newMemStore()
	tokens := layer.NewTokenCounter(3.0)
	layers := layer.New(fs, fakeLLM{}, tokens)
	sessions := session.New(fs, nil)
	idx := indexer.New(indexer.Config{FS: fs, Layers: layers, Embedder: embedder, Vectors: vectors, Fulltext: ft, Concurrency: 4})
	retr := retrieval.New(retrieval.Config{FS: fs, Embedder: embedder, Vectors: vectors, Fulltext: ft})
	extr := extractor.New(extractor.Config{
		FS: fs, Layers: layers, Sessions: sessions, LLM: fakeLLM{}, Embedder: embedder,
		Vectors: vectors, Fulltext: ft, MinConfidence: 0.5, MergeThreshold: 0.75,
	})

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Server.CORSOrigins = []string{"*"}

	return &app.App{
		Config:    cfg,
		TenantID:  "default",
		FS:        fs,
		Embedder:  embedder,
		LLM:       fakeLLM{},
		Vectors:   vectors,
		Fulltext:  ft,
		Layers:    layers,
		Indexer:   idx,
		Retrieval: retr,
		Sessions:  sessions,
		Extractor: extr,
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func newTestServer(t *testing.T) (http.Handler, *app.App) {
	a := newTestApp(t)
	mux := http.NewServeMux()
	s := &Server{app: a, corsOrigins: a.Config.Server.CORSOrigins}
	s.routes(mux)
	return s.withCORS(mux), a
}

func TestHealthReportsStatusAndVersion(t *testing.T) {
	h, _ := newTestServer(t)
	w := doJSON(t, h, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp healthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Version != Version {
		t.Fatalf("unexpected health response: %+v", resp)
	}
}

func TestFilesystemWriteThenRead(t *testing.T) {
	h, _ := newTestServer(t)

	w := doJSON(t, h, http.MethodPost, "/filesystem/write", filesystemWriteRequest{
		Path:    "user/alice/memories/note.md",
		Content: "Alice prefers dark mode.",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("write status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, h, http.MethodGet, "/filesystem/read/user/alice/memories/note.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("read status = %d, body = %s", w.Code, w.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["content"] != "Alice prefers dark mode." {
		t.Fatalf("unexpected content: %q", body["content"])
	}
}

func TestFilesystemReadMissingReturns404(t *testing.T) {
	h, _ := newTestServer(t)
	w := doJSON(t, h, http.MethodGet, "/filesystem/read/user/alice/memories/missing.md", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body = %s", w.Code, w.Body.String())
	}
}

func TestFilesystemListAndStats(t *testing.T) {
	h, _ := newTestServer(t)
	doJSON(t, h, http.MethodPost, "/filesystem/write", filesystemWriteRequest{
		Path: "resources/shared/handbook.md", Content: "shared content",
	})

	w := doJSON(t, h, http.MethodGet, "/filesystem/list?uri=cortex://resources/shared", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, body = %s", w.Code, w.Body.String())
	}
	var entries []filesystemEntry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "handbook.md" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	w = doJSON(t, h, http.MethodGet, "/filesystem/stats?uri=cortex://resources/shared", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	var stats filesystemStatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.MarkdownFiles != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestInvalidURIReturns400(t *testing.T) {
	h, _ := newTestServer(t)
	w := doJSON(t, h, http.MethodGet, "/filesystem/list?uri=not-a-cortex-uri", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", w.Code, w.Body.String())
	}
}

func TestSessionMessagesAppendAndClose(t *testing.T) {
	h, _ := newTestServer(t)

	w := doJSON(t, h, http.MethodPost, "/sessions/t1/messages", sessionMessageRequest{
		Role: "user", Content: "I prefer dark mode.",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var msg session.Message
	if err := json.Unmarshal(w.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.ID == "" || msg.Role != session.RoleUser {
		t.Fatalf("unexpected message: %+v", msg)
	}

	w = doJSON(t, h, http.MethodPost, "/sessions/t1/close", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("close status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestSearchDegradesGracefullyWithNoIndexedContent(t *testing.T) {
	h, _ := newTestServer(t)
	w := doJSON(t, h, http.MethodPost, "/search", searchRequest{Query: "dark mode", Limit: 5})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp searchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Fatalf("expected no results against an empty store, got %+v", resp.Results)
	}
}

func TestExtractWithoutAutoSavePersistsNothing(t *testing.T) {
	h, a := newTestServer(t)
	doJSON(t, h, http.MethodPost, "/sessions/t2/messages", sessionMessageRequest{Role: "user", Content: "I prefer dark mode."})

	w := doJSON(t, h, http.MethodPost, "/automation/extract/t2", extractRequest{AutoSave: false})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp extractResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Persisted != 0 {
		t.Fatalf("autoSave=false must not persist anything, got %+v", resp)
	}
	_ = a
}

func TestCORSReflectsAllowedOrigin(t *testing.T) {
	h, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}
