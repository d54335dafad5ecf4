package layer

import (
	"context"
	"strings"
	"testing"

	"cortex/internal/cortexerr"
	"cortex/internal/cortexuri"
	"cortex/internal/fsstore"
)

func newTestManager(t *testing.T) (*Manager, *fsstore.Store) {
	t.Helper()
	fs, err := fsstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return New(fs, nil, NewTokenCounter(3.0)), fs
}

func TestGenerateAllLayersWritesL2ThenL0ThenL1(t *testing.T) {
	m, fs := newTestManager(t)
	ctx := context.Background()
	file := cortexuri.UserMemories("alice", "2026-07", "coffee.md")

	if err := m.GenerateAllLayers(ctx, file, []byte("Alice likes espresso in the morning.")); err != nil {
		t.Fatal(err)
	}

	dir := file.Parent()
	if !fs.Exists(dir.Abstract()) {
		t.Fatal("expected .abstract.md to exist")
	}
	if !fs.Exists(dir.Overview()) {
		t.Fatal("expected .overview.md to exist")
	}

	abstract, err := m.ReadLayer(ctx, file, L0)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(abstract) == "" {
		t.Fatal("expected non-empty abstract")
	}

	overview, err := m.ReadLayer(ctx, file, L1)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(overview, "## Summary") {
		t.Fatalf("expected structured overview, got: %s", overview)
	}
}

func TestReadLayerL2IsDirectRead(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	file := cortexuri.UserMemories("alice", "note.md")
	if err := m.GenerateAllLayers(ctx, file, []byte("Some content here.")); err != nil {
		t.Fatal(err)
	}
	text, err := m.ReadLayer(ctx, file, L2)
	if err != nil {
		t.Fatal(err)
	}
	if text != "Some content here." {
		t.Fatalf("unexpected L2 content: %q", text)
	}
}

func TestEmptyContentErrorsRatherThanEmitEmptyLayer(t *testing.T) {
	m, fs := newTestManager(t)
	ctx := context.Background()
	dir := cortexuri.UserPreferences("alice")
	// No L2 files exist in dir; direct generation should refuse.
	_, err := m.generateAndStore(ctx, dir, L0)
	if cortexerr.KindOf(err) != cortexerr.Llm {
		t.Fatalf("expected Llm(empty input) error, got %v", err)
	}
	if fs.Exists(dir.Abstract()) {
		t.Fatal("must not have written an empty abstract")
	}
}

func TestInvalidateDirectoryRemovesLayersWhenNoL2Remains(t *testing.T) {
	m, fs := newTestManager(t)
	ctx := context.Background()
	file := cortexuri.UserMemories("alice", "only.md")
	if err := m.GenerateAllLayers(ctx, file, []byte("Only memory.")); err != nil {
		t.Fatal(err)
	}
	dir := file.Parent()
	if err := fs.Delete(file); err != nil {
		t.Fatal(err)
	}
	if err := m.InvalidateDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if fs.Exists(dir.Abstract()) || fs.Exists(dir.Overview()) {
		t.Fatal("expected L0/L1 removed after last L2 file deleted")
	}
}

func TestRegenerateOversizedAbstracts(t *testing.T) {
	m, fs := newTestManager(t)
	ctx := context.Background()
	file := cortexuri.UserMemories("alice", "big.md")
	if err := m.GenerateAllLayers(ctx, file, []byte("Some content about a big topic.")); err != nil {
		t.Fatal(err)
	}
	dir := file.Parent()

	oversized := strings.Repeat("x", 10*1024)
	if err := fs.Write(dir.Abstract(), []byte(oversized)); err != nil {
		t.Fatal(err)
	}

	count, err := m.RegenerateOversizedAbstracts(ctx, cortexuri.MustParse("cortex://user"), 400)
	if err != nil {
		t.Fatal(err)
	}
	if count < 1 {
		t.Fatal("expected at least one regeneration")
	}
	data, err := fs.Read(dir.Abstract())
	if err != nil {
		t.Fatal(err)
	}
	if len(data) > 400 {
		t.Fatalf("expected shrunk abstract, got %d bytes", len(data))
	}
}
