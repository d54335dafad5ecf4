package fsstore

import (
	"path/filepath"
	"testing"

	"cortex/internal/cortexerr"
	"cortex/internal/cortexuri"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestWriteReadDelete(t *testing.T) {
	s := newTestStore(t)
	u := cortexuri.UserMemories("alice", "2026-07", "coffee.md")

	if s.Exists(u) {
		t.Fatal("expected not to exist before write")
	}
	if err := s.Write(u, []byte("Alice likes espresso.")); err != nil {
		t.Fatal(err)
	}
	if !s.Exists(u) {
		t.Fatal("expected to exist after write")
	}
	data, err := s.Read(u)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "Alice likes espresso." {
		t.Fatalf("unexpected content: %s", data)
	}

	if err := s.Delete(u); err != nil {
		t.Fatal(err)
	}
	if s.Exists(u) {
		t.Fatal("expected not to exist after delete")
	}
}

func TestReadMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read(cortexuri.UserMemories("alice", "missing.md"))
	if cortexerr.KindOf(err) != cortexerr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestPathURIBijection(t *testing.T) {
	s := newTestStore(t)
	u := cortexuri.SessionTimeline("t1", "2026-07", "31", "14_00_00_ab12.md")
	path := s.PathFor(u)

	wantSuffix := filepath.Join("session", "t1", "timeline", "2026-07", "31", "14_00_00_ab12.md")
	if filepath.Base(filepath.Dir(path)) != "31" {
		t.Fatalf("unexpected path shape: %s", path)
	}
	_ = wantSuffix

	back, err := s.URIForPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if back != u {
		t.Fatalf("uri_to_path(path_to_uri(p)) != p: got %+v want %+v", back, u)
	}
}

func TestListSortedAndHiddenFiltered(t *testing.T) {
	s := newTestStore(t)
	dir := cortexuri.UserPreferences("alice")
	if err := s.Write(dir.Child("zeta.md"), []byte("z")); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(dir.Child("alpha.md"), []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(dir.Abstract(), []byte("abstract")); err != nil {
		t.Fatal(err)
	}

	entries, err := s.List(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 visible entries, got %d", len(entries))
	}
	if entries[0].Name != "alpha.md" || entries[1].Name != "zeta.md" {
		t.Fatalf("expected sorted order, got %v", entries)
	}

	withHidden, err := s.List(dir, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(withHidden) != 3 {
		t.Fatalf("expected 3 entries including hidden, got %d", len(withHidden))
	}
}

func TestEmptyDirectoryListReturnsEmptySlice(t *testing.T) {
	s := newTestStore(t)
	entries, err := s.List(cortexuri.MustParse("cortex://resources/nothing"), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty list, got %d entries", len(entries))
	}
}
