// Package fsstore implements C2: the tenant-scoped virtual filesystem that
// maps cortex:// URIs onto on-disk paths, with atomic writes and
// filename-level write serialization.
package fsstore

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cortex/internal/cortexerr"
	"cortex/internal/cortexuri"
	"cortex/internal/logging"
)

// Entry describes one filesystem listing result.
type Entry struct {
	Name        string
	URI         cortexuri.URI
	IsDirectory bool
	Size        int64
	Modified    time.Time
}

// Store is the tenant-scoped filesystem. URI <-> path is a pure function of
// (root, URI); Store carries no other hidden state besides the per-path
// write locks required for atomic-write serialization.
type Store struct {
	root string

	writeLocksMu sync.Mutex
	writeLocks   map[string]*sync.Mutex
}

// New constructs a Store rooted at root (the tenant's
// <data_dir>/tenants/<tenant_id>/cortex directory). root is created if
// missing.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, cortexerr.Wrap(cortexerr.Io, "create tenant root "+root, err)
	}
	return &Store{root: root, writeLocks: map[string]*sync.Mutex{}}, nil
}

// RootPath returns the tenant's filesystem root.
func (s *Store) RootPath() string { return s.root }

// PathFor maps a URI onto its on-disk path, stripping the scheme and
// joining the segments onto the tenant root. This is the URI/path bijection
// invariant (§3.2) expressed as a pure function.
func (s *Store) PathFor(u cortexuri.URI) string {
	segs := []string{string(u.Dimension)}
	if u.Category != "" {
		segs = append(segs, u.Category)
	}
	if u.Subcategory != "" {
		segs = append(segs, u.Subcategory)
	}
	if u.Resource != "" {
		segs = append(segs, strings.Split(u.Resource, "/")...)
	}
	return filepath.Join(append([]string{s.root}, segs...)...)
}

// URIForPath is the inverse of PathFor: given an absolute path under root,
// recover the URI that produces it. Returns InvalidPath if path escapes
// root.
func (s *Store) URIForPath(path string) (cortexuri.URI, error) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return cortexuri.URI{}, cortexerr.New(cortexerr.InvalidPath, "path "+path+" is outside tenant root")
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) == 0 || parts[0] == "." {
		return cortexuri.URI{}, cortexerr.New(cortexerr.InvalidPath, "path "+path+" maps to empty uri")
	}
	return cortexuri.Parse("cortex://" + strings.Join(parts, "/"))
}

// Exists reports whether the path backing u is present.
func (s *Store) Exists(u cortexuri.URI) bool {
	_, err := os.Stat(s.PathFor(u))
	return err == nil
}

// Read returns the file content at u.
func (s *Store) Read(u cortexuri.URI) ([]byte, error) {
	path := s.PathFor(u)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cortexerr.New(cortexerr.NotFound, "no file at "+u.String())
		}
		return nil, cortexerr.Wrap(cortexerr.Io, "read "+u.String(), err)
	}
	return data, nil
}

// Write atomically persists content at u: write-to-temp then rename, so a
// reader never observes a partial file. Concurrent writers to the same URI
// are serialized.
func (s *Store) Write(u cortexuri.URI, content []byte) error {
	path := s.PathFor(u)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return cortexerr.Wrap(cortexerr.Io, "mkdir "+dir, err)
	}

	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	tmp := filepath.Join(dir, "."+filepath.Base(path)+".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return cortexerr.Wrap(cortexerr.Io, "write temp file for "+u.String(), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return cortexerr.Wrap(cortexerr.Io, "rename temp file for "+u.String(), err)
	}
	logging.Get(logging.CategoryFilesystem).Debug("wrote %s (%d bytes)", u.String(), len(content))
	return nil
}

// Delete removes the file at u. Deleting a non-existent file is not an
// error — callers that need NotFound semantics should check Exists first.
func (s *Store) Delete(u cortexuri.URI) error {
	path := s.PathFor(u)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return cortexerr.Wrap(cortexerr.Io, "delete "+u.String(), err)
	}
	logging.Get(logging.CategoryFilesystem).Debug("deleted %s", u.String())
	return nil
}

// List returns the entries of the directory addressed by u, sorted by
// name. Hidden entries (dotfiles, including .abstract.md/.overview.md) are
// included only when includeHidden is true.
func (s *Store) List(u cortexuri.URI, includeHidden bool) ([]Entry, error) {
	path := s.PathFor(u)
	items, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, cortexerr.Wrap(cortexerr.Io, "list "+u.String(), err)
	}

	entries := make([]Entry, 0, len(items))
	for _, it := range items {
		name := it.Name()
		if !includeHidden && strings.HasPrefix(name, ".") {
			continue
		}
		info, err := it.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:        name,
			URI:         u.Child(name),
			IsDirectory: it.IsDir(),
			Size:        info.Size(),
			Modified:    info.ModTime(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// ListMarkdownFiles returns the non-hidden .md files directly in the
// directory addressed by u — the L2 set for that directory (§3 Layer
// triple).
func (s *Store) ListMarkdownFiles(u cortexuri.URI) ([]Entry, error) {
	entries, err := s.List(u, false)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if !e.IsDirectory && strings.HasSuffix(e.Name, ".md") {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) lockFor(path string) *sync.Mutex {
	s.writeLocksMu.Lock()
	defer s.writeLocksMu.Unlock()
	l, ok := s.writeLocks[path]
	if !ok {
		l = &sync.Mutex{}
		s.writeLocks[path] = l
	}
	return l
}
