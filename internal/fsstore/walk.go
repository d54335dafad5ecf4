package fsstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"

	"cortex/internal/cortexuri"
	"cortex/internal/logging"
)

// WalkFunc is invoked once per content-bearing directory found under a
// subtree, carrying its URI.
type WalkFunc func(dir cortexuri.URI) error

// defaultWalkConcurrency mirrors the teacher's world/fs.go Scanner
// semaphore(20) walk pattern, generalized to a configurable cap.
const defaultWalkConcurrency = 20

// WalkDirectories visits every directory at or below scope concurrently
// (bounded by concurrency, default defaultWalkConcurrency when <= 0),
// calling fn once per directory. Used by ensure_all_layers and the bulk
// indexer to enumerate a whole subtree.
func (s *Store) WalkDirectories(ctx context.Context, scope cortexuri.URI, concurrency int, fn WalkFunc) error {
	if concurrency <= 0 {
		concurrency = defaultWalkConcurrency
	}
	root := s.PathFor(scope)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	errCh := make(chan error, 1)
	var wg sync.WaitGroup
	resultErr := error(nil)

	var walkErr error
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		u, uriErr := s.URIForPath(path)
		if uriErr != nil {
			return nil
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			if err := fn(u); err != nil {
				logging.Get(logging.CategoryFilesystem).Warn("walk callback failed for %s: %v", u.String(), err)
				select {
				case errCh <- err:
				default:
				}
			}
		}()
		return nil
	})

	wg.Wait()
	select {
	case walkErr = <-errCh:
	default:
	}
	return firstNonNil(walkErr, resultErr)
}

// ListMarkdownFilesRecursive collects the non-hidden .md files found
// anywhere under scope, descending through date-sharded subdirectories
// such as a session's timeline or a dimension's memories tree. Order is
// unspecified across directories; callers needing temporal order should
// sort by filename or parsed content.
func (s *Store) ListMarkdownFilesRecursive(ctx context.Context, scope cortexuri.URI) ([]Entry, error) {
	var mu sync.Mutex
	var all []Entry
	err := s.WalkDirectories(ctx, scope, 0, func(dir cortexuri.URI) error {
		entries, err := s.ListMarkdownFiles(dir)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		mu.Lock()
		all = append(all, entries...)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

func firstNonNil(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
