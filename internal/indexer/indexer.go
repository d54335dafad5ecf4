// Package indexer implements C8: keeping the vector store and full-text
// index coherent with filesystem state, in two modes — incremental
// (event-bus driven, one upsert per write) and bulk (subtree walk with
// bounded concurrency) — grounded on the Indexer/Config interface shape
// used for codebase indexing in the example pack's project-cortex
// indexer and the teacher's bounded-walk pattern in fsstore.WalkDirectories.
package indexer

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"cortex/internal/cortexuri"
	"cortex/internal/embedding"
	"cortex/internal/events"
	"cortex/internal/fsstore"
	"cortex/internal/fulltext"
	"cortex/internal/layer"
	"cortex/internal/logging"
	"cortex/internal/vectorstore"
)

// Stats reports the outcome of a bulk or incremental indexing pass.
type Stats struct {
	TotalIndexed int
	TotalSkipped int
	TotalErrors  int
}

// Indexer owns writing layer content into the vector store and
// full-text index, and subscribes to the event bus to stay incremental.
type Indexer struct {
	fs       *fsstore.Store
	layers   *layer.Manager
	embedder embedding.Engine
	vectors  vectorstore.Store
	ft       *fulltext.Index

	concurrency int
}

// Config bundles the collaborators an Indexer wires together.
type Config struct {
	FS          *fsstore.Store
	Layers      *layer.Manager
	Embedder    embedding.Engine
	Vectors     vectorstore.Store
	Fulltext    *fulltext.Index
	Concurrency int // bounded-walk fan-out, default 8
}

// New builds an Indexer from cfg.
func New(cfg Config) *Indexer {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Indexer{
		fs:          cfg.FS,
		layers:      cfg.Layers,
		embedder:    cfg.Embedder,
		vectors:     cfg.Vectors,
		ft:          cfg.Fulltext,
		concurrency: concurrency,
	}
}

// Subscribe registers the Indexer's incremental handler on bus. Layer
// writes (.abstract.md / .overview.md) and message writes each trigger a
// per-layer upsert; FileDeleted triggers a full delete across all
// layers, matching §3's coherence invariant.
func (idx *Indexer) Subscribe(bus *events.Bus) {
	bus.Subscribe(func(ctx context.Context, ev events.Event) {
		u, err := idx.resolveEventURI(ev)
		if err != nil {
			logging.Get(logging.CategoryIndexer).Warn("could not resolve uri for event %s %s: %v", ev.Origin, ev.URI, err)
			return
		}
		switch ev.Kind {
		case events.FileWritten, events.MessageAdded:
			if err := idx.indexURI(ctx, u.String()); err != nil {
				logging.Get(logging.CategoryIndexer).Warn("incremental index failed for %s: %v", u.String(), err)
			}
		case events.FileDeleted:
			if err := idx.deleteURI(ctx, u.String()); err != nil {
				logging.Get(logging.CategoryIndexer).Warn("incremental delete failed for %s: %v", u.String(), err)
			}
		}
	})
}

// resolveEventURI normalizes an event's URI to cortex:// form. Session
// and already-normalized events carry a cortex:// URI directly; raw
// fsnotify events (Origin == Filesystem) carry an absolute OS path that
// must be mapped back through the filesystem store.
func (idx *Indexer) resolveEventURI(ev events.Event) (cortexuri.URI, error) {
	if ev.Origin == events.Filesystem {
		return idx.fs.URIForPath(ev.URI)
	}
	return cortexuri.Parse(ev.URI)
}

func (idx *Indexer) layerForPath(path string) vectorstore.Layer {
	switch {
	case strings.HasSuffix(path, cortexuri.AbstractName):
		return vectorstore.L0
	case strings.HasSuffix(path, cortexuri.OverviewName):
		return vectorstore.L1
	default:
		return vectorstore.L2
	}
}

func (idx *Indexer) indexURI(ctx context.Context, uriStr string) error {
	u, err := cortexuri.Parse(uriStr)
	if err != nil {
		return err
	}
	content, err := idx.fs.Read(u)
	if err != nil {
		return err
	}
	return idx.indexContent(ctx, u, idx.layerForPath(uriStr), string(content))
}

func (idx *Indexer) indexContent(ctx context.Context, u cortexuri.URI, l vectorstore.Layer, content string) error {
	vec, err := idx.embedder.Embed(ctx, content)
	if err != nil {
		return err
	}
	point := vectorstore.Point{
		ID:     vectorstore.Fingerprint(u.String(), l),
		URI:    u.String(),
		Layer:  l,
		Vector: vec,
		Metadata: map[string]string{
			"dimension": string(u.Dimension),
			"layer":     l.String(),
		},
	}
	if err := idx.vectors.Upsert(ctx, point); err != nil {
		return err
	}
	if idx.ft != nil {
		return idx.ft.AddDocument(fulltext.Document{URI: u.String(), Content: content})
	}
	return nil
}

// DeleteURI removes uri's vector and full-text entries, for callers (the
// CLI's delete command) that need to retire a single resource outside the
// event-bus's own FileDeleted handling.
func (idx *Indexer) DeleteURI(ctx context.Context, uri cortexuri.URI) error {
	return idx.deleteURI(ctx, uri.String())
}

func (idx *Indexer) deleteURI(ctx context.Context, uriStr string) error {
	if err := idx.vectors.Delete(ctx, uriStr); err != nil {
		return err
	}
	if idx.ft != nil {
		return idx.ft.DeleteDocument(uriStr)
	}
	return nil
}

// BulkIndex walks every directory under scope and (re)indexes its L0,
// L1, and L2 content with bounded concurrency, returning aggregate
// stats. Directories missing content are skipped, not errored.
func (idx *Indexer) BulkIndex(ctx context.Context, scope cortexuri.URI) (Stats, error) {
	var indexed, skipped, errored int64

	err := idx.fs.WalkDirectories(ctx, scope, idx.concurrency, func(dir cortexuri.URI) error {
		entries, err := idx.fs.ListMarkdownFiles(dir)
		if err != nil {
			atomic.AddInt64(&errored, 1)
			return nil
		}

		type indexable struct {
			uri  cortexuri.URI
			path string
		}
		targets := make([]indexable, 0, len(entries)+2)
		for _, e := range entries {
			targets = append(targets, indexable{uri: e.URI, path: e.URI.String()})
		}
		if idx.fs.Exists(dir.Abstract()) {
			targets = append(targets, indexable{uri: dir.Abstract(), path: dir.Abstract().String()})
		}
		if idx.fs.Exists(dir.Overview()) {
			targets = append(targets, indexable{uri: dir.Overview(), path: dir.Overview().String()})
		}
		if len(targets) == 0 {
			atomic.AddInt64(&skipped, 1)
			return nil
		}

		var wg sync.WaitGroup
		for _, e := range targets {
			e := e
			wg.Add(1)
			go func() {
				defer wg.Done()
				content, err := idx.fs.Read(e.uri)
				if err != nil {
					atomic.AddInt64(&errored, 1)
					return
				}
				l := idx.layerForPath(e.path)
				if err := idx.indexContent(ctx, e.uri, l, string(content)); err != nil {
					logging.Get(logging.CategoryIndexer).Warn("bulk index failed for %s: %v", e.path, err)
					atomic.AddInt64(&errored, 1)
					return
				}
				atomic.AddInt64(&indexed, 1)
			}()
		}
		wg.Wait()
		return nil
	})
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		TotalIndexed: int(indexed),
		TotalSkipped: int(skipped),
		TotalErrors:  int(errored),
	}, nil
}

// ReconcileVectorStore compares the vector store's known URIs against
// filesystem state and removes any orphaned points whose source file no
// longer exists — a periodic consistency sweep, not part of the hot
// write path.
func (idx *Indexer) ReconcileVectorStore(ctx context.Context, scope cortexuri.URI) (removed int, err error) {
	points, err := idx.vectors.List(ctx, vectorstore.Filter{}, 0)
	if err != nil {
		return 0, err
	}
	orphaned := make(map[string]bool, len(points))
	for _, p := range points {
		orphaned[p.URI] = true
	}

	err = idx.fs.WalkDirectories(ctx, scope, idx.concurrency, func(dir cortexuri.URI) error {
		entries, err := idx.fs.ListMarkdownFiles(dir)
		if err != nil {
			return nil
		}
		for _, e := range entries {
			delete(orphaned, e.URI.String())
		}
		delete(orphaned, dir.Abstract().String())
		delete(orphaned, dir.Overview().String())
		return nil
	})
	if err != nil {
		return 0, err
	}

	for uri := range orphaned {
		if err := idx.vectors.Delete(ctx, uri); err == nil {
			removed++
		}
	}
	return removed, nil
}
