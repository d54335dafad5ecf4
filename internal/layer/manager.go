// Package layer implements C3: lazy materialization of the L0 (abstract)
// and L1 (overview) layers from L2 (raw Markdown) content, and the
// invalidation/regeneration sweeps that keep the §3 layer-coherence
// invariant intact.
package layer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"cortex/internal/cortexerr"
	"cortex/internal/cortexuri"
	"cortex/internal/events"
	"cortex/internal/fsstore"
	"cortex/internal/llm"
	"cortex/internal/logging"
)

// Kind identifies which of the three layers is being requested.
type Kind int

const (
	L0 Kind = iota
	L1
	L2
)

func (k Kind) String() string {
	switch k {
	case L0:
		return "L0"
	case L1:
		return "L1"
	default:
		return "L2"
	}
}

// Manager generates and caches L0/L1 text on demand, invalidating it
// whenever the directory's L2 content changes.
type Manager struct {
	fs      *fsstore.Store
	llmc    llm.Client // may be nil: rule-based fallback only
	tokens  *TokenCounter
	inFlight singleflight.Group
}

// New constructs a Manager. llmc may be nil, in which case every
// generation falls back to the rule-based extractive summarizer (§4.2).
func New(fs *fsstore.Store, llmc llm.Client, tokens *TokenCounter) *Manager {
	if tokens == nil {
		tokens = NewTokenCounter(3.0)
	}
	return &Manager{fs: fs, llmc: llmc, tokens: tokens}
}

// collectL2 concatenates the directory's non-hidden .md files into one
// blob for summarization and for direct L2 reads.
func (m *Manager) collectL2(dir cortexuri.URI) (string, error) {
	files, err := m.fs.ListMarkdownFiles(dir)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, f := range files {
		data, err := m.fs.Read(f.URI)
		if err != nil {
			continue
		}
		sb.WriteString("## ")
		sb.WriteString(f.Name)
		sb.WriteString("\n")
		sb.Write(data)
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}

// ReadL2 returns the raw detail content for uri: a straight file read if
// uri addresses a single resource, or the concatenation of the directory's
// markdown files if uri addresses a directory.
func (m *Manager) ReadL2(uri cortexuri.URI) (string, error) {
	if strings.HasSuffix(uri.Resource, ".md") && !uri.IsHidden() {
		data, err := m.fs.Read(uri)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	content, err := m.collectL2(uri)
	if err != nil {
		return "", err
	}
	return content, nil
}

// ReadLayer returns the text of the requested layer for uri, generating and
// persisting L0/L1 on a cache miss. For a single-file uri, L0/L1 are scoped
// to the file's parent directory, per §3.
func (m *Manager) ReadLayer(ctx context.Context, uri cortexuri.URI, kind Kind) (string, error) {
	if kind == L2 {
		return m.ReadL2(uri)
	}

	dir := uri
	if strings.HasSuffix(uri.Resource, ".md") && !uri.IsHidden() {
		dir = uri.Parent()
	}

	sibling := dir.Abstract()
	if kind == L1 {
		sibling = dir.Overview()
	}

	if data, err := m.fs.Read(sibling); err == nil {
		return string(data), nil
	} else if cortexerr.KindOf(err) != cortexerr.NotFound {
		return "", err
	}

	text, err := m.generateAndStore(ctx, dir, kind)
	if err != nil {
		return "", err
	}
	return text, nil
}

// generateAndStore synthesizes the requested layer for dir and writes it,
// serialized per-directory so concurrent requests join the in-flight
// generation instead of duplicating LLM calls (§5 ordering guarantees).
func (m *Manager) generateAndStore(ctx context.Context, dir cortexuri.URI, kind Kind) (string, error) {
	key := dir.String() + "#" + kind.String()
	v, err, _ := m.inFlight.Do(key, func() (interface{}, error) {
		content, err := m.collectL2(dir)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(content) == "" {
			return nil, cortexerr.New(cortexerr.Llm, "empty input: no L2 content to summarize for "+dir.String())
		}

		var text string
		var genErr error
		if kind == L0 {
			text, genErr = m.generateAbstract(ctx, content)
		} else {
			text, genErr = m.generateOverview(ctx, content)
		}
		if genErr != nil {
			return nil, genErr
		}

		sibling := dir.Abstract()
		if kind == L1 {
			sibling = dir.Overview()
		}
		if err := m.fs.Write(sibling, []byte(text)); err != nil {
			return nil, err
		}
		logging.Get(logging.CategoryLayer).Info("generated %s for %s", kind, dir.String())
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// GenerateAllLayers is the write path used by ingestion (§4.2): writes L2,
// then L0, then L1, in that order, so the coherence invariant holds even if
// interrupted partway. Ingestion is strict — a failed L2 write returns
// immediately without touching L0/L1.
func (m *Manager) GenerateAllLayers(ctx context.Context, fileURI cortexuri.URI, content []byte) error {
	if err := m.fs.Write(fileURI, content); err != nil {
		return err
	}

	dir := fileURI.Parent()
	if _, err := m.regenerate(ctx, dir, L0); err != nil {
		return err
	}
	if _, err := m.regenerate(ctx, dir, L1); err != nil {
		return err
	}
	return nil
}

// regenerate forces fresh generation for dir regardless of whether a
// sibling already exists (invalidate-then-generate), used after any L2
// write or delete.
func (m *Manager) regenerate(ctx context.Context, dir cortexuri.URI, kind Kind) (string, error) {
	sibling := dir.Abstract()
	if kind == L1 {
		sibling = dir.Overview()
	}
	_ = m.fs.Delete(sibling)
	return m.generateAndStore(ctx, dir, kind)
}

// InvalidateDirectory deletes dir's L0/L1 siblings when no L2 file remains
// in dir (§8: "after any deletion of every L2 file in a directory, L0/L1
// are removed"), and regenerates them when some L2 content is left.
func (m *Manager) InvalidateDirectory(dir cortexuri.URI) error {
	files, err := m.fs.ListMarkdownFiles(dir)
	if err != nil {
		return err
	}
	if len(files) > 0 {
		// Other L2 content remains; regenerate rather than remove.
		if _, err := m.regenerate(context.Background(), dir, L0); err != nil {
			return err
		}
		_, err := m.regenerate(context.Background(), dir, L1)
		return err
	}
	if err := m.fs.Delete(dir.Abstract()); err != nil {
		return err
	}
	return m.fs.Delete(dir.Overview())
}

// EnsureAllLayers walks scope and generates any missing L0/L1, bounded by
// concurrency (default 8, per §5 backpressure).
func (m *Manager) EnsureAllLayers(ctx context.Context, scope cortexuri.URI, concurrency int) (generated int, failed int, err error) {
	if concurrency <= 0 {
		concurrency = 8
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	type result struct {
		ok bool
	}
	resultsCh := make(chan result, 1024)
	var dirsMu sync.Mutex
	var dirs []cortexuri.URI

	walkErr := m.fs.WalkDirectories(ctx, scope, concurrency, func(dir cortexuri.URI) error {
		dirsMu.Lock()
		dirs = append(dirs, dir)
		dirsMu.Unlock()
		return nil
	})
	if walkErr != nil {
		return 0, 0, walkErr
	}

	for _, dir := range dirs {
		files, err := m.fs.ListMarkdownFiles(dir)
		if err != nil || len(files) == 0 {
			continue
		}
		missingL0 := !m.fs.Exists(dir.Abstract())
		missingL1 := !m.fs.Exists(dir.Overview())
		if !missingL0 && !missingL1 {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return generated, failed, err
		}
		go func(dir cortexuri.URI, missingL0, missingL1 bool) {
			defer sem.Release(1)
			ok := true
			if missingL0 {
				if _, err := m.generateAndStore(ctx, dir, L0); err != nil {
					logging.Get(logging.CategoryLayer).Warn("ensure-all: L0 failed for %s: %v", dir.String(), err)
					ok = false
				}
			}
			if missingL1 {
				if _, err := m.generateAndStore(ctx, dir, L1); err != nil {
					logging.Get(logging.CategoryLayer).Warn("ensure-all: L1 failed for %s: %v", dir.String(), err)
					ok = false
				}
			}
			resultsCh <- result{ok: ok}
		}(dir, missingL0, missingL1)
		generated++
	}

	if err := sem.Acquire(ctx, int64(concurrency)); err != nil {
		return generated, failed, err
	}
	close(resultsCh)
	for r := range resultsCh {
		if !r.ok {
			failed++
		}
	}
	return generated, failed, nil
}

// RegenerateOversizedAbstracts re-synthesizes any .abstract.md above
// maxBytes (default ~400, per §6 memory.abstract_max_bytes).
func (m *Manager) RegenerateOversizedAbstracts(ctx context.Context, scope cortexuri.URI, maxBytes int) (regenerated int, err error) {
	if maxBytes <= 0 {
		maxBytes = 400
	}
	var count int64
	walkErr := m.fs.WalkDirectories(ctx, scope, 0, func(dir cortexuri.URI) error {
		data, err := m.fs.Read(dir.Abstract())
		if err != nil {
			return nil // no abstract here, nothing to do
		}
		if len(data) <= maxBytes {
			return nil
		}
		if _, err := m.regenerate(ctx, dir, L0); err != nil {
			return fmt.Errorf("regenerate abstract for %s: %w", dir.String(), err)
		}
		atomic.AddInt64(&count, 1)
		return nil
	})
	return int(count), walkErr
}

// Subscribe registers the layer manager's event-bus handler (§4.10): a
// new message or L2 write schedules an L0/L1 refresh at the directory
// the write landed in, and a delete invalidates that directory's
// siblings. Hidden-file events (the .abstract.md/.overview.md writes
// this very regeneration performs) are ignored, since otherwise the
// filesystem-watch half of the bus would re-trigger itself indefinitely.
func (m *Manager) Subscribe(bus *events.Bus) {
	bus.Subscribe(func(ctx context.Context, ev events.Event) {
		u, err := m.resolveEventURI(ev)
		if err != nil {
			return
		}
		if u.IsHidden() {
			return
		}
		switch ev.Kind {
		case events.MessageAdded, events.FileWritten:
			dir := u.Parent()
			if _, err := m.regenerate(ctx, dir, L0); err != nil {
				logging.Get(logging.CategoryLayer).Warn("event-triggered L0 regen failed for %s: %v", dir.String(), err)
				return
			}
			if _, err := m.regenerate(ctx, dir, L1); err != nil {
				logging.Get(logging.CategoryLayer).Warn("event-triggered L1 regen failed for %s: %v", dir.String(), err)
			}
		case events.FileDeleted:
			if err := m.InvalidateDirectory(u.Parent()); err != nil {
				logging.Get(logging.CategoryLayer).Warn("event-triggered invalidate failed for %s: %v", u.Parent().String(), err)
			}
		}
	})
}

// resolveEventURI normalizes an event's URI to cortex:// form, mirroring
// the indexer's translation of raw fsnotify paths back through the
// filesystem store.
func (m *Manager) resolveEventURI(ev events.Event) (cortexuri.URI, error) {
	if ev.Origin == events.Filesystem {
		return m.fs.URIForPath(ev.URI)
	}
	return cortexuri.Parse(ev.URI)
}
