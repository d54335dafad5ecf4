// Package events implements C12: the single-producer fan-in event bus
// that drives the layer manager and indexer subscribers, tagged Session
// or Filesystem in origin. The bus never calls back into the
// filesystem itself — that would reintroduce the write/watch cycle it
// exists to break — grounded on the teacher's MangleWatcher fsnotify
// loop (select over Events/Errors/stop/ctx, debounced dispatch).
package events

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"cortex/internal/cortexerr"
	"cortex/internal/logging"
)

// Origin tags where an Event came from.
type Origin int

const (
	Filesystem Origin = iota
	Session
)

func (o Origin) String() string {
	if o == Session {
		return "session"
	}
	return "filesystem"
}

// Kind enumerates the event types subscribers can act on.
type Kind string

const (
	FileWritten    Kind = "file_written"
	FileDeleted    Kind = "file_deleted"
	MessageAdded   Kind = "message_added"
	SessionClosed  Kind = "session_closed"
)

// Event is one fan-in item: every event carries its Origin and Kind plus
// the URI it concerns.
type Event struct {
	Origin    Origin
	Kind      Kind
	URI       string
	SessionID string
	MessageID string
	Time      time.Time
}

// Handler processes one Event. Handlers must not block indefinitely;
// slow work should be dispatched to its own goroutine/worker pool.
type Handler func(ctx context.Context, ev Event)

// Bus is the single-producer fan-in channel. Producers call Publish;
// Run drains the channel and fans each Event out to every Subscribe'd
// handler, sequentially per event (handlers that need concurrency start
// their own goroutines).
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	events   chan Event
	watcher  *fsnotify.Watcher
	watchExt string

	debounceMu  sync.Mutex
	debounceMap map[string]time.Time
	debounceDur time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Bus with the given channel buffer size. bufferSize <= 0
// defaults to 256.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{
		events:      make(chan Event, bufferSize),
		debounceMap: make(map[string]time.Time),
		debounceDur: 300 * time.Millisecond,
		watchExt:    ".md",
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Subscribe registers a handler invoked for every published Event. Must
// be called before Run.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish enqueues an Event for dispatch. Non-blocking best-effort: if
// the buffer is full the event is dropped and logged, since the bus must
// never allow a slow subscriber to stall the filesystem-watch producer.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case b.events <- ev:
	default:
		logging.Get(logging.CategoryEventBus).Warn("event buffer full, dropping %s %s for %s", ev.Origin, ev.Kind, ev.URI)
	}
}

// WatchFilesystem adds root to the fsnotify watcher, translating raw
// filesystem events into Filesystem-origin Events once they settle past
// the debounce window. Directories are watched recursively by adding
// each subdirectory fsnotify reports via Create events.
func (b *Bus) WatchFilesystem(root string) error {
	if b.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return cortexerr.Wrap(cortexerr.Io, "create fsnotify watcher", err)
		}
		b.watcher = w
	}
	return b.addRecursive(root)
}

func (b *Bus) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if werr := b.watcher.Add(path); werr != nil {
				logging.Get(logging.CategoryEventBus).Warn("watch %s: %v", path, werr)
			}
		}
		return nil
	})
}

// Run starts the fan-in loop: fsnotify events (debounced) and directly
// published Events are both drained and dispatched to every subscriber.
// Blocks until ctx is cancelled or Stop is called.
func (b *Bus) Run(ctx context.Context) {
	defer close(b.doneCh)

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if b.watcher != nil {
		fsEvents = b.watcher.Events
		fsErrors = b.watcher.Errors
	}

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case ev := <-b.events:
			b.dispatch(ctx, ev)
		case fe, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			b.handleFsEvent(fe)
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			logging.Get(logging.CategoryEventBus).Error("fsnotify error: %v", err)
		case <-debounceTicker.C:
			b.flushDebounced(ctx)
		}
	}
}

func (b *Bus) handleFsEvent(fe fsnotify.Event) {
	if fe.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(fe.Name); err == nil && info.IsDir() {
			if err := b.addRecursive(fe.Name); err != nil {
				logging.Get(logging.CategoryEventBus).Warn("watch new dir %s: %v", fe.Name, err)
			}
			return
		}
	}
	if !strings.HasSuffix(fe.Name, b.watchExt) {
		return
	}
	b.debounceMu.Lock()
	b.debounceMap[fe.Name] = time.Now()
	b.debounceMu.Unlock()
}

func (b *Bus) flushDebounced(ctx context.Context) {
	now := time.Now()
	var settled []string

	b.debounceMu.Lock()
	for path, t := range b.debounceMap {
		if now.Sub(t) >= b.debounceDur {
			settled = append(settled, path)
			delete(b.debounceMap, path)
		}
	}
	b.debounceMu.Unlock()

	for _, path := range settled {
		kind := FileWritten
		if _, err := os.Stat(path); err != nil {
			kind = FileDeleted
		}
		b.dispatch(ctx, Event{Origin: Filesystem, Kind: kind, URI: path, Time: now})
	}
}

// Stop halts the fan-in loop and waits for Run to return.
func (b *Bus) Stop() {
	close(b.stopCh)
	<-b.doneCh
	if b.watcher != nil {
		b.watcher.Close()
	}
}

func (b *Bus) dispatch(ctx context.Context, ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}
