// Package app wires together the twelve components (C1-C12) from a
// loaded config.Config into one running instance — the composition root
// the CLI and HTTP surfaces both build on, mirroring the teacher's
// cmd/nerd convention of a single construction path shared by every
// entry point.
package app

import (
	"context"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"cortex/internal/config"
	"cortex/internal/cortexerr"
	"cortex/internal/embedding"
	"cortex/internal/events"
	"cortex/internal/extractor"
	"cortex/internal/fsstore"
	"cortex/internal/fulltext"
	"cortex/internal/indexer"
	"cortex/internal/layer"
	"cortex/internal/llm"
	"cortex/internal/logging"
	"cortex/internal/retrieval"
	"cortex/internal/session"
	"cortex/internal/vectorstore"
	"cortex/internal/vectorstore/qdrantstore"
	"cortex/internal/vectorstore/sqlitevec"
)

// App bundles every constructed component for one tenant. Nothing in the
// memory engine itself reaches for process-global state beyond the
// logger (§9 Design Notes); every other collaborator is a field here,
// passed explicitly to the packages that need it.
type App struct {
	Config    *config.Config
	TenantID  string
	FS        *fsstore.Store
	Embedder  embedding.Engine
	LLM       llm.Client
	Vectors   vectorstore.Store
	Fulltext  *fulltext.Index
	Layers    *layer.Manager
	Indexer   *indexer.Indexer
	Retrieval *retrieval.Engine
	Sessions  *session.Manager
	Extractor *extractor.Extractor
	Bus       *events.Bus

	busCancel context.CancelFunc
}

// tenantRoot is the on-disk layout from §6: <data_dir>/tenants/<tenant_id>/cortex/.
func tenantRoot(dataDir, tenantID string) string {
	return filepath.Join(dataDir, "tenants", tenantID, "cortex")
}

// New constructs every component for tenantID from cfg and starts the
// event bus's fan-in loop. Callers must call Close when done.
func New(cfg *config.Config, tenantID string) (*App, error) {
	if tenantID == "" {
		tenantID = "default"
	}
	if err := logging.Initialize(cfg.DataDir); err != nil {
		return nil, cortexerr.Wrap(cortexerr.Config, "initialize logging", err)
	}

	root := tenantRoot(cfg.DataDir, tenantID)
	fs, err := fsstore.New(root)
	if err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.Embedding, "construct embedding engine", err)
	}

	llmClient, err := newLLMClient(cfg)
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.Llm, "construct llm client", err)
	}

	vectors, err := newVectorStore(cfg, tenantID, embedder.Dimensions())
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.VectorStore, "construct vector store", err)
	}

	ftPath := filepath.Join(cfg.DataDir, "tenants", tenantID, "fulltext.bleve")
	ft, err := fulltext.Open(ftPath)
	if err != nil {
		return nil, err
	}

	tokens := layer.NewTokenCounter(cfg.Memory.CharsPerToken)
	layers := layer.New(fs, llmClient, tokens)

	bus := events.New(256)

	sessions := session.New(fs, bus)

	idx := indexer.New(indexer.Config{
		FS:          fs,
		Layers:      layers,
		Embedder:    embedder,
		Vectors:     vectors,
		Fulltext:    ft,
		Concurrency: 8,
	})

	retr := retrieval.New(retrieval.Config{
		FS:       fs,
		Embedder: embedder,
		Vectors:  vectors,
		Fulltext: ft,
	})

	extr := extractor.New(extractor.Config{
		FS:             fs,
		Layers:         layers,
		Sessions:       sessions,
		LLM:            llmClient,
		Embedder:       embedder,
		Vectors:        vectors,
		Fulltext:       ft,
		MinConfidence:  cfg.Memory.MinConfidence,
		MergeThreshold: cfg.Memory.MergeThreshold,
		AllowSupersede: cfg.Memory.AutoEnhance && cfg.Memory.Deduplicate,
		BatchSize:      50,
	})

	// C12 wiring: the indexer and layer manager are pure subscribers —
	// they never call back into the filesystem to write, only to read
	// and to upsert into their own stores, breaking the cycle per §9.
	layers.Subscribe(bus)
	idx.Subscribe(bus)

	if err := bus.WatchFilesystem(root); err != nil {
		logging.Get(logging.CategoryEventBus).Warn("filesystem watch unavailable, falling back to direct-write-only indexing: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go bus.Run(ctx)

	return &App{
		Config:    cfg,
		TenantID:  tenantID,
		FS:        fs,
		Embedder:  embedder,
		LLM:       llmClient,
		Vectors:   vectors,
		Fulltext:  ft,
		Layers:    layers,
		Indexer:   idx,
		Retrieval: retr,
		Sessions:  sessions,
		Extractor: extr,
		Bus:       bus,
		busCancel: cancel,
	}, nil
}

// Close stops the event bus and releases the vector store / full-text
// index's underlying resources.
func (a *App) Close() error {
	if a.busCancel != nil {
		a.busCancel()
	}
	if a.Bus != nil {
		a.Bus.Stop()
	}
	var firstErr error
	if a.Vectors != nil {
		if err := a.Vectors.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.Fulltext != nil {
		if err := a.Fulltext.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// newEmbedder selects genai when an API key is configured without an
// explicit base URL (mirroring llm.DetectProvider's precedence,
// generalized to the embedding config), otherwise ollama, matching the
// embedding package's own default.
func newEmbedder(cfg *config.Config) (embedding.Engine, error) {
	ec := cfg.Embedding
	provider := "ollama"
	if ec.APIKey != "" && ec.APIBaseURL == "" {
		provider = "genai"
	}
	inner, err := embedding.NewEngine(embedding.Config{
		Provider:       provider,
		OllamaEndpoint: firstNonEmpty(ec.APIBaseURL, "http://localhost:11434"),
		OllamaModel:    firstNonEmpty(ec.ModelName, "embeddinggemma"),
		GenAIAPIKey:    ec.APIKey,
		GenAIModel:     firstNonEmpty(ec.ModelName, "gemini-embedding-001"),
		TaskType:       "RETRIEVAL_DOCUMENT",
	})
	if err != nil {
		return nil, err
	}
	return embedding.NewCachedEngine(inner, ec.CacheCapacity, cfg.EmbeddingCacheTTL())
}

// newLLMClient selects genai/openai per llm.DetectProvider's precedence.
func newLLMClient(cfg *config.Config) (llm.Client, error) {
	lc := cfg.LLM
	base := llm.Config{
		APIBaseURL:  lc.APIBaseURL,
		APIKey:      lc.APIKey,
		Model:       lc.ModelEfficient,
		Temperature: lc.Temperature,
		MaxTokens:   lc.MaxTokens,
		Timeout:     30 * time.Second,
	}
	base.Provider = llm.DetectProvider(base)
	return llm.NewClient(base)
}

// newVectorStore picks Qdrant when a URL is configured (§6's primary
// configuration) and falls back to the embedded sqlite-vec store
// otherwise, per DESIGN.md's "both kept behind the same interface"
// decision.
func newVectorStore(cfg *config.Config, tenantID string, embedDims int) (vectorstore.Store, error) {
	if cfg.Qdrant.URL != "" {
		host, port, useTLS := splitQdrantURL(cfg.Qdrant.URL)
		dims := cfg.Qdrant.EmbeddingDim
		if dims <= 0 {
			dims = embedDims
		}
		return qdrantstore.New(context.Background(), qdrantstore.Config{
			Host:           host,
			Port:           port,
			UseTLS:         useTLS,
			APIKey:         "",
			CollectionName: firstNonEmpty(cfg.Qdrant.CollectionName, "cortex_memories"),
			EmbeddingDim:   uint64(dims),
			Timeout:        cfg.QdrantTimeout(),
		})
	}

	dims := embedDims
	if dims <= 0 {
		dims = 768
	}
	path := filepath.Join(cfg.DataDir, "tenants", tenantID, "vectors.db")
	return sqlitevec.New(path, dims)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// splitQdrantURL parses a "scheme://host:port" URL into the discrete
// fields qdrant.Config expects; malformed input falls back to localhost
// defaults rather than erroring, since Qdrant connection failures
// already surface clearly at HealthCheck time.
func splitQdrantURL(raw string) (host string, port int, useTLS bool) {
	host, port, useTLS = "localhost", 6334, false
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return host, port, useTLS
	}
	host = u.Hostname()
	useTLS = u.Scheme == "https"
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	return host, port, useTLS
}
