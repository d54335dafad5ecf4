// Package vectorstore implements C6: the vector-store capability
// interface, with sqlite-vec (embedded) and Qdrant (networked) adapters
// behind the same Store interface — the spec's primary configuration
// (§6 QDRANT_* env vars) is Qdrant, while sqlite-vec serves the
// embedded/offline case, per DESIGN.md.
package vectorstore

import (
	"context"
	"time"
)

// Layer mirrors layer.Kind without importing it, to avoid a dependency
// cycle between vectorstore and layer (both are consumed by the indexer).
type Layer int

const (
	L0 Layer = iota
	L1
	L2
)

func (l Layer) String() string {
	switch l {
	case L0:
		return "L0"
	case L1:
		return "L1"
	default:
		return "L2"
	}
}

// Point is one vector-store entry, keyed by the deterministic Fingerprint
// of (URI, Layer).
type Point struct {
	ID        string
	URI       string
	Layer     Layer
	Vector    []float32
	Metadata  map[string]string
	UpdatedAt time.Time
}

// Filter constrains Search/List by the dimensions named in §4.4.
type Filter struct {
	Dimension       string
	UserID          string
	AgentID         string
	Thread          string
	MemoryType      string
	ImportanceMin   *float64
	ImportanceMax   *float64
	CreatedAfter    *time.Time
	CreatedBefore   *time.Time
	Entities        []string
	Topics          []string
}

// SearchResult pairs a Point with its similarity score.
type SearchResult struct {
	Point
	Score float64
}

// Store is the capability interface implemented by the sqlite-vec and
// Qdrant adapters.
type Store interface {
	Upsert(ctx context.Context, p Point) error
	UpsertBatch(ctx context.Context, ps []Point) error
	Search(ctx context.Context, query []float32, filter Filter, limit int, scoreThreshold float64) ([]SearchResult, error)
	Get(ctx context.Context, uri string, layer Layer) (*Point, error)
	Delete(ctx context.Context, uri string) error
	List(ctx context.Context, filter Filter, limit int) ([]Point, error)
	ScrollIDs(ctx context.Context) ([]string, error)
	HealthCheck(ctx context.Context) error
	Close() error
}
