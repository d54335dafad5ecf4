// Package qdrantstore implements vectorstore.Store against a networked
// Qdrant collection via github.com/qdrant/go-client — the spec's primary
// backend (§6 QDRANT_* config), used whenever a Qdrant URL is configured.
package qdrantstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"cortex/internal/cortexerr"
	"cortex/internal/logging"
	"cortex/internal/vectorstore"
)

// Store implements vectorstore.Store over a Qdrant collection.
type Store struct {
	client     *qdrant.Client
	collection string
	dims       uint64
}

// Config configures the Qdrant connection.
type Config struct {
	Host           string
	Port           int
	UseTLS         bool
	APIKey         string
	CollectionName string
	EmbeddingDim   uint64
	Timeout        time.Duration
}

// New connects to Qdrant and ensures the configured collection exists,
// creating it with cosine distance if missing.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.VectorStore, "connect qdrant", err)
	}

	s := &Store{client: client, collection: cfg.CollectionName, dims: cfg.EmbeddingDim}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return cortexerr.Wrap(cortexerr.VectorStore, "check collection exists", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dims,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return cortexerr.Wrap(cortexerr.VectorStore, "create collection", err)
	}
	return nil
}

func metaToPayload(meta map[string]string) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(meta))
	for k, v := range meta {
		payload[k] = qdrant.NewValueString(v)
	}
	return payload
}

func payloadToMeta(payload map[string]*qdrant.Value) map[string]string {
	meta := make(map[string]string, len(payload))
	for k, v := range payload {
		meta[k] = v.GetStringValue()
	}
	return meta
}

func pointToQdrant(p vectorstore.Point) *qdrant.PointStruct {
	if p.ID == "" {
		p.ID = vectorstore.Fingerprint(p.URI, p.Layer)
	}
	meta := map[string]string{}
	for k, v := range p.Metadata {
		meta[k] = v
	}
	meta["uri"] = p.URI
	meta["layer"] = p.Layer.String()
	meta["updated_at"] = p.UpdatedAt.Format(time.RFC3339Nano)

	return &qdrant.PointStruct{
		Id:      qdrant.NewID(p.ID),
		Vectors: qdrant.NewVectors(p.Vector...),
		Payload: metaToPayload(meta),
	}
}

// Upsert inserts or replaces a single point.
func (s *Store) Upsert(ctx context.Context, p vectorstore.Point) error {
	return s.UpsertBatch(ctx, []vectorstore.Point{p})
}

// UpsertBatch inserts or replaces many points in a single Upsert call; a
// failure is reported for the batch as a whole, without per-point
// stored/failed counts.
func (s *Store) UpsertBatch(ctx context.Context, ps []vectorstore.Point) error {
	points := make([]*qdrant.PointStruct, 0, len(ps))
	for _, p := range ps {
		points = append(points, pointToQdrant(p))
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		logging.Get(logging.CategoryVectorStore).Warn("qdrant upsert batch of %d failed: %v", len(ps), err)
		return cortexerr.Wrap(cortexerr.VectorStore, fmt.Sprintf("upsert batch of %d", len(ps)), err)
	}
	return nil
}

func buildFilter(f vectorstore.Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	addMatch := func(key, val string) {
		if val != "" {
			must = append(must, qdrant.NewMatch(key, val))
		}
	}
	addMatch("dimension", f.Dimension)
	addMatch("user_id", f.UserID)
	addMatch("agent_id", f.AgentID)
	addMatch("thread", f.Thread)
	addMatch("memory_type", f.MemoryType)

	if f.ImportanceMin != nil || f.ImportanceMax != nil {
		r := &qdrant.Range{}
		if f.ImportanceMin != nil {
			r.Gte = f.ImportanceMin
		}
		if f.ImportanceMax != nil {
			r.Lte = f.ImportanceMax
		}
		must = append(must, qdrant.NewRange("importance", r))
	}
	for _, e := range f.Entities {
		must = append(must, qdrant.NewMatch("entities", e))
	}
	for _, t := range f.Topics {
		must = append(must, qdrant.NewMatch("topics", t))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// Search performs an ANN similarity search scoped by filter.
func (s *Store) Search(ctx context.Context, query []float32, filter vectorstore.Filter, limit int, scoreThreshold float64) ([]vectorstore.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	limitU := uint64(limit)
	threshold := float32(scoreThreshold)

	resp, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(query...),
		Filter:         buildFilter(filter),
		Limit:          &limitU,
		ScoreThreshold: &threshold,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.VectorStore, "search", err)
	}

	results := make([]vectorstore.SearchResult, 0, len(resp))
	for _, pt := range resp {
		p := scoredPointToPoint(pt)
		results = append(results, vectorstore.SearchResult{Point: p, Score: float64(pt.GetScore())})
	}
	return results, nil
}

func scoredPointToPoint(pt *qdrant.ScoredPoint) vectorstore.Point {
	meta := payloadToMeta(pt.GetPayload())
	layer := vectorstore.L2
	switch meta["layer"] {
	case "L0":
		layer = vectorstore.L0
	case "L1":
		layer = vectorstore.L1
	}
	updatedAt, _ := time.Parse(time.RFC3339Nano, meta["updated_at"])
	vec := pt.GetVectors().GetVector().GetData()

	var id string
	switch v := pt.GetId().GetPointIdOptions().(type) {
	case *qdrant.PointId_Uuid:
		id = v.Uuid
	case *qdrant.PointId_Num:
		id = strconv.FormatUint(v.Num, 10)
	}

	return vectorstore.Point{ID: id, URI: meta["uri"], Layer: layer, Vector: vec, Metadata: meta, UpdatedAt: updatedAt}
}

// Get fetches the single point for (uri, layer), if present.
func (s *Store) Get(ctx context.Context, uri string, layer vectorstore.Layer) (*vectorstore.Point, error) {
	id := vectorstore.Fingerprint(uri, layer)
	withVectors := qdrant.NewWithVectors(true)
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    withVectors,
	})
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.VectorStore, "get "+uri, err)
	}
	if len(points) == 0 {
		return nil, cortexerr.New(cortexerr.NotFound, "no vector for "+uri)
	}
	meta := payloadToMeta(points[0].GetPayload())
	updatedAt, _ := time.Parse(time.RFC3339Nano, meta["updated_at"])
	return &vectorstore.Point{
		ID: id, URI: uri, Layer: layer,
		Vector: points[0].GetVectors().GetVector().GetData(),
		Metadata: meta, UpdatedAt: updatedAt,
	}, nil
}

// Delete removes every layer's point for uri by matching on the uri
// payload field.
func (s *Store) Delete(ctx context.Context, uri string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("uri", uri)},
		}),
	})
	if err != nil {
		return cortexerr.Wrap(cortexerr.VectorStore, "delete "+uri, err)
	}
	return nil
}

// List scrolls through points matching filter, up to limit.
func (s *Store) List(ctx context.Context, filter vectorstore.Filter, limit int) ([]vectorstore.Point, error) {
	if limit <= 0 {
		limit = 100
	}
	limitU := uint32(limit)
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         buildFilter(filter),
		Limit:          &limitU,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.VectorStore, "list", err)
	}
	out := make([]vectorstore.Point, 0, len(points))
	for _, pt := range points {
		meta := payloadToMeta(pt.GetPayload())
		layer := vectorstore.L2
		switch meta["layer"] {
		case "L0":
			layer = vectorstore.L0
		case "L1":
			layer = vectorstore.L1
		}
		updatedAt, _ := time.Parse(time.RFC3339Nano, meta["updated_at"])
		var id string
		switch v := pt.GetId().GetPointIdOptions().(type) {
		case *qdrant.PointId_Uuid:
			id = v.Uuid
		case *qdrant.PointId_Num:
			id = strconv.FormatUint(v.Num, 10)
		}
		out = append(out, vectorstore.Point{
			ID: id, URI: meta["uri"], Layer: layer,
			Vector: pt.GetVectors().GetVector().GetData(),
			Metadata: meta, UpdatedAt: updatedAt,
		})
	}
	return out, nil
}

func (s *Store) scrollPage(ctx context.Context, limit uint32, offset *qdrant.PointId) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error) {
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Limit:          &limit,
		Offset:         offset,
		WithPayload:    qdrant.NewWithPayload(false),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, nil, err
	}
	var nextOffset *qdrant.PointId
	if len(points) == int(limit) {
		nextOffset = points[len(points)-1].GetId()
	}
	return points, nextOffset, nil
}

// ScrollIDs returns every point ID currently stored, for reconciliation
// sweeps.
func (s *Store) ScrollIDs(ctx context.Context) ([]string, error) {
	var ids []string
	var offset *qdrant.PointId
	for {
		limit := uint32(256)
		points, nextOffset, err := s.scrollPage(ctx, limit, offset)
		if err != nil {
			return nil, cortexerr.Wrap(cortexerr.VectorStore, "scroll ids", err)
		}
		if len(points) == 0 {
			break
		}
		for _, pt := range points {
			switch v := pt.GetId().GetPointIdOptions().(type) {
			case *qdrant.PointId_Uuid:
				ids = append(ids, v.Uuid)
			case *qdrant.PointId_Num:
				ids = append(ids, strconv.FormatUint(v.Num, 10))
			}
		}
		if nextOffset == nil {
			break
		}
		offset = nextOffset
	}
	return ids, nil
}

// HealthCheck verifies the Qdrant service is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	_, err := s.client.HealthCheck(ctx)
	if err != nil {
		return cortexerr.Wrap(cortexerr.VectorStore, "health check", err)
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (s *Store) Close() error { return s.client.Close() }
