// Package sqlitevec implements vectorstore.Store on top of an embedded
// SQLite database using the sqlite-vec extension for ANN search — the
// local/offline backend, grounded on the teacher's internal/store
// LocalStore (SetMaxOpenConns(1), WAL, busy_timeout, vec0 detection).
package sqlitevec

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"cortex/internal/cortexerr"
	"cortex/internal/logging"
	"cortex/internal/vectorstore"
)

func init() {
	sqlite_vec.Auto()
}

// Store implements vectorstore.Store over SQLite + sqlite-vec.
type Store struct {
	db         *sql.DB
	mu         sync.RWMutex
	dims       int
	vecEnabled bool
}

// New opens (creating if necessary) the database at path with the given
// vector dimensionality.
func New(path string, dims int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, cortexerr.Wrap(cortexerr.Io, "create vector store dir", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.VectorStore, "open sqlite", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.Get(logging.CategoryVectorStore).Warn("pragma failed: %s: %v", pragma, err)
		}
	}

	s := &Store{db: db, dims: dims}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS vec_points USING vec0(embedding float[%d])", s.dims)); err == nil {
		s.vecEnabled = true
	} else {
		logging.Get(logging.CategoryVectorStore).Warn("sqlite-vec extension unavailable, falling back to brute-force cosine: %v", err)
	}

	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS points (
	id TEXT PRIMARY KEY,
	uri TEXT NOT NULL,
	layer INTEGER NOT NULL,
	vector TEXT NOT NULL,
	metadata TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_points_uri ON points(uri);
`)
	if err != nil {
		return cortexerr.Wrap(cortexerr.VectorStore, "init schema", err)
	}
	return nil
}

// Upsert inserts or replaces a single point.
func (s *Store) Upsert(ctx context.Context, p vectorstore.Point) error {
	return s.UpsertBatch(ctx, []vectorstore.Point{p})
}

// UpsertBatch inserts or replaces many points in one transaction,
// accumulating the first error encountered while continuing through the
// rest of the batch — grounded on the teacher's firstErr accumulation
// pattern in StoreVectorBatchWithEmbedding.
func (s *Store) UpsertBatch(ctx context.Context, ps []vectorstore.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cortexerr.Wrap(cortexerr.VectorStore, "begin tx", err)
	}
	defer tx.Rollback()

	var firstErr error
	stored := 0
	for _, p := range ps {
		if p.ID == "" {
			p.ID = vectorstore.Fingerprint(p.URI, p.Layer)
		}
		vecJSON, err := json.Marshal(p.Vector)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metaJSON, err := json.Marshal(p.Metadata)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = time.Now().UTC()
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO points (id, uri, layer, vector, metadata, updated_at) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET vector=excluded.vector, metadata=excluded.metadata, updated_at=excluded.updated_at`,
			p.ID, p.URI, int(p.Layer), string(vecJSON), string(metaJSON), p.UpdatedAt.Format(time.RFC3339Nano))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if s.vecEnabled && len(p.Vector) == s.dims {
			if err := s.upsertVecPoint(ctx, tx, p.ID, p.Vector); err != nil {
				logging.Get(logging.CategoryVectorStore).Warn("vec_points upsert failed for %s, ANN index will miss it: %v", p.ID, err)
			}
		}
		stored++
	}

	if err := tx.Commit(); err != nil {
		return cortexerr.Wrap(cortexerr.VectorStore, "commit upsert batch", err)
	}
	if firstErr != nil {
		logging.Get(logging.CategoryVectorStore).Warn("upsert batch: stored %d/%d (first error: %v)", stored, len(ps), firstErr)
		return cortexerr.Wrap(cortexerr.VectorStore, fmt.Sprintf("stored %d/%d points", stored, len(ps)), firstErr)
	}
	return nil
}

// upsertVecPoint (re)indexes a point's embedding into the vec0 virtual
// table, keyed on the points table's own implicit rowid so vec_points and
// points stay joinable — grounded on the teacher's vec_index backfill,
// which keys off the same rowid relationship.
func (s *Store) upsertVecPoint(ctx context.Context, tx *sql.Tx, id string, vec []float32) error {
	var rowid int64
	if err := tx.QueryRowContext(ctx, "SELECT rowid FROM points WHERE id = ?", id).Scan(&rowid); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM vec_points WHERE rowid = ?", rowid); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, "INSERT INTO vec_points (rowid, embedding) VALUES (?, ?)", rowid, encodeFloat32Slice(vec))
	return err
}

func encodeFloat32Slice(vec []float32) []byte {
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.LittleEndian, vec)
	return buf.Bytes()
}

type row struct {
	id        string
	uri       string
	layer     vectorstore.Layer
	vector    []float32
	metadata  map[string]string
	updatedAt time.Time
}

func (s *Store) scan(ctx context.Context, query string, args ...interface{}) ([]row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var r row
		var layerInt int
		var vecJSON, metaJSON, updatedAt string
		if err := rows.Scan(&r.id, &r.uri, &layerInt, &vecJSON, &metaJSON, &updatedAt); err != nil {
			return nil, err
		}
		r.layer = vectorstore.Layer(layerInt)
		_ = json.Unmarshal([]byte(vecJSON), &r.vector)
		_ = json.Unmarshal([]byte(metaJSON), &r.metadata)
		r.updatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func matchesFilter(meta map[string]string, f vectorstore.Filter) bool {
	check := func(key, want string) bool { return want == "" || meta[key] == want }
	if !check("dimension", f.Dimension) || !check("user_id", f.UserID) || !check("agent_id", f.AgentID) ||
		!check("thread", f.Thread) || !check("memory_type", f.MemoryType) {
		return false
	}
	if f.ImportanceMin != nil || f.ImportanceMax != nil {
		var importance float64
		fmt.Sscanf(meta["importance"], "%f", &importance)
		if f.ImportanceMin != nil && importance < *f.ImportanceMin {
			return false
		}
		if f.ImportanceMax != nil && importance > *f.ImportanceMax {
			return false
		}
	}
	if f.CreatedAfter != nil || f.CreatedBefore != nil {
		createdAt, err := time.Parse(time.RFC3339, meta["created_at"])
		if err == nil {
			if f.CreatedAfter != nil && createdAt.Before(*f.CreatedAfter) {
				return false
			}
			if f.CreatedBefore != nil && createdAt.After(*f.CreatedBefore) {
				return false
			}
		}
	}
	for _, e := range f.Entities {
		if !strings.Contains(meta["entities"], e) {
			return false
		}
	}
	for _, t := range f.Topics {
		if !strings.Contains(meta["topics"], t) {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, am, bm float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		am += float64(a[i]) * float64(a[i])
		bm += float64(b[i]) * float64(b[i])
	}
	if am == 0 || bm == 0 {
		return 0
	}
	return dot / (math.Sqrt(am) * math.Sqrt(bm))
}

// Search ranks points by cosine similarity to query, then applies the
// metadata filter in Go. When the vec0 extension loaded successfully
// (vecEnabled), ranking is done by sqlite-vec's vec_distance_cosine
// against the vec_points ANN index rather than a brute-force Go loop —
// grounded on the teacher's vectorRecallVec, which orders by
// "vec_distance_cosine(embedding, ?)" instead of scanning every row.
// The metadata join still happens here because sqlite-vec's own filtering
// support varies by build, so candidates are oversampled before Go-side
// filtering narrows them to limit.
func (s *Store) Search(ctx context.Context, query []float32, filter vectorstore.Filter, limit int, scoreThreshold float64) ([]vectorstore.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.vecEnabled && len(query) == s.dims {
		results, err := s.searchVec(ctx, query, filter, limit, scoreThreshold)
		if err != nil {
			logging.Get(logging.CategoryVectorStore).Warn("vec0 search failed, falling back to brute-force cosine: %v", err)
		} else {
			return results, nil
		}
	}
	return s.searchBruteForce(ctx, query, filter, limit, scoreThreshold)
}

func (s *Store) searchBruteForce(ctx context.Context, query []float32, filter vectorstore.Filter, limit int, scoreThreshold float64) ([]vectorstore.SearchResult, error) {
	rows, err := s.scan(ctx, "SELECT id, uri, layer, vector, metadata, updated_at FROM points")
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.VectorStore, "search scan", err)
	}

	results := make([]vectorstore.SearchResult, 0, len(rows))
	for _, r := range rows {
		if !matchesFilter(r.metadata, filter) {
			continue
		}
		score := cosine(query, r.vector)
		if score < scoreThreshold {
			continue
		}
		results = append(results, vectorstore.SearchResult{
			Point: vectorstore.Point{ID: r.id, URI: r.uri, Layer: r.layer, Vector: r.vector, Metadata: r.metadata, UpdatedAt: r.updatedAt},
			Score: score,
		})
	}
	sortResults(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// searchVec issues an ANN query against vec_points, oversampling so the
// subsequent Go-side metadata filter still has enough candidates to fill
// limit, then joins distances back to the full point rows by rowid.
func (s *Store) searchVec(ctx context.Context, query []float32, filter vectorstore.Filter, limit int, scoreThreshold float64) ([]vectorstore.SearchResult, error) {
	k := limit
	if k <= 0 {
		k = 10
	}
	k *= 8
	if k < 64 {
		k = 64
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT rowid, vec_distance_cosine(embedding, ?) AS dist FROM vec_points ORDER BY dist ASC LIMIT ?",
		encodeFloat32Slice(query), k)
	if err != nil {
		return nil, err
	}
	type cand struct {
		rowid int64
		dist  float64
	}
	var cands []cand
	for rows.Next() {
		var c cand
		if err := rows.Scan(&c.rowid, &c.dist); err != nil {
			rows.Close()
			return nil, err
		}
		cands = append(cands, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]vectorstore.SearchResult, 0, len(cands))
	for _, c := range cands {
		var id, uri, metaJSON, updatedAt string
		var layerInt int
		err := s.db.QueryRowContext(ctx,
			"SELECT id, uri, layer, metadata, updated_at FROM points WHERE rowid = ?", c.rowid,
		).Scan(&id, &uri, &layerInt, &metaJSON, &updatedAt)
		if err == sql.ErrNoRows {
			continue // vec_points entry outlived its points row; Delete() races a concurrent Upsert.
		}
		if err != nil {
			return nil, err
		}
		meta := map[string]string{}
		_ = json.Unmarshal([]byte(metaJSON), &meta)
		if !matchesFilter(meta, filter) {
			continue
		}
		score := 1 - c.dist
		if score < scoreThreshold {
			continue
		}
		ua, _ := time.Parse(time.RFC3339Nano, updatedAt)
		results = append(results, vectorstore.SearchResult{
			Point: vectorstore.Point{ID: id, URI: uri, Layer: vectorstore.Layer(layerInt), Metadata: meta, UpdatedAt: ua},
			Score: score,
		})
	}

	sortResults(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func sortResults(results []vectorstore.SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].UpdatedAt.After(results[j].UpdatedAt)
	})
}

// Get fetches the single point for (uri, layer), if present.
func (s *Store) Get(ctx context.Context, uri string, layer vectorstore.Layer) (*vectorstore.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.scan(ctx, "SELECT id, uri, layer, vector, metadata, updated_at FROM points WHERE uri = ? AND layer = ?", uri, int(layer))
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.VectorStore, "get", err)
	}
	if len(rows) == 0 {
		return nil, cortexerr.New(cortexerr.NotFound, "no vector for "+uri)
	}
	r := rows[0]
	return &vectorstore.Point{ID: r.id, URI: r.uri, Layer: r.layer, Vector: r.vector, Metadata: r.metadata, UpdatedAt: r.updatedAt}, nil
}

// Delete removes every layer's point for uri (§3 Index coherence: deletion
// removes all its index entries before returning).
func (s *Store) Delete(ctx context.Context, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.vecEnabled {
		if _, err := s.db.ExecContext(ctx,
			"DELETE FROM vec_points WHERE rowid IN (SELECT rowid FROM points WHERE uri = ?)", uri); err != nil {
			logging.Get(logging.CategoryVectorStore).Warn("vec_points cleanup failed for %s: %v", uri, err)
		}
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM points WHERE uri = ?", uri)
	if err != nil {
		return cortexerr.Wrap(cortexerr.VectorStore, "delete "+uri, err)
	}
	return nil
}

// List returns points matching filter, up to limit.
func (s *Store) List(ctx context.Context, filter vectorstore.Filter, limit int) ([]vectorstore.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.scan(ctx, "SELECT id, uri, layer, vector, metadata, updated_at FROM points")
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.VectorStore, "list", err)
	}
	out := make([]vectorstore.Point, 0, len(rows))
	for _, r := range rows {
		if !matchesFilter(r.metadata, filter) {
			continue
		}
		out = append(out, vectorstore.Point{ID: r.id, URI: r.uri, Layer: r.layer, Vector: r.vector, Metadata: r.metadata, UpdatedAt: r.updatedAt})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ScrollIDs returns every point ID currently stored, for reconciliation
// sweeps.
func (s *Store) ScrollIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM points")
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.VectorStore, "scroll ids", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HealthCheck verifies the database connection is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }
