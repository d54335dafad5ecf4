package retrieval

import (
	"context"
	"sort"
	"strings"

	"cortex/internal/cortexuri"
	"cortex/internal/embedding"
	"cortex/internal/fsstore"
	"cortex/internal/fulltext"
	"cortex/internal/logging"
	"cortex/internal/vectorstore"
)

// drillDownThreshold is the BFS explore-tool cutoff: a layer hit below
// this score does not warrant descending into its child layer.
const drillDownThreshold = 0.5

// Result is one retrieval hit, with the layer it was found at and a
// short content excerpt for display.
type Result struct {
	URI     string
	Layer   vectorstore.Layer
	Score   float64
	Excerpt string
	Source  string // "vector" or "fulltext"
}

// Unavailable reports which backend(s) were down during a query, so
// callers can surface a degraded-results warning rather than silently
// returning an empty set.
type Unavailable struct {
	VectorStore bool
	Fulltext    bool
}

// Response is the full result of a Query call.
type Response struct {
	Intent      Intent
	Results     []Result
	Unavailable Unavailable
}

// Engine wires the embedding engine, vector store, full-text index, and
// filesystem together to answer retrieval queries.
type Engine struct {
	fs       *fsstore.Store
	embedder embedding.Engine
	vectors  vectorstore.Store
	ft       *fulltext.Index
}

// Config bundles an Engine's collaborators.
type Config struct {
	FS       *fsstore.Store
	Embedder embedding.Engine
	Vectors  vectorstore.Store
	Fulltext *fulltext.Index
}

// New builds a retrieval Engine.
func New(cfg Config) *Engine {
	return &Engine{fs: cfg.FS, embedder: cfg.Embedder, vectors: cfg.Vectors, ft: cfg.Fulltext}
}

// Query runs the hybrid retrieval pipeline: intent analysis, scope
// normalization, layered vector search with max-merge across L0/L1/L2,
// BFS drill-down into high-scoring directories, full-text fallback when
// the vector store is down, and a final rerank pass.
func (e *Engine) Query(ctx context.Context, rawQuery, rawScope string, limit int) (Response, error) {
	intent := AnalyzeIntent(rawQuery)
	scope, err := cortexuri.NormalizeScope(rawScope)
	if err != nil {
		return Response{}, err
	}

	var results []Result
	var unavailable Unavailable

	vectorResults, vecErr := e.vectorSearch(ctx, rawQuery, scope, limit)
	if vecErr != nil {
		logging.Get(logging.CategoryRetrieval).Warn("vector search unavailable, falling back to fulltext: %v", vecErr)
		unavailable.VectorStore = true
	} else {
		results = append(results, vectorResults...)
	}

	if unavailable.VectorStore || len(results) == 0 {
		ftResults, ftErr := e.fulltextSearch(rawQuery, limit)
		if ftErr != nil {
			unavailable.Fulltext = true
		} else {
			results = append(results, ftResults...)
		}
	}

	merged := mergeByURI(results)
	reranked := rerank(intent, merged)
	if limit > 0 && len(reranked) > limit {
		reranked = reranked[:limit]
	}

	return Response{Intent: intent, Results: reranked, Unavailable: unavailable}, nil
}

func (e *Engine) vectorSearch(ctx context.Context, queryText string, scope cortexuri.URI, limit int) ([]Result, error) {
	vec, err := e.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}

	filter := scopeFilter(scope)
	searchLimit := limit * 3
	if searchLimit <= 0 {
		searchLimit = 30
	}

	hits, err := e.vectors.Search(ctx, vec, filter, searchLimit, 0.0)
	if err != nil {
		return nil, err
	}

	var results []Result
	toExplore := map[string]bool{}
	for _, h := range hits {
		excerpt := ""
		if parsed, perr := cortexuri.Parse(h.URI); perr == nil {
			if content, rerr := e.fs.Read(parsed); rerr == nil {
				excerpt = excerptOf(string(content))
			}
		}
		results = append(results, Result{URI: h.URI, Layer: h.Layer, Score: h.Score, Excerpt: excerpt, Source: "vector"})

		if h.Layer != vectorstore.L2 && h.Score >= drillDownThreshold {
			toExplore[h.URI] = true
		}
	}

	for uri := range toExplore {
		children, err := e.drillDown(ctx, vec, uri, filter)
		if err != nil {
			continue
		}
		results = append(results, children...)
	}

	return results, nil
}

// scopeFilter narrows a vectorstore.Filter by the scope URI's dimension
// and, when present, the category segment that identifies the user,
// agent, or thread that dimension names (scenario 6: scoped search must
// only surface the requesting user's or agent's own memories).
func scopeFilter(scope cortexuri.URI) vectorstore.Filter {
	filter := vectorstore.Filter{Dimension: string(scope.Dimension)}
	if scope.Category == "" {
		return filter
	}
	switch scope.Dimension {
	case cortexuri.DimUser:
		filter.UserID = scope.Category
	case cortexuri.DimAgent:
		filter.AgentID = scope.Category
	case cortexuri.DimSession:
		filter.Thread = scope.Category
	}
	return filter
}

// drillDown descends from an L0/L1 directory hit into its child layer by
// scoring the next layer down, implementing the explore-tool BFS step.
// An L0 (.abstract.md) hit descends to its sibling L1 (.overview.md); an
// L1 hit descends further to every raw L2 file in that directory, since
// L2 is a set of files rather than one reserved sibling name.
func (e *Engine) drillDown(ctx context.Context, queryVec []float32, uri string, filter vectorstore.Filter) ([]Result, error) {
	u, err := cortexuri.Parse(uri)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.HasSuffix(uri, cortexuri.AbstractName):
		childURI := u.Parent().Overview()
		result, err := e.scoreChild(ctx, queryVec, childURI, vectorstore.L1)
		if err != nil {
			return nil, err
		}
		return []Result{result}, nil

	case strings.HasSuffix(uri, cortexuri.OverviewName):
		dir := u.Parent()
		entries, err := e.fs.ListMarkdownFiles(dir)
		if err != nil {
			return nil, err
		}
		var results []Result
		for _, entry := range entries {
			result, err := e.scoreChild(ctx, queryVec, entry.URI, vectorstore.L2)
			if err != nil {
				continue
			}
			results = append(results, result)
		}
		return results, nil

	default:
		return nil, nil
	}
}

// scoreChild fetches a single layer point and scores it against queryVec,
// the shared leaf of both drill-down branches.
func (e *Engine) scoreChild(ctx context.Context, queryVec []float32, childURI cortexuri.URI, childLayer vectorstore.Layer) (Result, error) {
	point, err := e.vectors.Get(ctx, childURI.String(), childLayer)
	if err != nil {
		return Result{}, err
	}
	score, err := embedding.CosineSimilarity(queryVec, point.Vector)
	if err != nil {
		return Result{}, err
	}

	excerpt := ""
	if content, rerr := e.fs.Read(childURI); rerr == nil {
		excerpt = excerptOf(string(content))
	}
	return Result{URI: childURI.String(), Layer: childLayer, Score: score, Excerpt: excerpt, Source: "vector"}, nil
}

func (e *Engine) fulltextSearch(queryText string, limit int) ([]Result, error) {
	if e.ft == nil {
		return nil, nil
	}
	hits, err := e.ft.Search(queryText, limit)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{URI: h.URI, Layer: vectorstore.L2, Score: h.Score, Excerpt: h.Snippet, Source: "fulltext"})
	}
	return results, nil
}

// mergeByURI combines multiple hits for the same URI by taking the
// layer-weighted max, per the layered-search max-merge rule.
func mergeByURI(results []Result) []Result {
	best := map[string]Result{}
	for _, r := range results {
		weighted := r.Score * layerWeight(r.Layer)
		existing, ok := best[r.URI]
		if !ok || weighted > existing.Score*layerWeight(existing.Layer) {
			best[r.URI] = r
		}
	}
	out := make([]Result, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	return out
}

func layerWeight(l vectorstore.Layer) float64 {
	switch l {
	case vectorstore.L0:
		return WeightL0
	case vectorstore.L1:
		return WeightL1
	default:
		return WeightL2
	}
}

// rerank blends each hit's raw similarity score with its text-based
// RelevanceScore against intent, then sorts descending.
func rerank(intent Intent, results []Result) []Result {
	for i := range results {
		blended := results[i].Score*layerWeight(results[i].Layer) + RelevanceScore(intent, results[i].Excerpt)
		results[i].Score = blended
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

func excerptOf(content string) string {
	content = strings.TrimSpace(content)
	const maxLen = 280
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "..."
}
