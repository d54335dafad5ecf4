// Package fulltext implements C7: the full-text search index backing
// hybrid retrieval's keyword leg and the fallback path when the vector
// store is unavailable, using blevesearch/bleve/v2.
package fulltext

import (
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"cortex/internal/cortexerr"
	"cortex/internal/logging"
)

// Document is the indexed unit: a URI plus its searchable text and a
// short keyword/entity list pulled out during extraction.
type Document struct {
	URI      string   `json:"uri"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
}

// Hit is one search result: the matching URI, its score, and a short
// snippet centered on the match.
type Hit struct {
	URI     string
	Score   float64
	Snippet string
}

const snippetWindow = 50
const snippetHeadFallback = 97

// Index wraps a bleve index over Document.
type Index struct {
	idx bleve.Index
}

func buildMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	uriField := bleve.NewTextFieldMapping()
	uriField.Analyzer = "keyword"
	uriField.Store = true
	docMapping.AddFieldMappingsAt("uri", uriField)

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = "en"
	contentField.Store = true
	docMapping.AddFieldMappingsAt("content", contentField)

	keywordsField := bleve.NewTextFieldMapping()
	keywordsField.Analyzer = "en"
	docMapping.AddFieldMappingsAt("keywords", keywordsField)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = docMapping
	return im
}

// Open opens the bleve index at path, creating it with the Document
// mapping if it does not yet exist.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == nil {
		return &Index{idx: idx}, nil
	}
	if !os.IsNotExist(err) && err != bleve.ErrorIndexPathDoesNotExist {
		logging.Get(logging.CategoryFulltext).Warn("opening existing index failed, recreating: %v", err)
	}
	idx, err = bleve.New(path, buildMapping())
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.Io, "create fulltext index", err)
	}
	return &Index{idx: idx}, nil
}

// OpenInMemory builds a transient in-memory index, used in tests.
func OpenInMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.Io, "create in-memory fulltext index", err)
	}
	return &Index{idx: idx}, nil
}

// AddDocument indexes or reindexes a document under its URI.
func (i *Index) AddDocument(doc Document) error {
	if err := i.idx.Index(doc.URI, doc); err != nil {
		return cortexerr.Wrap(cortexerr.Io, "index document "+doc.URI, err)
	}
	return nil
}

// DeleteDocument removes a document from the index. Deleting a URI that
// isn't indexed is not an error.
func (i *Index) DeleteDocument(uri string) error {
	if err := i.idx.Delete(uri); err != nil {
		return cortexerr.Wrap(cortexerr.Io, "delete document "+uri, err)
	}
	return nil
}

// Search runs a match query over content and keywords, returning up to
// limit hits sorted by descending score, each with a centered snippet.
func (i *Index) Search(queryText string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	contentQuery := query.NewMatchQuery(queryText)
	contentQuery.SetField("content")
	keywordsQuery := query.NewMatchQuery(queryText)
	keywordsQuery.SetField("keywords")

	disjunct := query.NewDisjunctionQuery([]query.Query{contentQuery, keywordsQuery})

	req := bleve.NewSearchRequestOptions(disjunct, limit, 0, false)
	req.Fields = []string{"uri", "content"}

	res, err := i.idx.Search(req)
	if err != nil {
		return nil, cortexerr.Wrap(cortexerr.Io, "fulltext search", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		content, _ := h.Fields["content"].(string)
		hits = append(hits, Hit{
			URI:     h.ID,
			Score:   h.Score,
			Snippet: buildSnippet(content, queryText),
		})
	}
	return hits, nil
}

// buildSnippet extracts a window of roughly ±50 characters around the
// first match, falling back to the first 97 characters when no match
// position can be located.
func buildSnippet(content, queryText string) string {
	lowerContent := strings.ToLower(content)
	terms := strings.Fields(strings.ToLower(queryText))

	pos := -1
	for _, t := range terms {
		if idx := strings.Index(lowerContent, t); idx != -1 {
			pos = idx
			break
		}
	}
	if pos == -1 {
		if len(content) > snippetHeadFallback {
			return strings.TrimSpace(content[:snippetHeadFallback]) + "..."
		}
		return strings.TrimSpace(content)
	}

	start := pos - snippetWindow
	if start < 0 {
		start = 0
	}
	end := pos + snippetWindow
	if end > len(content) {
		end = len(content)
	}
	snippet := strings.TrimSpace(content[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(content) {
		snippet = snippet + "..."
	}
	return snippet
}

// Stats reports the number of documents currently indexed.
func (i *Index) Stats() (uint64, error) {
	count, err := i.idx.DocCount()
	if err != nil {
		return 0, cortexerr.Wrap(cortexerr.Io, "doc count", err)
	}
	return count, nil
}

// Close releases the underlying index.
func (i *Index) Close() error {
	if err := i.idx.Close(); err != nil {
		return cortexerr.Wrap(cortexerr.Io, "close fulltext index", err)
	}
	return nil
}
