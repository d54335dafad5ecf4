// Package httpserver implements the §6 HTTP surface: a thin JSON skin
// over the memory engine's App, built on the standard library's
// net/http and the Go 1.22 ServeMux pattern router rather than a
// third-party framework — SPEC_FULL.md's grounding ledger documents
// this as the one ambient concern justified on the stdlib, since
// nothing in the example pack reaches for a web framework for this
// shape of admin-style JSON-over-HTTP surface. Error handling follows
// the teacher's antigravity OAuth callback server's
// ServeMux-plus-http.Error shape, generalized to the §7 taxonomy's
// status-code mapping.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cortex/internal/app"
	"cortex/internal/cortexerr"
	"cortex/internal/cortexuri"
	"cortex/internal/logging"
	"cortex/internal/session"
)

// Version is the on-the-wire version string reported by /health.
const Version = "0.1.0"

// Server wraps an *app.App with the HTTP handlers of §6.
type Server struct {
	app         *app.App
	corsOrigins []string
	httpServer  *http.Server
}

// New builds a Server bound to addr ("host:port"), serving app's
// engine.
func New(a *app.App, addr string, corsOrigins []string) *Server {
	s := &Server{app: a, corsOrigins: corsOrigins}
	mux := http.NewServeMux()
	s.routes(mux)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.withCORS(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Get(logging.CategoryHTTP).Info("listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /filesystem/list", s.handleFilesystemList)
	mux.HandleFunc("GET /filesystem/read/{path...}", s.handleFilesystemRead)
	mux.HandleFunc("POST /filesystem/write", s.handleFilesystemWrite)
	mux.HandleFunc("GET /filesystem/stats", s.handleFilesystemStats)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("POST /sessions/{thread}/messages", s.handleSessionMessage)
	mux.HandleFunc("POST /sessions/{thread}/close", s.handleSessionClose)
	mux.HandleFunc("POST /automation/extract/{thread}", s.handleExtract)
}

// withCORS applies the §6 [server] cors_origins allowlist; "*" (the
// default) reflects every Origin.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.corsOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err through the §7 taxonomy's HTTPStatus and emits a
// {"error": {"kind": ..., "message": ...}} body.
func writeError(w http.ResponseWriter, err error) {
	kind := cortexerr.KindOf(err)
	logging.Get(logging.CategoryHTTP).Warn("request failed: %v", err)
	writeJSON(w, cortexerr.HTTPStatus(kind), map[string]any{
		"error": map[string]string{
			"kind":    string(kind),
			"message": err.Error(),
		},
	})
}

type healthResponse struct {
	Status       string    `json:"status"`
	Version      string    `json:"version"`
	LLMAvailable bool      `json:"llm_available"`
	Timestamp    time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := s.app.Config.LLM
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "ok",
		Version:      Version,
		LLMAvailable: cfg.APIKey != "" || cfg.APIBaseURL != "",
		Timestamp:    time.Now().UTC(),
	})
}

type filesystemEntry struct {
	Name        string    `json:"name"`
	URI         string    `json:"uri"`
	IsDirectory bool      `json:"is_directory"`
	Size        int64     `json:"size"`
	Modified    time.Time `json:"modified"`
}

func (s *Server) handleFilesystemList(w http.ResponseWriter, r *http.Request) {
	u, err := cortexuri.Parse(r.URL.Query().Get("uri"))
	if err != nil {
		writeError(w, err)
		return
	}
	includeHidden := r.URL.Query().Get("include_hidden") == "true"
	entries, err := s.app.FS.List(u, includeHidden)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]filesystemEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, filesystemEntry{
			Name:        e.Name,
			URI:         e.URI.String(),
			IsDirectory: e.IsDirectory,
			Size:        e.Size,
			Modified:    e.Modified,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFilesystemRead(w http.ResponseWriter, r *http.Request) {
	u, err := cortexuri.Parse("cortex://" + r.PathValue("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	content, err := s.app.FS.Read(u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"uri":     u.String(),
		"content": string(content),
	})
}

type filesystemWriteRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// handleFilesystemWrite writes straight through C2: the write is picked
// up asynchronously by the event bus's filesystem watcher (§4.10/§9),
// the same path a direct write through C2 takes per the overview's
// control-flow description — the HTTP surface does not force synchronous
// layer generation the way the one-shot CLI does.
func (s *Server) handleFilesystemWrite(w http.ResponseWriter, r *http.Request) {
	var req filesystemWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, cortexerr.Wrap(cortexerr.Serialization, "decode request body", err))
		return
	}
	path := req.Path
	if !strings.HasPrefix(path, "cortex://") {
		path = "cortex://" + path
	}
	u, err := cortexuri.Parse(path)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.app.FS.Write(u, []byte(req.Content)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"uri": u.String()})
}

type filesystemStatsResponse struct {
	URI           string `json:"uri"`
	Exists        bool   `json:"exists"`
	IsDirectory   bool   `json:"is_directory"`
	MarkdownFiles int    `json:"markdown_files"`
	HasAbstract   bool   `json:"has_abstract"`
	HasOverview   bool   `json:"has_overview"`
}

func (s *Server) handleFilesystemStats(w http.ResponseWriter, r *http.Request) {
	u, err := cortexuri.Parse(r.URL.Query().Get("uri"))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := filesystemStatsResponse{URI: u.String(), Exists: s.app.FS.Exists(u)}
	files, err := s.app.FS.ListMarkdownFiles(u)
	if err == nil {
		resp.MarkdownFiles = len(files)
		resp.IsDirectory = true
	}
	resp.HasAbstract = s.app.FS.Exists(u.Abstract())
	resp.HasOverview = s.app.FS.Exists(u.Overview())
	writeJSON(w, http.StatusOK, resp)
}

type searchRequest struct {
	Query    string  `json:"query"`
	Thread   string  `json:"thread"`
	Limit    int     `json:"limit"`
	MinScore float64 `json:"min_score"`
}

type searchResult struct {
	URI     string  `json:"uri"`
	Layer   string  `json:"layer"`
	Score   float64 `json:"score"`
	Excerpt string  `json:"excerpt"`
}

type searchResponse struct {
	Results     []searchResult `json:"results"`
	Unavailable bool           `json:"unavailable"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, cortexerr.Wrap(cortexerr.Serialization, "decode request body", err))
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.app.Config.Memory.MaxSearchResults
	}
	scope := ""
	if req.Thread != "" {
		scope = cortexuri.SessionTimeline(req.Thread).String()
	}

	resp, err := s.app.Retrieval.Query(r.Context(), req.Query, scope, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	results := make([]searchResult, 0, len(resp.Results))
	for _, hit := range resp.Results {
		if hit.Score < req.MinScore {
			continue
		}
		results = append(results, searchResult{
			URI:     hit.URI,
			Layer:   hit.Layer.String(),
			Score:   hit.Score,
			Excerpt: hit.Excerpt,
		})
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Results:     results,
		Unavailable: resp.Unavailable.VectorStore && resp.Unavailable.Fulltext,
	})
}

type sessionMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	thread := r.PathValue("thread")
	var req sessionMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, cortexerr.Wrap(cortexerr.Serialization, "decode request body", err))
		return
	}
	msg, err := s.app.Sessions.AddMessage(r.Context(), thread, session.Role(req.Role), req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	thread := r.PathValue("thread")
	s.app.Sessions.CloseSession(thread)
	writeJSON(w, http.StatusOK, map[string]string{"thread": thread, "status": "closed"})
}

type extractRequest struct {
	AutoSave bool   `json:"auto_save"`
	UserID   string `json:"user_id"`
	AgentID  string `json:"agent_id"`
}

type extractResponse struct {
	Facts           int            `json:"facts"`
	Decisions       int            `json:"decisions"`
	ActionItems     int            `json:"action_items"`
	Preferences     int            `json:"preferences"`
	Learnings       int            `json:"learnings"`
	BelowConfidence int            `json:"below_confidence"`
	Persisted       int            `json:"persisted"`
	Actions         map[string]int `json:"actions,omitempty"`
}

// handleExtract runs C11 over thread's timeline. Persistence through the
// dedup/Updater pipeline only happens when auto_save is set, keeping the
// off-by-default behavior the Open Question decision (§9.2) requires.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	thread := r.PathValue("thread")
	var req extractRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, cortexerr.Wrap(cortexerr.Serialization, "decode request body", err))
			return
		}
	}

	_, stats, err := s.app.Extractor.ExtractSession(r.Context(), thread, req.UserID, req.AgentID, req.AutoSave)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := extractResponse{
		Facts:           stats.Facts,
		Decisions:       stats.Decisions,
		ActionItems:     stats.ActionItems,
		Preferences:     stats.Preferences,
		Learnings:       stats.Learnings,
		BelowConfidence: stats.BelowConfidence,
		Persisted:       stats.Persisted,
	}
	if len(stats.Actions) > 0 {
		resp.Actions = make(map[string]int, len(stats.Actions))
		for action, count := range stats.Actions {
			resp.Actions[string(action)] = count
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Addr renders a "host:port" listen address for New.
func Addr(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}
