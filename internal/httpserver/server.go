// apps/go-server/internal/httpserver/server.go
//
// HTTP server wiring for the wordlink backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs).
//   - Public endpoints: "/", "/health".
//   - Level endpoints: GET /levels, /levels/{id}/words, /levels/{id}/count.
//   - Content management: POST /import (xlsx upload), POST /reset (confirmed).
//   - Session endpoints: create, match, stat, delete — mounted under /session.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled.
//   - Import/init failures surface as 4xx/5xx JSON errors; a failed match
//     attempt is an ordinary 200 with match:false, never an error.

package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/wordlink/wordlink/apps/go-server/internal/session"
	"github.com/wordlink/wordlink/apps/go-server/internal/vocab"
)

// maxImportBytes bounds uploaded workbook size.
const maxImportBytes = 16 << 20

// Server bundles router, vocabulary repository, and session registry.
type Server struct {
	r        *chi.Mux
	repo     *vocab.Repository
	sessions *registry
}

// New constructs a Server, installs middleware, and registers routes.
func New(repo *vocab.Repository) *Server {
	s := &Server{r: chi.NewRouter(), repo: repo, sessions: newRegistry()}

	// --- middleware ---
	s.r.Use(chimw.RequestID)                 // add X-Request-ID
	s.r.Use(chimw.RealIP)                    // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(chimw.Recoverer)                 // recover from panics
	s.r.Use(chimw.Timeout(10 * time.Second)) // bound handler time
	s.r.Use(jsonContentType)                 // default JSON responses
	s.r.Use(corsFromEnv)                     // credentials-friendly CORS

	// --- diagnostics ---
	s.r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"service":"wordlink-go","endpoints":["/health","/levels","POST /import","POST /session"]}`))
	})
	s.r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	// Levels + content
	s.r.Get("/levels", s.handleLevels)
	s.r.Get("/levels/{levelID}/words", s.handleLevelWords)
	s.r.Get("/levels/{levelID}/count", s.handleLevelCount)
	s.r.Post("/import", s.handleImport)
	s.r.Post("/reset", s.handleReset)

	// Sessions
	s.r.Post("/session", s.handleNewSession)
	s.r.Post("/session/{sessionID}/match", s.handleMatch)
	s.r.Get("/session/{sessionID}/stat", s.handleStat)
	s.r.Delete("/session/{sessionID}", s.handleDropSession)

	// JSON 404 for easier debugging
	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not_found","path":"`+r.URL.Path+`"}`, http.StatusNotFound)
	})

	return s
}

// Start begins serving HTTP on addr.
func (s *Server) Start(addr string) error { return http.ListenAndServe(addr, s.r) }

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// corsFromEnv enables credentialed CORS for a single origin.
// Uses CLIENT_ORIGIN env var; defaults to http://localhost:5173.
func corsFromEnv(next http.Handler) http.Handler {
	origin := os.Getenv("CLIENT_ORIGIN")
	if origin == "" {
		origin = "http://localhost:5173"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ------------------------------ LEVELS -------------------------------------

// handleLevels returns all levels.
func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	levels, err := s.repo.GetLevels(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("get levels")
		http.Error(w, `{"error":"db_error"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(levels)
}

// handleLevelWords returns one page of a level's words.
// Query: mode=all|unlearned|error, sort=raw|alphabet|random|root,
// pageSize (default 10), page (default 0).
func (s *Server) handleLevelWords(w http.ResponseWriter, r *http.Request) {
	levelID, ok := pathLevelID(w, r)
	if !ok {
		return
	}
	mode := vocab.Mode(queryDefault(r, "mode", string(vocab.ModeAll)))
	sortBy := vocab.Sort(queryDefault(r, "sort", string(vocab.SortRaw)))
	pageSize := queryInt(r, "pageSize", 10)
	pageID := queryInt(r, "page", 0)

	var words []vocab.Word
	var err error
	switch mode {
	case vocab.ModeAll:
		words, err = s.repo.GetWords(r.Context(), levelID, sortBy, pageSize, pageID)
	case vocab.ModeUnlearned:
		words, err = s.repo.GetUnlearnedWords(r.Context(), levelID, sortBy, pageSize, pageID)
	case vocab.ModeError:
		words, err = s.repo.GetErrorWords(r.Context(), levelID, sortBy, pageSize, pageID)
	default:
		http.Error(w, `{"error":"bad_mode"}`, http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("levelId", levelID).Msg("get words")
		http.Error(w, `{"error":"db_error"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(words)
}

// handleLevelCount returns the level's word count for a mode.
func (s *Server) handleLevelCount(w http.ResponseWriter, r *http.Request) {
	levelID, ok := pathLevelID(w, r)
	if !ok {
		return
	}
	mode := vocab.Mode(queryDefault(r, "mode", string(vocab.ModeAll)))
	count, err := s.repo.GetWordCount(r.Context(), levelID, mode)
	if err != nil {
		log.Error().Err(err).Int64("levelId", levelID).Msg("word count")
		http.Error(w, `{"error":"db_error"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]int{"count": count})
}

// ------------------------------ CONTENT ------------------------------------

// handleImport accepts an xlsx workbook — either a raw body or a
// multipart "file" field — and imports every sheet as a new level.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	buf, err := importBody(r)
	if err != nil {
		http.Error(w, `{"error":"bad_upload"}`, http.StatusBadRequest)
		return
	}
	results, err := s.repo.ImportExcelData(r.Context(), buf)
	if err != nil {
		log.Error().Err(err).Msg("import workbook")
		http.Error(w, `{"error":"import_failed"}`, http.StatusUnprocessableEntity)
		return
	}
	_ = json.NewEncoder(w).Encode(results)
}

// importBody extracts workbook bytes from the request.
func importBody(r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxImportBytes); err != nil {
			return nil, err
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, maxImportBytes))
	}
	return io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
}

// resetReq guards the destructive reset behind an explicit confirm.
type resetReq struct {
	Confirm bool `json:"confirm"`
}

// handleReset wipes the database and reseeds from the last-used source.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Confirm {
		http.Error(w, `{"error":"confirm_required"}`, http.StatusBadRequest)
		return
	}
	if err := s.repo.ResetDb(r.Context()); err != nil {
		log.Error().Err(err).Msg("reset db")
		http.Error(w, `{"error":"reset_failed"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// ------------------------------ SESSIONS -----------------------------------

// newSessionReq/Res payloads for POST /session.
type newSessionReq struct {
	LevelID  int64  `json:"levelId"`
	Mode     string `json:"mode"`     // "all" | "unlearned" | "error"
	Sort     string `json:"sort"`     // "raw" | "alphabet" | "random" | "root"
	PageSize int    `json:"pageSize"` // default 10
	PageID   int    `json:"pageId"`
}
type newSessionRes struct {
	SessionID string   `json:"sessionId"`
	EnWords   []string `json:"enWords"`
	CnWords   []string `json:"cnWords"` // shuffled
	Pages     int      `json:"pages"`
}

// handleNewSession materializes one page of gameplay and registers it.
func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	var req newSessionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	if req.Mode == "" {
		req.Mode = string(vocab.ModeAll)
	}
	if req.Sort == "" {
		req.Sort = string(vocab.SortRaw)
	}
	if req.PageSize <= 0 {
		req.PageSize = 10
	}

	sess := session.New(s.repo, session.Hooks{})
	if err := sess.Init(r.Context(), req.LevelID, vocab.Mode(req.Mode), vocab.Sort(req.Sort), req.PageSize, req.PageID); err != nil {
		log.Error().Err(err).Int64("levelId", req.LevelID).Msg("init session")
		http.Error(w, `{"error":"init_failed"}`, http.StatusInternalServerError)
		return
	}
	id := s.sessions.add(sess)
	_ = json.NewEncoder(w).Encode(newSessionRes{
		SessionID: id,
		EnWords:   sess.EnWords(),
		CnWords:   sess.ShuffledCnWords(),
		Pages:     sess.CalcPages(r.Context()),
	})
}

// matchReq/Res payloads for POST /session/{id}/match.
type matchReq struct {
	En string `json:"en"`
	Cn string `json:"cn"`
}
type matchRes struct {
	Match        bool          `json:"match"`
	Matched      int           `json:"matched"`
	PageComplete bool          `json:"pageComplete"`
	Word         *session.Pair `json:"word"`
}

// handleMatch resolves one match attempt against a live session.
// Attempts on one session are serialized by the registry entry lock.
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	ls, err := s.sessions.get(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
		return
	}
	var req matchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	match, err := ls.sess.CheckMatch(r.Context(), req.En, req.Cn)
	if err != nil {
		log.Error().Err(err).Msg("check match")
		http.Error(w, `{"error":"match_failed"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(matchRes{
		Match:        match,
		Matched:      ls.sess.Matched(),
		PageComplete: ls.sess.PageComplete(),
		Word:         ls.sess.MatchWord(),
	})
}

// handleStat returns the persisted learned/error/total counts.
func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	ls, err := s.sessions.get(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
		return
	}
	stat, err := ls.sess.GetStat(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("session stat")
		http.Error(w, `{"error":"db_error"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(stat)
}

// handleDropSession discards a live session.
func (s *Server) handleDropSession(w http.ResponseWriter, r *http.Request) {
	s.sessions.drop(chi.URLParam(r, "sessionID"))
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// ------------------------------- small util --------------------------------

// pathLevelID parses the {levelID} path segment, writing a 400 on failure.
func pathLevelID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "levelID"), 10, 64)
	if err != nil {
		http.Error(w, `{"error":"bad_level_id"}`, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// queryDefault returns the query value of k or def if unset.
func queryDefault(r *http.Request, k, def string) string {
	if v := r.URL.Query().Get(k); v != "" {
		return v
	}
	return def
}

// queryInt parses an integer query value with a default.
func queryInt(r *http.Request, k string, def int) int {
	if v := r.URL.Query().Get(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
