// Package server exposes the catalog over HTTP. Authorization is decided
// here; the core only ever sees a validated identity.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"booklib/internal/app"
	"booklib/internal/ratelimit"
	"booklib/internal/usertoken"
	"booklib/internal/util"
	"booklib/pkg/domain"
	"booklib/pkg/search"
)

const maxBodyBytes = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App      *app.App
	Verifier *usertoken.Verifier
	// Limiter guards the public search endpoint; nil disables limiting.
	Limiter           *ratelimit.FixedWindowLimiter
	TrustForwardedFor bool
}

// Server routes catalog requests.
type Server struct {
	app            *app.App
	verifier       *usertoken.Verifier
	limiter        *ratelimit.FixedWindowLimiter
	trustForwarded bool
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("server: token verifier required")
	}
	s := &Server{
		app:            cfg.App,
		verifier:       cfg.Verifier,
		limiter:        cfg.Limiter,
		trustForwarded: cfg.TrustForwardedFor,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/readyz", s.handleReady)
	s.mux.HandleFunc("/books", s.handleBooks)
	s.mux.HandleFunc("/books/", s.handleBooksSubtree)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Ready(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "SYSTEM_NOT_READY", "database not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListBooks(w, r)
	case http.MethodPost:
		if !s.requireAdmin(w, r) {
			return
		}
		s.handleCreateBook(w, r)
	case http.MethodDelete:
		if !s.requireAdmin(w, r) {
			return
		}
		s.handleDeleteAll(w, r)
	default:
		methodNotAllowed(w)
	}
}

// /books/search, /books/bulk, /books/purchase, /books/my-books,
// /books/{id}, /books/{id}/reindex
func (s *Server) handleBooksSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/books/")
	switch path {
	case "search":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleSearch(w, r)
		return
	case "bulk":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if !s.requireAdmin(w, r) {
			return
		}
		s.handleBulkCreate(w, r)
		return
	case "purchase":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		ident, ok := s.requireUser(w, r)
		if !ok {
			return
		}
		s.handlePurchase(w, r, ident)
		return
	case "my-books":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		ident, ok := s.requireUser(w, r)
		if !ok {
			return
		}
		s.handleMyBooks(w, r, ident)
		return
	}

	parts := strings.SplitN(path, "/", 2)
	id, err := strconv.Atoi(parts[0])
	if err != nil || id <= 0 {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] != "reindex" || r.Method != http.MethodPost {
			notFound(w, "not found")
			return
		}
		if !s.requireAdmin(w, r) {
			return
		}
		s.handleReindex(w, r, id)
		return
	}
	switch r.Method {
	case http.MethodPut:
		if !s.requireAdmin(w, r) {
			return
		}
		s.handleUpdateBook(w, r, id)
	case http.MethodDelete:
		if !s.requireAdmin(w, r) {
			return
		}
		s.handleDeleteBook(w, r, id)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.app.ListBooks(r.Context())
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": books,
		"count": len(books),
	})
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var book domain.Book
	if !decodeBody(w, r, &book) {
		return
	}
	if msg, ok := checkFieldBounds(book); !ok {
		s.writeError(w, http.StatusBadRequest, "CATALOG_INVALID_REQUEST", msg)
		return
	}
	res, err := s.app.CreateBook(r.Context(), book)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mutationResponse{
		Book:       res.Book,
		Indexed:    res.IndexErr == nil,
		IndexError: indexErrorPayload(res.IndexErr),
	})
}

func (s *Server) handleBulkCreate(w http.ResponseWriter, r *http.Request) {
	var books []domain.Book
	if !decodeBody(w, r, &books) {
		return
	}
	for _, b := range books {
		if msg, ok := checkFieldBounds(b); !ok {
			s.writeError(w, http.StatusBadRequest, "CATALOG_INVALID_REQUEST", msg)
			return
		}
	}
	res, err := s.app.BulkCreateBooks(r.Context(), books)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	indexed := res.IndexErr == nil && len(res.IndexFailures) == 0
	writeJSON(w, http.StatusCreated, map[string]any{
		"items":         res.Books,
		"count":         len(res.Books),
		"indexed":       indexed,
		"indexFailures": res.IndexFailures,
		"indexError":    indexErrorPayload(res.IndexErr),
	})
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request, id int) {
	var book domain.Book
	if !decodeBody(w, r, &book) {
		return
	}
	if msg, ok := checkFieldBounds(book); !ok {
		s.writeError(w, http.StatusBadRequest, "CATALOG_INVALID_REQUEST", msg)
		return
	}
	res, err := s.app.UpdateBook(r.Context(), id, book)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{
		Book:       res.Book,
		Indexed:    res.IndexErr == nil,
		IndexError: indexErrorPayload(res.IndexErr),
	})
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request, id int) {
	if err := s.app.DeleteBook(r.Context(), id); err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.app.DeleteAllBooks(r.Context())
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "deleted",
		"deleted": deleted,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow(r.Context(), util.ClientIP(r, s.trustForwarded)) {
		s.writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
		return
	}
	query := r.URL.Query().Get("query")
	ascending := true
	if raw := r.URL.Query().Get("ascending"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "CATALOG_INVALID_REQUEST", "ascending must be a boolean")
			return
		}
		ascending = parsed
	}
	sort := search.ParseSort(r.URL.Query().Get("sortBy"), ascending)
	docs, err := s.app.SearchBooks(r.Context(), query, sort)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": docs,
		"count": len(docs),
	})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request, id int) {
	if err := s.app.ReindexBook(r.Context(), id); err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reindexed"})
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request, ident domain.Identity) {
	bookID, err := strconv.Atoi(r.URL.Query().Get("bookId"))
	if err != nil || bookID <= 0 {
		s.writeError(w, http.StatusBadRequest, "CATALOG_INVALID_REQUEST", "bookId is required")
		return
	}
	purchase, err := s.app.PurchaseBook(r.Context(), ident, bookID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, purchase)
}

func (s *Server) handleMyBooks(w http.ResponseWriter, r *http.Request, ident domain.Identity) {
	owned, err := s.app.ListMyBooks(r.Context(), ident)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": owned,
		"count": len(owned),
	})
}

// --- identity ---

func (s *Server) identity(r *http.Request) (domain.Identity, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.Identity{}, false
	}
	ident, err := s.verifier.Verify(token)
	if err != nil {
		return domain.Identity{}, false
	}
	return ident, true
}

func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	ident, ok := s.identity(r)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "AUTH_INVALID_TOKEN", "unauthorized")
		return domain.Identity{}, false
	}
	return ident, true
}

func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	ident, ok := s.identity(r)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "AUTH_INVALID_TOKEN", "unauthorized")
		return false
	}
	if ident.Role != domain.RoleAdmin {
		s.writeError(w, http.StatusForbidden, "AUTH_FORBIDDEN", "forbidden")
		return false
	}
	return true
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

// --- encoding ---

type mutationResponse struct {
	Book       domain.Book     `json:"book"`
	Indexed    bool            `json:"indexed"`
	IndexError *indexErrorBody `json:"indexError,omitempty"`
}

type indexErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func indexErrorPayload(e *app.IndexError) *indexErrorBody {
	if e == nil {
		return nil
	}
	body := &indexErrorBody{Message: e.Error()}
	var engErr *search.EngineError
	if errors.As(e.Err, &engErr) {
		body.Type = engErr.Type
		body.Reason = engErr.Reason
	}
	return body
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "invalid JSON body",
			Code:  "CATALOG_INVALID_REQUEST",
		})
		return false
	}
	return true
}

// checkFieldBounds enforces the boundary length limits; presence checks
// belong to the core.
func checkFieldBounds(b domain.Book) (string, bool) {
	if len(b.Title) > 255 {
		return "title must be at most 255 characters", false
	}
	if len(b.Author) > 255 {
		return "author must be at most 255 characters", false
	}
	return "", true
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Type      string `json:"type,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeAppError maps core errors onto the five visible error classes.
// Engine payloads are passed through, not flattened.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	var idxErr *app.IndexError
	var engErr *search.EngineError
	switch {
	case errors.Is(err, app.ErrValidation):
		s.writeError(w, http.StatusBadRequest, "CATALOG_INVALID_REQUEST", err.Error())
	case errors.Is(err, app.ErrBookNotFound):
		s.writeError(w, http.StatusNotFound, "CATALOG_BOOK_NOT_FOUND", "book not found")
	case errors.Is(err, app.ErrAlreadyPurchased):
		s.writeError(w, http.StatusConflict, "CATALOG_ALREADY_PURCHASED", "book already purchased")
	case errors.Is(err, app.ErrUnauthenticated):
		s.writeError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "authentication required")
	case errors.As(err, &idxErr):
		body := errorResponse{
			Error:     idxErr.Error(),
			Code:      "SEARCH_INDEX_ERROR",
			RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
		}
		if errors.As(idxErr.Err, &engErr) {
			body.Type = engErr.Type
			body.Reason = engErr.Reason
		}
		writeJSON(w, http.StatusInternalServerError, body)
	case errors.As(err, &engErr):
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:     engErr.Error(),
			Code:      "SEARCH_ENGINE_ERROR",
			Type:      engErr.Type,
			Reason:    engErr.Reason,
			RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
		})
	default:
		s.writeError(w, http.StatusInternalServerError, "STORE_ERROR", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{
		Error: "method not allowed",
		Code:  "SYSTEM_METHOD_NOT_ALLOWED",
	})
}

func notFound(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusNotFound, errorResponse{
		Error: msg,
		Code:  "SYSTEM_NOT_FOUND",
	})
}
