package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"folio/api/internal/accounts"
	"folio/api/internal/auth"
	"folio/api/internal/catalog"
	"folio/api/internal/search"
)

type Session struct {
	UserID int64
	Name   string
	Role   string
}

type HTTPServer struct {
	authors    *catalog.AuthorService
	documents  *catalog.DocumentService
	accounts   *accounts.Service
	search     *search.Service
	db         *sql.DB
	secret     []byte
	corsOrigin string
}

func NewHTTPServer(
	authors *catalog.AuthorService,
	documents *catalog.DocumentService,
	accountsSvc *accounts.Service,
	searchSvc *search.Service,
	db *sql.DB,
	secret string,
	corsOrigin string,
) *HTTPServer {
	return &HTTPServer{
		authors:    authors,
		documents:  documents,
		accounts:   accountsSvc,
		search:     searchSvc,
		db:         db,
		secret:     []byte(secret),
		corsOrigin: corsOrigin,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.db.PingContext(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/v1/auth/signup" {
		s.handleSignup(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/v1/auth/login" {
		s.handleLogin(w, r)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/v1/documents/search" {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
			return
		}
		limit := 20
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be a positive integer", nil)
				return
			}
			limit = parsed
		}
		writeJSON(w, http.StatusOK, s.search.Search(r.Context(), q, limit))
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "v1" && parts[2] == "authors" {
		s.handleAuthorCollection(w, r, session)
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "v1" && parts[2] == "authors" {
		id, err := parseID(parts[3])
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "id must be a positive integer", nil)
			return
		}
		s.handleAuthor(w, r, session, id)
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "v1" && parts[2] == "documents" {
		s.handleDocumentCollection(w, r, session)
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "v1" && parts[2] == "documents" {
		id, err := parseID(parts[3])
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "id must be a positive integer", nil)
			return
		}
		s.handleDocument(w, r, session, id)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

type authorBody struct {
	ID        *int64  `json:"id"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Documents []int64 `json:"documents"`
}

type documentBody struct {
	ID         *int64  `json:"id"`
	Title      string  `json:"title"`
	Body       string  `json:"body"`
	Authors    []int64 `json:"authors"`
	References []int64 `json:"references"`
}

func (s *HTTPServer) handleAuthorCollection(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method == http.MethodGet {
		items, err := s.authors.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list authors", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authors": items})
		return
	}

	if r.Method == http.MethodPost {
		if !s.canWrite(session) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body authorBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if details := validateAuthorBody(body, true); len(details) > 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", details)
			return
		}
		payload, err := s.authors.Create(r.Context(), catalog.AuthorCreate{
			FirstName: strings.TrimSpace(body.FirstName),
			LastName:  strings.TrimSpace(body.LastName),
			Documents: body.Documents,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleAuthor(w http.ResponseWriter, r *http.Request, session Session, id int64) {
	if r.Method == http.MethodGet {
		payload, err := s.authors.Get(r.Context(), id)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPut {
		if !s.canWrite(session) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body authorBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.ID == nil || *body.ID != id {
			writeError(w, http.StatusUnprocessableEntity, "ID_MISMATCH", "ID in the request body does not match the ID in the path", nil)
			return
		}
		if details := validateAuthorBody(body, false); len(details) > 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", details)
			return
		}
		payload, err := s.authors.Update(r.Context(), catalog.AuthorUpdate{
			ID:        id,
			FirstName: strings.TrimSpace(body.FirstName),
			LastName:  strings.TrimSpace(body.LastName),
			Documents: body.Documents,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodDelete {
		if !s.canWrite(session) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		if err := s.authors.Delete(r.Context(), id); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleDocumentCollection(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method == http.MethodGet {
		items, err := s.documents.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list documents", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": items})
		return
	}

	if r.Method == http.MethodPost {
		if !s.canWrite(session) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body documentBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if details := validateDocumentBody(body, true); len(details) > 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", details)
			return
		}
		payload, err := s.documents.Create(r.Context(), catalog.DocumentCreate{
			Title:      strings.TrimSpace(body.Title),
			Body:       body.Body,
			Authors:    body.Authors,
			References: body.References,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleDocument(w http.ResponseWriter, r *http.Request, session Session, id int64) {
	if r.Method == http.MethodGet {
		payload, err := s.documents.Get(r.Context(), id)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPut {
		if !s.canWrite(session) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body documentBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.ID == nil || *body.ID != id {
			writeError(w, http.StatusUnprocessableEntity, "ID_MISMATCH", "ID in the request body does not match the ID in the path", nil)
			return
		}
		if details := validateDocumentBody(body, false); len(details) > 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", details)
			return
		}
		payload, err := s.documents.Update(r.Context(), catalog.DocumentUpdate{
			ID:         id,
			Title:      strings.TrimSpace(body.Title),
			Body:       body.Body,
			Authors:    body.Authors,
			References: body.References,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodDelete {
		if !s.canWrite(session) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		if err := s.documents.Delete(r.Context(), id); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleSignup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Username  string `json:"username"`
		Password  string `json:"password"`
		Role      string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	details := map[string]string{}
	if strings.TrimSpace(body.FirstName) == "" {
		details["firstName"] = "must not be blank"
	}
	if strings.TrimSpace(body.LastName) == "" {
		details["lastName"] = "must not be blank"
	}
	if strings.TrimSpace(body.Username) == "" {
		details["username"] = "must not be blank"
	}
	if len(body.Password) < 8 {
		details["password"] = "must be at least 8 characters"
	}
	if len(details) > 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", details)
		return
	}

	token, err := s.accounts.Signup(r.Context(), accounts.SignupRequest{
		FirstName: strings.TrimSpace(body.FirstName),
		LastName:  strings.TrimSpace(body.LastName),
		Username:  strings.TrimSpace(body.Username),
		Password:  body.Password,
		Role:      strings.TrimSpace(body.Role),
	})
	if err != nil {
		status, code, message, errDetails := mapError(err)
		writeError(w, status, code, message, errDetails)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token": token})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	token, err := s.accounts.Login(r.Context(), accounts.LoginRequest{
		Username: strings.TrimSpace(body.Username),
		Password: body.Password,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	claims, err := auth.ParseToken(s.secret, token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	return Session{UserID: claims.Sub, Name: claims.Name, Role: claims.Role}, true
}

func (s *HTTPServer) canWrite(session Session) bool {
	return session.Role == accounts.RoleEditor
}

func validateAuthorBody(body authorBody, forCreate bool) map[string]string {
	details := map[string]string{}
	if forCreate && body.ID != nil {
		details["id"] = "must be null"
	}
	if strings.TrimSpace(body.FirstName) == "" {
		details["firstName"] = "must not be blank"
	}
	if strings.TrimSpace(body.LastName) == "" {
		details["lastName"] = "must not be blank"
	}
	if !forCreate && body.Documents == nil {
		details["documents"] = "must be provided"
	}
	for _, id := range body.Documents {
		if id < 1 {
			details["documents"] = "ids must be positive integers"
			break
		}
	}
	return details
}

func validateDocumentBody(body documentBody, forCreate bool) map[string]string {
	details := map[string]string{}
	if forCreate && body.ID != nil {
		details["id"] = "must be null"
	}
	if strings.TrimSpace(body.Title) == "" {
		details["title"] = "must not be blank"
	}
	if strings.TrimSpace(body.Body) == "" {
		details["body"] = "must not be blank"
	}
	if !forCreate && body.Authors == nil {
		details["authors"] = "must be provided"
	}
	if !forCreate && body.References == nil {
		details["references"] = "must be provided"
	}
	for _, id := range body.Authors {
		if id < 1 {
			details["authors"] = "ids must be positive integers"
			break
		}
	}
	for _, id := range body.References {
		if id < 1 {
			details["references"] = "ids must be positive integers"
			break
		}
	}
	return details
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func mapError(err error) (status int, code, message string, details any) {
	var notFoundErr *catalog.NotFoundError
	if errors.As(err, &notFoundErr) {
		return http.StatusNotFound, "NOT_FOUND", notFoundErr.Error(), map[string]any{"ids": notFoundErr.IDs}
	}
	var conflictErr *catalog.ConflictError
	if errors.As(err, &conflictErr) {
		return http.StatusConflict, "ASSOCIATION_CONFLICT", conflictErr.Error(), nil
	}
	if errors.Is(err, accounts.ErrDuplicateUsername) {
		return http.StatusConflict, "USERNAME_EXISTS", "Username already exists", nil
	}
	if errors.Is(err, accounts.ErrBadCredentials) {
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
