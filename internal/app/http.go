package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"librioo/api/internal/auth"
	"librioo/api/internal/export"
	"librioo/api/internal/media"
	"librioo/api/internal/rbac"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
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

		if err := s.service.Ping(ctx); err != nil {
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

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Login failed", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":    session.Token,
			"userName": session.UserName,
			"userId":   session.UserID,
			"role":     session.Role,
		})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      session.UserName,
			"userId":        session.UserID,
			"role":          session.Role,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/home" {
		payload, err := s.service.Home(r.Context(), session, time.Now())
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/discover" {
		payload, err := s.service.Discover(r.Context(), time.Now())
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/dashboard" {
		if !s.service.Can(session.Role, rbac.ActionPublish) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		payload, err := s.service.Dashboard(r.Context(), session)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		filterType := strings.TrimSpace(r.URL.Query().Get("type"))
		categoryID := strings.TrimSpace(r.URL.Query().Get("categoryId"))
		limit, err := queryInt(r, "limit", 20)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		offset, err := queryInt(r, "offset", 0)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		payload, err := s.service.Search(r.Context(), q, filterType, categoryID, limit, offset)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/notifications" {
		payload, err := s.service.Notifications(r.Context(), session)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/notifications/read" {
		if err := s.service.MarkNotificationsRead(r.Context(), session); err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/shelf" {
		var body ShelfInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpsertShelf(r.Context(), session, body)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/uploads" {
		s.handleUpload(w, r, session)
		return
	}

	if r.Method == http.MethodDelete && r.URL.Path == "/api/uploads" {
		s.handleDeleteUpload(w, r, session)
		return
	}

	if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/media/") {
		s.handleServeMedia(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/reactions" {
		var body ReactionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ToggleReaction(r.Context(), session, body)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "books" {
		s.handleBooks(w, r, session, parts)
		return
	}
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "chapters" {
		s.handleChapters(w, r, session, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleBooks(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	// /api/books
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListBooks(r.Context())
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			if !s.service.Can(session.Role, rbac.ActionPublish) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			var body CreateBookInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateBook(r.Context(), session, body)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	bookID := parts[2]

	// /api/books/{id}
	if len(parts) == 3 && r.Method == http.MethodGet {
		payload, err := s.service.GetBookDetail(r.Context(), bookID, time.Now())
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	// /api/books/{id}
	if len(parts) == 3 && r.Method == http.MethodDelete {
		if err := s.service.DeleteBook(r.Context(), session, bookID); err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// /api/books/{id}/comments
	if len(parts) == 4 && parts[3] == "comments" && r.Method == http.MethodPost {
		var body CommentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.AddBookComment(r.Context(), session, bookID, body)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	// /api/books/{id}/subscribe
	if len(parts) == 4 && parts[3] == "subscribe" && r.Method == http.MethodPost {
		payload, err := s.service.ToggleSubscribe(r.Context(), session, bookID)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	// /api/books/{id}/chapters
	if len(parts) == 4 && parts[3] == "chapters" && r.Method == http.MethodPost {
		if !s.service.Can(session.Role, rbac.ActionPublish) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body CreateChapterInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateChapter(r.Context(), session, bookID, body)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleChapters(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	chapterID := parts[2]

	// /api/chapters/{id}
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ReadChapter(r.Context(), session, chapterID, time.Now())
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodPut:
			var body UpdateChapterInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateChapter(r.Context(), session, chapterID, body)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodDelete:
			if err := s.service.DeleteChapter(r.Context(), session, chapterID); err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	// /api/chapters/{id}/export.pdf
	if len(parts) == 4 && parts[3] == "export.pdf" && r.Method == http.MethodGet {
		result, err := s.service.ExportChapterPDF(r.Context(), session, chapterID)
		if err != nil {
			writeMapped(w, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	if len(parts) == 4 && r.Method == http.MethodPost {
		switch parts[3] {
		case "autosave":
			var body AutosaveInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			savedAt, err := s.service.Autosave(r.Context(), session, chapterID, body)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "savedAt": savedAt})
			return
		case "save-version":
			var body SaveVersionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.SaveVersion(r.Context(), session, chapterID, body); err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		case "comments":
			var body CommentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.AddComment(r.Context(), session, chapterID, body)
			if err != nil {
				writeMapped(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
	}

	// /api/chapters/{id}/revisions
	if len(parts) == 4 && parts[3] == "revisions" && r.Method == http.MethodGet {
		payload, err := s.service.ListRevisions(r.Context(), session, chapterID)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	// /api/chapters/{id}/revisions/{revID}/restore
	if len(parts) == 6 && parts[3] == "revisions" && parts[5] == "restore" && r.Method == http.MethodPost {
		if err := s.service.RestoreRevision(r.Context(), session, chapterID, parts[4]); err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// /api/chapters/{id}/polls/{pollID}/vote
	if len(parts) == 6 && parts[3] == "polls" && parts[5] == "vote" && r.Method == http.MethodPost {
		var body struct {
			OptionID string `json:"optionId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.VotePoll(r.Context(), session, parts[4], body.OptionID)
		if err != nil {
			writeMapped(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

const maxUploadBytes = 16 << 20

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, session Session) {
	if !s.service.MediaConfigured() {
		writeError(w, http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Media storage not configured", nil)
		return
	}
	if !s.service.Can(session.Role, rbac.ActionPublish) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "file field is required", nil)
		return
	}
	defer file.Close()

	namespace := strings.TrimSpace(r.FormValue("kind"))
	if namespace != "covers" && namespace != "chapters" {
		namespace = "covers"
	}

	url, err := s.service.media.Upload(r.Context(), namespace, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

// handleDeleteUpload removes an uploaded asset by its public URL so writers
// can clean up covers and illustrations they no longer reference.
func (s *HTTPServer) handleDeleteUpload(w http.ResponseWriter, r *http.Request, session Session) {
	if !s.service.MediaConfigured() {
		writeError(w, http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Media storage not configured", nil)
		return
	}
	if !s.service.Can(session.Role, rbac.ActionPublish) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	key, ok := s.service.media.KeyFromURL(body.URL)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "url is not a stored asset", nil)
		return
	}
	if err := s.service.media.Delete(r.Context(), key); err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleServeMedia streams a stored object through the API for deployments
// where the bucket is not publicly reachable.
func (s *HTTPServer) handleServeMedia(w http.ResponseWriter, r *http.Request) {
	if !s.service.MediaConfigured() {
		writeError(w, http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Media storage not configured", nil)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/api/media/")
	if key == "" || strings.Contains(key, "..") {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	body, contentType, err := s.service.media.Open(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
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

func writeMapped(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
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

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, media.ErrUnsupportedType) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unsupported content type", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export unavailable on this host", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
