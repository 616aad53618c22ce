package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"librioo/api/internal/auth"
	"librioo/api/internal/store"
)

func newTestHTTPServer(fs *fakeStore) *HTTPServer {
	return NewHTTPServer(newTestService(fs), "*")
}

func testToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  userID,
		Name: "Avery",
		Role: "writer",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

func doRequest(t *testing.T, handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body: %v (%s)", err, rec.Body.String())
	}
	return body.Code
}

func TestRevisionsRequireBearerToken(t *testing.T) {
	srv := newTestHTTPServer(&fakeStore{})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/chapters/ch_1/revisions", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if code := decodeError(t, rec); code != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %s", code)
	}
}

func TestRevisionsRejectGarbageToken(t *testing.T) {
	srv := newTestHTTPServer(&fakeStore{})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/chapters/ch_1/revisions", "not.a.token", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRevisionsForbiddenForNonEditor(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, Username: "Jules", Role: "reader"}, nil
		},
		getChapterFn: func(_ context.Context, _ string) (store.Chapter, error) {
			return store.Chapter{ID: "ch_1", BookID: "bk_1", Status: "draft"}, nil
		},
		getBookFn: func(_ context.Context, _ string) (store.Book, error) {
			return serialBook(), nil
		},
	}
	srv := newTestHTTPServer(fs)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/chapters/ch_1/revisions", testToken(t, "usr_stranger"), "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (%s)", rec.Code, rec.Body.String())
	}
	if code := decodeError(t, rec); code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %s", code)
	}
}

func TestRevisionsMissingChapterIs404(t *testing.T) {
	// Default fakeStore GetChapter returns sql.ErrNoRows.
	srv := newTestHTTPServer(&fakeStore{})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/chapters/ch_missing/revisions", testToken(t, "usr_author"), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (%s)", rec.Code, rec.Body.String())
	}
	if code := decodeError(t, rec); code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %s", code)
	}
}

func TestRestoreForeignRevisionIs404(t *testing.T) {
	fs := &fakeStore{
		getChapterFn: func(_ context.Context, _ string) (store.Chapter, error) {
			return store.Chapter{ID: "ch_1", BookID: "bk_1", Status: "draft"}, nil
		},
		getBookFn: func(_ context.Context, _ string) (store.Book, error) {
			return serialBook(), nil
		},
		// GetRevision default sql.ErrNoRows stands in for a revision that
		// belongs to another chapter.
	}
	srv := newTestHTTPServer(fs)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/chapters/ch_1/revisions/rev_other/restore", testToken(t, "usr_author"), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestRestoreHappyPathReturnsOK(t *testing.T) {
	fs := &fakeStore{
		getChapterFn: func(_ context.Context, _ string) (store.Chapter, error) {
			return store.Chapter{ID: "ch_1", BookID: "bk_1", Title: "Live", Content: "live", Status: "draft"}, nil
		},
		getBookFn: func(_ context.Context, _ string) (store.Book, error) {
			return serialBook(), nil
		},
		getRevisionFn: func(_ context.Context, chapterID, revisionID string) (store.ChapterRevision, error) {
			return store.ChapterRevision{ID: revisionID, ChapterID: chapterID, Title: "Old", Content: "old"}, nil
		},
	}
	srv := newTestHTTPServer(fs)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/chapters/ch_1/revisions/rev_1/restore", testToken(t, "usr_author"), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok true, got %v", body)
	}
}

func TestUpdateChapterEndpoint(t *testing.T) {
	fs := &fakeStore{
		getChapterFn: func(_ context.Context, _ string) (store.Chapter, error) {
			return store.Chapter{ID: "ch_1", BookID: "bk_1", Title: "Draft", Content: "body", Status: "draft"}, nil
		},
		getBookFn: func(_ context.Context, _ string) (store.Book, error) {
			return serialBook(), nil
		},
	}
	srv := newTestHTTPServer(fs)

	rec := doRequest(t, srv.Handler(), http.MethodPut, "/api/chapters/ch_1", testToken(t, "usr_author"), `{"status":"published"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "published" {
		t.Fatalf("expected status published, got %v", body["status"])
	}
}

func TestDeleteChapterEndpointForbiddenForNonAuthor(t *testing.T) {
	fs := &fakeStore{
		getChapterFn: func(_ context.Context, _ string) (store.Chapter, error) {
			return store.Chapter{ID: "ch_1", BookID: "bk_1", Status: "draft"}, nil
		},
		getBookFn: func(_ context.Context, _ string) (store.Book, error) {
			return serialBook(), nil
		},
	}
	srv := newTestHTTPServer(fs)

	rec := doRequest(t, srv.Handler(), http.MethodDelete, "/api/chapters/ch_1", testToken(t, "usr_stranger"), "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestBookCommentEndpoint(t *testing.T) {
	fs := &fakeStore{
		getBookFn: func(_ context.Context, _ string) (store.Book, error) {
			return serialBook(), nil
		},
	}
	srv := newTestHTTPServer(fs)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/books/bk_1/comments", testToken(t, "usr_fan"), `{"text":"great opening"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestHealthEndpointIsPublic(t *testing.T) {
	srv := newTestHTTPServer(&fakeStore{})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAutosaveEndpointReturnsSavedAt(t *testing.T) {
	fs := &fakeStore{
		getChapterFn: func(_ context.Context, _ string) (store.Chapter, error) {
			return store.Chapter{ID: "ch_1", BookID: "bk_1", Title: "Live", Content: "live", Status: "draft"}, nil
		},
		getBookFn: func(_ context.Context, _ string) (store.Book, error) {
			return serialBook(), nil
		},
	}
	srv := newTestHTTPServer(fs)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/chapters/ch_1/autosave", testToken(t, "usr_author"), `{"content":"draft text"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var body struct {
		OK      bool   `json:"ok"`
		SavedAt string `json:"savedAt"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if !body.OK || body.SavedAt == "" {
		t.Fatalf("expected ok with savedAt, got %s", rec.Body.String())
	}
}
