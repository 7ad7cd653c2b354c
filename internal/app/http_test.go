package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"folio/api/internal/accounts"
	"folio/api/internal/auth"
	"folio/api/internal/catalog"
	"folio/api/internal/search"
	"folio/api/internal/store"
)

const testSecret = "test-secret"

// memStore is an in-memory stand-in for the Postgres store, close enough for
// exercising the full HTTP stack: ids are assigned on first save and edge
// rows are replaced wholesale.
type memStore struct {
	mu         sync.Mutex
	nextID     int64
	authors    map[int64]store.Author
	documents  map[int64]store.Document
	authorDocs map[int64]map[int64]struct{}
	docRefs    map[int64]map[int64]struct{}
	users      map[string]store.User
	nextUserID int64
}

func newMemStore() *memStore {
	return &memStore{
		authors:    make(map[int64]store.Author),
		documents:  make(map[int64]store.Document),
		authorDocs: make(map[int64]map[int64]struct{}),
		docRefs:    make(map[int64]map[int64]struct{}),
		users:      make(map[string]store.User),
	}
}

func (m *memStore) GetAuthor(_ context.Context, id int64) (store.Author, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.authors[id]
	if !ok {
		return store.Author{}, sql.ErrNoRows
	}
	return a, nil
}

func (m *memStore) ListAuthors(context.Context) ([]store.Author, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Author, 0, len(m.authors))
	for _, a := range m.authors {
		items = append(items, a)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *memStore) FindAuthorsByID(_ context.Context, ids []int64) ([]store.Author, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found []store.Author
	for _, id := range ids {
		if a, ok := m.authors[id]; ok {
			found = append(found, a)
		}
	}
	return found, nil
}

func (m *memStore) AuthorDocumentIDs(_ context.Context, authorID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return setToSlice(m.authorDocs[authorID]), nil
}

func (m *memStore) SaveAuthor(_ context.Context, a store.Author, documentIDs []int64) (store.Author, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == 0 {
		m.nextID++
		a.ID = m.nextID
	} else if _, ok := m.authors[a.ID]; !ok {
		return store.Author{}, sql.ErrNoRows
	}
	m.authors[a.ID] = a
	m.authorDocs[a.ID] = sliceToSet(documentIDs)
	return a, nil
}

func (m *memStore) DeleteAuthor(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.authors[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.authors, id)
	delete(m.authorDocs, id)
	return nil
}

func (m *memStore) GetDocument(_ context.Context, id int64) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	return d, nil
}

func (m *memStore) ListDocuments(context.Context) ([]store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]store.Document, 0, len(m.documents))
	for _, d := range m.documents {
		items = append(items, d)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *memStore) FindDocumentsByID(_ context.Context, ids []int64) ([]store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found []store.Document
	for _, id := range ids {
		if d, ok := m.documents[id]; ok {
			found = append(found, d)
		}
	}
	return found, nil
}

func (m *memStore) DocumentAuthorIDs(_ context.Context, documentID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for authorID, docs := range m.authorDocs {
		if _, ok := docs[documentID]; ok {
			ids = append(ids, authorID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memStore) DocumentReferenceIDs(_ context.Context, documentID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return setToSlice(m.docRefs[documentID]), nil
}

func (m *memStore) DocumentReferredByIDs(_ context.Context, documentID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for docID, refs := range m.docRefs {
		if _, ok := refs[documentID]; ok {
			ids = append(ids, docID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memStore) SaveDocument(_ context.Context, d store.Document, authorIDs, referenceIDs []int64) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == 0 {
		m.nextID++
		d.ID = m.nextID
	} else if _, ok := m.documents[d.ID]; !ok {
		return store.Document{}, sql.ErrNoRows
	}
	m.documents[d.ID] = d
	m.docRefs[d.ID] = sliceToSet(referenceIDs)
	keep := sliceToSet(authorIDs)
	for authorID, docs := range m.authorDocs {
		if _, ok := keep[authorID]; ok {
			docs[d.ID] = struct{}{}
		} else {
			delete(docs, d.ID)
		}
	}
	for authorID := range keep {
		if _, ok := m.authorDocs[authorID]; !ok {
			m.authorDocs[authorID] = map[int64]struct{}{d.ID: {}}
		}
	}
	return d, nil
}

func (m *memStore) DeleteDocument(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[id]; !ok {
		return sql.ErrNoRows
	}
	for _, docs := range m.authorDocs {
		delete(docs, id)
	}
	for _, refs := range m.docRefs {
		delete(refs, id)
	}
	delete(m.documents, id)
	delete(m.docRefs, id)
	return nil
}

func (m *memStore) SearchDocuments(_ context.Context, query string, limit int) ([]store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(query)
	var found []store.Document
	for _, d := range m.documents {
		if strings.Contains(strings.ToLower(d.Title), needle) || strings.Contains(strings.ToLower(d.Body), needle) {
			found = append(found, d)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	if len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

func (m *memStore) GetUserByUsername(_ context.Context, username string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (m *memStore) CreateUser(_ context.Context, u store.User) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Username]; ok {
		return store.User{}, store.ErrDuplicateUsername
	}
	m.nextUserID++
	u.ID = m.nextUserID
	m.users[u.Username] = u
	return u, nil
}

func setToSlice(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sliceToSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

type noopEvents struct{}

func (noopEvents) AuthorUpdated(context.Context, catalog.AuthorDetails) {}
func (noopEvents) AuthorDeleted(context.Context, int64)                {}
func (noopEvents) DocumentUpdated(context.Context, int64)              {}
func (noopEvents) DocumentDeleted(context.Context, int64)              {}

func newTestServer(t *testing.T) (*HTTPServer, *memStore) {
	t.Helper()
	st := newMemStore()
	events := noopEvents{}
	searchSvc := search.NewService(nil, st)
	authors := catalog.NewAuthorService(st, events)
	documents := catalog.NewDocumentService(st, events, searchSvc)
	accountsSvc := accounts.NewService(st, testSecret, time.Hour)
	return NewHTTPServer(authors, documents, accountsSvc, searchSvc, nil, testSecret, "*"), st
}

func tokenFor(t *testing.T, role string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Sub:  1,
		Name: "tester",
		Role: role,
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return token
}

func doRequest(t *testing.T, s *HTTPServer, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthorsRequireAuthentication(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/authors", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestReaderCannotWrite(t *testing.T) {
	s, _ := newTestServer(t)
	token := tokenFor(t, accounts.RoleReader)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/authors", token, map[string]any{
		"firstName": "Ada", "lastName": "Lovelace",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/authors", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reader GET status = %d, want 200", rec.Code)
	}
}

func TestCreateAndGetAuthor(t *testing.T) {
	s, _ := newTestServer(t)
	token := tokenFor(t, accounts.RoleEditor)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/authors", token, map[string]any{
		"firstName": "Ada", "lastName": "Lovelace",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created catalog.AuthorDetails
	decodeResponse(t, rec, &created)
	if created.ID == 0 || created.FirstName != "Ada" {
		t.Fatalf("created = %+v", created)
	}

	rec = doRequest(t, s, http.MethodGet, fmt.Sprintf("/api/v1/authors/%d", created.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var fetched catalog.AuthorDetails
	decodeResponse(t, rec, &fetched)
	if fetched.ID != created.ID || fetched.LastName != "Lovelace" {
		t.Fatalf("fetched = %+v", fetched)
	}
}

func TestCreateAuthorRejectsProvidedID(t *testing.T) {
	s, _ := newTestServer(t)
	token := tokenFor(t, accounts.RoleEditor)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/authors", token, map[string]any{
		"id": 5, "firstName": "Ada", "lastName": "Lovelace",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestUpdateAuthorIDMismatch(t *testing.T) {
	s, _ := newTestServer(t)
	token := tokenFor(t, accounts.RoleEditor)

	rec := doRequest(t, s, http.MethodPut, "/api/v1/authors/7", token, map[string]any{
		"id": 8, "firstName": "Ada", "lastName": "Lovelace", "documents": []int64{},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	var resp map[string]any
	decodeResponse(t, rec, &resp)
	if resp["code"] != "ID_MISMATCH" {
		t.Fatalf("code = %v, want ID_MISMATCH", resp["code"])
	}
}

func TestUpdateAuthorReportsMissingDocuments(t *testing.T) {
	s, _ := newTestServer(t)
	token := tokenFor(t, accounts.RoleEditor)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/authors", token, map[string]any{
		"firstName": "Ada", "lastName": "Lovelace",
	})
	var created catalog.AuthorDetails
	decodeResponse(t, rec, &created)

	rec = doRequest(t, s, http.MethodPut, fmt.Sprintf("/api/v1/authors/%d", created.ID), token, map[string]any{
		"id": created.ID, "firstName": "Ada", "lastName": "Lovelace", "documents": []int64{98, 99},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Code    string `json:"code"`
		Details struct {
			IDs []int64 `json:"ids"`
		} `json:"details"`
	}
	decodeResponse(t, rec, &resp)
	if resp.Code != "NOT_FOUND" || len(resp.Details.IDs) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestDocumentSelfReferenceConflict(t *testing.T) {
	s, _ := newTestServer(t)
	token := tokenFor(t, accounts.RoleEditor)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/documents", token, map[string]any{
		"title": "Loop", "body": "text",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created catalog.DocumentDetails
	decodeResponse(t, rec, &created)

	rec = doRequest(t, s, http.MethodPut, fmt.Sprintf("/api/v1/documents/%d", created.ID), token, map[string]any{
		"id": created.ID, "title": "Loop", "body": "text",
		"authors": []int64{}, "references": []int64{created.ID},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	decodeResponse(t, rec, &resp)
	if resp["code"] != "ASSOCIATION_CONFLICT" {
		t.Fatalf("code = %v, want ASSOCIATION_CONFLICT", resp["code"])
	}
}

func TestDeleteDocumentDetachesFromAuthor(t *testing.T) {
	s, _ := newTestServer(t)
	token := tokenFor(t, accounts.RoleEditor)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/documents", token, map[string]any{
		"title": "Doomed", "body": "text",
	})
	var doc catalog.DocumentDetails
	decodeResponse(t, rec, &doc)

	rec = doRequest(t, s, http.MethodPost, "/api/v1/authors", token, map[string]any{
		"firstName": "Ada", "lastName": "Lovelace", "documents": []int64{doc.ID},
	})
	var author catalog.AuthorDetails
	decodeResponse(t, rec, &author)
	if len(author.Documents) != 1 {
		t.Fatalf("author documents = %+v", author.Documents)
	}

	rec = doRequest(t, s, http.MethodDelete, fmt.Sprintf("/api/v1/documents/%d", doc.ID), token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, fmt.Sprintf("/api/v1/authors/%d", author.ID), token, nil)
	var after catalog.AuthorDetails
	decodeResponse(t, rec, &after)
	if len(after.Documents) != 0 {
		t.Fatalf("author still holds deleted document: %+v", after.Documents)
	}
}

func TestSearchFallsBackToStore(t *testing.T) {
	s, _ := newTestServer(t)
	token := tokenFor(t, accounts.RoleEditor)

	doRequest(t, s, http.MethodPost, "/api/v1/documents", token, map[string]any{
		"title": "Analytical Engine", "body": "notes on computation",
	})
	doRequest(t, s, http.MethodPost, "/api/v1/documents", token, map[string]any{
		"title": "Frankenstein", "body": "a modern prometheus",
	})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/documents/search?q=engine", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp search.Response
	decodeResponse(t, rec, &resp)
	if len(resp.Results) != 1 || resp.Results[0].Title != "Analytical Engine" {
		t.Fatalf("results = %+v", resp.Results)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/documents/search", token, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing q status = %d, want 422", rec.Code)
	}
}

func TestSignupAndLogin(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/auth/signup", "", map[string]any{
		"firstName": "Ada", "lastName": "Lovelace",
		"username": "ada", "password": "analytical-engine", "role": "editor",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, body %s", rec.Code, rec.Body.String())
	}
	var signup map[string]string
	decodeResponse(t, rec, &signup)
	if signup["token"] == "" {
		t.Fatal("signup returned no token")
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/auth/signup", "", map[string]any{
		"firstName": "Ada", "lastName": "Lovelace",
		"username": "ada", "password": "analytical-engine",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate signup status = %d, want 409", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"username": "ada", "password": "analytical-engine",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d", rec.Code)
	}
	var login map[string]string
	decodeResponse(t, rec, &login)

	claims, err := auth.ParseToken([]byte(testSecret), login["token"])
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Role != accounts.RoleEditor {
		t.Fatalf("claims.Role = %q, want editor", claims.Role)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"username": "ada", "password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", rec.Code)
	}
}
