package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/ragindex/internal/app"
	"github.com/bull/ragindex/internal/config"
)

type testServer struct {
	t      *testing.T
	server *Server
	app    *app.App
	tenant string
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Store:       config.StoreConfig{Path: filepath.Join(dir, "ragindex.db")},
		Index:       config.IndexConfig{ChromemPath: filepath.Join(dir, "index")},
		Embedding:   config.EmbeddingConfig{Provider: config.ProviderHash, Dimension: 64},
		Splitter:    config.SplitterConfig{ChunkSize: 20, ChunkOverlap: 5},
		ObjectStore: config.ObjectStoreConfig{Root: filepath.Join(dir, "objects"), SigningKey: "test-key"},
	}
	config.ApplyDefaults(cfg)
	require.NoError(t, cfg.Validate())

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	s, err := NewServer(a, "test")
	require.NoError(t, err)

	org, err := a.Store.CreateOrganization(context.Background(), "acme")
	require.NoError(t, err)
	return &testServer{t: t, server: s, app: a, tenant: org.ID}
}

func (ts *testServer) do(method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	ts.t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(HeaderTenantID, ts.tenant)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) doJSON(method, target string, in, out any) int {
	ts.t.Helper()
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		require.NoError(ts.t, err)
		body = bytes.NewReader(data)
	}
	rec := ts.do(method, target, body, "application/json")
	if out != nil && rec.Code < 300 {
		require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func (ts *testServer) upload(categoryID, filename, content string) DocumentResponse {
	ts.t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(ts.t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(ts.t, err)
	require.NoError(ts.t, w.Close())

	rec := ts.do(http.MethodPost, "/v1/categories/"+categoryID+"/documents", &buf, w.FormDataContentType())
	require.Equal(ts.t, http.StatusCreated, rec.Code, rec.Body.String())
	var doc DocumentResponse
	require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), &doc))
	return doc
}

// catalog creates a collection with one category.
func (ts *testServer) catalog() (collectionID, categoryID string) {
	ts.t.Helper()
	var col, cat CatalogResponse
	require.Equal(ts.t, http.StatusCreated, ts.doJSON(http.MethodPost, "/v1/collections", CreateRequest{Name: "handbook"}, &col))
	require.Equal(ts.t, http.StatusCreated, ts.doJSON(http.MethodPost, "/v1/collections/"+col.ID+"/categories", CreateRequest{Name: "policies"}, &cat))
	assert.Equal(ts.t, col.ID, cat.CollectionID)
	return col.ID, cat.ID
}

func TestServer_UploadSyncSearch(t *testing.T) {
	ts := setupTestServer(t)
	colID, catID := ts.catalog()

	doc := ts.upload(catID, "refunds.md", "# Refund Policy\n\nRefunds are granted within 30 days.")
	assert.Equal(t, "Refund Policy", doc.Name)
	assert.Equal(t, "pending", doc.Status)
	assert.Equal(t, colID, doc.CollectionID)

	var status StatusResponse
	require.Equal(t, http.StatusOK, ts.doJSON(http.MethodGet, "/v1/collections/"+colID+"/status", nil, &status))
	assert.Equal(t, 1, status.Documents["pending"])
	assert.Equal(t, 1, status.Pending)

	var sync SyncResponse
	require.Equal(t, http.StatusOK, ts.doJSON(http.MethodPost, "/v1/collections/"+colID+"/sync", nil, &sync))
	assert.Equal(t, 1, sync.Added)
	assert.Positive(t, sync.Chunks)
	assert.Empty(t, sync.Failed)

	var search SearchResponse
	code := ts.doJSON(http.MethodPost, "/v1/search", SearchRequest{CollectionIDs: []string{colID}, Query: "refund policy"}, &search)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, search.Passages)
	assert.Equal(t, doc.ID, search.Passages[0].DocumentID)

	var got DocumentResponse
	require.Equal(t, http.StatusOK, ts.doJSON(http.MethodGet, "/v1/documents/"+doc.ID, nil, &got))
	assert.Equal(t, "embedded", got.Status)
}

func TestServer_SearchErrors(t *testing.T) {
	ts := setupTestServer(t)
	colID, _ := ts.catalog()

	code := ts.doJSON(http.MethodPost, "/v1/search", SearchRequest{CollectionIDs: []string{colID}, Query: "q", TopK: intPtr(-1)}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	// An explicit zero is rejected rather than replaced by the default.
	rec := ts.do(http.MethodPost, "/v1/search", strings.NewReader(`{"collection_ids":["`+colID+`"],"query":"q","top_k":0}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "top")

	code = ts.doJSON(http.MethodPost, "/v1/search", SearchRequest{CollectionIDs: []string{"missing"}, Query: "q"}, nil)
	assert.Equal(t, http.StatusNotFound, code)

	var search SearchResponse
	code = ts.doJSON(http.MethodPost, "/v1/search", SearchRequest{CollectionIDs: []string{colID}, Query: "q"}, &search)
	require.Equal(t, http.StatusOK, code)
	assert.NotNil(t, search.Passages)
	assert.Empty(t, search.Passages)
}

func intPtr(n int) *int { return &n }

func TestServer_RequiresTenant(t *testing.T) {
	ts := setupTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), HeaderTenantID)
}

func TestServer_TenantIsolation(t *testing.T) {
	ts := setupTestServer(t)
	colID, catID := ts.catalog()
	doc := ts.upload(catID, "notes.txt", "private notes")

	other, err := ts.app.Store.CreateOrganization(context.Background(), "globex")
	require.NoError(t, err)
	ts.tenant = other.ID

	assert.Equal(t, http.StatusNotFound, ts.doJSON(http.MethodGet, "/v1/documents/"+doc.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, ts.doJSON(http.MethodPost, "/v1/collections/"+colID+"/sync", nil, nil))
}

func TestServer_ReplaceAndMark(t *testing.T) {
	ts := setupTestServer(t)
	colID, catID := ts.catalog()
	doc := ts.upload(catID, "faq.txt", "first version")
	require.Equal(t, http.StatusOK, ts.doJSON(http.MethodPost, "/v1/collections/"+colID+"/sync", nil, nil))

	rec := ts.do(http.MethodPut, "/v1/documents/"+doc.ID, strings.NewReader("second version"), "text/plain")
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	var got DocumentResponse
	require.Equal(t, http.StatusOK, ts.doJSON(http.MethodGet, "/v1/documents/"+doc.ID, nil, &got))
	assert.Equal(t, "updated", got.Status)

	var sync SyncResponse
	require.Equal(t, http.StatusOK, ts.doJSON(http.MethodPost, "/v1/collections/"+colID+"/sync", nil, &sync))
	assert.Equal(t, 1, sync.Updated)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/v1/documents/"+doc.ID+"/mark?status=embedded", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/v1/documents/"+doc.ID+"/mark?status=bogus", nil, "").Code)
	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodPost, "/v1/documents/"+doc.ID+"/mark?status=deleted", nil, "").Code)

	rec = ts.do(http.MethodPut, "/v1/documents/"+doc.ID, strings.NewReader("third version"), "text/plain")
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Equal(t, http.StatusOK, ts.doJSON(http.MethodPost, "/v1/collections/"+colID+"/sync", nil, &sync))
	assert.Equal(t, 1, sync.Deleted)
	assert.Equal(t, http.StatusNotFound, ts.doJSON(http.MethodGet, "/v1/documents/"+doc.ID, nil, nil))
}

func TestServer_SignedDownload(t *testing.T) {
	ts := setupTestServer(t)
	_, catID := ts.catalog()
	doc := ts.upload(catID, "report.txt", "quarterly numbers")

	var out URLResponse
	require.Equal(t, http.StatusOK, ts.doJSON(http.MethodGet, "/v1/documents/"+doc.ID+"/url?ttl=5m", nil, &out))
	u, err := url.Parse(out.URL)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", u.Host)

	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.RequestURI(), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "quarterly numbers", rec.Body.String())

	q := u.Query()
	q.Set("signature", strings.Repeat("0", len(q.Get("signature"))))
	rec = httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, u.Path+"?"+q.Encode(), nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/v1/documents/"+doc.ID+"/url?ttl=soon", nil, "").Code)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)

	rec = ts.do(http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = ts.do(http.MethodGet, "/", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ragindex")
}

func TestNewServer_RequiresApp(t *testing.T) {
	_, err := NewServer(nil, "")
	assert.Error(t, err)
}
