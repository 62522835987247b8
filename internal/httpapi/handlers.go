package httpapi

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bull/ragindex/internal/document"
	"github.com/bull/ragindex/internal/errs"
	"github.com/bull/ragindex/internal/ingest"
	"github.com/bull/ragindex/internal/reconcile"
	"github.com/bull/ragindex/internal/retrieval"
)

// CreateRequest is the request body for creating a collection or category.
type CreateRequest struct {
	Name string `json:"name"`
}

// CatalogResponse describes a created collection or category.
type CatalogResponse struct {
	ID           string `json:"id"`
	CollectionID string `json:"collection_id,omitempty"`
	Name         string `json:"name"`
}

// SearchRequest is the request body for POST /v1/search. A nil TopK uses the
// server default.
type SearchRequest struct {
	CollectionIDs []string `json:"collection_ids"`
	Query         string   `json:"query"`
	TopK          *int     `json:"top_k,omitempty"`
}

// SearchResponse is the response body for POST /v1/search.
type SearchResponse struct {
	Passages []retrieval.Passage `json:"passages"`
}

// SyncResponse reports the outcome of POST /v1/collections/:id/sync.
type SyncResponse struct {
	Added      int              `json:"added"`
	Deleted    int              `json:"deleted"`
	Updated    int              `json:"updated"`
	Chunks     int              `json:"chunks"`
	Failed     []FailedDocument `json:"failed"`
	DurationMS int64            `json:"duration_ms"`
}

// FailedDocument is a document the sync skipped.
type FailedDocument struct {
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
	Reason     string `json:"reason"`
}

// StatusResponse reports index status for a collection.
type StatusResponse struct {
	Documents map[string]int `json:"documents"`
	Chunks    int            `json:"chunks"`
	Pending   int            `json:"pending"`
}

// DocumentResponse describes a document.
type DocumentResponse struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collection_id"`
	CategoryID   string    `json:"category_id"`
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// URLResponse carries a time-limited download URL.
type URLResponse struct {
	URL string `json:"url"`
}

func newDocumentResponse(d *document.Document) DocumentResponse {
	return DocumentResponse{
		ID:           d.ID,
		CollectionID: d.CollectionID,
		CategoryID:   d.CategoryID,
		Name:         d.Name,
		Status:       string(d.Status),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func (s *Server) handleCreateCollection(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Name) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	col, err := s.app.Store.CreateCollection(c.Request().Context(), tenant(c), req.Name)
	if err != nil {
		return s.fail(c, "create collection", err)
	}
	return c.JSON(http.StatusCreated, CatalogResponse{ID: col.ID, Name: col.Name})
}

func (s *Server) handleCreateCategory(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Name) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	cat, err := s.app.Store.CreateCategory(c.Request().Context(), tenant(c), c.Param("id"), req.Name)
	if err != nil {
		return s.fail(c, "create category", err)
	}
	return c.JSON(http.StatusCreated, CatalogResponse{ID: cat.ID, CollectionID: cat.CollectionID, Name: cat.Name})
}

func (s *Server) handleSync(c echo.Context) error {
	res, err := s.app.Engine.Sync(c.Request().Context(), tenant(c), c.Param("id"))
	if err != nil {
		return s.fail(c, "sync", err)
	}
	return c.JSON(http.StatusOK, newSyncResponse(res))
}

func newSyncResponse(res *reconcile.Result) SyncResponse {
	failed := make([]FailedDocument, len(res.Failed))
	for i, f := range res.Failed {
		failed[i] = FailedDocument{DocumentID: f.DocumentID, Name: f.Name, Reason: f.Reason}
	}
	return SyncResponse{
		Added:      res.Added,
		Deleted:    res.Deleted,
		Updated:    res.Updated,
		Chunks:     res.Chunks,
		Failed:     failed,
		DurationMS: res.Duration.Milliseconds(),
	}
}

func (s *Server) handleStatus(c echo.Context) error {
	st, err := s.app.Engine.Inspect(c.Request().Context(), tenant(c), c.Param("id"))
	if err != nil {
		return s.fail(c, "status", err)
	}
	docs := make(map[string]int, len(document.Statuses))
	for _, status := range document.Statuses {
		docs[string(status)] = st.Documents[status]
	}
	return c.JSON(http.StatusOK, StatusResponse{Documents: docs, Chunks: st.Chunks, Pending: st.Pending()})
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	topK := s.app.Retrieval.DefaultTopK()
	if req.TopK != nil {
		topK = *req.TopK
	}
	passages, err := s.app.Retrieval.Search(c.Request().Context(), tenant(c), req.CollectionIDs, req.Query, topK)
	if err != nil {
		return s.fail(c, "search", err)
	}
	if passages == nil {
		passages = []retrieval.Passage{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Passages: passages})
}

func (s *Server) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required")
	}
	f, err := fh.Open()
	if err != nil {
		return s.fail(c, "upload", err)
	}
	defer f.Close()

	doc, err := s.app.Ingest.Upload(c.Request().Context(), ingest.Upload{
		TenantID:   tenant(c),
		CategoryID: c.Param("id"),
		Filename:   fh.Filename,
		Name:       c.FormValue("name"),
		Content:    f,
	})
	if err != nil {
		return s.fail(c, "upload", err)
	}
	return c.JSON(http.StatusCreated, newDocumentResponse(doc))
}

func (s *Server) handleGetDocument(c echo.Context) error {
	doc, err := s.app.Store.Get(c.Request().Context(), tenant(c), c.Param("id"))
	if err != nil {
		return s.fail(c, "get document", err)
	}
	return c.JSON(http.StatusOK, newDocumentResponse(doc))
}

func (s *Server) handleReplace(c echo.Context) error {
	body := c.Request().Body
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required")
		}
		f, err := fh.Open()
		if err != nil {
			return s.fail(c, "replace", err)
		}
		defer f.Close()
		body = f
	}
	if err := s.app.Ingest.Replace(c.Request().Context(), tenant(c), c.Param("id"), body); err != nil {
		return s.fail(c, "replace", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRemove(c echo.Context) error {
	if err := s.app.Ingest.Remove(c.Request().Context(), tenant(c), c.Param("id")); err != nil {
		return s.fail(c, "remove", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleMark(c echo.Context) error {
	status, err := document.ParseStatus(c.QueryParam("status"))
	if err != nil {
		return s.fail(c, "mark", err)
	}
	ctx := c.Request().Context()
	switch status {
	case document.StatusUpdated:
		err = s.app.Ingest.MarkUpdated(ctx, tenant(c), c.Param("id"))
	case document.StatusDeleted:
		err = s.app.Ingest.Remove(ctx, tenant(c), c.Param("id"))
	default:
		err = errs.Validationf("documents can only be marked %s or %s", document.StatusUpdated, document.StatusDeleted)
	}
	if err != nil {
		return s.fail(c, "mark", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDownloadURL(c echo.Context) error {
	var ttl time.Duration
	if raw := c.QueryParam("ttl"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "ttl must be a positive duration")
		}
		ttl = d
	}
	u, err := s.app.Ingest.DownloadURL(c.Request().Context(), tenant(c), c.Param("id"), ttl)
	if err != nil {
		return s.fail(c, "download url", err)
	}
	return c.JSON(http.StatusOK, URLResponse{URL: u})
}

// handleObject serves a file of the local object store behind a signed URL.
func (s *Server) handleObject(c echo.Context) error {
	local := s.app.LocalObjects()
	if local == nil {
		return echo.NewHTTPError(http.StatusNotFound, "object downloads are not served by this backend")
	}
	remotePath, err := url.PathUnescape(c.Param("*"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid object path")
	}
	if err := local.VerifySignature(remotePath, c.QueryParam("expires"), c.QueryParam("signature")); err != nil {
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}

	rc, err := local.Get(c.Request().Context(), remotePath)
	if err != nil {
		return s.fail(c, "object", err)
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(path.Ext(remotePath))
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	return c.Stream(http.StatusOK, contentType, rc)
}
