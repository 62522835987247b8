// Package httpapi serves the ragindex REST API, the MCP Streamable HTTP
// endpoint, health and Prometheus metrics on one echo server.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bull/ragindex/internal/app"
	"github.com/bull/ragindex/internal/errs"
	mcpserver "github.com/bull/ragindex/internal/mcp"
)

// HeaderTenantID names the header that scopes every /v1 request to a tenant.
const HeaderTenantID = "X-Tenant-ID"

// Server provides HTTP endpoints for ragindex.
type Server struct {
	echo   *echo.Echo
	app    *app.App
	logger *slog.Logger
	addr   string
}

// NewServer creates the HTTP server over a built App.
func NewServer(a *app.App, version string) (*Server, error) {
	if a == nil {
		return nil, errors.New("httpapi: app is required")
	}
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Info("HTTP request",
				"method", c.Request().Method,
				"uri", c.Request().RequestURI,
				"status", c.Response().Status,
				"duration", time.Since(start),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)
			return nil
		}
	})

	s := &Server{echo: e, app: a, logger: logger, addr: a.Config.Server.Addr}
	mcp := mcpserver.NewServer(&mcpserver.Config{
		Searcher: a.Retrieval,
		Syncer:   a.Engine,
		Version:  version,
	})
	s.registerRoutes(mcp)
	return s, nil
}

func (s *Server) registerRoutes(mcp *mcpserver.Server) {
	s.echo.GET("/", echo.WrapHandler(mcpserver.NewLandingHandler()))
	s.echo.GET("/health", echo.WrapHandler(mcpserver.NewHealthHandler(s.app)))
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.app.Registry, promhttp.HandlerOpts{})))

	mcpHandler := echo.WrapHandler(mcpserver.NewHTTPHandler(mcp, &mcpserver.HTTPHandlerOptions{
		Stateless: s.app.Config.Server.MCPStateless,
	}))
	s.echo.Any("/mcp", mcpHandler)

	// Signed downloads carry their own authorization.
	s.echo.GET("/v1/objects/*", s.handleObject)

	v1 := s.echo.Group("/v1", requireTenant)
	v1.POST("/collections", s.handleCreateCollection)
	v1.POST("/collections/:id/categories", s.handleCreateCategory)
	v1.POST("/collections/:id/sync", s.handleSync)
	v1.GET("/collections/:id/status", s.handleStatus)
	v1.POST("/search", s.handleSearch)
	v1.POST("/categories/:id/documents", s.handleUpload)
	v1.GET("/documents/:id", s.handleGetDocument)
	v1.PUT("/documents/:id", s.handleReplace)
	v1.DELETE("/documents/:id", s.handleRemove)
	v1.POST("/documents/:id/mark", s.handleMark)
	v1.GET("/documents/:id/url", s.handleDownloadURL)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "addr", s.addr)
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

func requireTenant(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.Request().Header.Get(HeaderTenantID) == "" {
			return echo.NewHTTPError(http.StatusBadRequest, HeaderTenantID+" header is required")
		}
		return next(c)
	}
}

func tenant(c echo.Context) string {
	return c.Request().Header.Get(HeaderTenantID)
}

// fail maps a domain error onto an HTTP error with the matching status.
func (s *Server) fail(c echo.Context, op string, err error) error {
	code := errs.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "op", op, "tenant", tenant(c), "error", err)
	}
	return echo.NewHTTPError(code, err.Error()).SetInternal(err)
}
