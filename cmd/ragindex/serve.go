package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bull/ragindex/internal/httpapi"
	mcpserver "github.com/bull/ragindex/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST API, MCP over HTTP, health and metrics",
	Long: `Starts the HTTP server on server.addr:

  /v1/*     REST API (X-Tenant-ID header selects the tenant)
  /mcp      MCP Streamable HTTP transport
  /health   document store health
  /metrics  Prometheus metrics`,
	RunE: runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server over stdio for local clients",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		server := mcpserver.NewServer(&mcpserver.Config{
			Searcher: a.Retrieval,
			Syncer:   a.Engine,
			Version:  version,
		})
		a.Logger.Info("Starting ragindex MCP server (stdio mode)")
		if err := server.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, mcpCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	server, err := httpapi.NewServer(a, version)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
