// Package main provides the ragindex CLI: catalog setup, uploads, sync,
// search and the HTTP and MCP servers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/ragindex/internal/app"
	"github.com/bull/ragindex/internal/config"
)

var (
	configPath string
	envFile    string
	tenantID   string
	version    = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "ragindex",
	Short: "Multi-tenant document indexing and passage retrieval",
	Long: `ragindex keeps a vector index consistent with uploaded documents and
answers similarity searches over it.

Configuration is read from an optional YAML file (--config) and from
RAGINDEX_* environment variables, e.g. RAGINDEX_EMBEDDING_API_KEY.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file (default: .env if present)")
	rootCmd.PersistentFlags().StringVarP(&tenantID, "tenant", "t", "", "organization (tenant) ID")
}

func main() {
	// Cancel on SIGTERM/SIGINT so a running sync stops between documents
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the env file, then the config file and environment.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	} else {
		// .env is optional in production
		_ = godotenv.Load()
	}
	return config.Load(configPath)
}

// openApp builds every component. Logs go to stderr so stdout stays free for
// command output and the MCP stdio transport.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := app.NewLogger(cfg.Log, os.Stderr)
	return app.New(ctx, cfg, logger)
}

func requireTenant() error {
	if tenantID == "" {
		return fmt.Errorf("--tenant is required")
	}
	return nil
}
