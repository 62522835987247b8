package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/ragindex/internal/document"
	"github.com/bull/ragindex/internal/errs"
	"github.com/bull/ragindex/internal/ingest"
)

var (
	uploadCategory string
	uploadName     string
	urlTTL         time.Duration
)

var uploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "Upload a file into a category as a pending document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		doc, err := a.Ingest.Upload(cmd.Context(), ingest.Upload{
			TenantID:   tenantID,
			CategoryID: uploadCategory,
			Filename:   filepath.Base(args[0]),
			Name:       uploadName,
			Content:    f,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", doc.ID, doc.Status, doc.Name)
		return nil
	},
}

var replaceCmd = &cobra.Command{
	Use:   "replace DOCUMENT_ID FILE",
	Short: "Replace a document's content and flag it for re-indexing",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			return err
		}
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Ingest.Replace(cmd.Context(), tenantID, args[0], f)
	},
}

var markCmd = &cobra.Command{
	Use:   "mark DOCUMENT_ID updated|deleted",
	Short: "Flag a document for re-indexing or removal by the next sync",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			return err
		}
		status, err := document.ParseStatus(args[1])
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		switch status {
		case document.StatusUpdated:
			return a.Ingest.MarkUpdated(cmd.Context(), tenantID, args[0])
		case document.StatusDeleted:
			return a.Ingest.Remove(cmd.Context(), tenantID, args[0])
		default:
			return errs.Validationf("documents can only be marked %s or %s", document.StatusUpdated, document.StatusDeleted)
		}
	},
}

var urlCmd = &cobra.Command{
	Use:   "url DOCUMENT_ID",
	Short: "Print a time-limited download URL for a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		u, err := a.Ingest.DownloadURL(cmd.Context(), tenantID, args[0], urlTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), u)
		return nil
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadCategory, "category", "", "category ID (required)")
	uploadCmd.Flags().StringVar(&uploadName, "name", "", "display name (default: first markdown heading or file name)")
	_ = uploadCmd.MarkFlagRequired("category")
	urlCmd.Flags().DurationVar(&urlTTL, "ttl", 0, "URL lifetime (default 1h)")

	rootCmd.AddCommand(uploadCmd, replaceCmd, markCmd, urlCmd)
}
