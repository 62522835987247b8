package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/ragindex/internal/document"
)

var syncCollection string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile a collection with the vector index",
	Long: `Brings the vector index in line with the documents of one collection.

This command:
1. Drops the chunks and records of documents marked deleted
2. Indexes pending documents and re-indexes updated ones
3. Marks every successfully indexed document embedded

Documents that fail keep their status and are retried by the next sync.`,
	RunE: runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show document counts per status and indexed chunks for a collection",
	RunE:  runStatus,
}

func init() {
	for _, c := range []*cobra.Command{syncCmd, statusCmd} {
		c.Flags().StringVar(&syncCollection, "collection", "", "collection ID (required)")
		_ = c.MarkFlagRequired("collection")
		rootCmd.AddCommand(c)
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Starting sync...")
	result, err := a.Engine.Sync(ctx, tenantID, syncCollection)
	if result != nil {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  Added:    %d\n", result.Added)
		fmt.Fprintf(out, "  Updated:  %d\n", result.Updated)
		fmt.Fprintf(out, "  Deleted:  %d\n", result.Deleted)
		fmt.Fprintf(out, "  Chunks:   %d\n", result.Chunks)
		fmt.Fprintf(out, "  Duration: %s\n", result.Duration.Round(time.Millisecond))

		if len(result.Failed) > 0 {
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Failed documents:")
			for _, failed := range result.Failed {
				fmt.Fprintf(out, "  - %s (%s): %s\n", failed.Name, failed.DocumentID, failed.Reason)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Sync complete!")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.Engine.Inspect(ctx, tenantID, syncCollection)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, status := range document.Statuses {
		fmt.Fprintf(out, "  %-9s %d\n", status, st.Documents[status])
	}
	fmt.Fprintf(out, "  chunks    %d\n", st.Chunks)
	if n := st.Pending(); n > 0 {
		fmt.Fprintf(out, "\n%d documents are waiting for a sync.\n", n)
	}
	return nil
}
