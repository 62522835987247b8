package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	searchCollections []string
	searchTopK        int
)

var searchCmd = &cobra.Command{
	Use:   "search QUERY...",
	Short: "Search indexed passages of one or more collections",
	Long: `Embeds the query and prints the closest passages, most relevant first.

Examples:
  ragindex search -t <org> --collection <id> refund policy
  ragindex search -t <org> --collection a --collection b --top-k 5 shipping`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		topK := searchTopK
		if !cmd.Flags().Changed("top-k") {
			topK = a.Retrieval.DefaultTopK()
		}
		passages, err := a.Retrieval.Search(ctx, tenantID, searchCollections, strings.Join(args, " "), topK)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(passages) == 0 {
			fmt.Fprintln(out, "No matching passages found.")
			return nil
		}
		for i, p := range passages {
			fmt.Fprintf(out, "%d. [%.4f] document %s #%d\n", i+1, p.Distance, p.DocumentID, p.Position)
			fmt.Fprintf(out, "   %s\n\n", strings.ReplaceAll(strings.TrimSpace(p.Content), "\n", "\n   "))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringSliceVar(&searchCollections, "collection", nil, "collection ID, repeatable (required)")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "number of passages (default: retrieval.top_k)")
	_ = searchCmd.MarkFlagRequired("collection")
	rootCmd.AddCommand(searchCmd)
}
