package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Create organizations, collections and categories",
}

var createOrgCmd = &cobra.Command{
	Use:   "create-org NAME",
	Short: "Create an organization and print its tenant ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		org, err := a.Store.CreateOrganization(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), org.ID)
		return nil
	},
}

var createCollectionCmd = &cobra.Command{
	Use:   "create-collection NAME",
	Short: "Create a collection for --tenant and print its ID",
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

		col, err := a.Store.CreateCollection(cmd.Context(), tenantID, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), col.ID)
		return nil
	},
}

var categoryCollection string

var createCategoryCmd = &cobra.Command{
	Use:   "create-category NAME",
	Short: "Create a category inside --collection and print its ID",
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

		cat, err := a.Store.CreateCategory(cmd.Context(), tenantID, categoryCollection, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cat.ID)
		return nil
	},
}

func init() {
	createCategoryCmd.Flags().StringVar(&categoryCollection, "collection", "", "collection ID (required)")
	_ = createCategoryCmd.MarkFlagRequired("collection")

	catalogCmd.AddCommand(createOrgCmd, createCollectionCmd, createCategoryCmd)
	rootCmd.AddCommand(catalogCmd)
}
