package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quantforge/alphagate/internal/generation"
)

func newCatalogImportCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a YAML or JSON catalog into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read catalog: %w", err)
			}
			a, err := newApp(cmd.Context(), opts, generation.Synthetic{})
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.store.ImportCatalog(cmd.Context(), args[0], doc)
			if err != nil {
				return err
			}
			ops, datasets, fields := snap.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s: %d operators, %d datasets, %d fields\n",
				args[0], ops, datasets, fields)
			return nil
		},
	}
}

func newCatalogStatsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the size of the active catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts, generation.Synthetic{})
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.catalog.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			ops, datasets, fields := snap.Stats()
			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
				"operators":     ops,
				"datasets":      datasets,
				"fields":        fields,
				"subcategories": len(snap.Subcategories()),
			})
		},
	}
}
