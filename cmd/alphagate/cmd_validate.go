package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quantforge/alphagate/internal/fastexpr"
	"github.com/quantforge/alphagate/internal/generation"
)

var errValidationFailed = errors.New("expression failed validation")

func newValidateCmd(opts *globalOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate [expression]",
		Short: "Validate a FastExpr expression against the catalog",
		Long: `Validate prints the validation report of an expression as JSON and exits
non-zero when the expression fails. Pass the expression as arguments, or
use --file (- for stdin).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			expr, err := readExpression(cmd.InOrStdin(), file, args)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), opts, generation.Synthetic{})
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.catalog.Snapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}
			report := fastexpr.Validate(expr, snap)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if !report.Passed {
				return errValidationFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the expression from a file (- for stdin)")
	return cmd
}

func readExpression(stdin io.Reader, file string, args []string) (string, error) {
	switch {
	case file == "-":
		b, err := io.ReadAll(stdin)
		return string(b), err
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read expression: %w", err)
		}
		return string(b), nil
	case len(args) > 0:
		return strings.Join(args, " "), nil
	}
	return "", errors.New("no expression given")
}
