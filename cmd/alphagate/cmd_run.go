package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quantforge/alphagate/internal/domain"
	"github.com/quantforge/alphagate/internal/generation"
	"github.com/quantforge/alphagate/internal/workflow"
)

func newRunCmd(opts *globalOptions) *cobra.Command {
	var (
		dryRun      bool
		runID       string
		queriesFile string
	)
	cmd := &cobra.Command{
		Use:   "run [query]",
		Short: "Generate and validate candidates for one or more queries",
		Long: `Run drives each query through selection, generation, validation and
repair, then prints one run summary per line as JSON. With --queries-file
every non-empty line is a query and runs execute concurrently.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			queries, err := collectQueries(args, queriesFile)
			if err != nil {
				return err
			}
			if runID != "" && len(queries) > 1 {
				return errors.New("--run-id needs exactly one query")
			}

			var gen workflow.Generator
			if dryRun {
				gen = generation.Synthetic{}
			}
			a, err := newApp(cmd.Context(), opts, gen)
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.catalog.Snapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}

			var states []*domain.RunState
			if len(queries) == 1 {
				st, err := a.orch.Run(cmd.Context(), workflow.Request{RunID: runID, Query: queries[0], Snapshot: snap})
				if err != nil {
					return err
				}
				states = append(states, st)
			} else {
				if states, err = a.batch.Run(cmd.Context(), snap, queries); err != nil {
					return err
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, st := range states {
				if st == nil {
					continue
				}
				if err := enc.Encode(st.Summary()); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "draft from the context pack instead of calling the LLM")
	cmd.Flags().StringVar(&runID, "run-id", "", "run id for a single query (default: random)")
	cmd.Flags().StringVar(&queriesFile, "queries-file", "", "file with one query per line")
	return cmd
}

func collectQueries(args []string, file string) ([]string, error) {
	var queries []string
	if q := strings.TrimSpace(strings.Join(args, " ")); q != "" {
		queries = append(queries, q)
	}
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("open queries file: %w", err)
		}
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
				queries = append(queries, line)
			}
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read queries file: %w", err)
		}
	}
	if len(queries) == 0 {
		return nil, errors.New("no query given")
	}
	return queries, nil
}
