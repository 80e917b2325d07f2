package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quantforge/alphagate/internal/catalog"
	"github.com/quantforge/alphagate/internal/generation"
	"github.com/quantforge/alphagate/internal/ipc"
	"github.com/quantforge/alphagate/internal/metrics"
	"github.com/quantforge/alphagate/internal/workflow"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var gen workflow.Generator
			if dryRun {
				gen = generation.Synthetic{}
			}
			a, err := newApp(ctx, opts, gen)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "draft from the context pack instead of calling the LLM")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	g, gctx := errgroup.WithContext(ctx)

	provider := a.catalog
	if a.file != nil {
		w, err := catalog.NewWatcher(gctx, a.file, a.logger)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		provider = w
		g.Go(func() error { return w.Run(gctx) })
	}

	handler := &ipc.Handler{
		Catalog:      provider,
		Orchestrator: a.orch,
		Batch:        a.batch,
		Handoff:      a.handoff,
		Ledger:       a.ledger,
		Store:        a.store,
		Bus:          a.bus,
		Metrics:      metrics.Handler(a.registry),
		Logger:       a.logger,
	}
	srv := ipc.NewServer(handler, a.cfg.ListenAddr)

	l, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	a.logger.Info("alphagate listening", zap.String("addr", l.Addr().String()))

	g.Go(func() error { return srv.Serve(l) })
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
