package workflow

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quantforge/alphagate/internal/catalog"
	"github.com/quantforge/alphagate/internal/domain"
)

// BatchResetter starts a new batch scope on a ledger.
type BatchResetter interface {
	ResetBatch()
}

// BatchRunner processes many queries concurrently, one orchestrator run per
// query, sharing a single catalog snapshot.
type BatchRunner struct {
	orch    *Orchestrator
	workers int
	batch   BatchResetter
	logger  *zap.Logger
}

// NewBatchRunner creates a runner with at most workers concurrent runs.
// batch may be nil.
func NewBatchRunner(orch *Orchestrator, workers int, batch BatchResetter, logger *zap.Logger) *BatchRunner {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchRunner{orch: orch, workers: workers, batch: batch, logger: logger}
}

// Run processes every query and returns the run states in query order.
// Queries not started before ctx is cancelled have a nil state. The first
// run error cancels the remaining queries and is returned.
func (b *BatchRunner) Run(ctx context.Context, snap *catalog.Snapshot, queries []string) ([]*domain.RunState, error) {
	if b.batch != nil {
		b.batch.ResetBatch()
	}
	results := make([]*domain.RunState, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, q := range queries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			st, err := b.orch.Run(gctx, Request{Query: q, Snapshot: snap})
			results[i] = st
			if err != nil {
				b.logger.Error("run failed", zap.String("query", q), zap.Error(err))
			}
			return err
		})
	}
	err := g.Wait()
	return results, err
}
