package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quantforge/alphagate/internal/catalog"
	"github.com/quantforge/alphagate/internal/domain"
)

// Store bundles the repositories over one database. It archives terminal
// runs for the handoff, audits handoff requests, seeds the budget ledger and
// serves imported catalogs.
type Store struct {
	db       *sql.DB
	runs     RunRepo
	events   EventRepo
	attempts AttemptRepo
	usage    UsageRepo
	catalogs CatalogRepo
	audit    AuditRepo
	now      func() time.Time
}

// New wraps an open database.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

// Archive writes a terminal run with its attempts, events and token usage
// in one transaction. Archiving the same run twice fails with ErrDuplicateRun.
func (s *Store) Archive(ctx context.Context, state *domain.RunState) error {
	if !state.Status.Terminal() {
		return domain.NewEngineError(domain.ErrInvalidTransition.Code,
			fmt.Sprintf("run %s is not terminal (state=%s)", state.RunID, state.Status))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "begin archive", err)
	}
	defer tx.Rollback()

	v, err := s.runs.VersionTx(ctx, tx, state.RunID)
	if err != nil {
		return domain.WrapEngineError(domain.ErrStoreQuery.Code, "archive run", err)
	}
	if v != 0 {
		return domain.NewEngineError(domain.ErrDuplicateRun.Code, "run "+state.RunID+" already archived")
	}
	if err := s.runs.CreateTx(ctx, tx, state); err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "archive run", err)
	}
	for _, a := range state.Attempts {
		if err := s.attempts.InsertTx(ctx, tx, state.RunID, a); err != nil {
			return domain.WrapEngineError(domain.ErrStoreWrite.Code, "archive run", err)
		}
	}
	for _, e := range state.Events {
		if err := s.events.AppendTx(ctx, tx, e); err != nil {
			return domain.WrapEngineError(domain.ErrDuplicateEvent.Code, "archive run", err)
		}
	}
	if state.TokensReserved > 0 {
		rec := domain.UsageRecord{
			RunID:     state.RunID,
			Tokens:    state.TokensReserved,
			Reason:    "generation",
			CreatedAt: state.UpdatedAtUnix,
		}
		if err := s.usage.CreateTx(ctx, tx, rec); err != nil {
			return domain.WrapEngineError(domain.ErrStoreWrite.Code, "archive run", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "commit archive", err)
	}
	return nil
}

// LoadRun reads an archived run back with its attempts and events.
func (s *Store) LoadRun(ctx context.Context, runID string) (*domain.RunState, error) {
	st, err := s.runs.GetByID(ctx, s.db, runID)
	if err != nil {
		return nil, err
	}
	if st.Attempts, err = s.attempts.ListByRun(ctx, s.db, runID); err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "load attempts", err)
	}
	if st.Events, err = s.events.ListByRun(ctx, s.db, runID, 0); err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "load events", err)
	}
	return st, nil
}

// Events returns the archived events of a run after sinceSeq.
func (s *Store) Events(ctx context.Context, runID string, sinceSeq int64) ([]domain.RunEvent, error) {
	return s.events.ListByRun(ctx, s.db, runID, sinceSeq)
}

// RecentRuns returns summaries of the most recently finished runs.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	runs, err := s.runs.ListRecent(ctx, s.db, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.RunSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.Summary())
	}
	return out, nil
}

// DayUsage returns the tokens archived for a UTC day ("2006-01-02").
func (s *Store) DayUsage(ctx context.Context, day string) (int64, error) {
	return s.usage.SumByDay(ctx, s.db, day)
}

// RecordHandoff audits a validated-candidate request.
func (s *Store) RecordHandoff(ctx context.Context, runID string, allowed bool, blockers []string) error {
	return s.audit.Record(ctx, s.db, HandoffRecord{
		ID:        uuid.NewString(),
		RunID:     runID,
		Allowed:   allowed,
		Blockers:  blockers,
		CreatedAt: s.now().UnixNano(),
	})
}

// HandoffAudit lists the audited handoff requests of a run.
func (s *Store) HandoffAudit(ctx context.Context, runID string) ([]HandoffRecord, error) {
	return s.audit.ListByRun(ctx, s.db, runID)
}

// ImportCatalog parses a catalog document and stores it as the current
// catalog. Documents that do not form a consistent snapshot are rejected.
func (s *Store) ImportCatalog(ctx context.Context, source string, doc []byte) (*catalog.Snapshot, error) {
	snap, err := catalog.Parse(doc)
	if err != nil {
		return nil, err
	}
	ops, datasets, fields := snap.Stats()
	sum := sha256.Sum256(doc)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreWrite.Code, "begin catalog import", err)
	}
	defer tx.Rollback()
	_, err = s.catalogs.SaveTx(ctx, tx, CatalogRecord{
		Source:    source,
		Document:  doc,
		Checksum:  hex.EncodeToString(sum[:]),
		Operators: ops,
		Datasets:  datasets,
		Fields:    fields,
		CreatedAt: s.now().Unix(),
	})
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreWrite.Code, "import catalog", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreWrite.Code, "commit catalog import", err)
	}
	return snap, nil
}

// Snapshot returns the most recently imported catalog, so a Store can serve
// as a catalog.Provider.
func (s *Store) Snapshot(ctx context.Context) (*catalog.Snapshot, error) {
	rec, err := s.catalogs.GetLatest(ctx, s.db)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrCatalogLoad.Code, "load catalog", err)
	}
	if rec == nil {
		return nil, domain.ErrCatalogEmpty
	}
	return catalog.Parse(rec.Document)
}

// LatestCatalog returns metadata of the current imported catalog, or nil.
func (s *Store) LatestCatalog(ctx context.Context) (*CatalogRecord, error) {
	return s.catalogs.GetLatest(ctx, s.db)
}
