package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantforge/alphagate/internal/domain"
	"github.com/quantforge/alphagate/internal/workflow"
)

var (
	_ workflow.RunStore = (*Store)(nil)
	_ workflow.Auditor  = (*Store)(nil)
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

// 2026-03-01 12:00:00 UTC
const testUnix = 1772366400

func passedRun(id string) *domain.RunState {
	return &domain.RunState{
		RunID:            id,
		CandidateID:      "cand-" + id,
		Query:            "price momentum",
		Status:           domain.RunPassed,
		SignatureHistory: []domain.ErrorSignature{"unknown_operator:rnk"},
		TokensReserved:   2400,
		StateVersion:     6,
		CreatedAtUnix:    testUnix - 10,
		UpdatedAtUnix:    testUnix,
		Attempts: []domain.RepairAttempt{
			{
				Index: 1,
				Draft: "rnk(close)",
				Report: domain.ValidationReport{Errors: []domain.ValidationError{
					{Code: domain.CodeUnknownOperator, Token: "rnk"},
				}},
				Action:             domain.ActionDeterministicFix,
				ResultingCandidate: "rank(close)",
				Signature:          "unknown_operator:rnk",
			},
			{
				Index:  2,
				Draft:  "rank(close)",
				Report: domain.ValidationReport{Passed: true, UsedOperators: []string{"rank"}, UsedFields: []string{"close"}},
				Action: domain.ActionNone,
			},
		},
		Events: []domain.RunEvent{
			{RunID: id, CandidateID: "cand-" + id, SeqNo: 1, Type: domain.EventCandidateGenerated, Attempt: 0, CreatedAt: testUnix},
			{RunID: id, CandidateID: "cand-" + id, SeqNo: 2, Type: domain.EventValidationStarted, Attempt: 1, CreatedAt: testUnix},
			{RunID: id, CandidateID: "cand-" + id, SeqNo: 3, Type: domain.EventValidationFailed, Attempt: 1,
				Payload: map[string]any{"errors": []string{"unknown_operator"}}, CreatedAt: testUnix},
		},
	}
}

func TestStore_ArchiveAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Archive(ctx, passedRun("r1")); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	got, err := s.LoadRun(ctx, "r1")
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if got.Status != domain.RunPassed {
		t.Errorf("Status = %q, want passed", got.Status)
	}
	if got.StateVersion != 6 {
		t.Errorf("StateVersion = %d, want 6", got.StateVersion)
	}
	if len(got.SignatureHistory) != 1 || got.SignatureHistory[0] != "unknown_operator:rnk" {
		t.Errorf("SignatureHistory = %v", got.SignatureHistory)
	}
	if len(got.Attempts) != 2 {
		t.Fatalf("len(Attempts) = %d, want 2", len(got.Attempts))
	}
	if got.Attempts[0].ResultingCandidate != "rank(close)" {
		t.Errorf("ResultingCandidate = %q", got.Attempts[0].ResultingCandidate)
	}
	if got.Attempts[0].Report.Errors[0].Code != domain.CodeUnknownOperator {
		t.Errorf("first report code = %q", got.Attempts[0].Report.Errors[0].Code)
	}
	if !got.Attempts[1].Report.Passed {
		t.Error("second attempt should have passed")
	}
	if len(got.Events) != 3 {
		t.Fatalf("len(Events) = %d, want 3", len(got.Events))
	}
	if got.Events[2].Type != domain.EventValidationFailed {
		t.Errorf("Events[2].Type = %q", got.Events[2].Type)
	}
	codes, ok := got.Events[2].Payload["errors"].([]any)
	if !ok || len(codes) != 1 || codes[0] != "unknown_operator" {
		t.Errorf("payload errors = %#v", got.Events[2].Payload["errors"])
	}
	if got.Events[0].Payload != nil {
		t.Errorf("empty payload decoded as %v", got.Events[0].Payload)
	}

	since, err := s.Events(ctx, "r1", 1)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(since) != 2 || since[0].SeqNo != 2 {
		t.Errorf("Events since 1 = %+v", since)
	}
}

func TestStore_ArchiveTwice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Archive(ctx, passedRun("r1")); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	err := s.Archive(ctx, passedRun("r1"))
	if !errors.Is(err, domain.ErrDuplicateRun) {
		t.Fatalf("second Archive: got %v, want ErrDuplicateRun", err)
	}
}

func TestStore_ArchiveRejectsActiveRun(t *testing.T) {
	s := newTestStore(t)
	st := passedRun("r1")
	st.Status = domain.RunRetrying
	if err := s.Archive(context.Background(), st); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("Archive: got %v, want ErrInvalidTransition", err)
	}
}

func TestStore_ArchiveIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	st := passedRun("r1")
	st.Events = append(st.Events, st.Events[0]) // duplicate seq_no

	err := s.Archive(ctx, st)
	if !errors.Is(err, domain.ErrDuplicateEvent) {
		t.Fatalf("Archive: got %v, want ErrDuplicateEvent", err)
	}
	if _, err := s.LoadRun(ctx, "r1"); !errors.Is(err, domain.ErrRunNotFound) {
		t.Errorf("LoadRun after failed archive: got %v, want ErrRunNotFound", err)
	}
	used, err := s.DayUsage(ctx, DayOf(testUnix))
	if err != nil {
		t.Fatalf("DayUsage: %v", err)
	}
	if used != 0 {
		t.Errorf("DayUsage = %d, want 0", used)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.LoadRun(context.Background(), "nope"); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("LoadRun: got %v, want ErrRunNotFound", err)
	}
}

func TestStore_DayUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := passedRun("a")
	b := passedRun("b")
	b.TokensReserved = 600
	c := passedRun("c")
	c.UpdatedAtUnix = testUnix + 86400
	for _, st := range []*domain.RunState{a, b, c} {
		if err := s.Archive(ctx, st); err != nil {
			t.Fatalf("Archive %s: %v", st.RunID, err)
		}
	}

	used, err := s.DayUsage(ctx, "2026-03-01")
	if err != nil {
		t.Fatalf("DayUsage: %v", err)
	}
	if used != 3000 {
		t.Errorf("DayUsage = %d, want 3000", used)
	}
	next, _ := s.DayUsage(ctx, "2026-03-02")
	if next != 2400 {
		t.Errorf("DayUsage next day = %d, want 2400", next)
	}
}

func TestStore_RecentRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := passedRun("old")
	old.UpdatedAtUnix = testUnix - 100
	blocked := passedRun("new")
	blocked.Status = domain.RunBlocked
	blocked.Attempts = nil
	blocked.Reason = "selection: context too large"
	for _, st := range []*domain.RunState{old, blocked} {
		if err := s.Archive(ctx, st); err != nil {
			t.Fatalf("Archive: %v", err)
		}
	}

	sums, err := s.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("len = %d, want 2", len(sums))
	}
	if sums[0].RunID != "new" || sums[0].FinalState != domain.RunBlocked {
		t.Errorf("first summary = %+v", sums[0])
	}
	if sums[0].Reason == "" {
		t.Error("blocked summary lost its reason")
	}
}

func TestStore_HandoffAudit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tick := time.Unix(testUnix, 0)
	s.now = func() time.Time { tick = tick.Add(time.Second); return tick }

	if err := s.RecordHandoff(ctx, "r1", false, []string{"run state is gave_up"}); err != nil {
		t.Fatalf("RecordHandoff: %v", err)
	}
	if err := s.RecordHandoff(ctx, "r1", true, nil); err != nil {
		t.Fatalf("RecordHandoff: %v", err)
	}

	recs, err := s.HandoffAudit(ctx, "r1")
	if err != nil {
		t.Fatalf("HandoffAudit: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
	if recs[0].Allowed || len(recs[0].Blockers) != 1 {
		t.Errorf("first record = %+v", recs[0])
	}
	if !recs[1].Allowed || len(recs[1].Blockers) != 0 {
		t.Errorf("second record = %+v", recs[1])
	}
}

const catalogDoc = `
operators:
  - name: rank
    category: Cross Sectional
    scope: REGULAR
    arity: 1
datasets:
  - id: pv1
    name: Price Volume Data
    category: Price Volume
    subcategory_id: pv-price-volume
fields:
  - id: close
    dataset_id: pv1
    type: matrix
  - id: volume
    dataset_id: pv1
    type: matrix
`

func TestStore_ImportCatalog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Snapshot(ctx); !errors.Is(err, domain.ErrCatalogEmpty) {
		t.Fatalf("Snapshot before import: got %v, want ErrCatalogEmpty", err)
	}

	if _, err := s.ImportCatalog(ctx, "catalog.yaml", []byte(catalogDoc)); err != nil {
		t.Fatalf("ImportCatalog: %v", err)
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, ok := snap.Field("volume"); !ok {
		t.Error("imported catalog lost field volume")
	}

	rec, err := s.LatestCatalog(ctx)
	if err != nil || rec == nil {
		t.Fatalf("LatestCatalog: %v %v", rec, err)
	}
	if rec.Operators != 1 || rec.Fields != 2 || rec.Datasets != 1 {
		t.Errorf("counts = %d/%d/%d", rec.Operators, rec.Datasets, rec.Fields)
	}
	if len(rec.Checksum) != 64 {
		t.Errorf("checksum %q is not sha256 hex", rec.Checksum)
	}
}

func TestStore_ImportRejectsInconsistentCatalog(t *testing.T) {
	s := newTestStore(t)
	doc := `
fields:
  - id: close
    dataset_id: missing
    type: matrix
`
	if _, err := s.ImportCatalog(context.Background(), "bad.yaml", []byte(doc)); err == nil {
		t.Fatal("expected import of inconsistent catalog to fail")
	}
	rec, _ := s.LatestCatalog(context.Background())
	if rec != nil {
		t.Error("rejected catalog was stored")
	}
}

func TestHandoff_ArchivesAndAudits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	h := workflow.NewHandoff(s)
	h.SetAuditor(s)

	if err := h.Record(ctx, passedRun("r1")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	cand, err := h.GetValidatedCandidate(ctx, "r1")
	if err != nil {
		t.Fatalf("GetValidatedCandidate: %v", err)
	}
	if cand.Expression != "rank(close)" {
		t.Errorf("Expression = %q", cand.Expression)
	}

	// A fresh handoff falls back to the archive.
	cold := workflow.NewHandoff(s)
	st, err := cold.State(ctx, "r1")
	if err != nil {
		t.Fatalf("State from archive: %v", err)
	}
	if len(st.Attempts) != 2 {
		t.Errorf("archived attempts = %d, want 2", len(st.Attempts))
	}

	recs, _ := s.HandoffAudit(ctx, "r1")
	if len(recs) != 1 || !recs[0].Allowed {
		t.Errorf("audit = %+v", recs)
	}
}
