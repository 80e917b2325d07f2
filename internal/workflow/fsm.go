package workflow

import (
	"fmt"
	"time"

	"github.com/quantforge/alphagate/internal/domain"
	"github.com/quantforge/alphagate/internal/events"
)

// validTransitions defines the legal run state transitions.
// Each key is a source state, and the value is the set of valid target states.
var validTransitions = map[domain.RunStatus]map[domain.RunStatus]bool{
	domain.RunPending: {
		domain.RunGenerated:             true,
		domain.RunBlocked:               true,
		domain.RunGenerationUnavailable: true,
	},
	domain.RunGenerated: {
		domain.RunValidating:            true,
		domain.RunBlocked:               true, // structural regeneration refused by the ledger
		domain.RunGenerationUnavailable: true,
		domain.RunGaveUp:                true, // structural repairs exhausted
	},
	domain.RunValidating: {domain.RunPassed: true, domain.RunFailed: true},
	domain.RunFailed: {
		domain.RunRetrying: true,
		domain.RunGaveUp:   true,
		domain.RunBlocked:  true, // expansion could not fit its reserve
	},
	domain.RunRetrying: {
		domain.RunPassed:                true,
		domain.RunFailed:                true,
		domain.RunBlocked:               true,
		domain.RunGenerationUnavailable: true,
		domain.RunGaveUp:                true,
	},
}

// IsValidTransition checks if a run state transition is legal.
func IsValidTransition(from, to domain.RunStatus) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// run is the mutable record of one candidate while its loop executes.
// It is owned by a single goroutine.
type run struct {
	state   *domain.RunState
	sink    events.Sink
	now     func() time.Time
	seq     int64
	attempt int

	structuralFailures int
}

func newRun(runID, candidateID, query string, sink events.Sink, now func() time.Time) *run {
	ts := now().Unix()
	return &run{
		state: &domain.RunState{
			RunID:         runID,
			CandidateID:   candidateID,
			Query:         query,
			Status:        domain.RunPending,
			StateVersion:  1,
			CreatedAtUnix: ts,
			UpdatedAtUnix: ts,
		},
		sink: sink,
		now:  now,
	}
}

// transition moves the run to the target state.
func (r *run) transition(to domain.RunStatus) error {
	from := r.state.Status
	if from.Terminal() {
		return domain.NewEngineError(
			domain.ErrRunAlreadyTerminal.Code,
			fmt.Sprintf("run %s is %s, cannot move to %s", r.state.RunID, from, to),
		)
	}
	if !IsValidTransition(from, to) {
		return domain.NewEngineError(
			domain.ErrInvalidTransition.Code,
			fmt.Sprintf("illegal transition %s -> %s", from, to),
		)
	}
	r.state.Status = to
	r.state.StateVersion++
	r.state.UpdatedAtUnix = r.now().Unix()
	return nil
}

// emit records an event on the run and forwards it to the sink.
func (r *run) emit(t domain.EventType, payload map[string]any) {
	r.seq++
	e := domain.RunEvent{
		RunID:       r.state.RunID,
		CandidateID: r.state.CandidateID,
		SeqNo:       r.seq,
		Type:        t,
		Attempt:     r.attempt,
		Payload:     payload,
		CreatedAt:   r.now().Unix(),
	}
	r.state.Events = append(r.state.Events, e)
	if r.sink != nil {
		r.sink.Emit(e)
	}
}
