package events

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quantforge/alphagate/internal/domain"
)

// LogHandler returns a handler that writes each event to logger. Budget
// blocks go out at warn, summaries at info, everything else at debug.
func LogHandler(logger *zap.Logger) Handler {
	return func(e domain.RunEvent) {
		level := zapcore.DebugLevel
		switch e.Type {
		case domain.EventBudgetBlocked, domain.EventBudgetCheckFailed:
			level = zapcore.WarnLevel
		case domain.EventRunSummary:
			level = zapcore.InfoLevel
		}
		if ce := logger.Check(level, "pipeline event"); ce != nil {
			ce.Write(
				zap.String("run_id", e.RunID),
				zap.String("candidate_id", e.CandidateID),
				zap.String("event_type", string(e.Type)),
				zap.Int64("seq_no", e.SeqNo),
				zap.Int("attempt", e.Attempt),
				zap.Any("payload", e.Payload),
			)
		}
	}
}

// Recorder keeps every event it receives in memory.
type Recorder struct {
	mu     sync.Mutex
	events []domain.RunEvent
}

// Emit implements Sink.
func (r *Recorder) Emit(e domain.RunEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Handle is Emit as a Handler, for Bus.Subscribe.
func (r *Recorder) Handle(e domain.RunEvent) { r.Emit(e) }

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []domain.RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.RunEvent(nil), r.events...)
}

// ByRun returns the events of one run in emission order.
func (r *Recorder) ByRun(runID string) []domain.RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RunEvent
	for _, e := range r.events {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}

// Types lists the event types of one run in emission order.
func (r *Recorder) Types(runID string) []domain.EventType {
	evs := r.ByRun(runID)
	out := make([]domain.EventType, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}
