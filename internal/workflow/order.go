package workflow

import "github.com/quantforge/alphagate/internal/domain"

type auditPhase int

const (
	auditIdle auditPhase = iota
	auditAwaitFirst
	auditFailed
	auditAwaitRetry
	auditPassed
)

// EventOrderViolation reports whether a run's events break the order
// candidate.generated, validation.started, validation.passed|failed, then
// zero or more retry_started followed by retry_passed|retry_failed. Every
// retry must follow a failure and nothing may follow a pass. Events of
// other types are ignored. A run that never started validating has no order
// to break.
func EventOrderViolation(evs []domain.RunEvent) bool {
	generated := false
	phase := auditIdle
	for _, e := range evs {
		switch e.Type {
		case domain.EventCandidateGenerated:
			generated = true
		case domain.EventValidationStarted:
			if !generated || phase != auditIdle {
				return true
			}
			phase = auditAwaitFirst
		case domain.EventValidationPassed, domain.EventValidationFailed:
			if phase != auditAwaitFirst {
				return true
			}
			phase = outcome(e.Type == domain.EventValidationPassed)
		case domain.EventRetryStarted:
			if phase != auditFailed {
				return true
			}
			phase = auditAwaitRetry
		case domain.EventRetryPassed, domain.EventRetryFailed:
			if phase != auditAwaitRetry {
				return true
			}
			phase = outcome(e.Type == domain.EventRetryPassed)
		}
	}
	return phase == auditAwaitFirst || phase == auditAwaitRetry
}

func outcome(passed bool) auditPhase {
	if passed {
		return auditPassed
	}
	return auditFailed
}
