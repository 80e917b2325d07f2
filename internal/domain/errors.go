package domain

import "fmt"

// EngineError is the unified error type for the pipeline.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// Is reports whether target is an EngineError with the same code, so that
// errors.Is matches copies produced by NewEngineError and WrapEngineError.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- Run / FSM errors (-32010 to -32039) ----

var (
	ErrInvalidTransition     = &EngineError{Code: -32010, Message: "invalid run state transition"}
	ErrRunNotFound           = &EngineError{Code: -32011, Message: "run not found"}
	ErrRunAlreadyTerminal    = &EngineError{Code: -32012, Message: "run already reached a terminal state"}
	ErrCandidateNotValidated = &EngineError{Code: -32013, Message: "no validated candidate for run"}
	ErrDuplicateRun          = &EngineError{Code: -32015, Message: "run already exists"}
)

// ---- Catalog / validation errors (-32040 to -32069) ----

var (
	ErrCatalogInconsistent = &EngineError{Code: -32040, Message: "catalog snapshot is inconsistent"}
	ErrCatalogLoad         = &EngineError{Code: -32041, Message: "failed to load catalog"}
	ErrCatalogEmpty        = &EngineError{Code: -32042, Message: "catalog has no operators or fields"}
)

// ---- Generation errors (-32070 to -32099) ----

var (
	ErrGenerationUnavailable = &EngineError{Code: -32070, Message: "generation provider unavailable"}
	ErrDraftUnparseable      = &EngineError{Code: -32071, Message: "draft could not be structurally repaired"}
)

// ---- Budget errors (-32100 to -32129) ----

var (
	ErrBudgetExceeded    = &EngineError{Code: -32100, Message: "budget limit exceeded"}
	ErrBudgetWarning     = &EngineError{Code: -32101, Message: "budget warning threshold reached"}
	ErrRateLimitExceeded = &EngineError{Code: -32102, Message: "rate limit exceeded"}
)

// ---- Store / config errors (-32130 to -32159) ----

var (
	ErrStoreInit      = &EngineError{Code: -32130, Message: "failed to initialize store"}
	ErrStoreQuery     = &EngineError{Code: -32131, Message: "store query failed"}
	ErrStoreWrite     = &EngineError{Code: -32132, Message: "store write failed"}
	ErrConfigInvalid  = &EngineError{Code: -32136, Message: "invalid configuration"}
	ErrDuplicateEvent = &EngineError{Code: -32137, Message: "duplicate event sequence number"}
)
