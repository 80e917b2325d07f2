// Package domain defines the core types for the alphagate generation pipeline.
package domain

import "sort"

// Scope is the simulation scope an operator is allowed in.
type Scope string

const (
	ScopeRegular   Scope = "REGULAR"
	ScopeSelection Scope = "SELECTION"
	ScopeCombo     Scope = "COMBO"
)

// ValueType is the declared type of a data field.
type ValueType string

const (
	TypeMatrix   ValueType = "MATRIX"
	TypeVector   ValueType = "VECTOR"
	TypeGroup    ValueType = "GROUP"
	TypeUniverse ValueType = "UNIVERSE"
	TypeSymbol   ValueType = "SYMBOL"
)

// ParamKind distinguishes positional from named operator parameters.
type ParamKind string

const (
	ParamPositional ParamKind = "positional"
	ParamNamed      ParamKind = "named"
)

// Param describes one operator parameter.
type Param struct {
	Name     string    `json:"name,omitempty"`
	Kind     ParamKind `json:"kind"`
	TypeHint ValueType `json:"type_hint,omitempty"`
}

// Operator is a catalog operator. A nil Scopes slice means the catalog
// carries no scope metadata for it.
type Operator struct {
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Scopes      []Scope `json:"scopes,omitempty"`
	ArityHint   *int    `json:"arity_hint,omitempty"`
	Params      []Param `json:"params,omitempty"`
	Definition  string  `json:"definition,omitempty"`
	Description string  `json:"description,omitempty"`
}

// AllowsScope reports whether the operator may be used in scope s.
// Operators without scope metadata are allowed everywhere.
func (o Operator) AllowsScope(s Scope) bool {
	if len(o.Scopes) == 0 {
		return true
	}
	for _, sc := range o.Scopes {
		if sc == s {
			return true
		}
	}
	return false
}

// MinArgs returns the number of arguments the catalog says the operator needs.
func (o Operator) MinArgs() int {
	if o.ArityHint != nil {
		return *o.ArityHint
	}
	n := 0
	for _, p := range o.Params {
		if p.Kind == ParamPositional {
			n++
		}
	}
	if n > 0 {
		return 1
	}
	return 0
}

// Field is a catalog data field.
type Field struct {
	ID          string    `json:"id"`
	DatasetID   string    `json:"dataset_id"`
	Type        ValueType `json:"type"`
	Description string    `json:"description,omitempty"`
	Coverage    float64   `json:"coverage,omitempty"`
	AlphaCount  int       `json:"alpha_count,omitempty"`
}

// Dataset is a catalog dataset grouped under a subcategory.
type Dataset struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	Category        string  `json:"category,omitempty"`
	SubcategoryID   string  `json:"subcategory_id"`
	SubcategoryName string  `json:"subcategory_name,omitempty"`
	FieldCount      int     `json:"field_count,omitempty"`
	Coverage        float64 `json:"coverage,omitempty"`
	ValueScore      float64 `json:"value_score,omitempty"`
}

// ErrorCode is the closed set of validation failure classes.
type ErrorCode string

const (
	CodeUnknownOperator       ErrorCode = "unknown_operator"
	CodeUnknownField          ErrorCode = "unknown_field"
	CodeScopeViolation        ErrorCode = "scope_violation"
	CodeTypeViolation         ErrorCode = "type_violation"
	CodeParenMismatch         ErrorCode = "paren_mismatch"
	CodeEmptyCallArgs         ErrorCode = "empty_call_args"
	CodeMissingTerminalReturn ErrorCode = "missing_terminal_return"
	CodeDuplicateTerminal     ErrorCode = "duplicate_terminal"
	CodeUndeclaredVariable    ErrorCode = "undeclared_variable"
)

// Severity ranks how badly an error blocks simulation.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

type codeInfo struct {
	severity Severity
	hint     string
}

var errorCodeInfo = map[ErrorCode]codeInfo{
	CodeUnknownOperator:       {SeverityHigh, "use only operators listed in the context pack"},
	CodeUnknownField:          {SeverityHigh, "use only field ids listed in the context pack"},
	CodeScopeViolation:        {SeverityHigh, "replace the operator with one allowed in REGULAR scope"},
	CodeTypeViolation:         {SeverityMedium, "ts_ operators take MATRIX fields; group_ operators need a GROUP argument; VECTOR fields only go inside vec_ operators"},
	CodeParenMismatch:         {SeverityHigh, "balance parentheses and close string literals"},
	CodeEmptyCallArgs:         {SeverityMedium, "pass at least the required arguments to every operator"},
	CodeMissingTerminalReturn: {SeverityHigh, "end every assignment with ';' and finish with one bare expression without ';'"},
	CodeDuplicateTerminal:     {SeverityHigh, "only the last statement may be a bare expression"},
	CodeUndeclaredVariable:    {SeverityHigh, "assign variables before using them"},
}

// AllErrorCodes lists every ErrorCode in a stable order.
var AllErrorCodes = []ErrorCode{
	CodeUnknownOperator,
	CodeUnknownField,
	CodeScopeViolation,
	CodeTypeViolation,
	CodeParenMismatch,
	CodeEmptyCallArgs,
	CodeMissingTerminalReturn,
	CodeDuplicateTerminal,
	CodeUndeclaredVariable,
}

// Severity returns the fixed severity for the code.
func (c ErrorCode) Severity() Severity {
	if info, ok := errorCodeInfo[c]; ok {
		return info.severity
	}
	return SeverityMedium
}

// Hint returns a short repair instruction for the code.
func (c ErrorCode) Hint() string {
	return errorCodeInfo[c].hint
}

// Span locates a token in the expression text. Start and End are byte
// offsets; Line and Col are 1-based.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
	Line  int `json:"line"`
	Col   int `json:"col"`
}

// ValidationError is one classified validation failure.
type ValidationError struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	Token       string    `json:"token,omitempty"`
	Span        Span      `json:"span"`
	Severity    Severity  `json:"severity"`
	Occurrences int       `json:"occurrences"`
}

// ValidationReport is the result of validating one expression.
type ValidationReport struct {
	Passed        bool              `json:"passed"`
	Errors        []ValidationError `json:"errors"`
	Warnings      []string          `json:"warnings,omitempty"`
	UsedOperators []string          `json:"used_operators"`
	UsedFields    []string          `json:"used_fields"`
}

// Codes returns the distinct error codes of the report, sorted.
func (r ValidationReport) Codes() []ErrorCode {
	seen := make(map[ErrorCode]bool)
	var out []ErrorCode
	for _, e := range r.Errors {
		if !seen[e.Code] {
			seen[e.Code] = true
			out = append(out, e.Code)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Lane is a partition of the candidate context.
type Lane string

const (
	LaneExploit Lane = "exploit"
	LaneExplore Lane = "explore"
)

// LaneSelection lists the candidates chosen for one lane.
type LaneSelection struct {
	SubcategoryIDs []string `json:"subcategory_ids"`
	DatasetIDs     []string `json:"dataset_ids"`
	FieldIDs       []string `json:"field_ids"`
	OperatorNames  []string `json:"operator_names"`
}

// Size is the number of datasets, fields and operators in the lane.
func (l LaneSelection) Size() int {
	return len(l.DatasetIDs) + len(l.FieldIDs) + len(l.OperatorNames)
}

// Lanes holds the exploit and explore selections.
type Lanes struct {
	Exploit LaneSelection `json:"exploit"`
	Explore LaneSelection `json:"explore"`
}

// LaneBounds caps how many candidates of each kind a lane may hold.
type LaneBounds struct {
	Subcategories int `json:"subcategories" yaml:"subcategories" validate:"gte=0"`
	Datasets      int `json:"datasets" yaml:"datasets" validate:"gte=0"`
	Fields        int `json:"fields" yaml:"fields" validate:"gte=0"`
	Operators     int `json:"operators" yaml:"operators" validate:"gte=0"`
}

// BudgetPolicy configures lane sizes and the token ceiling for selection.
type BudgetPolicy struct {
	Exploit          LaneBounds `json:"exploit"`
	Explore          LaneBounds `json:"explore"`
	ExploreFloor     int        `json:"explore_floor"`
	MaxContextTokens int        `json:"max_context_tokens"`
	FallbackSteps    []float64  `json:"fallback_steps"`
}

// ExpansionPolicy configures how a pack grows after repeated failures.
type ExpansionPolicy struct {
	Enabled             bool    `json:"enabled"`
	FieldFactor         float64 `json:"field_factor"`
	OperatorFactor      float64 `json:"operator_factor"`
	SubcategoryStep     int     `json:"subcategory_step"`
	ReserveTokens       int     `json:"reserve_tokens"`
	RepetitionThreshold int     `json:"repetition_threshold"`
	MaxExpansions       int     `json:"max_expansions"`
}

// TokenEstimate is the estimated prompt cost of a pack.
type TokenEstimate struct {
	Chars  int `json:"chars"`
	Tokens int `json:"tokens"`
}

// SubcategoryCandidate is a selected subcategory.
type SubcategoryCandidate struct {
	ID       string  `json:"id"`
	Name     string  `json:"name,omitempty"`
	Category string  `json:"category,omitempty"`
	Lane     Lane    `json:"lane"`
	Score    float64 `json:"score"`
}

// DatasetCandidate is a selected dataset.
type DatasetCandidate struct {
	ID            string  `json:"id"`
	Name          string  `json:"name,omitempty"`
	SubcategoryID string  `json:"subcategory_id"`
	Lane          Lane    `json:"lane"`
	Score         float64 `json:"score"`
}

// FieldCandidate is a selected field.
type FieldCandidate struct {
	ID        string    `json:"id"`
	DatasetID string    `json:"dataset_id"`
	Type      ValueType `json:"type"`
	Lane      Lane      `json:"lane"`
	Score     float64   `json:"score"`
}

// OperatorCandidate is a selected operator.
type OperatorCandidate struct {
	Name     string  `json:"name"`
	Category string  `json:"category,omitempty"`
	Scopes   []Scope `json:"scopes,omitempty"`
	Lane     Lane    `json:"lane"`
	Score    float64 `json:"score"`
}

// FallbackStage records one applied step of the fallback ladder.
type FallbackStage struct {
	Dimension   string  `json:"dimension"`
	Factor      float64 `json:"factor"`
	TotalBefore int     `json:"total_before"`
	TotalAfter  int     `json:"total_after"`
	TokensAfter int     `json:"tokens_after"`
}

// ContextPack is the bounded vocabulary handed to the generator.
// Packs are replaced, never mutated, when expanded.
type ContextPack struct {
	Query           string                 `json:"query"`
	Lanes           Lanes                  `json:"lanes"`
	Subcategories   []SubcategoryCandidate `json:"subcategories"`
	Datasets        []DatasetCandidate     `json:"datasets"`
	Fields          []FieldCandidate       `json:"fields"`
	Operators       []OperatorCandidate    `json:"operators"`
	BudgetPolicy    BudgetPolicy           `json:"budget_policy"`
	ExpansionPolicy ExpansionPolicy        `json:"expansion_policy"`
	TokenEstimate   TokenEstimate          `json:"token_estimate"`
	FallbackStages  []FallbackStage        `json:"fallback_stages,omitempty"`
	Expansions      int                    `json:"expansions"`
}

// Size is the total number of candidates across both lanes.
func (p *ContextPack) Size() int {
	return len(p.Subcategories) + len(p.Datasets) + len(p.Fields) + len(p.Operators)
}

// RepairInstruction is attached to a regeneration request after a failed
// validation.
type RepairInstruction struct {
	Attempt             int               `json:"attempt"`
	ErrorCodes          []ErrorCode       `json:"error_codes"`
	Errors              []ValidationError `json:"errors"`
	RepeatedErrorCount  int               `json:"repeated_error_count"`
	ExpandedRetrieval   bool              `json:"expanded_retrieval"`
	Hints               []string          `json:"hints"`
	AvailableCandidates map[string]int    `json:"available_candidates"`
	PreviousExpression  string            `json:"previous_expression,omitempty"`
}

// GenerationRequest is what a generation provider receives. Repair is nil
// for the first draft. FormatError is set when the previous draft could not
// be read at all.
type GenerationRequest struct {
	RunID       string             `json:"run_id"`
	CandidateID string             `json:"candidate_id"`
	Pack        *ContextPack       `json:"pack"`
	Repair      *RepairInstruction `json:"repair,omitempty"`
	FormatError string             `json:"format_error,omitempty"`
}

// RepairAction is the decision taken after a validation attempt.
type RepairAction string

const (
	ActionNone               RepairAction = "none"
	ActionDeterministicFix   RepairAction = "deterministic_fix"
	ActionRegenerateRequest  RepairAction = "regenerate_request"
	ActionRetrievalExpansion RepairAction = "retrieval_expansion"
	ActionGiveUp             RepairAction = "give_up"
)

// RepairAttempt records one validation pass and what followed it.
type RepairAttempt struct {
	Index              int              `json:"attempt_index"`
	Draft              string           `json:"draft_expression"`
	Report             ValidationReport `json:"report"`
	Action             RepairAction     `json:"action_taken"`
	ResultingCandidate string           `json:"resulting_candidate,omitempty"`
	Signature          ErrorSignature   `json:"signature,omitempty"`
}

// RunStatus is the state of one candidate's repair loop.
type RunStatus string

const (
	RunPending               RunStatus = "pending"
	RunGenerated             RunStatus = "generated"
	RunValidating            RunStatus = "validating"
	RunFailed                RunStatus = "failed"
	RunRetrying              RunStatus = "retrying"
	RunPassed                RunStatus = "passed"
	RunBlocked               RunStatus = "blocked"
	RunGaveUp                RunStatus = "gave_up"
	RunGenerationUnavailable RunStatus = "generation_unavailable"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunPassed, RunBlocked, RunGaveUp, RunGenerationUnavailable:
		return true
	}
	return false
}

// ErrorSignature is the normalized code+identifier set of a failed report.
type ErrorSignature string

// EventType names a pipeline event.
type EventType string

const (
	EventCandidateGenerated EventType = "candidate.generated"
	EventValidationStarted  EventType = "validation.started"
	EventValidationPassed   EventType = "validation.passed"
	EventValidationFailed   EventType = "validation.failed"
	EventRetryStarted       EventType = "validation.retry_started"
	EventRetryPassed        EventType = "validation.retry_passed"
	EventRetryFailed        EventType = "validation.retry_failed"
	EventRetrievalExpanded  EventType = "validation.retrieval_expanded"
	EventBudgetCheckPassed  EventType = "budget.check_passed"
	EventBudgetCheckFailed  EventType = "budget.check_failed"
	EventBudgetBlocked      EventType = "budget.blocked"
	EventRunSummary         EventType = "run.summary"
)

// RunEvent is one event emitted while processing a candidate.
type RunEvent struct {
	ID          int64          `json:"id,omitempty"`
	RunID       string         `json:"run_id"`
	CandidateID string         `json:"candidate_id"`
	SeqNo       int64          `json:"seq_no"`
	Type        EventType      `json:"event_type"`
	Attempt     int            `json:"attempt"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   int64          `json:"created_at"`
}

// Candidate is a validated expression handed to simulation.
type Candidate struct {
	RunID         string   `json:"run_id"`
	CandidateID   string   `json:"candidate_id"`
	Query         string   `json:"query"`
	Expression    string   `json:"expression"`
	UsedFields    []string `json:"used_fields"`
	UsedOperators []string `json:"used_operators"`
	Attempts      int      `json:"attempts"`
	ValidatedAt   int64    `json:"validated_at"`
}

// RunState is the full record of one candidate's repair loop.
type RunState struct {
	RunID               string           `json:"run_id"`
	CandidateID         string           `json:"candidate_id"`
	Query               string           `json:"query"`
	Status              RunStatus        `json:"state"`
	Attempts            []RepairAttempt  `json:"attempts"`
	SignatureHistory    []ErrorSignature `json:"error_signature_history"`
	Expansions          int              `json:"expansions"`
	StructuralRepairs   int              `json:"structural_repairs"`
	TokensReserved      int64            `json:"tokens_reserved"`
	Events              []RunEvent       `json:"events,omitempty"`
	EventOrderViolation bool             `json:"event_order_violation"`
	Reason              string           `json:"reason,omitempty"`
	StateVersion        int64            `json:"state_version"`
	CreatedAtUnix       int64            `json:"created_at_unix"`
	UpdatedAtUnix       int64            `json:"updated_at_unix"`
}

// FinalExpression returns the last drafted expression, if any.
func (s *RunState) FinalExpression() string {
	if len(s.Attempts) == 0 {
		return ""
	}
	return s.Attempts[len(s.Attempts)-1].Draft
}

// DistinctErrorCodes returns every error code seen across attempts, sorted.
func (s *RunState) DistinctErrorCodes() []ErrorCode {
	seen := make(map[ErrorCode]bool)
	var out []ErrorCode
	for _, a := range s.Attempts {
		for _, c := range a.Report.Codes() {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Summary builds the operator-visible summary of the run.
func (s *RunState) Summary() RunSummary {
	return RunSummary{
		RunID:               s.RunID,
		CandidateID:         s.CandidateID,
		FinalState:          s.Status,
		Attempts:            len(s.Attempts),
		EventOrderViolation: s.EventOrderViolation,
		DistinctErrorCodes:  s.DistinctErrorCodes(),
		ExpansionUsed:       s.Expansions > 0,
		StructuralRepairs:   s.StructuralRepairs,
		FinalExpression:     s.FinalExpression(),
		Reason:              s.Reason,
	}
}

// RunSummary is the terminal digest of a run.
type RunSummary struct {
	RunID               string      `json:"run_id"`
	CandidateID         string      `json:"candidate_id"`
	FinalState          RunStatus   `json:"final_state"`
	Attempts            int         `json:"attempts"`
	EventOrderViolation bool        `json:"event_order_violation"`
	DistinctErrorCodes  []ErrorCode `json:"distinct_error_codes"`
	ExpansionUsed       bool        `json:"expansion_used"`
	StructuralRepairs   int         `json:"structural_repairs"`
	FinalExpression     string      `json:"final_expression,omitempty"`
	Reason              string      `json:"reason,omitempty"`
}

// BudgetScope is a budget ledger granularity.
type BudgetScope string

const (
	ScopeRequest BudgetScope = "request"
	ScopeBatch   BudgetScope = "batch"
	ScopeDay     BudgetScope = "day"
)

// CostAction is the governor's decision after evaluating usage.
type CostAction string

const (
	CostContinue CostAction = "continue"
	CostWarn     CostAction = "warn"
	CostHalt     CostAction = "halt"
)

// ScopeUsage reports usage for one budget scope.
type ScopeUsage struct {
	Scope  BudgetScope `json:"scope"`
	Used   int64       `json:"used"`
	Limit  int64       `json:"limit"`
	Action CostAction  `json:"action"`
}

// UsageRecord is one persisted token reservation.
type UsageRecord struct {
	RunID     string `json:"run_id"`
	Tokens    int64  `json:"tokens"`
	Reason    string `json:"reason"`
	CreatedAt int64  `json:"created_at"`
}
