package fastexpr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quantforge/alphagate/internal/catalog"
	"github.com/quantforge/alphagate/internal/domain"
)

// DefaultComplexityLimit is the call count above which a report carries a
// complexity warning.
const DefaultComplexityLimit = 20

// Validator statically checks expressions. It holds no mutable state and is
// safe for concurrent use.
type Validator struct {
	Rules           []TypeRule
	ComplexityLimit int
}

// NewValidator returns a validator using DefaultRules.
func NewValidator() *Validator {
	return &Validator{Rules: DefaultRules, ComplexityLimit: DefaultComplexityLimit}
}

var defaultValidator = NewValidator()

// Validate checks text against snap with the default rule table.
func Validate(text string, snap *catalog.Snapshot) domain.ValidationReport {
	return defaultValidator.Validate(text, snap)
}

var emptySnapshot, _ = catalog.NewSnapshot(nil, nil, nil)

// Validate checks text against snap. It never fails: malformed input yields
// a report listing every error found.
func (v *Validator) Validate(text string, snap *catalog.Snapshot) domain.ValidationReport {
	if snap == nil {
		snap = emptySnapshot
	}
	prog, errs := Parse(text)

	c := &checker{
		snap:        snap,
		rules:       v.Rules,
		vars:        make(map[string]domain.ValueType),
		firstAssign: make(map[string]int),
		ops:         make(map[string]bool),
		fields:      make(map[string]bool),
	}
	c.program(prog)
	errs = append(errs, c.errs...)

	report := domain.ValidationReport{
		Errors:        dedupe(errs),
		UsedOperators: sortedKeys(c.ops),
		UsedFields:    sortedKeys(c.fields),
	}
	if v.ComplexityLimit > 0 && c.calls > v.ComplexityLimit {
		report.Warnings = []string{
			fmt.Sprintf("expression is complex (%d calls, limit %d); consider simplification for stability", c.calls, v.ComplexityLimit),
		}
	}
	report.Passed = len(report.Errors) == 0
	return report
}

type checker struct {
	snap        *catalog.Snapshot
	rules       []TypeRule
	errs        []domain.ValidationError
	vars        map[string]domain.ValueType
	firstAssign map[string]int
	stmt        int
	ops         map[string]bool
	fields      map[string]bool
	calls       int
}

type argInfo struct {
	typ   domain.ValueType
	known bool
}

func (c *checker) add(code domain.ErrorCode, token string, span domain.Span, format string, args ...any) {
	c.errs = append(c.errs, newError(code, token, span, fmt.Sprintf(format, args...)))
}

func (c *checker) program(p *Program) {
	for i, st := range p.Statements {
		if st.Kind != StmtAssign {
			continue
		}
		if _, ok := c.firstAssign[st.Var]; !ok {
			c.firstAssign[st.Var] = i
		}
	}
	for i, st := range p.Statements {
		c.stmt = i
		var info argInfo
		if st.Expr != nil {
			info = c.expr(st.Expr, false)
		}
		if st.Kind == StmtAssign {
			t := info.typ
			if t == domain.TypeVector {
				t = ""
			}
			c.vars[st.Var] = t
		}
	}
}

// expr checks e and returns its inferred type. vecSlot is true when e is
// the sole positional argument of an operator that accepts VECTOR input.
func (c *checker) expr(e Expr, vecSlot bool) argInfo {
	switch n := e.(type) {
	case *FieldRef:
		return c.field(n, vecSlot)
	case *VarRef:
		return argInfo{typ: c.vars[n.Name], known: true}
	case *NumberLit, *StringLit:
		return argInfo{known: true}
	case *Unary:
		return c.expr(n.X, false)
	case *Binary:
		return merge(c.expr(n.Left, false), c.expr(n.Right, false))
	case *Ternary:
		c.expr(n.Cond, false)
		return merge(c.expr(n.Then, false), c.expr(n.Else, false))
	case *Call:
		return c.call(n)
	}
	return argInfo{}
}

func merge(a, b argInfo) argInfo {
	if a.typ == domain.TypeMatrix || b.typ == domain.TypeMatrix {
		return argInfo{typ: domain.TypeMatrix, known: true}
	}
	return argInfo{known: a.known && b.known}
}

func (c *checker) field(n *FieldRef, vecSlot bool) argInfo {
	f, ok := c.snap.Field(n.ID)
	if !ok {
		if idx, assigned := c.firstAssign[n.ID]; assigned && idx >= c.stmt {
			c.add(domain.CodeUndeclaredVariable, n.ID, n.Span, "variable %q is used before it is assigned", n.ID)
		} else {
			c.add(domain.CodeUnknownField, n.ID, n.Span, "unknown field %q", n.ID)
		}
		return argInfo{}
	}
	c.fields[n.ID] = true
	if f.Type == domain.TypeVector && !vecSlot {
		c.add(domain.CodeTypeViolation, n.ID, n.Span,
			"VECTOR field %q may only be the sole argument of a vec_ operator", n.ID)
	}
	return argInfo{typ: f.Type, known: true}
}

func (c *checker) call(n *Call) argInfo {
	c.calls++
	rule, hasRule := lookupRule(c.rules, n.Name)
	op, ok := c.snap.Operator(n.Name)
	if !ok {
		c.add(domain.CodeUnknownOperator, n.Name, n.NameSpan, "unknown operator %q", n.Name)
		for _, a := range n.Args {
			c.expr(a, false)
		}
		return argInfo{}
	}
	c.ops[n.Name] = true

	if !op.AllowsScope(domain.ScopeRegular) {
		c.add(domain.CodeScopeViolation, n.Name, n.NameSpan,
			"operator %q is not allowed in REGULAR scope (allowed: %s)", n.Name, joinScopes(op.Scopes))
	}
	if len(n.Args) == 0 && len(n.Named) == 0 && op.MinArgs() >= 1 {
		c.add(domain.CodeEmptyCallArgs, n.Name, n.NameSpan,
			"operator %q requires at least %d argument(s)", n.Name, op.MinArgs())
	}

	sole := hasRule && rule.AcceptsVector && len(n.Args) == 1
	args := make([]argInfo, len(n.Args))
	for i, a := range n.Args {
		args[i] = c.expr(a, sole)
	}

	// VECTOR fields outside a vec_ slot are already rejected by c.field.
	if hasRule && rule.MatrixArgs {
		for i, a := range n.Args {
			if args[i].typ == domain.TypeGroup {
				c.add(domain.CodeTypeViolation, argToken(a, n.Name), a.Pos(),
					"%s expects MATRIX inputs; argument %d is GROUP", n.Name, i+1)
			}
		}
	}

	if hasRule && rule.GroupArg >= 0 {
		idx := groupArgIndex(rule, op)
		switch {
		case idx >= len(n.Args):
			c.add(domain.CodeTypeViolation, n.Name, n.NameSpan,
				"%s requires a GROUP argument at position %d", n.Name, idx+1)
		case !c.isGroup(n.Args[idx], args[idx]):
			c.add(domain.CodeTypeViolation, argToken(n.Args[idx], n.Name), n.Args[idx].Pos(),
				"%s argument %d must be a GROUP field or a group-producing call", n.Name, idx+1)
		}
	}

	if hasRule && rule.Result != "" {
		return argInfo{typ: rule.Result, known: true}
	}
	return argInfo{typ: domain.TypeMatrix, known: true}
}

// isGroup reports whether a group-argument slot is acceptable. Arguments
// whose type could not be resolved were already reported elsewhere.
func (c *checker) isGroup(e Expr, info argInfo) bool {
	if info.typ == domain.TypeGroup {
		return true
	}
	if call, ok := e.(*Call); ok {
		r, found := lookupRule(c.rules, call.Name)
		return found && r.GroupProducer
	}
	if _, ok := e.(*VarRef); ok && info.typ == "" {
		return true
	}
	return !info.known
}

func argToken(e Expr, fallback string) string {
	switch n := e.(type) {
	case *FieldRef:
		return n.ID
	case *VarRef:
		return n.Name
	case *Call:
		return n.Name
	}
	return fallback
}

func joinScopes(scopes []domain.Scope) string {
	parts := make([]string, len(scopes))
	for i, s := range scopes {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}

// identifierCodes are deduplicated per identifier; the remaining codes are
// deduplicated per span.
var identifierCodes = map[domain.ErrorCode]bool{
	domain.CodeUnknownOperator:    true,
	domain.CodeUnknownField:       true,
	domain.CodeScopeViolation:     true,
	domain.CodeTypeViolation:      true,
	domain.CodeEmptyCallArgs:      true,
	domain.CodeUndeclaredVariable: true,
}

func dedupe(errs []domain.ValidationError) []domain.ValidationError {
	type key struct {
		code  domain.ErrorCode
		token string
		start int
	}
	index := make(map[key]int)
	out := make([]domain.ValidationError, 0, len(errs))
	for _, e := range errs {
		k := key{code: e.Code, start: e.Span.Start}
		if identifierCodes[e.Code] && e.Token != "" {
			k = key{code: e.Code, token: e.Token, start: -1}
		}
		if i, ok := index[k]; ok {
			out[i].Occurrences++
			if e.Span.Start < out[i].Span.Start {
				out[i].Span = e.Span
				out[i].Message = e.Message
			}
			continue
		}
		index[k] = len(out)
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Span.Start != out[j].Span.Start {
			return out[i].Span.Start < out[j].Span.Start
		}
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].Token < out[j].Token
	})
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
