package fastexpr

import "github.com/quantforge/alphagate/internal/domain"

// Expr is a FastExpr expression node.
type Expr interface {
	Pos() domain.Span
	exprNode()
}

// Call is an operator invocation.
type Call struct {
	Name     string
	NameSpan domain.Span
	Args     []Expr
	Named    []NamedArg
	Span     domain.Span
}

// NamedArg is a keyword argument such as dense=false.
type NamedArg struct {
	Name  string
	Value Literal
	Span  domain.Span
}

// LiteralKind classifies named-argument literals.
type LiteralKind int

const (
	LitNumber LiteralKind = iota
	LitString
	LitSymbol
)

// Literal is the value of a named argument.
type Literal struct {
	Kind LiteralKind
	Raw  string
}

// FieldRef references a catalog field.
type FieldRef struct {
	ID   string
	Span domain.Span
}

// VarRef references a variable assigned in an earlier statement.
type VarRef struct {
	Name string
	Span domain.Span
}

// NumberLit is a numeric literal.
type NumberLit struct {
	Raw  string
	Span domain.Span
}

// StringLit is a quoted string literal.
type StringLit struct {
	Value string
	Span  domain.Span
}

// Binary is an infix arithmetic, comparison or logical operation.
type Binary struct {
	Op          TokenType
	Left, Right Expr
	Span        domain.Span
}

// Unary is a prefix negation.
type Unary struct {
	Op   TokenType
	X    Expr
	Span domain.Span
}

// Ternary is cond ? then : else.
type Ternary struct {
	Cond, Then, Else Expr
	Span             domain.Span
}

func (e *Call) Pos() domain.Span      { return e.Span }
func (e *FieldRef) Pos() domain.Span  { return e.Span }
func (e *VarRef) Pos() domain.Span    { return e.Span }
func (e *NumberLit) Pos() domain.Span { return e.Span }
func (e *StringLit) Pos() domain.Span { return e.Span }
func (e *Binary) Pos() domain.Span    { return e.Span }
func (e *Unary) Pos() domain.Span     { return e.Span }
func (e *Ternary) Pos() domain.Span   { return e.Span }

func (*Call) exprNode()      {}
func (*FieldRef) exprNode()  {}
func (*VarRef) exprNode()    {}
func (*NumberLit) exprNode() {}
func (*StringLit) exprNode() {}
func (*Binary) exprNode()    {}
func (*Unary) exprNode()     {}
func (*Ternary) exprNode()   {}

// StmtKind distinguishes assignments from the terminal return.
type StmtKind int

const (
	StmtAssign StmtKind = iota
	StmtReturn
)

// Statement is one ';'-separated unit of a program. Expr is nil when the
// statement could not be parsed.
type Statement struct {
	Kind     StmtKind
	Var      string
	VarSpan  domain.Span
	Expr     Expr
	Span     domain.Span
	Sep      *Token
	Broken   bool
	Trailing bool
}

// Program is a parsed FastExpr source.
type Program struct {
	Statements []Statement
}

func cover(a, b domain.Span) domain.Span {
	return domain.Span{Start: a.Start, End: b.End, Line: a.Line, Col: a.Col}
}
