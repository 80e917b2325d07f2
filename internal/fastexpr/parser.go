package fastexpr

import (
	"fmt"

	"github.com/quantforge/alphagate/internal/domain"
)

// Parse splits src into statements and parses each one independently, so a
// malformed statement never hides errors in the others. Identifiers are
// resolved to VarRef when an earlier statement assigned them and to
// FieldRef otherwise; variables shadow fields.
func Parse(src string) (*Program, []domain.ValidationError) {
	var errs []domain.ValidationError
	report := func(code domain.ErrorCode, tok Token, msg string) {
		errs = append(errs, newError(code, tok.Lexeme, tok.Span, msg))
	}

	groups := splitStatements(Tokenize(src))
	prog := &Program{}
	vars := make(map[string]bool)

	for _, g := range groups {
		if len(g.toks) == 0 {
			continue
		}
		st := Statement{Span: cover(g.toks[0].Span, g.toks[len(g.toks)-1].Span), Sep: g.sep}
		if len(g.toks) >= 2 && g.toks[0].Type == IDENT && g.toks[1].Type == ASSIGN {
			st.Kind = StmtAssign
			st.Var = g.toks[0].Lexeme
			st.VarSpan = g.toks[0].Span
		} else {
			st.Kind = StmtReturn
		}

		if tok, msg, ok := lexicalFault(g); ok {
			report(domain.CodeParenMismatch, tok, msg)
			st.Broken = true
		} else {
			p := &parser{toks: withEOF(g), vars: vars}
			if st.Kind == StmtAssign {
				p.pos = 2
			}
			expr := p.parseTernary()
			if p.fatal == nil && p.cur().Type != EOF {
				tok := p.cur()
				report(domain.CodeMissingTerminalReturn, tok, fmt.Sprintf("missing ';' before %q", tok.Lexeme))
				st.Trailing = true
			}
			errs = append(errs, p.soft...)
			if p.fatal != nil {
				errs = append(errs, *p.fatal)
				st.Broken = true
			} else {
				st.Expr = expr
			}
		}

		if st.Kind == StmtAssign {
			vars[st.Var] = true
		}
		prog.Statements = append(prog.Statements, st)
	}

	errs = append(errs, shapeErrors(prog)...)
	return prog, errs
}

// shapeErrors enforces: assignments, then exactly one bare terminal
// expression, with no separator after it.
func shapeErrors(prog *Program) []domain.ValidationError {
	var errs []domain.ValidationError
	n := len(prog.Statements)
	if n == 0 {
		return append(errs, newError(domain.CodeMissingTerminalReturn, "", domain.Span{Line: 1, Col: 1}, "expression is empty"))
	}
	for i := 0; i < n-1; i++ {
		st := prog.Statements[i]
		if st.Broken || st.Trailing || st.Kind != StmtReturn {
			continue
		}
		errs = append(errs, newError(domain.CodeDuplicateTerminal, "", st.Span,
			fmt.Sprintf("statement %d is a bare expression; only the last statement may be one", i+1)))
	}
	last := prog.Statements[n-1]
	switch {
	case last.Sep != nil:
		errs = append(errs, newError(domain.CodeMissingTerminalReturn, last.Sep.Lexeme, last.Sep.Span,
			"terminal expression must not end with ';'"))
	case last.Broken || last.Trailing:
	case last.Kind == StmtAssign:
		errs = append(errs, newError(domain.CodeMissingTerminalReturn, last.Var, last.VarSpan,
			fmt.Sprintf("last statement assigns %q; the expression must end with a bare expression", last.Var)))
	}
	return errs
}

type stmtTokens struct {
	toks []Token
	sep  *Token
}

// splitStatements cuts the token stream at every ';'. A ';' inside open
// parentheses still ends the statement, which is then reported unbalanced.
func splitStatements(toks []Token) []stmtTokens {
	var out []stmtTokens
	var cur []Token
	for i := range toks {
		tok := toks[i]
		switch tok.Type {
		case SEMI:
			out = append(out, stmtTokens{toks: cur, sep: &toks[i]})
			cur = nil
		case EOF:
			out = append(out, stmtTokens{toks: cur})
		default:
			cur = append(cur, tok)
		}
	}
	return out
}

// lexicalFault finds the first illegal token or unbalanced parenthesis.
func lexicalFault(g stmtTokens) (Token, string, bool) {
	var open []Token
	for _, tok := range g.toks {
		switch tok.Type {
		case ILLEGAL:
			return tok, tok.Err, true
		case LPAREN:
			open = append(open, tok)
		case RPAREN:
			if len(open) == 0 {
				return tok, "unmatched ')'", true
			}
			open = open[:len(open)-1]
		}
	}
	if len(open) > 0 {
		tok := open[len(open)-1]
		if g.sep != nil {
			return tok, "unclosed '(' before ';'", true
		}
		return tok, "unclosed '('", true
	}
	return Token{}, "", false
}

func withEOF(g stmtTokens) []Token {
	last := g.toks[len(g.toks)-1].Span
	eof := Token{Type: EOF, Span: domain.Span{Start: last.End, End: last.End, Line: last.Line, Col: last.Col + (last.End - last.Start)}}
	out := make([]Token, 0, len(g.toks)+1)
	out = append(out, g.toks...)
	return append(out, eof)
}

type parser struct {
	toks  []Token
	pos   int
	vars  map[string]bool
	fatal *domain.ValidationError
	soft  []domain.ValidationError
}

func (p *parser) cur() Token { return p.toks[p.pos] }

func (p *parser) peekType(n int) TokenType {
	if p.pos+n >= len(p.toks) {
		return EOF
	}
	return p.toks[p.pos+n].Type
}

func (p *parser) next() Token {
	tok := p.toks[p.pos]
	if tok.Type != EOF {
		p.pos++
	}
	return tok
}

func (p *parser) fail(tok Token, msg string) {
	if p.fatal != nil {
		return
	}
	e := newError(domain.CodeParenMismatch, tok.Lexeme, tok.Span, msg)
	p.fatal = &e
}

func (p *parser) parseTernary() Expr {
	cond := p.parseBinary(0)
	if p.fatal != nil || p.cur().Type != QUESTION {
		return cond
	}
	p.next()
	then := p.parseTernary()
	if p.fatal != nil {
		return nil
	}
	if p.cur().Type != COLON {
		p.fail(p.cur(), fmt.Sprintf("expected ':' in conditional, found %s", p.cur().Type))
		return nil
	}
	p.next()
	els := p.parseTernary()
	if p.fatal != nil {
		return nil
	}
	return &Ternary{Cond: cond, Then: then, Else: els, Span: cover(cond.Pos(), els.Pos())}
}

// binaryLevels lists infix operators from loosest to tightest binding.
var binaryLevels = [][]TokenType{
	{OR},
	{AND},
	{EQ, NEQ},
	{LESS, LESS_EQ, GREATER, GREATER_EQ},
	{PLUS, MINUS},
	{STAR, SLASH},
}

func (p *parser) parseBinary(level int) Expr {
	if level == len(binaryLevels) {
		return p.parseUnary()
	}
	left := p.parseBinary(level + 1)
	for p.fatal == nil && hasType(binaryLevels[level], p.cur().Type) {
		op := p.next()
		right := p.parseBinary(level + 1)
		if p.fatal != nil {
			return nil
		}
		left = &Binary{Op: op.Type, Left: left, Right: right, Span: cover(left.Pos(), right.Pos())}
	}
	return left
}

func hasType(set []TokenType, t TokenType) bool {
	for _, s := range set {
		if s == t {
			return true
		}
	}
	return false
}

func (p *parser) parseUnary() Expr {
	switch p.cur().Type {
	case MINUS, PLUS, BANG:
		op := p.next()
		x := p.parseUnary()
		if p.fatal != nil {
			return nil
		}
		return &Unary{Op: op.Type, X: x, Span: cover(op.Span, x.Pos())}
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() Expr {
	tok := p.cur()
	switch tok.Type {
	case NUMBER:
		p.next()
		return &NumberLit{Raw: tok.Lexeme, Span: tok.Span}
	case STRING:
		p.next()
		return &StringLit{Value: unquote(tok.Lexeme), Span: tok.Span}
	case IDENT:
		p.next()
		if p.cur().Type == LPAREN {
			return p.parseCall(tok)
		}
		if p.vars[tok.Lexeme] {
			return &VarRef{Name: tok.Lexeme, Span: tok.Span}
		}
		return &FieldRef{ID: tok.Lexeme, Span: tok.Span}
	case LPAREN:
		p.next()
		inner := p.parseTernary()
		if p.fatal != nil {
			return nil
		}
		if p.cur().Type != RPAREN {
			p.fail(p.cur(), fmt.Sprintf("expected ')', found %s", p.cur().Type))
			return nil
		}
		p.next()
		return inner
	case EOF:
		p.fail(tok, "incomplete expression")
		return nil
	default:
		p.fail(tok, fmt.Sprintf("unexpected %s", tok.Type))
		return nil
	}
}

func (p *parser) parseCall(name Token) Expr {
	p.next() // (
	call := &Call{Name: name.Lexeme, NameSpan: name.Span}
	if p.cur().Type == RPAREN {
		call.Span = cover(name.Span, p.next().Span)
		return call
	}
	for {
		if t := p.cur().Type; t == COMMA || t == RPAREN {
			p.soft = append(p.soft, newError(domain.CodeEmptyCallArgs, name.Lexeme, p.cur().Span,
				fmt.Sprintf("empty argument in call to %s", name.Lexeme)))
		} else if p.cur().Type == IDENT && p.peekType(1) == ASSIGN {
			p.parseNamed(call)
		} else {
			arg := p.parseTernary()
			if p.fatal != nil {
				return nil
			}
			call.Args = append(call.Args, arg)
		}
		if p.fatal != nil {
			return nil
		}

		switch p.cur().Type {
		case COMMA:
			p.next()
		case RPAREN:
			call.Span = cover(name.Span, p.next().Span)
			return call
		default:
			p.fail(p.cur(), fmt.Sprintf("expected ',' or ')' in call to %s, found %s", name.Lexeme, p.cur().Type))
			return nil
		}
	}
}

func (p *parser) parseNamed(call *Call) {
	key := p.next()
	p.next() // =
	neg := false
	if p.cur().Type == MINUS {
		neg = true
		p.next()
	}
	val := p.cur()
	var lit Literal
	switch val.Type {
	case NUMBER:
		lit = Literal{Kind: LitNumber, Raw: val.Lexeme}
		if neg {
			lit.Raw = "-" + lit.Raw
		}
	case STRING:
		lit = Literal{Kind: LitString, Raw: unquote(val.Lexeme)}
	case IDENT:
		lit = Literal{Kind: LitSymbol, Raw: val.Lexeme}
	default:
		p.fail(val, fmt.Sprintf("named argument %s expects a literal, found %s", key.Lexeme, val.Type))
		return
	}
	if neg && val.Type != NUMBER {
		p.fail(val, fmt.Sprintf("named argument %s expects a literal, found %s", key.Lexeme, val.Type))
		return
	}
	p.next()
	if t := p.cur().Type; t != COMMA && t != RPAREN {
		e := newError(domain.CodeTypeViolation, key.Lexeme, key.Span,
			fmt.Sprintf("named argument %s of %s must be a single literal", key.Lexeme, call.Name))
		p.fatal = &e
		return
	}
	call.Named = append(call.Named, NamedArg{Name: key.Lexeme, Value: lit, Span: cover(key.Span, val.Span)})
}

func unquote(lexeme string) string {
	if len(lexeme) >= 2 {
		return lexeme[1 : len(lexeme)-1]
	}
	return lexeme
}

func newError(code domain.ErrorCode, token string, span domain.Span, msg string) domain.ValidationError {
	return domain.ValidationError{
		Code:        code,
		Message:     msg,
		Token:       token,
		Span:        span,
		Severity:    code.Severity(),
		Occurrences: 1,
	}
}
