package fastexpr

import "strings"

// IdentRole says how an identifier token is used.
type IdentRole int

const (
	// RoleRef is a field or variable reference.
	RoleRef IdentRole = iota
	// RoleCall is an operator name followed by '('.
	RoleCall
	// RoleBinding is an assignment target or named-argument key.
	RoleBinding
)

// RewriteIdents returns src with identifier tokens replaced by fn. Only the
// identifier bytes change; comments, spacing and every other token are kept.
// fn returns the replacement and whether to apply it.
func RewriteIdents(src string, fn func(name string, role IdentRole) (string, bool)) string {
	toks := Tokenize(src)
	var b strings.Builder
	last := 0
	for i, tok := range toks {
		if tok.Type != IDENT {
			continue
		}
		role := RoleRef
		if i+1 < len(toks) {
			switch toks[i+1].Type {
			case LPAREN:
				role = RoleCall
			case ASSIGN:
				role = RoleBinding
			}
		}
		repl, ok := fn(tok.Lexeme, role)
		if !ok || repl == tok.Lexeme {
			continue
		}
		b.WriteString(src[last:tok.Span.Start])
		b.WriteString(repl)
		last = tok.Span.End
	}
	b.WriteString(src[last:])
	return b.String()
}
