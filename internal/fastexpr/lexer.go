// Package fastexpr tokenizes, parses and statically checks FastExpr
// expressions against a catalog snapshot.
package fastexpr

import (
	"fmt"

	"github.com/quantforge/alphagate/internal/domain"
)

// TokenType represents the kind of token.
type TokenType int

const (
	EOF TokenType = iota
	ILLEGAL

	IDENT
	NUMBER
	STRING

	LPAREN // "("
	RPAREN // ")"
	COMMA  // ","
	SEMI   // ";"
	ASSIGN // "="

	PLUS
	MINUS
	STAR
	SLASH
	LESS
	LESS_EQ
	GREATER
	GREATER_EQ
	EQ
	NEQ
	AND
	OR
	BANG
	QUESTION
	COLON
)

var tokenNames = map[TokenType]string{
	EOF: "end of input", ILLEGAL: "illegal", IDENT: "identifier", NUMBER: "number", STRING: "string",
	LPAREN: "'('", RPAREN: "')'", COMMA: "','", SEMI: "';'", ASSIGN: "'='",
	PLUS: "'+'", MINUS: "'-'", STAR: "'*'", SLASH: "'/'",
	LESS: "'<'", LESS_EQ: "'<='", GREATER: "'>'", GREATER_EQ: "'>='", EQ: "'=='", NEQ: "'!='",
	AND: "'&&'", OR: "'||'", BANG: "'!'", QUESTION: "'?'", COLON: "':'",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token is a lexical token. Err is set for ILLEGAL tokens.
type Token struct {
	Type   TokenType
	Lexeme string
	Span   domain.Span
	Err    string
}

// Lexer scans FastExpr source into tokens. It never fails: malformed input
// produces ILLEGAL tokens and scanning continues.
type Lexer struct {
	src       string
	start     int
	cur       int
	line      int
	col       int
	startLine int
	startCol  int
	tokens    []Token
}

// NewLexer creates a lexer for src.
func NewLexer(src string) *Lexer {
	return &Lexer{src: src, line: 1, col: 1}
}

// Tokenize scans src and returns its tokens, ending with EOF.
func Tokenize(src string) []Token {
	return NewLexer(src).Scan()
}

// Scan tokenizes the whole input.
func (l *Lexer) Scan() []Token {
	for {
		l.skipTrivia()
		l.start, l.startLine, l.startCol = l.cur, l.line, l.col
		if l.isAtEnd() {
			l.add(EOF, "")
			return l.tokens
		}
		l.scanToken()
	}
}

func (l *Lexer) isAtEnd() bool { return l.cur >= len(l.src) }

func (l *Lexer) peek() byte {
	if l.isAtEnd() {
		return 0
	}
	return l.src[l.cur]
}

func (l *Lexer) peekN(n int) byte {
	if l.cur+n >= len(l.src) {
		return 0
	}
	return l.src[l.cur+n]
}

func (l *Lexer) advance() byte {
	b := l.src[l.cur]
	l.cur++
	if b == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return b
}

func (l *Lexer) add(tt TokenType, errMsg string) {
	l.tokens = append(l.tokens, Token{
		Type:   tt,
		Lexeme: l.src[l.start:l.cur],
		Span:   domain.Span{Start: l.start, End: l.cur, Line: l.startLine, Col: l.startCol},
		Err:    errMsg,
	})
}

// skipTrivia skips whitespace and line comments. Comments are only
// recognized between tokens, so they can never split one.
func (l *Lexer) skipTrivia() {
	for !l.isAtEnd() {
		switch c := l.peek(); {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance()
		case c == '#' || (c == '/' && l.peekN(1) == '/'):
			for !l.isAtEnd() && l.peek() != '\n' {
				l.advance()
			}
		default:
			return
		}
	}
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
func isAlpha(b byte) bool { return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b == '_' }

func (l *Lexer) scanToken() {
	c := l.advance()
	switch {
	case isAlpha(c):
		for !l.isAtEnd() && (isAlpha(l.peek()) || isDigit(l.peek())) {
			l.advance()
		}
		l.add(IDENT, "")
		return
	case isDigit(c) || (c == '.' && isDigit(l.peek())):
		l.scanNumber()
		return
	case c == '"' || c == '\'':
		l.scanString(c)
		return
	}

	switch c {
	case '(':
		l.add(LPAREN, "")
	case ')':
		l.add(RPAREN, "")
	case ',':
		l.add(COMMA, "")
	case ';':
		l.add(SEMI, "")
	case '+':
		l.add(PLUS, "")
	case '-':
		l.add(MINUS, "")
	case '*':
		l.add(STAR, "")
	case '/':
		l.add(SLASH, "")
	case '?':
		l.add(QUESTION, "")
	case ':':
		l.add(COLON, "")
	case '=':
		l.twoChar('=', EQ, ASSIGN)
	case '!':
		l.twoChar('=', NEQ, BANG)
	case '<':
		l.twoChar('=', LESS_EQ, LESS)
	case '>':
		l.twoChar('=', GREATER_EQ, GREATER)
	case '&':
		if l.peek() == '&' {
			l.advance()
			l.add(AND, "")
			return
		}
		l.add(ILLEGAL, "unexpected character '&'")
	case '|':
		if l.peek() == '|' {
			l.advance()
			l.add(OR, "")
			return
		}
		l.add(ILLEGAL, "unexpected character '|'")
	default:
		l.add(ILLEGAL, fmt.Sprintf("unexpected character %q", rune(c)))
	}
}

func (l *Lexer) twoChar(next byte, long, short TokenType) {
	if l.peek() == next {
		l.advance()
		l.add(long, "")
		return
	}
	l.add(short, "")
}

func (l *Lexer) scanNumber() {
	for isDigit(l.peek()) {
		l.advance()
	}
	if l.peek() == '.' && isDigit(l.peekN(1)) {
		l.advance()
		for isDigit(l.peek()) {
			l.advance()
		}
	}
	if e := l.peek(); e == 'e' || e == 'E' {
		n := 1
		if s := l.peekN(1); s == '+' || s == '-' {
			n = 2
		}
		if isDigit(l.peekN(n)) {
			for i := 0; i < n; i++ {
				l.advance()
			}
			for isDigit(l.peek()) {
				l.advance()
			}
		}
	}
	l.add(NUMBER, "")
}

// scanString scans a quoted literal. A newline or end of input before the
// closing quote ends the token as ILLEGAL so the next line still lexes.
func (l *Lexer) scanString(quote byte) {
	for !l.isAtEnd() {
		c := l.peek()
		if c == '\n' {
			break
		}
		l.advance()
		if c == '\\' && !l.isAtEnd() && l.peek() != '\n' {
			l.advance()
			continue
		}
		if c == quote {
			l.add(STRING, "")
			return
		}
	}
	l.add(ILLEGAL, "unterminated string literal")
}
