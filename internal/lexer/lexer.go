// Package lexer turns source text into a lazy stream of tokens for the
// compiler's Pratt parser to consume.
package lexer

import (
	"fmt"

	"github.com/estevaofon/noxy-vm/internal/token"
)

// ScanError reports a malformed token: an unexpected character or an
// unterminated string literal.
type ScanError struct {
	Message string
	Line    int
	Start   int
	End     int
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("[line %d] scan error: %s", e.Line, e.Message)
}

// Lexer produces tokens from a source string on demand, advancing a byte
// cursor. It peeks at most two unread bytes: the second (peekNext) is
// needed for '//' comments and for the digit after a decimal point.
type Lexer struct {
	source string
	start  int // start of the lexeme currently being scanned
	pos    int // next unread byte
	line   int
}

// New creates a Lexer over source, starting at line 1.
func New(source string) *Lexer {
	return &Lexer{source: source, line: 1}
}

// NextToken skips whitespace and line comments, then returns the next
// token. At end of input it returns a Kind Eof token, and keeps returning
// one on every subsequent call (idempotent).
func (l *Lexer) NextToken() (token.Token, *ScanError) {
	l.skipWhitespaceAndComments()
	l.start = l.pos

	if l.atEnd() {
		return l.make(token.Eof), nil
	}

	c := l.advance()

	if isAlpha(c) {
		return l.identifier(), nil
	}
	if isDigit(c) {
		return l.number(), nil
	}

	switch c {
	case '(':
		return l.make(token.LeftParen), nil
	case ')':
		return l.make(token.RightParen), nil
	case '{':
		return l.make(token.LeftBrace), nil
	case '}':
		return l.make(token.RightBrace), nil
	case ';':
		return l.make(token.Semicolon), nil
	case ',':
		return l.make(token.Comma), nil
	case '.':
		return l.make(token.Dot), nil
	case '-':
		return l.make(token.Minus), nil
	case '+':
		return l.make(token.Plus), nil
	case '*':
		return l.make(token.Star), nil
	case '/':
		return l.make(token.Slash), nil
	case '!':
		if l.match('=') {
			return l.make(token.BangEqual), nil
		}
		return l.make(token.Bang), nil
	case '=':
		if l.match('=') {
			return l.make(token.EqualEqual), nil
		}
		return l.make(token.Equal), nil
	case '<':
		if l.match('=') {
			return l.make(token.LessEqual), nil
		}
		return l.make(token.Less), nil
	case '>':
		if l.match('=') {
			return l.make(token.GreaterEqual), nil
		}
		return l.make(token.Greater), nil
	case '"':
		return l.string()
	}

	return token.Token{}, &ScanError{
		Message: fmt.Sprintf("unexpected character '%c'", c),
		Line:    l.line,
		Start:   l.start,
		End:     l.pos,
	}
}

func (l *Lexer) atEnd() bool {
	return l.pos >= len(l.source)
}

func (l *Lexer) advance() byte {
	c := l.source[l.pos]
	l.pos++
	return c
}

func (l *Lexer) peek() byte {
	if l.atEnd() {
		return 0
	}
	return l.source[l.pos]
}

func (l *Lexer) peekNext() byte {
	if l.pos+1 >= len(l.source) {
		return 0
	}
	return l.source[l.pos+1]
}

func (l *Lexer) match(expected byte) bool {
	if l.atEnd() || l.source[l.pos] != expected {
		return false
	}
	l.pos++
	return true
}

func (l *Lexer) make(kind token.Kind) token.Token {
	return token.Token{Kind: kind, Start: l.start, End: l.pos, Line: l.line}
}

func (l *Lexer) skipWhitespaceAndComments() {
	for !l.atEnd() {
		switch l.peek() {
		case ' ', '\r', '\t':
			l.pos++
		case '\n':
			l.line++
			l.pos++
		case '/':
			if l.peekNext() == '/' {
				for !l.atEnd() && l.peek() != '\n' {
					l.pos++
				}
			} else {
				return
			}
		default:
			return
		}
	}
}

func (l *Lexer) identifier() token.Token {
	for isAlpha(l.peek()) || isDigit(l.peek()) {
		l.pos++
	}
	lexeme := l.source[l.start:l.pos]
	return l.make(token.LookupIdent(lexeme))
}

func (l *Lexer) number() token.Token {
	for isDigit(l.peek()) {
		l.pos++
	}
	if l.peek() == '.' && isDigit(l.peekNext()) {
		l.pos++ // consume the '.'
		for isDigit(l.peek()) {
			l.pos++
		}
	}
	return l.make(token.Number)
}

// string scans a double-quoted string literal. It may span lines: each
// embedded '\n' advances the line counter. No escape processing is done;
// Start/End span the quotes themselves, the compiler strips them.
func (l *Lexer) string() (token.Token, *ScanError) {
	for !l.atEnd() && l.peek() != '"' {
		if l.peek() == '\n' {
			l.line++
		}
		l.pos++
	}
	if l.atEnd() {
		return token.Token{}, &ScanError{
			Message: "unterminated string",
			Line:    l.line,
			Start:   l.start,
			End:     l.pos,
		}
	}
	l.pos++ // closing quote
	return l.make(token.String), nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isAlpha(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}
