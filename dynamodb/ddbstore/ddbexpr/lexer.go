// Package ddbexpr parses and evaluates DynamoDB expressions: conditions and
// filters, key conditions, update expressions and projections.
//
// Placeholders are resolved against the request's attribute names and
// values at parse time, so a parsed expression is bound to one request.
package ddbexpr

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokName  // #placeholder
	tokValue // :placeholder
	tokNumber
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokDot
	tokEq
	tokNe
	tokLt
	tokLe
	tokGt
	tokGe
	tokPlus
	tokMinus
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// SyntaxError reports an expression that could not be parsed.
type SyntaxError struct {
	Expr   string
	Pos    int
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid expression %q at offset %d: %s", e.Expr, e.Pos, e.Reason)
}

func isIdentByte(c byte, first bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		return true
	case c >= '0' && c <= '9':
		return !first
	}
	return false
}

func lex(expr string) ([]token, error) {
	var toks []token
	fail := func(pos int, format string, args ...any) error {
		return &SyntaxError{Expr: expr, Pos: pos, Reason: fmt.Sprintf(format, args...)}
	}
	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
			continue
		case c == '#' || c == ':':
			j := i + 1
			for j < len(expr) && isIdentByte(expr[j], false) {
				j++
			}
			if j == i+1 {
				return nil, fail(i, "empty placeholder")
			}
			kind := tokName
			if c == ':' {
				kind = tokValue
			}
			toks = append(toks, token{kind: kind, text: expr[i:j], pos: i})
			i = j
			continue
		case isIdentByte(c, true):
			j := i + 1
			for j < len(expr) && isIdentByte(expr[j], false) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: expr[i:j], pos: i})
			i = j
			continue
		case c >= '0' && c <= '9':
			j := i + 1
			for j < len(expr) && expr[j] >= '0' && expr[j] <= '9' {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: expr[i:j], pos: i})
			i = j
			continue
		}

		kind := tokEOF
		width := 1
		switch c {
		case '(':
			kind = tokLParen
		case ')':
			kind = tokRParen
		case '[':
			kind = tokLBracket
		case ']':
			kind = tokRBracket
		case ',':
			kind = tokComma
		case '.':
			kind = tokDot
		case '=':
			kind = tokEq
		case '+':
			kind = tokPlus
		case '-':
			kind = tokMinus
		case '<':
			kind = tokLt
			if strings.HasPrefix(expr[i:], "<>") {
				kind, width = tokNe, 2
			} else if strings.HasPrefix(expr[i:], "<=") {
				kind, width = tokLe, 2
			}
		case '>':
			kind = tokGt
			if strings.HasPrefix(expr[i:], ">=") {
				kind, width = tokGe, 2
			}
		default:
			return nil, fail(i, "unexpected character %q", c)
		}
		toks = append(toks, token{kind: kind, text: expr[i : i+width], pos: i})
		i += width
	}
	return append(toks, token{kind: tokEOF, pos: len(expr)}), nil
}

// parser walks the tokens of one expression.
type parser struct {
	expr string
	toks []token
	pos  int
	in   Input
}

func newParser(expr string, in Input) (*parser, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	return &parser{expr: expr, toks: toks, in: in}, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Expr: p.expr, Pos: p.peek().pos, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	if p.peek().kind != kind {
		return token{}, p.errorf("expected %s", what)
	}
	return p.next(), nil
}

// keyword reports whether the next token is the case-insensitive keyword kw,
// consuming it if so.
func (p *parser) keyword(kw string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.next()
		return true
	}
	return false
}

func (p *parser) isKeyword(kw string) bool {
	t := p.peek()
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

var reserved = map[string]bool{
	"AND": true, "OR": true, "NOT": true, "BETWEEN": true, "IN": true,
	"SET": true, "REMOVE": true, "ADD": true, "DELETE": true,
}

func (p *parser) done() error {
	if p.peek().kind != tokEOF {
		return p.errorf("unexpected %q", p.peek().text)
	}
	return nil
}
