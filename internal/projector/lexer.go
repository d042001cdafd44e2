package projector

import (
	"fmt"
	"strings"
)

// tokenType is the type of a key condition expression token.
type tokenType int

const (
	tokEOF tokenType = iota
	tokError
	tokName        // attribute name or #placeholder
	tokValue       // :placeholder
	tokAnd         // AND
	tokBetween     // BETWEEN
	tokBeginsWith  // begins_with
	tokEq          // =
	tokLt          // <
	tokLe          // <=
	tokGt          // >
	tokGe          // >=
	tokComma       // ,
	tokLParen      // (
	tokRParen      // )
)

func (t tokenType) String() string {
	switch t {
	case tokEOF:
		return "end of expression"
	case tokError:
		return "invalid token"
	case tokName:
		return "attribute name"
	case tokValue:
		return "value placeholder"
	case tokAnd:
		return "AND"
	case tokBetween:
		return "BETWEEN"
	case tokBeginsWith:
		return "begins_with"
	case tokEq:
		return "="
	case tokLt:
		return "<"
	case tokLe:
		return "<="
	case tokGt:
		return ">"
	case tokGe:
		return ">="
	case tokComma:
		return ","
	case tokLParen:
		return "("
	case tokRParen:
		return ")"
	default:
		return "UNKNOWN"
	}
}

type exprToken struct {
	typ     tokenType
	literal string
	pos     int
}

func (t exprToken) String() string {
	return fmt.Sprintf("%s %q at %d", t.typ, t.literal, t.pos)
}

// lexer tokenizes key condition expressions.
type lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
}

func newLexer(input string) *lexer {
	l := &lexer{input: input}
	l.readChar()
	return l
}

func (l *lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

func (l *lexer) next() exprToken {
	l.skipWhitespace()
	start := l.pos

	var tok exprToken
	switch l.ch {
	case 0:
		return exprToken{typ: tokEOF, pos: start}
	case '=':
		tok = exprToken{typ: tokEq, literal: "=", pos: start}
	case '<':
		if l.peekChar() == '=' {
			l.readChar()
			tok = exprToken{typ: tokLe, literal: "<=", pos: start}
		} else {
			tok = exprToken{typ: tokLt, literal: "<", pos: start}
		}
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			tok = exprToken{typ: tokGe, literal: ">=", pos: start}
		} else {
			tok = exprToken{typ: tokGt, literal: ">", pos: start}
		}
	case ',':
		tok = exprToken{typ: tokComma, literal: ",", pos: start}
	case '(':
		tok = exprToken{typ: tokLParen, literal: "(", pos: start}
	case ')':
		tok = exprToken{typ: tokRParen, literal: ")", pos: start}
	case '#':
		return l.readPlaceholder(tokName)
	case ':':
		return l.readPlaceholder(tokValue)
	default:
		if isNameChar(l.ch) {
			return l.readWord()
		}
		tok = exprToken{typ: tokError, literal: string(l.ch), pos: start}
	}

	l.readChar()
	return tok
}

// readPlaceholder reads '#name' or ':value', keeping the sigil.
func (l *lexer) readPlaceholder(typ tokenType) exprToken {
	start := l.pos
	l.readChar()
	for isNameChar(l.ch) {
		l.readChar()
	}
	literal := l.input[start:l.pos]
	if len(literal) == 1 {
		return exprToken{typ: tokError, literal: literal, pos: start}
	}
	return exprToken{typ: typ, literal: literal, pos: start}
}

func (l *lexer) readWord() exprToken {
	start := l.pos
	for isNameChar(l.ch) {
		l.readChar()
	}
	literal := l.input[start:l.pos]

	switch {
	case strings.EqualFold(literal, "AND"):
		return exprToken{typ: tokAnd, literal: literal, pos: start}
	case strings.EqualFold(literal, "BETWEEN"):
		return exprToken{typ: tokBetween, literal: literal, pos: start}
	case literal == "begins_with":
		return exprToken{typ: tokBeginsWith, literal: literal, pos: start}
	}
	return exprToken{typ: tokName, literal: literal, pos: start}
}

func isNameChar(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}
