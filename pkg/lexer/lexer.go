package lexer

import (
	"fmt"
	"strconv"

	"github.com/spongelang/sponge/pkg/diag"
	"github.com/spongelang/sponge/pkg/token"
)

type Lexer struct {
	source    string
	start     int
	current   int
	line      int
	lineBegin int
	tokens    []token.Token
}

func (l *Lexer) bail(message string) {
	diag.Bail(diag.New(diag.Lex, l.source, l.pos(), message))
}

func (l *Lexer) pos() token.Pos {
	return token.Pos{Line: l.line, Column: l.current - l.lineBegin}
}

func (l *Lexer) isAtEnd() bool {
	return l.current >= len(l.source)
}

func (l *Lexer) advance() byte {
	l.current++
	return l.source[l.current-1]
}

func (l *Lexer) match(c byte) bool {
	if l.isAtEnd() {
		return false
	} else if l.source[l.current] == c {
		l.current++
		return true
	} else {
		return false
	}
}

func (l *Lexer) peek() byte {
	if l.isAtEnd() {
		return 0
	}
	return l.source[l.current]
}

func (l *Lexer) addToken(typ token.TokenType, lexeme string) {
	if lexeme == "" {
		lexeme = l.source[l.start:l.current]
	}

	l.tokens = append(l.tokens, token.Token{
		Lexeme: lexeme,
		Type:   typ,
		Pos:    l.pos(),
	})
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// isAlpha is ASCII-only on purpose: a multi-byte character's lead byte must
// fall through to the silent-skip path, not start an identifier.
func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b == '_'
}

func isAlphaNumeric(b byte) bool {
	return isAlpha(b) || isDigit(b)
}

func (l *Lexer) lexString() {
	for !l.isAtEnd() && l.peek() != '"' {
		if l.peek() == '\n' {
			l.line++
			l.lineBegin = l.current + 1
		}
		l.advance()
	}

	// An unterminated literal reads to end of input; the body is captured
	// verbatim, no escape sequences.
	if l.isAtEnd() {
		l.addToken(token.STRING, l.source[l.start+1:l.current])
		return
	}

	l.advance() // closing `"`
	l.addToken(token.STRING, l.source[l.start+1:l.current-1])
}

func (l *Lexer) lexNumber() {
	for isDigit(l.peek()) {
		l.advance()
	}

	text := l.source[l.start:l.current]
	if _, err := strconv.ParseInt(text, 10, 64); err != nil {
		l.bail(fmt.Sprintf("Integer literal '%s' does not fit in 64 bits.", text))
	}

	l.addToken(token.INT, text)
}

func (l *Lexer) lexIdent() {
	for isAlphaNumeric(l.peek()) {
		l.advance()
	}

	text := l.source[l.start:l.current]

	for i, kw := range token.Keywords {
		if kw == text {
			l.addToken(token.TokenType(int(token.KEYWORD_BEGIN)+i+1), text)
			return
		}
	}

	l.addToken(token.IDENTIFIER, text)
}

func (l *Lexer) scanToken() {
	c := l.advance()

	switch c {
	case '(':
		l.addToken(token.LEFT_PAREN, "")
	case ')':
		l.addToken(token.RIGHT_PAREN, "")
	case '{':
		l.addToken(token.LEFT_BRACE, "")
	case '}':
		l.addToken(token.RIGHT_BRACE, "")
	case ',':
		l.addToken(token.COMMA, "")
	case ':':
		l.addToken(token.COLON, "")
	case ';':
		l.addToken(token.SEMICOLON, "")
	case '+':
		l.addToken(token.PLUS, "")
	case '-':
		l.addToken(token.MINUS, "")
	case '*':
		l.addToken(token.STAR, "")
	case '/':
		l.addToken(token.SLASH, "")
	case '<':
		l.addToken(token.LESSER, "")
	case '>':
		l.addToken(token.GREATER, "")
	case '=':
		if l.match('=') {
			l.addToken(token.EQUAL_EQUAL, "")
		} else {
			l.addToken(token.EQUAL, "")
		}
	case '!':
		// A bare `!` is dropped like any other unrecognized character.
		if l.match('=') {
			l.addToken(token.BANG_EQUAL, "")
		}
	case ' ', '\r', '\t':
		// ignore whitespace.
	case '\n':
		l.line++
		l.lineBegin = l.current
	case '"':
		l.lexString()
	default:
		if isDigit(c) {
			l.lexNumber()
		} else if isAlpha(c) {
			l.lexIdent()
		}
		// Anything else is silently skipped.
	}
}

// Lex converts source text into a flat token sequence terminated by an EOF
// token. The only failure is an overflowing integer literal.
func Lex(source string) (tokens []token.Token, err error) {
	defer diag.Recover(&err)

	l := Lexer{source: source, line: 1}

	for !l.isAtEnd() {
		// we are at the beginning of the next lexeme.
		l.start = l.current
		l.scanToken()
	}

	l.addToken(token.EOF, "\x00")
	return l.tokens, nil
}
