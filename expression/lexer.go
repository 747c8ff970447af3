package expression

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// TokenKind enumerates lexer token types.
type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenNull
	TokenTrue
	TokenFalse
	TokenNumber
	TokenString
	TokenIdent
	TokenPlus
	TokenMinus
	TokenStar
	TokenSlash
	TokenPercent
	TokenEq
	TokenNe
	TokenLt
	TokenLe
	TokenGt
	TokenGe
	TokenAnd
	TokenOr
	TokenNot
	TokenDot
	TokenComma
	TokenColon
	TokenQuestion
	TokenLParen
	TokenRParen
	TokenLBracket
	TokenRBracket
	TokenLBrace
	TokenRBrace
)

// Token is a single lexical unit with its source position.
type Token struct {
	Kind TokenKind
	Text string
	Num  float64
	Pos  int
}

// LexError reports a tokenization failure with its byte position.
type LexError struct {
	Message  string
	Position int
}

func (e *LexError) Error() string {
	return fmt.Sprintf("lex error at position %d: %s", e.Position, e.Message)
}

type lexer struct {
	input []rune
	pos   int
}

// Tokenize splits an expression body into tokens, ending with TokenEOF.
func Tokenize(input string) ([]Token, error) {
	l := &lexer{input: []rune(input)}
	var tokens []Token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Kind == TokenEOF {
			return tokens, nil
		}
	}
}

func (l *lexer) next() (Token, error) {
	for l.pos < len(l.input) && unicode.IsSpace(l.input[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return Token{Kind: TokenEOF, Pos: l.pos}, nil
	}

	start := l.pos
	ch := l.input[l.pos]

	single := map[rune]TokenKind{
		'+': TokenPlus, '-': TokenMinus, '*': TokenStar, '/': TokenSlash,
		'%': TokenPercent, '.': TokenDot, ',': TokenComma, ':': TokenColon,
		'?': TokenQuestion, '(': TokenLParen, ')': TokenRParen,
		'[': TokenLBracket, ']': TokenRBracket, '{': TokenLBrace, '}': TokenRBrace,
	}
	if kind, ok := single[ch]; ok {
		l.pos++
		return Token{Kind: kind, Pos: start}, nil
	}

	switch ch {
	case '=':
		l.pos++
		if l.peek() == '=' {
			l.pos++
			return Token{Kind: TokenEq, Pos: start}, nil
		}
		return Token{}, &LexError{Message: "expected '==' operator", Position: start}
	case '!':
		l.pos++
		if l.peek() == '=' {
			l.pos++
			return Token{Kind: TokenNe, Pos: start}, nil
		}
		return Token{Kind: TokenNot, Pos: start}, nil
	case '<':
		l.pos++
		if l.peek() == '=' {
			l.pos++
			return Token{Kind: TokenLe, Pos: start}, nil
		}
		return Token{Kind: TokenLt, Pos: start}, nil
	case '>':
		l.pos++
		if l.peek() == '=' {
			l.pos++
			return Token{Kind: TokenGe, Pos: start}, nil
		}
		return Token{Kind: TokenGt, Pos: start}, nil
	case '&':
		l.pos++
		if l.peek() == '&' {
			l.pos++
			return Token{Kind: TokenAnd, Pos: start}, nil
		}
		return Token{}, &LexError{Message: "expected '&&' operator", Position: start}
	case '|':
		l.pos++
		if l.peek() == '|' {
			l.pos++
			return Token{Kind: TokenOr, Pos: start}, nil
		}
		return Token{}, &LexError{Message: "expected '||' operator", Position: start}
	case '\'':
		return l.readString()
	}

	if ch >= '0' && ch <= '9' {
		return l.readNumber()
	}
	if isIdentStart(ch) {
		return l.readIdentifier(), nil
	}

	return Token{}, &LexError{Message: fmt.Sprintf("unexpected character: %q", ch), Position: start}
}

func (l *lexer) peek() rune {
	if l.pos < len(l.input) {
		return l.input[l.pos]
	}
	return 0
}

// readString parses a single-quoted string; a doubled quote escapes
// a literal quote character.
func (l *lexer) readString() (Token, error) {
	start := l.pos
	l.pos++
	var sb strings.Builder
	for {
		if l.pos >= len(l.input) {
			return Token{}, &LexError{Message: "unterminated string", Position: start}
		}
		ch := l.input[l.pos]
		if ch == '\'' {
			l.pos++
			if l.peek() == '\'' {
				sb.WriteByte('\'')
				l.pos++
				continue
			}
			break
		}
		sb.WriteRune(ch)
		l.pos++
	}
	return Token{Kind: TokenString, Text: sb.String(), Pos: start}, nil
}

func (l *lexer) readNumber() (Token, error) {
	start := l.pos
	for l.pos < len(l.input) && l.input[l.pos] >= '0' && l.input[l.pos] <= '9' {
		l.pos++
	}
	// Decimal part only when a digit follows the dot, so member access on
	// numbers does not get swallowed.
	if l.pos+1 < len(l.input) && l.input[l.pos] == '.' &&
		l.input[l.pos+1] >= '0' && l.input[l.pos+1] <= '9' {
		l.pos++
		for l.pos < len(l.input) && l.input[l.pos] >= '0' && l.input[l.pos] <= '9' {
			l.pos++
		}
	}
	text := string(l.input[start:l.pos])
	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Token{}, &LexError{Message: "invalid number: " + text, Position: start}
	}
	return Token{Kind: TokenNumber, Num: n, Pos: start}, nil
}

func (l *lexer) readIdentifier() Token {
	start := l.pos
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}
	text := string(l.input[start:l.pos])
	switch strings.ToLower(text) {
	case "null":
		return Token{Kind: TokenNull, Pos: start}
	case "true":
		return Token{Kind: TokenTrue, Pos: start}
	case "false":
		return Token{Kind: TokenFalse, Pos: start}
	}
	return Token{Kind: TokenIdent, Text: text, Pos: start}
}

func isIdentStart(ch rune) bool {
	return ch == '_' || unicode.IsLetter(ch)
}

func isIdentPart(ch rune) bool {
	return ch == '_' || unicode.IsLetter(ch) || unicode.IsDigit(ch)
}
