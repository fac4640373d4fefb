// Package formula implements the custom metric formula language:
//
//	expr   := term (('+'|'-') term)*
//	term   := factor (('*'|'/') factor)*
//	factor := NUMBER | IDENT | '(' expr ')' | FUNC '(' args ')'
//	FUNC   := min | max | abs
//
// A small recursive-descent parser produces an AST, evaluated by
// tree-walk. This grammar is the entire language: it never delegates to
// any host-level expression evaluation, and any token outside it
// (attribute access, assignment, indexing, non-whitelisted calls) fails
// closed with UnsafeExpression.
package formula

import (
	"fmt"
	"unicode"

	"github.com/soccerops/alertcore/internal/errkind"
)

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLParen
	tokRParen
	tokComma
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

// lex tokenizes the input, rejecting any character outside the grammar.
func lex(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '+':
			tokens = append(tokens, token{kind: tokPlus, text: "+"})
			i++
		case r == '-':
			tokens = append(tokens, token{kind: tokMinus, text: "-"})
			i++
		case r == '*':
			tokens = append(tokens, token{kind: tokStar, text: "*"})
			i++
		case r == '/':
			tokens = append(tokens, token{kind: tokSlash, text: "/"})
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "("})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")"})
			i++
		case r == ',':
			tokens = append(tokens, token{kind: tokComma, text: ","})
			i++
		case unicode.IsDigit(r) || r == '.':
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			text := string(runes[start:i])
			var n float64
			if _, err := fmt.Sscanf(text, "%g", &n); err != nil {
				return nil, fmt.Errorf("%w: malformed number %q", errkind.UnsafeExpression, text)
			}
			tokens = append(tokens, token{kind: tokNumber, text: text, num: n})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: string(runes[start:i])})
		default:
			// Anything else — '[', '=', etc. — is outside the grammar:
			// indexing and assignment are rejected here rather than
			// silently tokenized. A '.' enters the number branch above,
			// where a stray one fails as a malformed number.
			return nil, fmt.Errorf("%w: unexpected character %q", errkind.UnsafeExpression, string(r))
		}
	}
	tokens = append(tokens, token{kind: tokEOF})
	return tokens, nil
}

var whitelistedFuncs = map[string]bool{
	"min": true,
	"max": true,
	"abs": true,
}

// isWhitelistedFunc is case-sensitive: MIN is an identifier, not a call.
func isWhitelistedFunc(name string) bool {
	return whitelistedFuncs[name]
}
