package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenString
	tokenOp     // == != && ||
	tokenBang   // !
	tokenLParen // (
	tokenRParen // )
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// scan tokenizes a guard expression. It returns a syntax error for any
// character outside the guard language.
func scan(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	i := 0

	for i < len(runes) {
		r := runes[i]

		switch {
		case unicode.IsSpace(r):
			i++

		case r == '(':
			tokens = append(tokens, token{tokenLParen, "(", i})
			i++

		case r == ')':
			tokens = append(tokens, token{tokenRParen, ")", i})
			i++

		case r == '\'':
			start := i
			i++
			var sb strings.Builder
			for i < len(runes) && runes[i] != '\'' {
				sb.WriteRune(runes[i])
				i++
			}
			if i >= len(runes) {
				return nil, fmt.Errorf("unterminated string literal at position %d", start)
			}
			i++ // closing quote
			tokens = append(tokens, token{tokenString, sb.String(), start})

		case r == '=' || r == '&' || r == '|':
			if i+1 < len(runes) && runes[i+1] == r {
				op := string(r) + string(r)
				if r == '=' {
					op = "=="
				}
				tokens = append(tokens, token{tokenOp, op, i})
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected character %q at position %d", r, i)
			}

		case r == '!':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{tokenOp, "!=", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenBang, "!", i})
				i++
			}

		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_' || runes[i] == '.' || runes[i] == '-') {
				i++
			}
			tokens = append(tokens, token{tokenIdent, string(runes[start:i]), start})

		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", r, i)
		}
	}

	tokens = append(tokens, token{tokenEOF, "", len(runes)})
	return tokens, nil
}
