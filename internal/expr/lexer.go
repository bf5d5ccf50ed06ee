package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokKind int

const (
	tIdent tokKind = iota
	tCmp           // == != > >= < <=
	tAnd
	tOr
	tNot
	tNum
	tStr
	tBool
	tLParen
	tRParen
	tEnd
)

type tok struct {
	kind tokKind
	text string
	pos  int
}

// lex splits src into tokens. Keywords are case-insensitive and the C-style
// spellings &&, || and ! are accepted as well.
func lex(src string) ([]tok, error) {
	var out []tok
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case unicode.IsSpace(rune(c)):
			i++
		case c == '(':
			out = append(out, tok{tLParen, "(", i})
			i++
		case c == ')':
			out = append(out, tok{tRParen, ")", i})
			i++
		case c == '&' || c == '|':
			if i+1 >= len(src) || src[i+1] != c {
				return nil, fmt.Errorf("position %d: expected %c%c", i, c, c)
			}
			k := tAnd
			if c == '|' {
				k = tOr
			}
			out = append(out, tok{k, src[i : i+2], i})
			i += 2
		case c == '=' || c == '!' || c == '<' || c == '>':
			if i+1 < len(src) && src[i+1] == '=' {
				out = append(out, tok{tCmp, src[i : i+2], i})
				i += 2
				continue
			}
			switch c {
			case '!':
				out = append(out, tok{tNot, "!", i})
			case '=':
				return nil, fmt.Errorf("position %d: single '=' is not an operator, use '=='", i)
			default:
				out = append(out, tok{tCmp, string(c), i})
			}
			i++
		case c == '"' || c == '\'':
			j := i + 1
			var sb strings.Builder
			for j < len(src) && src[j] != c {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				sb.WriteByte(src[j])
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("position %d: unterminated string", i)
			}
			out = append(out, tok{tStr, sb.String(), i})
			i = j + 1
		case unicode.IsDigit(rune(c)) || (c == '-' && i+1 < len(src) && unicode.IsDigit(rune(src[i+1]))):
			j := i + 1
			for j < len(src) && (unicode.IsDigit(rune(src[j])) || src[j] == '.') {
				j++
			}
			out = append(out, tok{tNum, src[i:j], i})
			i = j
		case unicode.IsLetter(rune(c)) || c == '_':
			j := i + 1
			for j < len(src) && (unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j])) || src[j] == '_' || src[j] == '.') {
				j++
			}
			word := src[i:j]
			switch strings.ToLower(word) {
			case "and":
				out = append(out, tok{tAnd, word, i})
			case "or":
				out = append(out, tok{tOr, word, i})
			case "not":
				out = append(out, tok{tNot, word, i})
			case "true", "false":
				out = append(out, tok{tBool, strings.ToLower(word), i})
			default:
				out = append(out, tok{tIdent, word, i})
			}
			i = j
		default:
			return nil, fmt.Errorf("position %d: unexpected character %q", i, c)
		}
	}
	return append(out, tok{tEnd, "", len(src)}), nil
}
