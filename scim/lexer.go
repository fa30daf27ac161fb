package scim

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
)

// Token kinds produced by the filter lexer.
type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenString
	tokenNumber
	tokenTrue
	tokenFalse
	tokenNull
	tokenLParen
	tokenRParen
	tokenLBrack
	tokenRBrack
	tokenDot
	tokenAnd
	tokenOr
	tokenNot
	tokenPr
	tokenOp
)

func (k tokenKind) String() string {
	switch k {
	case tokenEOF:
		return "end of filter"
	case tokenIdent:
		return "attribute"
	case tokenString:
		return "string"
	case tokenNumber:
		return "number"
	case tokenTrue, tokenFalse:
		return "boolean"
	case tokenNull:
		return "null"
	case tokenLParen:
		return "'('"
	case tokenRParen:
		return "')'"
	case tokenLBrack:
		return "'['"
	case tokenRBrack:
		return "']'"
	case tokenDot:
		return "'.'"
	case tokenAnd:
		return "'and'"
	case tokenOr:
		return "'or'"
	case tokenNot:
		return "'not'"
	case tokenPr:
		return "'pr'"
	case tokenOp:
		return "operator"
	}
	return "token"
}

// token is a single lexeme with its byte position in the filter source.
// For tokenString the text holds the decoded value; for tokenOp the
// lowercased operator name; otherwise the raw source text.
type token struct {
	kind tokenKind
	text string
	pos  int
}

// keywords maps case-folded bare words to their token kinds. Comparison
// operators share tokenOp; the parser reads the operator name from the text.
var keywords = map[string]tokenKind{
	"and":   tokenAnd,
	"or":    tokenOr,
	"not":   tokenNot,
	"pr":    tokenPr,
	"true":  tokenTrue,
	"false": tokenFalse,
	"null":  tokenNull,
	"eq":    tokenOp,
	"ne":    tokenOp,
	"co":    tokenOp,
	"sw":    tokenOp,
	"ew":    tokenOp,
	"gt":    tokenOp,
	"ge":    tokenOp,
	"lt":    tokenOp,
	"le":    tokenOp,
}

// tokenize converts a filter source string into a token stream terminated by
// tokenEOF. Keywords and operators are case-insensitive.
func tokenize(input string) ([]token, error) {
	var tokens []token
	pos := 0

	for pos < len(input) {
		ch := input[pos]

		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			pos++

		case ch == '(':
			tokens = append(tokens, token{tokenLParen, "(", pos})
			pos++
		case ch == ')':
			tokens = append(tokens, token{tokenRParen, ")", pos})
			pos++
		case ch == '[':
			tokens = append(tokens, token{tokenLBrack, "[", pos})
			pos++
		case ch == ']':
			tokens = append(tokens, token{tokenRBrack, "]", pos})
			pos++
		case ch == '.':
			tokens = append(tokens, token{tokenDot, ".", pos})
			pos++

		case ch == '"':
			tok, next, err := lexString(input, pos)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			pos = next

		case ch == '-' || isDigit(ch):
			tok, next, err := lexNumber(input, pos)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			pos = next

		case isIdentStart(ch):
			tok, next := lexWord(input, pos)
			tokens = append(tokens, tok)
			pos = next

		default:
			return nil, ErrInvalidFilter(fmt.Sprintf("unexpected character %q at position %d", ch, pos))
		}
	}

	tokens = append(tokens, token{tokenEOF, "", len(input)})
	return tokens, nil
}

// lexString scans a double-quoted string with JSON escape sequences starting
// at the opening quote.
func lexString(input string, start int) (token, int, error) {
	var sb strings.Builder
	pos := start + 1

	for pos < len(input) {
		ch := input[pos]
		switch ch {
		case '"':
			return token{tokenString, sb.String(), start}, pos + 1, nil
		case '\\':
			if pos+1 >= len(input) {
				return token{}, 0, ErrInvalidFilter(fmt.Sprintf("unterminated string at position %d", start))
			}
			esc := input[pos+1]
			switch esc {
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			case '/':
				sb.WriteByte('/')
			case 'b':
				sb.WriteByte('\b')
			case 'f':
				sb.WriteByte('\f')
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'u':
				r, next, err := lexUnicodeEscape(input, pos)
				if err != nil {
					return token{}, 0, err
				}
				sb.WriteRune(r)
				pos = next
				continue
			default:
				return token{}, 0, ErrInvalidFilter(fmt.Sprintf("invalid escape sequence at position %d", pos))
			}
			pos += 2
		default:
			sb.WriteByte(ch)
			pos++
		}
	}

	return token{}, 0, ErrInvalidFilter(fmt.Sprintf("unterminated string at position %d", start))
}

// lexUnicodeEscape decodes a \uXXXX escape starting at the backslash,
// combining UTF-16 surrogate pairs into one code point. Unpaired surrogates
// become the replacement character, matching encoding/json.
func lexUnicodeEscape(input string, pos int) (rune, int, error) {
	if pos+6 > len(input) {
		return 0, 0, ErrInvalidFilter(fmt.Sprintf("invalid unicode escape at position %d", pos))
	}
	code, err := strconv.ParseUint(input[pos+2:pos+6], 16, 32)
	if err != nil {
		return 0, 0, ErrInvalidFilter(fmt.Sprintf("invalid unicode escape at position %d", pos))
	}
	r := rune(code)
	next := pos + 6
	if !utf16.IsSurrogate(r) {
		return r, next, nil
	}
	if next+6 <= len(input) && input[next] == '\\' && input[next+1] == 'u' {
		if code2, err := strconv.ParseUint(input[next+2:next+6], 16, 32); err == nil {
			if combined := utf16.DecodeRune(r, rune(code2)); combined != unicode.ReplacementChar {
				return combined, next + 6, nil
			}
		}
	}
	return unicode.ReplacementChar, next, nil
}

// lexNumber scans a JSON number starting at a digit or minus sign.
func lexNumber(input string, start int) (token, int, error) {
	pos := start
	if input[pos] == '-' {
		pos++
	}
	digitsStart := pos
	for pos < len(input) && isDigit(input[pos]) {
		pos++
	}
	if pos == digitsStart {
		return token{}, 0, ErrInvalidFilter(fmt.Sprintf("invalid number at position %d", start))
	}
	if pos < len(input) && input[pos] == '.' {
		pos++
		fracStart := pos
		for pos < len(input) && isDigit(input[pos]) {
			pos++
		}
		if pos == fracStart {
			return token{}, 0, ErrInvalidFilter(fmt.Sprintf("invalid number at position %d", start))
		}
	}
	if pos < len(input) && (input[pos] == 'e' || input[pos] == 'E') {
		pos++
		if pos < len(input) && (input[pos] == '+' || input[pos] == '-') {
			pos++
		}
		expStart := pos
		for pos < len(input) && isDigit(input[pos]) {
			pos++
		}
		if pos == expStart {
			return token{}, 0, ErrInvalidFilter(fmt.Sprintf("invalid number at position %d", start))
		}
	}
	return token{tokenNumber, input[start:pos], start}, pos, nil
}

// lexWord scans an identifier or keyword. Identifiers admit URN qualification
// (colons, as in urn:ietf:params:scim:schemas:core:2.0:User:userName) and an
// embedded dot when it is immediately followed by another identifier
// character, so a dotted attribute path lexes as one token while the dot in
// "].value" does not.
func lexWord(input string, start int) (token, int) {
	pos := start
	for pos < len(input) {
		ch := input[pos]
		if isIdentPart(ch) {
			pos++
			continue
		}
		if ch == '.' && pos+1 < len(input) && isIdentPart(input[pos+1]) {
			pos++
			continue
		}
		break
	}

	word := input[start:pos]
	if !strings.ContainsAny(word, ":.-$") {
		if kind, ok := keywords[strings.ToLower(word)]; ok {
			text := word
			if kind == tokenOp {
				text = strings.ToLower(word)
			}
			return token{kind, text, start}, pos
		}
	}
	return token{tokenIdent, word, start}, pos
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_' || ch == '$'
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '-' || ch == ':'
}
