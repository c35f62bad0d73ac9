// Package sqltoken splits generated SQL statements into a flat sequence of
// tokens. It knows about quoting, brackets, punctuation and parameter markers,
// and nothing about SQL grammar; recognizers built on top of it decide which
// statement shapes they accept.
package sqltoken

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ParamPrefix is the sentinel that starts a parameter marker, e.g. ":p0".
const ParamPrefix = ':'

// Kind is the kind of a token.
type Kind uint8

// Token kinds.
const (
	EOF Kind = iota
	Text
	Delimited
	BracketOpen
	BracketClose
)

var kindNames = [...]string{
	EOF:          "EOF",
	Text:         "Text",
	Delimited:    "Delimited",
	BracketOpen:  "BracketOpen",
	BracketClose: "BracketClose",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// Token is a single lexical unit of a statement.
type Token struct {
	Kind Kind
	// Value is the raw token text, delimiters included.
	Value string
	// Pos is the byte offset of the token in the source.
	Pos int
}

// End returns the byte offset just past the token.
func (t Token) End() int { return t.Pos + len(t.Value) }

// Unquoted returns the token value with delimiters stripped and doubled
// delimiters collapsed. Plain text tokens are returned unchanged.
func (t Token) Unquoted() string {
	if t.Kind != Delimited || len(t.Value) < 2 {
		return t.Value
	}
	inner := t.Value[1 : len(t.Value)-1]
	switch t.Value[0] {
	case '"':
		return strings.ReplaceAll(inner, `""`, `"`)
	case '\'':
		return strings.ReplaceAll(inner, `''`, `'`)
	case '[':
		return strings.ReplaceAll(inner, `]]`, `]`)
	}
	return t.Value
}

// IsParam reports whether the token is a parameter marker.
func (t Token) IsParam() bool {
	return t.Kind == Text && len(t.Value) > 1 && t.Value[0] == ParamPrefix && t.Value[1] != ParamPrefix
}

// ParamName returns the parameter name without the prefix.
func (t Token) ParamName() string {
	if !t.IsParam() {
		return ""
	}
	return t.Value[1:]
}

// Is reports whether the token is the given keyword or punctuation,
// compared case-insensitively.
func (t Token) Is(keyword string) bool {
	return t.Kind == Text && strings.EqualFold(t.Value, keyword)
}

// IsIdent reports whether the token can name a table or a column.
func (t Token) IsIdent() bool {
	switch t.Kind {
	case Delimited:
		return true
	case Text:
		if t.IsParam() || len(t.Value) == 0 {
			return false
		}
		return !isPunct(t.Value[0]) && t.Value[0] != ParamPrefix
	}
	return false
}

// Tokenizer produces tokens from a statement lazily. It is restartable
// through Reset and yields EOF forever once the input is exhausted.
type Tokenizer struct {
	src string
	pos int
}

// New returns a Tokenizer over src.
func New(src string) *Tokenizer {
	return &Tokenizer{src: src}
}

// Reset rewinds the tokenizer to the start of its input.
func (t *Tokenizer) Reset() { t.pos = 0 }

// All returns every token of src, excluding the final EOF.
func All(src string) []Token {
	var (
		tz     = New(src)
		tokens []Token
	)
	for tok := tz.Next(); tok.Kind != EOF; tok = tz.Next() {
		tokens = append(tokens, tok)
	}
	return tokens
}

// Next returns the next token.
func (t *Tokenizer) Next() Token {
	t.skipSpace()
	if t.pos >= len(t.src) {
		return Token{Kind: EOF, Pos: len(t.src)}
	}
	start := t.pos
	switch c := t.src[t.pos]; {
	case c == '(':
		t.pos++
		return Token{Kind: BracketOpen, Value: "(", Pos: start}
	case c == ')':
		t.pos++
		return Token{Kind: BracketClose, Value: ")", Pos: start}
	case c == '"':
		return t.delimited('"')
	case c == '\'':
		return t.delimited('\'')
	case c == '[':
		return t.delimited(']')
	case isPunct(c):
		t.pos++
		return Token{Kind: Text, Value: t.src[start:t.pos], Pos: start}
	case c == ParamPrefix:
		t.pos++
		if t.pos < len(t.src) && t.src[t.pos] == ParamPrefix {
			t.pos++
			return Token{Kind: Text, Value: "::", Pos: start}
		}
		for t.pos < len(t.src) && isParamChar(t.src[t.pos]) {
			t.pos++
		}
		return Token{Kind: Text, Value: t.src[start:t.pos], Pos: start}
	default:
		for t.pos < len(t.src) && !t.isBoundary() {
			_, size := utf8.DecodeRuneInString(t.src[t.pos:])
			t.pos += size
		}
		return Token{Kind: Text, Value: t.src[start:t.pos], Pos: start}
	}
}

// delimited reads a quoted token whose closing delimiter is escaped by doubling.
// An unterminated token runs to the end of input and is reported as Text.
func (t *Tokenizer) delimited(closing byte) Token {
	start := t.pos
	t.pos++
	for t.pos < len(t.src) {
		if t.src[t.pos] == closing {
			if t.pos+1 < len(t.src) && t.src[t.pos+1] == closing {
				t.pos += 2
				continue
			}
			t.pos++
			return Token{Kind: Delimited, Value: t.src[start:t.pos], Pos: start}
		}
		t.pos++
	}
	return Token{Kind: Text, Value: t.src[start:], Pos: start}
}

func (t *Tokenizer) skipSpace() {
	for t.pos < len(t.src) {
		r, size := utf8.DecodeRuneInString(t.src[t.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		t.pos += size
	}
}

func (t *Tokenizer) isBoundary() bool {
	switch c := t.src[t.pos]; {
	case c == '(' || c == ')' || c == '"' || c == '\'' || c == '[' || c == ParamPrefix || isPunct(c):
		return true
	case c < utf8.RuneSelf:
		return unicode.IsSpace(rune(c))
	}
	r, _ := utf8.DecodeRuneInString(t.src[t.pos:])
	return unicode.IsSpace(r)
}

func isPunct(c byte) bool {
	return c == ',' || c == '.' || c == '=' || c == ';'
}

func isParamChar(c byte) bool {
	return c == '_' || c == '$' || '0' <= c && c <= '9' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}
