// Package extract recognizes the INSERT, UPDATE and DELETE statements an ORM
// generates for single rows and turns them into entity mutations.
//
// Recognition is deliberately narrow: a statement that carries anything the
// bulk strategies could not reproduce (RETURNING clauses, joins, sub-selects,
// OR conditions, several statements) is not recognized and is executed as is.
package extract

import (
	"strings"
	"unicode"

	"github.com/syssam/bulkmerge"
	"github.com/syssam/bulkmerge/dialect/sql/sqltoken"
)

// Extractor recognizes one statement shape.
type Extractor interface {
	// Extract returns the mutation described by cmd, or false when the
	// statement is not of the recognized shape.
	Extract(cmd *bulkmerge.CommandDescriptor) (*bulkmerge.EntityMutation, bool)
}

// Default returns the insert, update and delete extractors.
func Default() []Extractor {
	return []Extractor{Insert{}, Update{}, Delete{}}
}

// Extract runs the extractors in order and returns the first recognized mutation.
func Extract(cmd *bulkmerge.CommandDescriptor, extractors ...Extractor) (*bulkmerge.EntityMutation, bool) {
	if cmd == nil || cmd.Kind != bulkmerge.CommandText {
		return nil, false
	}
	for _, e := range extractors {
		if m, ok := e.Extract(cmd); ok {
			return m, true
		}
	}
	return nil, false
}

// hasKeyword reports whether s starts with keyword followed by a space,
// ignoring case and leading whitespace.
func hasKeyword(s, keyword string) bool {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	if len(s) <= len(keyword) || !strings.EqualFold(s[:len(keyword)], keyword) {
		return false
	}
	return unicode.IsSpace(rune(s[len(keyword)]))
}

// cursor walks the tokens of one statement.
type cursor struct {
	tz  *sqltoken.Tokenizer
	tok sqltoken.Token
	cmd *bulkmerge.CommandDescriptor
}

func newCursor(cmd *bulkmerge.CommandDescriptor) *cursor {
	c := &cursor{tz: sqltoken.New(cmd.SQL), cmd: cmd}
	c.next()
	return c
}

func (c *cursor) next() { c.tok = c.tz.Next() }

// keyword consumes the current token if it is k.
func (c *cursor) keyword(k string) bool {
	if !c.tok.Is(k) {
		return false
	}
	c.next()
	return true
}

func (c *cursor) kind(k sqltoken.Kind) bool {
	if c.tok.Kind != k {
		return false
	}
	c.next()
	return true
}

// path reads a dotted table path.
func (c *cursor) path() (bulkmerge.TablePath, bool) {
	var p bulkmerge.TablePath
	for {
		name, ok := c.ident()
		if !ok {
			return nil, false
		}
		p = append(p, name)
		if !c.keyword(".") {
			return p, true
		}
	}
}

// ident reads a single unqualified identifier. String literals are not
// identifiers, so a single-quoted column name is a miss.
func (c *cursor) ident() (string, bool) {
	if !c.tok.IsIdent() || c.tok.Value[0] == '\'' {
		return "", false
	}
	name := c.tok.Unquoted()
	c.next()
	return name, name != ""
}

// param reads a parameter marker and resolves its bound value.
func (c *cursor) param() (any, bool) {
	if !c.tok.IsParam() {
		return nil, false
	}
	p, ok := c.cmd.Lookup(c.tok.ParamName())
	if !ok {
		return nil, false
	}
	c.next()
	return p.Value, true
}

// pairs reads "column = :param" pairs separated by sep until a token that
// is not sep.
func (c *cursor) pairs(sep string) (columns []string, values []any, ok bool) {
	for {
		col, ok := c.ident()
		if !ok || !c.keyword("=") {
			return nil, nil, false
		}
		v, ok := c.param()
		if !ok {
			return nil, nil, false
		}
		columns = append(columns, col)
		values = append(values, v)
		if !c.keyword(sep) {
			return columns, values, true
		}
	}
}

// end accepts an optional trailing semicolon followed by end of input.
func (c *cursor) end() bool {
	c.keyword(";")
	return c.tok.Kind == sqltoken.EOF
}

// zip maps columns to values. It fails on duplicate columns.
func zip(columns []string, values []any) (map[string]any, bool) {
	if len(columns) == 0 || len(columns) != len(values) {
		return nil, false
	}
	m := make(map[string]any, len(columns))
	for i, col := range columns {
		if _, dup := lookupFold(m, col); dup {
			return nil, false
		}
		m[col] = values[i]
	}
	return m, true
}

func lookupFold(m map[string]any, col string) (string, bool) {
	if _, ok := m[col]; ok {
		return col, true
	}
	for k := range m {
		if strings.EqualFold(k, col) {
			return k, true
		}
	}
	return "", false
}
