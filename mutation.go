package bulkmerge

import (
	"strings"

	"golang.org/x/text/cases"
)

// Operation is the kind of row-level change an entity mutation carries.
type Operation uint8

// Supported operations.
const (
	OpInsert Operation = iota + 1
	OpUpdate
	OpDelete
)

// String implements fmt.Stringer.
func (o Operation) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// RowState returns the single-character tag of the operation in a staging table.
func (o Operation) RowState() string {
	switch o {
	case OpInsert:
		return "I"
	case OpUpdate:
		return "U"
	case OpDelete:
		return "D"
	}
	return ""
}

// fold is shared by every table-path comparison. cases.Caser is stateful,
// so each use takes a fresh copy.
var fold = cases.Fold()

func folded(s string) string {
	c := fold
	return c.String(s)
}

// TablePath is an ordered, schema-qualified table identifier,
// e.g. ["public", "orders"]. Paths compare case-insensitively.
type TablePath []string

// Equal reports whether both paths name the same table.
func (p TablePath) Equal(o TablePath) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if folded(p[i]) != folded(o[i]) {
			return false
		}
	}
	return true
}

// Key returns a map key that is equal for equal paths.
func (p TablePath) Key() string {
	segs := make([]string, len(p))
	for i, s := range p {
		segs[i] = folded(s)
	}
	return strings.Join(segs, "\x00")
}

// String returns the dotted path without quoting.
func (p TablePath) String() string {
	return strings.Join(p, ".")
}

// EntityMutation is one row-level insert, update or delete recovered from a
// generated statement. A mutation is not modified after extraction.
type EntityMutation struct {
	// Table is the target table.
	Table TablePath
	// Op is the operation.
	Op Operation
	// Values maps column names to bound values. For updates and deletes the
	// WHERE clause columns carry the values used to match the existing row.
	Values map[string]any
	// UpdatedKey holds the new values of columns that an update both matches
	// on and assigns, such as a renamed primary key. Nil otherwise.
	UpdatedKey map[string]any
	// Where lists the columns of the WHERE clause of an update or delete,
	// in statement order. Their values are in Values.
	Where []string
	// Command is the statement the mutation was extracted from.
	Command *CommandDescriptor
}

// Value returns the value bound to column. Exact names win; otherwise the
// lookup falls back to a case-insensitive match.
func (m *EntityMutation) Value(column string) (any, bool) {
	return lookup(m.Values, column)
}

// NewValue returns the updated value of column, if the mutation assigns one.
func (m *EntityMutation) NewValue(column string) (any, bool) {
	return lookup(m.UpdatedKey, column)
}

// Matches reports whether column is a WHERE clause column.
func (m *EntityMutation) Matches(column string) bool {
	for _, c := range m.Where {
		if c == column || strings.EqualFold(c, column) {
			return true
		}
	}
	return false
}

func lookup(values map[string]any, column string) (any, bool) {
	if v, ok := values[column]; ok {
		return v, true
	}
	for k, v := range values {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return nil, false
}
