package sql

import (
	"strconv"
	"strings"

	"github.com/syssam/bulkmerge/dialect"
)

// Quoter escapes identifiers with a delimiter pair. A Close character
// inside a name is escaped by doubling it.
type Quoter struct {
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
}

// Common identifier quoting policies.
var (
	DoubleQuote = Quoter{Open: `"`, Close: `"`}
	Backtick    = Quoter{Open: "`", Close: "`"}
	Bracket     = Quoter{Open: "[", Close: "]"}
)

// QuoterFor returns the standard identifier quoting of the given dialect.
func QuoterFor(name string) Quoter {
	if dialect.Normalize(name) == dialect.MySQL {
		return Backtick
	}
	return DoubleQuote
}

// IsZero reports whether the quoter has no delimiters configured.
func (q Quoter) IsZero() bool { return q.Open == "" && q.Close == "" }

// Ident quotes a single identifier. Empty names stay empty.
func (q Quoter) Ident(name string) string {
	if name == "" {
		return ""
	}
	if q.IsZero() {
		q = DoubleQuote
	}
	closing := q.Close
	if closing == "" {
		closing = q.Open
	}
	var b strings.Builder
	b.Grow(len(name) + len(q.Open) + len(closing))
	b.WriteString(q.Open)
	b.WriteString(strings.ReplaceAll(name, closing, closing+closing))
	b.WriteString(closing)
	return b.String()
}

// Path quotes each segment and joins them with dots, e.g. "public"."users".
func (q Quoter) Path(segments ...string) string {
	quoted := make([]string, len(segments))
	for i, s := range segments {
		quoted[i] = q.Ident(s)
	}
	return strings.Join(quoted, ".")
}

// Placeholder returns the positional parameter marker of the n-th (1-based)
// argument for the dialect.
func Placeholder(name string, n int) string {
	if dialect.Normalize(name) == dialect.Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}
