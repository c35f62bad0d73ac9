package merge

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/syssam/bulkmerge"
	"github.com/syssam/bulkmerge/dialect"
)

// Delimiter separates the statements of a concatenated command.
const Delimiter = "; "

// Concat joins the commands of a page of mutations into one multi-statement
// command and executes each page once.
//
// The way a page reports its affected rows depends on the dialect:
//
//   - postgres: parameters are inlined as literals, so that the page runs
//     over the simple query protocol, and every statement gets "RETURNING 1".
//     The returned rows are counted across all result sets.
//   - mysql: every statement is followed by "SELECT ROW_COUNT()" and the
//     result sets are summed. The connection must allow multi statements.
//   - others: the page is executed with positional arguments and the
//     driver's affected row count is used as is.
type Concat struct {
	dialect  string
	pageSize int
	log      *slog.Logger
}

// NewConcat returns a Concat for the given dialect.
func NewConcat(dialectName string, opts ...Option) *Concat {
	o := newOptions(opts)
	return &Concat{dialect: dialect.Normalize(dialectName), pageSize: o.pageSize, log: o.logger}
}

// PageSize returns the maximum number of statements per command.
func (c *Concat) PageSize() int { return c.pageSize }

// Merge implements the Merger interface.
func (c *Concat) Merge(ctx context.Context, ex dialect.ExecQuerier, muts []*bulkmerge.EntityMutation) (int64, error) {
	var total int64
	for page := range slices.Chunk(muts, c.pageSize) {
		query, args, err := c.render(page)
		if err != nil {
			return total, err
		}
		c.log.DebugContext(ctx, "exec concatenated", "statements", len(page), "sql", query, "args", args)
		var n int64
		switch c.dialect {
		case dialect.Postgres:
			n, err = CountRows(ctx, ex, query, args)
		case dialect.MySQL:
			n, err = SumRows(ctx, ex, query, args)
		default:
			n, err = Exec(ctx, ex, query, args)
		}
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// render builds the command of one page. Each statement renders its own
// parameters, numbered after those of the statements before it.
func (c *Concat) render(page []*bulkmerge.EntityMutation) (string, []any, error) {
	var (
		b    strings.Builder
		args []any
	)
	mode := bulkmerge.RenderArgs
	if c.dialect == dialect.Postgres {
		mode = bulkmerge.RenderInline
	}
	for i, m := range page {
		query, margs, err := m.Command.Render(c.dialect, mode, len(args))
		if err != nil {
			return "", nil, err
		}
		if i > 0 {
			b.WriteString(Delimiter)
		}
		b.WriteString(trimStatement(query))
		switch c.dialect {
		case dialect.Postgres:
			b.WriteString(" RETURNING 1")
		case dialect.MySQL:
			b.WriteString(Delimiter)
			b.WriteString("SELECT ROW_COUNT()")
		}
		args = append(args, margs...)
	}
	return b.String(), args, nil
}

// trimStatement removes surrounding whitespace and a trailing semicolon.
func trimStatement(s string) string {
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ";"))
}
