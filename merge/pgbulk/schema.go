package pgbulk

import (
	"cmp"
	"context"
	"slices"

	"github.com/lib/pq"

	"github.com/syssam/bulkmerge"
	"github.com/syssam/bulkmerge/dialect"
	"github.com/syssam/bulkmerge/dialect/sql"
)

// Primary key index option bits of pg_index.indoption.
const (
	indoptionDesc       = 1 << 0
	indoptionNullsFirst = 1 << 1
)

// Identity kinds of pg_attribute.attidentity.
const (
	identityAlways    = "a"
	identityByDefault = "d"
)

// Column describes one column of a target table.
type Column struct {
	// Ordinal is the zero-based position of the column in "SELECT *".
	Ordinal int
	Name    string
	// Type is the column type as rendered by format_type, e.g. "character varying(20)".
	Type string
	// Default is the column default expression, if any.
	Default string
	// Generated columns cannot be written and are not staged.
	Generated bool
	// Identity is "a" for GENERATED ALWAYS AS IDENTITY columns, "d" for
	// GENERATED BY DEFAULT AS IDENTITY columns and empty otherwise.
	Identity string
	// Key reports whether the column is part of the primary key.
	Key bool
	// KeyOrdinal is the one-based position of the column in the primary key index.
	KeyOrdinal int
	Desc       bool
	NullsFirst bool
}

// TableSchema is the column layout of a target table.
type TableSchema struct {
	Table   bulkmerge.TablePath
	Columns []Column
}

// Keys returns the primary key columns in index order.
func (s *TableSchema) Keys() []Column {
	var keys []Column
	for _, c := range s.Columns {
		if c.Key {
			keys = append(keys, c)
		}
	}
	slices.SortStableFunc(keys, func(a, b Column) int {
		return cmp.Compare(a.KeyOrdinal, b.KeyOrdinal)
	})
	return keys
}

// Writable returns the columns that are staged, in ordinal order.
func (s *TableSchema) Writable() []Column {
	cols := make([]Column, 0, len(s.Columns))
	for _, c := range s.Columns {
		if !c.Generated {
			cols = append(cols, c)
		}
	}
	return cols
}

// columnsQuery returns the type, default, identity and primary key position
// of the columns of the table given as $1.
const columnsQuery = `SELECT a.attname, format_type(a.atttypid, a.atttypmod), ` +
	`COALESCE(pg_get_expr(d.adbin, d.adrelid), ''), a.attgenerated <> '', a.attidentity::text, k.ord, k.opt ` +
	`FROM pg_attribute a ` +
	`LEFT JOIN pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum ` +
	`LEFT JOIN (` +
	`SELECT u.attnum, u.ord, u.opt FROM pg_index i, ` +
	`unnest(i.indkey::int2[], i.indoption::int2[]) WITH ORDINALITY AS u(attnum, opt, ord) ` +
	`WHERE i.indrelid = $1::regclass AND i.indisprimary` +
	`) k ON k.attnum = a.attnum ` +
	`WHERE a.attrelid = $1::regclass AND a.attnum > 0 AND NOT a.attisdropped ` +
	`ORDER BY a.attnum`

// schema returns the cached schema of table, fetching it on first use.
func (m *Merger) schema(ctx context.Context, ex dialect.ExecQuerier, table bulkmerge.TablePath) (*TableSchema, error) {
	key := table.Key()
	if s, ok := m.cache[key]; ok {
		return s, nil
	}
	s, err := m.fetchSchema(ctx, ex, table)
	if err != nil {
		return nil, err
	}
	m.cache[key] = s
	return s, nil
}

func (m *Merger) fetchSchema(ctx context.Context, ex dialect.ExecQuerier, table bulkmerge.TablePath) (*TableSchema, error) {
	path := m.quoter.Path(table...)
	names, err := m.columnNames(ctx, ex, "SELECT * FROM "+path+" LIMIT 0")
	if err != nil {
		return nil, err
	}
	m.log.DebugContext(ctx, "query", "sql", columnsQuery, "args", []any{path})
	rows := &sql.Rows{}
	if err := ex.Query(ctx, columnsQuery, []any{path}, rows); err != nil {
		return nil, bulkmerge.NewCommandError(columnsQuery, []any{path}, err)
	}
	defer rows.Close()
	attrs := make(map[string]Column, len(names))
	for rows.Next() {
		var (
			c   Column
			ord sql.NullInt64
			opt sql.NullInt64
		)
		if err := rows.Scan(&c.Name, &c.Type, &c.Default, &c.Generated, &c.Identity, &ord, &opt); err != nil {
			return nil, bulkmerge.NewCommandError(columnsQuery, []any{path}, err)
		}
		if ord.Valid {
			c.Key = true
			c.KeyOrdinal = int(ord.Int64)
			c.Desc = opt.Int64&indoptionDesc != 0
			c.NullsFirst = opt.Int64&indoptionNullsFirst != 0
		}
		attrs[c.Name] = c
	}
	for name, c := range attrs {
		// Identity columns have no pg_attrdef entry.
		if c.Default == "" && c.Identity != "" {
			c.Default = identityDefault(path, name)
			attrs[name] = c
		}
	}
	if err := rows.Err(); err != nil {
		return nil, bulkmerge.NewCommandError(columnsQuery, []any{path}, err)
	}
	s := &TableSchema{Table: table, Columns: make([]Column, 0, len(names))}
	for i, name := range names {
		c, ok := attrs[name]
		if !ok {
			return nil, bulkmerge.NewSchemaError(table, "column %q has no catalog entry", name)
		}
		c.Ordinal = i
		s.Columns = append(s.Columns, c)
	}
	if len(s.Keys()) == 0 {
		return nil, bulkmerge.NewSchemaError(table, "no primary key")
	}
	return s, nil
}

// identityDefault returns the next value expression of an identity column.
func identityDefault(path, column string) string {
	return "nextval(pg_get_serial_sequence(" + pq.QuoteLiteral(path) + ", " + pq.QuoteLiteral(column) + "))"
}

// columnNames runs a zero-row query and returns its column names.
func (m *Merger) columnNames(ctx context.Context, ex dialect.ExecQuerier, query string) ([]string, error) {
	m.log.DebugContext(ctx, "query", "sql", query)
	rows := &sql.Rows{}
	if err := ex.Query(ctx, query, []any{}, rows); err != nil {
		return nil, bulkmerge.NewCommandError(query, nil, err)
	}
	defer rows.Close()
	names, err := rows.Columns()
	if err != nil {
		return nil, bulkmerge.NewCommandError(query, nil, err)
	}
	return names, nil
}
