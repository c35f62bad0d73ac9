// Package pgbulk merges large batches of entity mutations into PostgreSQL
// tables through temporary staging tables.
//
// For each target table of a batch, the Merger
//
//  1. resolves the table schema (cached per Merger),
//  2. creates a temp table with a value and a "specified" flag column per
//     real column, plus new-key columns for primary key renames and match
//     columns for other columns a WHERE clause compares,
//  3. streams one row per mutation into it with COPY,
//  4. reconciles the real table with one INSERT, UPDATE and DELETE, and
//  5. drops the temp table.
//
// All commands run on the connection passed to Merge, which must be a
// transaction (or a single connection) able to prepare COPY statements.
// A Merger is not safe for concurrent use; use one per connection.
package pgbulk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/bulkmerge"
	"github.com/syssam/bulkmerge/dialect"
	"github.com/syssam/bulkmerge/dialect/sql"
	"github.com/syssam/bulkmerge/merge"
)

// Merger is the bulk merge strategy. It implements merge.Merger.
type Merger struct {
	quoter  sql.Quoter
	try     bool
	log     *slog.Logger
	writers map[string]ValueWriter
	cache   map[string]*TableSchema
}

// Option configures a Merger.
type Option func(*Merger)

// WithAvoidConcurrencyErrors selects the tolerant reconciliation: staged
// inserts and updates first update existing rows, then inserts skip rows
// whose key already exists. The affected row count reported in this mode
// is the number of staged rows, not the number of rows the database changed.
func WithAvoidConcurrencyErrors(enabled bool) Option {
	return func(m *Merger) {
		m.try = enabled
	}
}

// WithQuoter sets the identifier quoting of target tables and columns.
func WithQuoter(q sql.Quoter) Option {
	return func(m *Merger) {
		if !q.IsZero() {
			m.quoter = q
		}
	}
}

// WithLogger sets the logger for issued commands.
func WithLogger(l *slog.Logger) Option {
	return func(m *Merger) {
		if l != nil {
			m.log = l
		}
	}
}

// WithValueWriter registers the writer of a column type, e.g. "hstore" or
// "geometry". Type modifiers and schema qualification are ignored.
func WithValueWriter(typeName string, w ValueWriter) Option {
	return func(m *Merger) {
		m.writers[typeKey(typeName)] = w
	}
}

// New returns a new Merger.
func New(opts ...Option) *Merger {
	m := &Merger{
		quoter:  sql.DoubleQuote,
		log:     slog.Default(),
		writers: make(map[string]ValueWriter),
		cache:   make(map[string]*TableSchema),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ merge.Merger = (*Merger)(nil)

// Schema returns the schema of a target table, as used for staging.
func (m *Merger) Schema(ctx context.Context, ex dialect.ExecQuerier, table bulkmerge.TablePath) (*TableSchema, error) {
	return m.schema(ctx, ex, table)
}

// Merge implements the merge.Merger interface. Tables are merged one after
// the other in the order they first appear in muts. A failing table aborts
// the merge; tables merged before it are left to the caller's transaction.
func (m *Merger) Merge(ctx context.Context, ex dialect.ExecQuerier, muts []*bulkmerge.EntityMutation) (int64, error) {
	p, ok := ex.(sql.Preparer)
	if !ok {
		return 0, fmt.Errorf("%w: %T cannot prepare COPY statements", bulkmerge.ErrUnsupportedConn, ex)
	}
	var total int64
	for _, g := range groupByTable(muts) {
		n, err := m.mergeTable(ctx, ex, p, g.table, g.muts)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

type tableGroup struct {
	table bulkmerge.TablePath
	muts  []*bulkmerge.EntityMutation
}

// groupByTable groups mutations by target table, keeping first-seen order.
func groupByTable(muts []*bulkmerge.EntityMutation) []*tableGroup {
	var (
		groups []*tableGroup
		index  = make(map[string]*tableGroup)
	)
	for _, mut := range muts {
		key := mut.Table.Key()
		g, ok := index[key]
		if !ok {
			g = &tableGroup{table: mut.Table}
			index[key] = g
			groups = append(groups, g)
		}
		g.muts = append(g.muts, mut)
	}
	return groups
}

// matchedColumns returns the non-key columns that a WHERE clause of muts
// compares.
func matchedColumns(cols []Column, muts []*bulkmerge.EntityMutation) map[string]bool {
	matched := make(map[string]bool)
	for _, c := range cols {
		if c.Key {
			continue
		}
		for _, mut := range muts {
			if mut.Matches(c.Name) {
				matched[c.Name] = true
				break
			}
		}
	}
	return matched
}

// mergeTable runs the staging cycle of one table: schema, create, stage,
// reconcile and drop, in this order.
func (m *Merger) mergeTable(ctx context.Context, ex dialect.ExecQuerier, p sql.Preparer, table bulkmerge.TablePath, muts []*bulkmerge.EntityMutation) (n int64, err error) {
	start := time.Now()
	schema, err := m.schema(ctx, ex, table)
	if err != nil {
		return 0, err
	}
	name := "tmp" + strings.ReplaceAll(uuid.NewString(), "-", "")
	cols := schema.Writable()
	s := newStaging(name, m.quoter.Path(table...), m.quoter, cols, matchedColumns(cols, muts), m.writerFor)
	if _, err := m.exec(ctx, ex, s.createSQL()); err != nil {
		return 0, err
	}
	defer func() {
		if ctx.Err() != nil {
			m.log.WarnContext(ctx, "temp table not dropped", "table", name, "error", ctx.Err())
			return
		}
		if _, derr := m.exec(ctx, ex, s.dropSQL()); derr != nil {
			if err == nil {
				err = derr
				return
			}
			m.log.WarnContext(ctx, "temp table not dropped", "table", name, "error", derr)
		}
	}()
	counts, err := m.copyRows(ctx, p, s, muts)
	if err != nil {
		return 0, err
	}
	n, err = m.reconcile(ctx, ex, s, counts)
	if err != nil {
		return 0, err
	}
	m.log.DebugContext(ctx, "table merged",
		"table", table.String(), "staged", counts.total(), "rows", n,
		"try", m.try, "elapsed", time.Since(start))
	return n, nil
}

// reconcile applies the staged rows to the real table. Statements without
// staged rows of their state are skipped.
func (m *Merger) reconcile(ctx context.Context, ex dialect.ExecQuerier, s *staging, counts stateCounts) (int64, error) {
	type step struct {
		run   bool
		query string
	}
	var steps []step
	if m.try {
		steps = []step{
			{counts.insert+counts.update > 0, s.updateSQL("I", "U")},
			{counts.insert > 0, s.insertSQL(true)},
			{counts.delete > 0, s.deleteSQL()},
		}
	} else {
		steps = []step{
			{counts.insert > 0, s.insertSQL(false)},
			{counts.update > 0, s.updateSQL("U")},
			{counts.delete > 0, s.deleteSQL()},
		}
	}
	var n int64
	for _, st := range steps {
		if !st.run || st.query == "" {
			continue
		}
		affected, err := m.exec(ctx, ex, st.query)
		if err != nil {
			return 0, err
		}
		n += affected
	}
	if m.try {
		return int64(counts.total()), nil
	}
	return n, nil
}

func (m *Merger) exec(ctx context.Context, ex dialect.ExecQuerier, query string) (int64, error) {
	m.log.DebugContext(ctx, "exec", "sql", query)
	return merge.Exec(ctx, ex, query, nil)
}
