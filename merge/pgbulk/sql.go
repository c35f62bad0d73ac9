package pgbulk

import (
	"cmp"
	"slices"
	"strconv"
	"strings"

	"github.com/syssam/bulkmerge/dialect/sql"
)

// rowStateColumn holds the I/U/D tag of a staged row.
const (
	rowStateColumn = "$RowState"
	rowStateType   = "character varying(1)"
)

// staging is the layout of a temp table mirroring one target table.
type staging struct {
	name    string
	table   string // quoted target table path
	quoter  sql.Quoter
	columns []stagedColumn
}

// stagedColumn maps a target column to its temp table columns.
type stagedColumn struct {
	Column
	value     string // colN
	specified string // colNSpecified
	newValue  string // colNNew, key columns only
	newSpec   string // colNNewSpecified, key columns only
	match     string // colNMatch, matched non-key columns only
	matchSpec string // colNMatchSpecified, matched non-key columns only
	write     ValueWriter
}

// newStaging lays out the temp table of cols. Non-key columns named in
// matched also get a pair of columns holding the value a WHERE clause
// compares them with.
func newStaging(name, table string, q sql.Quoter, cols []Column, matched map[string]bool, writerFor func(string) ValueWriter) *staging {
	s := &staging{name: name, table: table, quoter: q}
	for _, c := range cols {
		base := "col" + strconv.Itoa(c.Ordinal)
		sc := stagedColumn{
			Column:    c,
			value:     base,
			specified: base + "Specified",
			write:     writerFor(c.Type),
		}
		if c.Key {
			sc.newValue = base + "New"
			sc.newSpec = base + "NewSpecified"
		} else if matched[c.Name] {
			sc.match = base + "Match"
			sc.matchSpec = base + "MatchSpecified"
		}
		s.columns = append(s.columns, sc)
	}
	return s
}

// tmp quotes a temp table column. Temp names are always double quoted, as
// they are passed to COPY.
func tmp(name string) string {
	return sql.DoubleQuote.Ident(name)
}

// copyColumns returns the temp table columns in COPY row order.
func (s *staging) copyColumns() []string {
	cols := []string{rowStateColumn}
	for _, c := range s.columns {
		cols = append(cols, c.value, c.specified)
		if c.Key {
			cols = append(cols, c.newValue, c.newSpec)
		}
		if c.match != "" {
			cols = append(cols, c.match, c.matchSpec)
		}
	}
	return cols
}

// createSQL creates the temp table and its index on the row state and key columns.
func (s *staging) createSQL() string {
	var b strings.Builder
	b.WriteString("CREATE TEMP TABLE ")
	b.WriteString(tmp(s.name))
	b.WriteString(" (")
	b.WriteString(tmp(rowStateColumn))
	b.WriteString(" ")
	b.WriteString(rowStateType)
	for _, c := range s.columns {
		b.WriteString(", " + tmp(c.value) + " " + c.Type)
		b.WriteString(", " + tmp(c.specified) + " bool")
		if c.Key {
			b.WriteString(", " + tmp(c.newValue) + " " + c.Type)
			b.WriteString(", " + tmp(c.newSpec) + " bool")
		}
		if c.match != "" {
			b.WriteString(", " + tmp(c.match) + " " + c.Type)
			b.WriteString(", " + tmp(c.matchSpec) + " bool")
		}
	}
	b.WriteString("); CREATE INDEX ")
	b.WriteString(tmp("IX_" + s.name))
	b.WriteString(" ON ")
	b.WriteString(tmp(s.name))
	b.WriteString(" (")
	b.WriteString(tmp(rowStateColumn))
	b.WriteString(" ASC NULLS LAST")
	for _, c := range s.keys() {
		b.WriteString(", " + tmp(c.value))
		if c.Desc {
			b.WriteString(" DESC")
		} else {
			b.WriteString(" ASC")
		}
		if c.NullsFirst {
			b.WriteString(" NULLS FIRST")
		} else {
			b.WriteString(" NULLS LAST")
		}
	}
	b.WriteString(")")
	return b.String()
}

func (s *staging) dropSQL() string {
	return "DROP TABLE IF EXISTS " + tmp(s.name)
}

// keys returns the key columns in index order.
func (s *staging) keys() []stagedColumn {
	var keys []stagedColumn
	for _, c := range s.columns {
		if c.Key {
			keys = append(keys, c)
		}
	}
	slices.SortStableFunc(keys, func(a, b stagedColumn) int {
		return cmp.Compare(a.KeyOrdinal, b.KeyOrdinal)
	})
	return keys
}

func (s *staging) states(states ...string) string {
	quoted := make([]string, len(states))
	for i, st := range states {
		quoted[i] = "'" + st + "'"
	}
	return "tmp." + tmp(rowStateColumn) + " IN (" + strings.Join(quoted, ",") + ")"
}

// rowMatch joins real and staged rows on the staged (old) key values, and
// on the WHERE values staged for other columns.
func (s *staging) rowMatch() string {
	var conds []string
	for _, c := range s.keys() {
		conds = append(conds, "rl."+s.quoter.Ident(c.Name)+" = tmp."+tmp(c.value))
	}
	for _, c := range s.columns {
		if c.match != "" {
			conds = append(conds, "(NOT tmp."+tmp(c.matchSpec)+" OR rl."+s.quoter.Ident(c.Name)+" = tmp."+tmp(c.match)+")")
		}
	}
	return strings.Join(conds, " AND ")
}

// insertSQL inserts staged rows. Columns the statement did not specify get
// their default, or NULL when they have none.
func (s *staging) insertSQL(conflictFree bool) string {
	var (
		cols     = make([]string, len(s.columns))
		exprs    = make([]string, len(s.columns))
		override bool
	)
	for i, c := range s.columns {
		override = override || c.Identity == identityAlways
		cols[i] = s.quoter.Ident(c.Name)
		exprs[i] = "tmp." + tmp(c.value)
		if c.Default != "" {
			exprs[i] = "CASE WHEN tmp." + tmp(c.specified) + " THEN tmp." + tmp(c.value) + " ELSE " + c.Default + " END"
		}
	}
	query := "INSERT INTO " + s.table + " (" + strings.Join(cols, ", ") + ")"
	if override {
		query += " OVERRIDING SYSTEM VALUE"
	}
	query += " SELECT " + strings.Join(exprs, ", ") +
		" FROM " + tmp(s.name) + " AS tmp WHERE " + s.states("I")
	if conflictFree {
		query += " ON CONFLICT DO NOTHING"
	}
	return query
}

// updateSQL updates real rows from staged rows of the given states. Only
// specified columns change; key columns change when a new key was staged.
// Identity columns generated always are never assigned. It returns "" when
// no column can be assigned.
func (s *staging) updateSQL(states ...string) string {
	var sets []string
	for _, c := range s.columns {
		if c.Identity == identityAlways {
			continue
		}
		col := s.quoter.Ident(c.Name)
		value, spec := c.value, c.specified
		if c.Key {
			value, spec = c.newValue, c.newSpec
		}
		sets = append(sets, col+" = CASE WHEN tmp."+tmp(spec)+" THEN tmp."+tmp(value)+" ELSE rl."+col+" END")
	}
	if len(sets) == 0 {
		return ""
	}
	return "UPDATE " + s.table + " AS rl SET " + strings.Join(sets, ", ") +
		" FROM " + tmp(s.name) + " AS tmp WHERE " + s.states(states...) + " AND " + s.rowMatch()
}

// deleteSQL deletes the real rows matching staged delete rows.
func (s *staging) deleteSQL() string {
	return "DELETE FROM " + s.table + " AS rl USING " + tmp(s.name) + " AS tmp WHERE " +
		s.states("D") + " AND " + s.rowMatch()
}
