package pgbulk

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/syssam/bulkmerge"
	"github.com/syssam/bulkmerge/dialect/sql"
)

// stateCounts is the number of staged rows per row state.
type stateCounts struct {
	insert, update, delete int
}

func (c stateCounts) total() int { return c.insert + c.update + c.delete }

// copyRows streams one staging row per mutation into the temp table.
func (m *Merger) copyRows(ctx context.Context, p sql.Preparer, s *staging, muts []*bulkmerge.EntityMutation) (stateCounts, error) {
	var counts stateCounts
	query := pq.CopyIn(s.name, s.copyColumns()...)
	m.log.DebugContext(ctx, "copy", "sql", query, "rows", len(muts))
	stmt, err := p.Prepare(ctx, query)
	if err != nil {
		return counts, bulkmerge.NewCommandError(query, nil, err)
	}
	defer stmt.Close()
	row := make([]any, 0, len(s.copyColumns()))
	for _, mut := range muts {
		state := mut.Op.RowState()
		if mut.Command == nil || state == "" {
			continue
		}
		row, err = s.appendRow(row[:0], state, mut)
		if err != nil {
			return counts, err
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return counts, bulkmerge.NewCommandError(query, row, err)
		}
		switch mut.Op {
		case bulkmerge.OpInsert:
			counts.insert++
		case bulkmerge.OpUpdate:
			counts.update++
		case bulkmerge.OpDelete:
			counts.delete++
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return counts, bulkmerge.NewCommandError(query, nil, err)
	}
	if err := stmt.Close(); err != nil {
		return counts, bulkmerge.NewCommandError(query, nil, err)
	}
	return counts, nil
}

// appendRow appends the COPY values of one mutation to row. Every column
// gets its value and whether the statement specified it. Key columns also
// get the new key value of an update, if any, and matched columns the value
// of their WHERE clause comparison.
func (s *staging) appendRow(row []any, state string, mut *bulkmerge.EntityMutation) ([]any, error) {
	row = append(row, state)
	for _, c := range s.columns {
		var (
			v  any
			ok bool
		)
		switch {
		case c.Key:
			v, ok = mut.Value(c.Name)
		default:
			// A column only compared in the WHERE clause is not assigned.
			if v, ok = mut.NewValue(c.Name); !ok && !mut.Matches(c.Name) {
				v, ok = mut.Value(c.Name)
			}
		}
		w, err := c.encode(v, ok)
		if err != nil {
			return nil, err
		}
		row = append(row, w, ok)
		if c.Key {
			nv, nok := mut.NewValue(c.Name)
			w, err := c.encode(nv, nok)
			if err != nil {
				return nil, err
			}
			row = append(row, w, nok)
		}
		if c.match != "" {
			var (
				mv  any
				mok bool
			)
			if mut.Matches(c.Name) {
				mv, mok = mut.Value(c.Name)
			}
			w, err := c.encode(mv, mok)
			if err != nil {
				return nil, err
			}
			row = append(row, w, mok)
		}
	}
	return row, nil
}

func (c *stagedColumn) encode(v any, ok bool) (any, error) {
	if !ok || v == nil {
		return nil, nil
	}
	w, err := c.write(v)
	if err != nil {
		return nil, fmt.Errorf("pgbulk: column %q (%s): %w", c.Name, c.Type, err)
	}
	return w, nil
}
