package extract

import (
	"github.com/syssam/bulkmerge"
	"github.com/syssam/bulkmerge/dialect/sql/sqltoken"
)

// Insert recognizes
//
//	INSERT INTO <path> (<col>, ...) VALUES (:p, ...)
type Insert struct{}

// Extract implements the Extractor interface.
func (Insert) Extract(cmd *bulkmerge.CommandDescriptor) (*bulkmerge.EntityMutation, bool) {
	if !hasKeyword(cmd.SQL, "INSERT") {
		return nil, false
	}
	c := newCursor(cmd)
	if !c.keyword("INSERT") || !c.keyword("INTO") {
		return nil, false
	}
	table, ok := c.path()
	if !ok || !c.kind(sqltoken.BracketOpen) {
		return nil, false
	}
	var columns []string
	for {
		col, ok := c.ident()
		if !ok {
			return nil, false
		}
		columns = append(columns, col)
		if !c.keyword(",") {
			break
		}
	}
	if !c.kind(sqltoken.BracketClose) || !c.keyword("VALUES") || !c.kind(sqltoken.BracketOpen) {
		return nil, false
	}
	var values []any
	for {
		v, ok := c.param()
		if !ok {
			return nil, false
		}
		values = append(values, v)
		if !c.keyword(",") {
			break
		}
	}
	if !c.kind(sqltoken.BracketClose) || !c.end() {
		return nil, false
	}
	m, ok := zip(columns, values)
	if !ok {
		return nil, false
	}
	return &bulkmerge.EntityMutation{
		Table:   table,
		Op:      bulkmerge.OpInsert,
		Values:  m,
		Command: cmd,
	}, true
}
