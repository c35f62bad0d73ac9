package extract

import "github.com/syssam/bulkmerge"

// Delete recognizes
//
//	DELETE FROM <path> WHERE <col> = :p AND ...
type Delete struct{}

// Extract implements the Extractor interface.
func (Delete) Extract(cmd *bulkmerge.CommandDescriptor) (*bulkmerge.EntityMutation, bool) {
	if !hasKeyword(cmd.SQL, "DELETE") {
		return nil, false
	}
	c := newCursor(cmd)
	if !c.keyword("DELETE") || !c.keyword("FROM") {
		return nil, false
	}
	table, ok := c.path()
	if !ok || !c.keyword("WHERE") {
		return nil, false
	}
	cols, vals, ok := c.pairs("AND")
	if !ok || !c.end() {
		return nil, false
	}
	where, ok := zip(cols, vals)
	if !ok {
		return nil, false
	}
	return &bulkmerge.EntityMutation{
		Table:   table,
		Op:      bulkmerge.OpDelete,
		Values:  where,
		Where:   cols,
		Command: cmd,
	}, true
}
