package extract

import "github.com/syssam/bulkmerge"

// Update recognizes
//
//	UPDATE <path> SET <col> = :p, ... WHERE <col> = :p AND ...
//
// A column both assigned and matched on, such as a changed primary key or a
// version counter, keeps its matched value in Values and its assigned value
// in UpdatedKey. Where lists the matched columns.
type Update struct{}

// Extract implements the Extractor interface.
func (Update) Extract(cmd *bulkmerge.CommandDescriptor) (*bulkmerge.EntityMutation, bool) {
	if !hasKeyword(cmd.SQL, "UPDATE") {
		return nil, false
	}
	c := newCursor(cmd)
	if !c.keyword("UPDATE") {
		return nil, false
	}
	table, ok := c.path()
	if !ok || !c.keyword("SET") {
		return nil, false
	}
	setCols, setVals, ok := c.pairs(",")
	if !ok || !c.keyword("WHERE") {
		return nil, false
	}
	whereCols, whereVals, ok := c.pairs("AND")
	if !ok || !c.end() {
		return nil, false
	}
	set, ok := zip(setCols, setVals)
	if !ok {
		return nil, false
	}
	where, ok := zip(whereCols, whereVals)
	if !ok {
		return nil, false
	}
	m := &bulkmerge.EntityMutation{
		Table:   table,
		Op:      bulkmerge.OpUpdate,
		Values:  where,
		Where:   whereCols,
		Command: cmd,
	}
	for col, v := range set {
		if _, both := lookupFold(where, col); both {
			if m.UpdatedKey == nil {
				m.UpdatedKey = make(map[string]any)
			}
			m.UpdatedKey[col] = v
			continue
		}
		m.Values[col] = v
	}
	return m, true
}
