package pgbulk

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/lib/pq"
)

// ValueWriter converts a bound value into one the COPY stream accepts for
// a column type. It is never called with nil.
type ValueWriter func(v any) (any, error)

// typeKey normalizes a column type for writer lookup: lower case, without
// schema qualification or type modifiers. Array types keep their "[]" suffix.
//
//	geometry(Point,4326) => geometry
//	public.hstore        => hstore
//	integer[]            => integer[]
func typeKey(typ string) string {
	typ = strings.ToLower(strings.TrimSpace(typ))
	array := strings.HasSuffix(typ, "[]")
	typ = strings.TrimSuffix(typ, "[]")
	if i := strings.IndexByte(typ, '('); i >= 0 {
		typ = strings.TrimSpace(typ[:i])
	}
	if i := strings.LastIndexByte(typ, '.'); i >= 0 {
		typ = typ[i+1:]
	}
	typ = strings.Trim(typ, `"`)
	if array {
		typ += "[]"
	}
	return typ
}

// builtinWriters are the writers for types whose Go values lib/pq cannot
// encode for COPY as is.
var builtinWriters = map[string]ValueWriter{
	"json":      writeJSON,
	"jsonb":     writeJSON,
	"geometry":  writeSpatial,
	"geography": writeSpatial,
}

// writerFor returns the writer of a column type. Custom writers take
// precedence over builtin ones.
func (m *Merger) writerFor(typ string) ValueWriter {
	key := typeKey(typ)
	if w, ok := m.writers[key]; ok {
		return w
	}
	if w, ok := builtinWriters[key]; ok {
		return w
	}
	if strings.HasSuffix(key, "[]") {
		return writeArray
	}
	return writeDefault
}

// writeDefault resolves driver.Valuer values and passes everything else through.
func writeDefault(v any) (any, error) {
	if valuer, ok := v.(driver.Valuer); ok {
		return valuer.Value()
	}
	return v, nil
}

// writeJSON encodes values as JSON text. Strings and byte slices are
// assumed to hold JSON already.
func writeJSON(v any) (any, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case json.RawMessage:
		return string(v), nil
	case driver.Valuer:
		dv, err := v.Value()
		if err != nil || dv == nil {
			return dv, err
		}
		return writeJSON(dv)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("pgbulk: encode json: %w", err)
	}
	return string(b), nil
}

// writeSpatial writes WKB byte slices as the hex text PostGIS parses. Strings
// (WKT, EWKT or hex WKB) are passed through.
func writeSpatial(v any) (any, error) {
	if valuer, ok := v.(driver.Valuer); ok {
		dv, err := valuer.Value()
		if err != nil || dv == nil {
			return dv, err
		}
		v = dv
	}
	switch v := v.(type) {
	case []byte:
		return hex.EncodeToString(v), nil
	case string:
		return v, nil
	}
	return nil, fmt.Errorf("pgbulk: unsupported spatial value %T", v)
}

// writeArray encodes slices as PostgreSQL array literals.
func writeArray(v any) (any, error) {
	if _, ok := v.(driver.Valuer); ok {
		return writeDefault(v)
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Slice, reflect.Array:
		if b, ok := v.([]byte); ok {
			return b, nil
		}
		return pq.Array(v).Value()
	}
	return v, nil
}
