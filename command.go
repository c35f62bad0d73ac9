package bulkmerge

import (
	"fmt"
	"strings"

	"github.com/syssam/bulkmerge/dialect/sql"
	"github.com/syssam/bulkmerge/dialect/sql/sqltoken"
)

// CommandKind tells how the text of a command is interpreted.
type CommandKind uint8

const (
	// CommandText is a plain SQL statement.
	CommandText CommandKind = iota
	// CommandStoredProcedure is a procedure name invoked with the command parameters.
	CommandStoredProcedure
)

// Direction is the direction of a command parameter.
type Direction uint8

// Parameter directions.
const (
	DirectionInput Direction = iota
	DirectionOutput
	DirectionInputOutput
	DirectionReturnValue
)

// ParameterType is the database type metadata of a command parameter.
type ParameterType struct {
	// Name is the database type name, e.g. "int4" or "geometry".
	Name      string `json:"name" msgpack:"name"`
	Length    int    `json:"length,omitempty" msgpack:"length,omitempty"`
	Precision int    `json:"precision,omitempty" msgpack:"precision,omitempty"`
	Scale     int    `json:"scale,omitempty" msgpack:"scale,omitempty"`
}

// Parameter is a bound command parameter.
type Parameter struct {
	// Name is the parameter name without the marker prefix, e.g. "p0".
	Name      string
	Direction Direction
	Precision int
	Scale     int
	Size      int
	Value     any
}

// CommandDescriptor captures everything needed to regenerate an executable
// command from a generated statement.
type CommandDescriptor struct {
	Kind CommandKind
	// SQL is the statement text with ":name" parameter markers, or the
	// procedure name for CommandStoredProcedure.
	SQL string
	// Types holds the parameter type metadata, in parameter order.
	Types []ParameterType
	// Params holds the bound parameters.
	Params []Parameter
}

// Lookup returns the parameter with the given name. The name may carry the
// ":" marker prefix.
func (c *CommandDescriptor) Lookup(name string) (*Parameter, bool) {
	name = strings.TrimPrefix(name, string(sqltoken.ParamPrefix))
	for i := range c.Params {
		if c.Params[i].Name == name {
			return &c.Params[i], true
		}
	}
	for i := range c.Params {
		if strings.EqualFold(c.Params[i].Name, name) {
			return &c.Params[i], true
		}
	}
	return nil, false
}

// TypeOf returns the type metadata of the parameter at index i.
func (c *CommandDescriptor) TypeOf(i int) (ParameterType, bool) {
	if i < 0 || i >= len(c.Types) {
		return ParameterType{}, false
	}
	return c.Types[i], true
}

// RenderMode selects how parameter markers are rendered.
type RenderMode uint8

const (
	// RenderArgs replaces markers with positional placeholders and returns the
	// bound values as arguments.
	RenderArgs RenderMode = iota
	// RenderInline replaces markers with SQL literals. No arguments are returned.
	RenderInline
)

// Render regenerates the command for the given dialect. In RenderArgs mode,
// placeholders are numbered from offset+1, so that several rendered commands
// can share one argument list. Every marker occurrence gets its own argument.
func (c *CommandDescriptor) Render(dialectName string, mode RenderMode, offset int) (string, []any, error) {
	if c.Kind == CommandStoredProcedure {
		return c.renderCall(dialectName, mode, offset)
	}
	var (
		b    strings.Builder
		args []any
		last int
		tz   = sqltoken.New(c.SQL)
	)
	b.Grow(len(c.SQL) + 16)
	for tok := tz.Next(); tok.Kind != sqltoken.EOF; tok = tz.Next() {
		if !tok.IsParam() {
			continue
		}
		p, ok := c.Lookup(tok.ParamName())
		if !ok {
			return "", nil, fmt.Errorf("%w: %q in %q", ErrUnknownParameter, tok.Value, c.SQL)
		}
		b.WriteString(c.SQL[last:tok.Pos])
		if err := writeValue(&b, &args, dialectName, mode, offset, p.Value); err != nil {
			return "", nil, fmt.Errorf("bulkmerge: render parameter %q: %w", p.Name, err)
		}
		last = tok.End()
	}
	b.WriteString(c.SQL[last:])
	return b.String(), args, nil
}

func (c *CommandDescriptor) renderCall(dialectName string, mode RenderMode, offset int) (string, []any, error) {
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString("CALL ")
	b.WriteString(c.SQL)
	b.WriteByte('(')
	n := 0
	for _, p := range c.Params {
		if p.Direction == DirectionOutput || p.Direction == DirectionReturnValue {
			continue
		}
		if n > 0 {
			b.WriteString(", ")
		}
		if err := writeValue(&b, &args, dialectName, mode, offset, p.Value); err != nil {
			return "", nil, fmt.Errorf("bulkmerge: render parameter %q: %w", p.Name, err)
		}
		n++
	}
	b.WriteByte(')')
	return b.String(), args, nil
}

func writeValue(b *strings.Builder, args *[]any, dialectName string, mode RenderMode, offset int, v any) error {
	if mode == RenderInline {
		lit, err := sql.Literal(v)
		if err != nil {
			return err
		}
		b.WriteString(lit)
		return nil
	}
	*args = append(*args, v)
	b.WriteString(sql.Placeholder(dialectName, offset+len(*args)))
	return nil
}
