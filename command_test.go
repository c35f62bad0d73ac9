package bulkmerge_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/bulkmerge"
	"github.com/syssam/bulkmerge/dialect"
)

func TestCommandLookup(t *testing.T) {
	cmd := &bulkmerge.CommandDescriptor{
		Params: []bulkmerge.Parameter{{Name: "p0", Value: 1}, {Name: "P1", Value: "x"}},
		Types:  []bulkmerge.ParameterType{{Name: "int4"}, {Name: "text"}},
	}
	p, ok := cmd.Lookup(":p0")
	require.True(t, ok)
	assert.Equal(t, 1, p.Value)

	p, ok = cmd.Lookup("p1")
	require.True(t, ok)
	assert.Equal(t, "x", p.Value)

	_, ok = cmd.Lookup("p2")
	assert.False(t, ok)

	typ, ok := cmd.TypeOf(1)
	require.True(t, ok)
	assert.Equal(t, "text", typ.Name)
	_, ok = cmd.TypeOf(2)
	assert.False(t, ok)
}

func TestCommandRender(t *testing.T) {
	cmd := &bulkmerge.CommandDescriptor{
		SQL: `UPDATE "items" SET name = :p0, note = ':p9' WHERE id = :p1 AND v = :p1::int4`,
		Params: []bulkmerge.Parameter{
			{Name: "p0", Value: "it's"},
			{Name: "p1", Value: 7},
		},
	}

	t.Run("postgres_args", func(t *testing.T) {
		query, args, err := cmd.Render(dialect.Postgres, bulkmerge.RenderArgs, 2)
		require.NoError(t, err)
		assert.Equal(t, `UPDATE "items" SET name = $3, note = ':p9' WHERE id = $4 AND v = $5::int4`, query)
		assert.Equal(t, []any{"it's", 7, 7}, args)
	})

	t.Run("mysql_args", func(t *testing.T) {
		query, args, err := cmd.Render(dialect.MySQL, bulkmerge.RenderArgs, 0)
		require.NoError(t, err)
		assert.Equal(t, `UPDATE "items" SET name = ?, note = ':p9' WHERE id = ? AND v = ?::int4`, query)
		assert.Len(t, args, 3)
	})

	t.Run("inline", func(t *testing.T) {
		query, args, err := cmd.Render(dialect.Postgres, bulkmerge.RenderInline, 0)
		require.NoError(t, err)
		assert.Equal(t, `UPDATE "items" SET name = 'it''s', note = ':p9' WHERE id = 7 AND v = 7::int4`, query)
		assert.Empty(t, args)
	})

	t.Run("unknown_parameter", func(t *testing.T) {
		bad := &bulkmerge.CommandDescriptor{SQL: "DELETE FROM t WHERE id = :missing"}
		_, _, err := bad.Render(dialect.Postgres, bulkmerge.RenderArgs, 0)
		require.Error(t, err)
		assert.True(t, errors.Is(err, bulkmerge.ErrUnknownParameter))
	})
}

func TestCommandRenderStoredProcedure(t *testing.T) {
	cmd := &bulkmerge.CommandDescriptor{
		Kind: bulkmerge.CommandStoredProcedure,
		SQL:  "archive_item",
		Params: []bulkmerge.Parameter{
			{Name: "id", Value: 1},
			{Name: "result", Direction: bulkmerge.DirectionOutput},
			{Name: "reason", Value: "stale", Direction: bulkmerge.DirectionInputOutput},
		},
	}
	query, args, err := cmd.Render(dialect.Postgres, bulkmerge.RenderArgs, 0)
	require.NoError(t, err)
	assert.Equal(t, "CALL archive_item($1, $2)", query)
	assert.Equal(t, []any{1, "stale"}, args)

	query, _, err = cmd.Render(dialect.Postgres, bulkmerge.RenderInline, 0)
	require.NoError(t, err)
	assert.Equal(t, "CALL archive_item(1, 'stale')", query)
}
