package capture_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/bulkmerge"
	"github.com/syssam/bulkmerge/batch"
	"github.com/syssam/bulkmerge/dialect"
	"github.com/syssam/bulkmerge/internal/capture"
	"github.com/syssam/bulkmerge/merge"
)

func TestFormatOf(t *testing.T) {
	for path, want := range map[string]capture.Format{
		"a.jsonl":    capture.FormatJSON,
		"dir/b.JSON": capture.FormatJSON,
		"c.msgpack":  capture.FormatMsgpack,
		"/tmp/d.mp":  capture.FormatMsgpack,
	} {
		got, err := capture.FormatOf(path)
		require.NoError(t, err, path)
		assert.Equal(t, want, got, path)
	}
	_, err := capture.FormatOf("e.csv")
	require.Error(t, err)
}

func TestRecordExpectation(t *testing.T) {
	cmd := &bulkmerge.CommandDescriptor{SQL: "DELETE FROM t WHERE id = :p0"}

	rec := capture.NewRecord(cmd, batch.Default)
	assert.Nil(t, rec.Expect)
	assert.Equal(t, batch.Default, rec.Expectation())

	rec = capture.NewRecord(cmd, batch.None)
	require.NotNil(t, rec.Expect)
	assert.EqualValues(t, -1, *rec.Expect)
	assert.Equal(t, batch.None, rec.Expectation())

	rec = capture.NewRecord(cmd, batch.RowCount(3))
	n, ok := rec.Expectation().Expected()
	assert.True(t, ok)
	assert.EqualValues(t, 3, n)
}

func commands() []*bulkmerge.CommandDescriptor {
	return []*bulkmerge.CommandDescriptor{
		{
			SQL:   "INSERT INTO items (id, name, price) VALUES (:p0, :p1, :p2)",
			Types: []bulkmerge.ParameterType{{Name: "int8"}, {Name: "text"}, {Name: "float8"}},
			Params: []bulkmerge.Parameter{
				{Name: "p0", Value: 42},
				{Name: "p1", Value: "widget"},
				{Name: "p2", Value: 9.5},
			},
		},
		{
			Kind:   bulkmerge.CommandStoredProcedure,
			SQL:    "archive_items",
			Params: []bulkmerge.Parameter{{Name: "before", Value: nil}, {Name: "n", Direction: bulkmerge.DirectionOutput}},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, f := range []capture.Format{capture.FormatJSON, capture.FormatMsgpack} {
		t.Run(f.String(), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := capture.NewWriter(&buf, f)
			require.NoError(t, err)
			for _, cmd := range commands() {
				require.NoError(t, w.Write(capture.NewRecord(cmd, batch.Default)))
			}
			require.NoError(t, w.Flush())

			r, err := capture.NewReader(&buf, f)
			require.NoError(t, err)
			rec, err := r.Next()
			require.NoError(t, err)
			cmd := rec.Command()
			assert.Equal(t, bulkmerge.CommandText, cmd.Kind)
			assert.Equal(t, "INSERT INTO items (id, name, price) VALUES (:p0, :p1, :p2)", cmd.SQL)
			assert.Equal(t, "float8", cmd.Types[2].Name)
			require.Len(t, cmd.Params, 3)
			assert.EqualValues(t, 42, cmd.Params[0].Value)
			assert.Equal(t, "widget", cmd.Params[1].Value)
			assert.EqualValues(t, 9.5, cmd.Params[2].Value)

			rec, err = r.Next()
			require.NoError(t, err)
			cmd = rec.Command()
			assert.Equal(t, bulkmerge.CommandStoredProcedure, cmd.Kind)
			assert.Nil(t, cmd.Params[0].Value)
			assert.Equal(t, bulkmerge.DirectionOutput, cmd.Params[1].Direction)

			_, err = r.Next()
			assert.Equal(t, io.EOF, err)
		})
	}
}

func TestJSONNumbers(t *testing.T) {
	src := `{"sql":"UPDATE t SET a = :p0 WHERE id = :p1","params":[{"name":"p0","value":{"n":[1,2.5]}},{"name":"p1","value":7}]}`
	r, err := capture.NewReader(strings.NewReader(src), capture.FormatJSON)
	require.NoError(t, err)
	rec, err := r.Next()
	require.NoError(t, err)
	cmd := rec.Command()
	assert.Equal(t, map[string]any{"n": []any{int64(1), 2.5}}, cmd.Params[0].Value)
	assert.Equal(t, int64(7), cmd.Params[1].Value)
}

func TestDecodeError(t *testing.T) {
	r, err := capture.NewReader(strings.NewReader(`{"sql": 1}`), capture.FormatJSON)
	require.NoError(t, err)
	_, err = r.Next()
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

type recorder struct {
	muts []*bulkmerge.EntityMutation
}

func (r *recorder) Merge(_ context.Context, _ dialect.ExecQuerier, muts []*bulkmerge.EntityMutation) (int64, error) {
	r.muts = append(r.muts, muts...)
	return int64(len(muts)), nil
}

var _ merge.Merger = (*recorder)(nil)

func TestOpenAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "work.msgpack")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := capture.NewWriter(f, capture.FormatMsgpack)
	require.NoError(t, err)
	for i := range 5 {
		require.NoError(t, w.Write(capture.NewRecord(&bulkmerge.CommandDescriptor{
			SQL:    "DELETE FROM items WHERE id = :p0",
			Params: []bulkmerge.Parameter{{Name: "p0", Value: i}},
		}, batch.Default)))
	}
	require.NoError(t, w.Flush())
	require.NoError(t, f.Close())

	file, err := capture.Open(path)
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, path, file.Name())

	rec := &recorder{}
	b := batch.New(nil, dialect.Postgres, rec, batch.WithBatchSize(2))
	n, err := capture.Replay(context.Background(), b, file)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.Len(t, rec.muts, 5)
	assert.Equal(t, bulkmerge.OpDelete, rec.muts[4].Op)
	v, ok := rec.muts[4].Value("id")
	require.True(t, ok)
	assert.EqualValues(t, 4, v)

	_, err = capture.Open(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.Error(t, err)
}
