package pgbulk

import (
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeKey(t *testing.T) {
	tests := map[string]string{
		"geometry(Point,4326)":  "geometry",
		"public.geography":      "geography",
		"JSONB":                 "jsonb",
		"integer[]":             "integer[]",
		"character varying(20)": "character varying",
		`"MyType"`:              "mytype",
		"numeric(10,2)[]":       "numeric[]",
	}
	for input, expected := range tests {
		t.Run(input, func(t *testing.T) {
			assert.Equal(t, expected, typeKey(input))
		})
	}
}

func TestWriters(t *testing.T) {
	m := New()

	t.Run("json", func(t *testing.T) {
		w := m.writerFor("jsonb")
		v, err := w(map[string]int{"a": 1})
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, v)

		v, err = w([]byte(`{"b":2}`))
		require.NoError(t, err)
		assert.Equal(t, `{"b":2}`, v)

		_, err = w(make(chan int))
		require.Error(t, err)
	})

	t.Run("spatial", func(t *testing.T) {
		w := m.writerFor("geometry(Point,4326)")
		v, err := w([]byte{0x01, 0x02, 0xff})
		require.NoError(t, err)
		assert.Equal(t, "0102ff", v)

		v, err = w("SRID=4326;POINT(1 2)")
		require.NoError(t, err)
		assert.Equal(t, "SRID=4326;POINT(1 2)", v)

		_, err = w(42)
		require.Error(t, err)
	})

	t.Run("array", func(t *testing.T) {
		w := m.writerFor("integer[]")
		v, err := w([]int64{1, 2, 3})
		require.NoError(t, err)
		assert.Equal(t, "{1,2,3}", v)

		v, err = w([]string{"a", "b c"})
		require.NoError(t, err)
		assert.Equal(t, `{"a","b c"}`, v)
	})

	t.Run("default_valuer", func(t *testing.T) {
		id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
		v, err := m.writerFor("uuid")(id)
		require.NoError(t, err)
		assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", v)

		v, err = m.writerFor("integer")(7)
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	})

	t.Run("custom", func(t *testing.T) {
		custom := New(WithValueWriter("public.GEOMETRY", func(v any) (any, error) {
			return "custom", nil
		}))
		v, err := custom.writerFor("geometry(Polygon)")(1)
		require.NoError(t, err)
		assert.Equal(t, "custom", v)
	})
}

type failingValuer struct{}

func (failingValuer) Value() (driver.Value, error) { return nil, errors.New("boom") }

func TestWriterValuerError(t *testing.T) {
	_, err := New().writerFor("jsonb")(failingValuer{})
	require.Error(t, err)
	_, err = New().writerFor("text")(failingValuer{})
	require.Error(t, err)
}
