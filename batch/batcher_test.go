package batch_test

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/bulkmerge"
	"github.com/syssam/bulkmerge/batch"
	"github.com/syssam/bulkmerge/dialect"
	"github.com/syssam/bulkmerge/dialect/sql"
)

func command(query string, values ...any) *bulkmerge.CommandDescriptor {
	cmd := &bulkmerge.CommandDescriptor{SQL: query}
	for i, v := range values {
		cmd.Params = append(cmd.Params, bulkmerge.Parameter{Name: fmt.Sprintf("p%d", i), Value: v})
	}
	return cmd
}

// recorder records flushed batches and reports rows affected per batch.
type recorder struct {
	batches [][]*bulkmerge.EntityMutation
	rows    func(n int) int64
	err     error
}

func (r *recorder) Merge(_ context.Context, _ dialect.ExecQuerier, muts []*bulkmerge.EntityMutation) (int64, error) {
	r.batches = append(r.batches, muts)
	if r.err != nil {
		return 0, r.err
	}
	if r.rows != nil {
		return r.rows(len(muts)), nil
	}
	return int64(len(muts)), nil
}

func TestBatcherAccumulates(t *testing.T) {
	rec := &recorder{}
	b := batch.New(nil, dialect.Postgres, rec, batch.WithBatchSize(3))
	assert.Equal(t, 3, b.BatchSize())

	ctx := context.Background()
	for i := range 7 {
		require.NoError(t, b.Add(ctx, command("INSERT INTO items (id) VALUES (:p0)", i), batch.Default))
	}
	require.Len(t, rec.batches, 2)
	assert.Len(t, rec.batches[0], 3)
	assert.Len(t, rec.batches[1], 3)
	assert.Equal(t, 1, b.Len())

	require.NoError(t, b.Flush(ctx))
	require.Len(t, rec.batches, 3)
	assert.Equal(t, 0, b.Len())

	require.NoError(t, b.Flush(ctx), "flushing an empty batch is a no-op")
	assert.Len(t, rec.batches, 3)
}

func TestBatcherSetBatchSize(t *testing.T) {
	rec := &recorder{}
	b := batch.New(nil, dialect.Postgres, rec)
	assert.Equal(t, bulkmerge.DefaultBatchSize, b.BatchSize())
	b.SetBatchSize(0)
	assert.Equal(t, bulkmerge.DefaultBatchSize, b.BatchSize())
	b.SetBatchSize(1)
	require.NoError(t, b.Add(context.Background(), command("DELETE FROM items WHERE id = :p0", 1), batch.Default))
	assert.Len(t, rec.batches, 1)
}

func TestBatcherVerifiesBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("mismatch", func(t *testing.T) {
		rec := &recorder{rows: func(n int) int64 { return int64(n - 1) }}
		b := batch.New(nil, dialect.Postgres, rec)
		require.NoError(t, b.Add(ctx, command("UPDATE items SET name = :p0 WHERE id = :p1", "a", 1), batch.Default))
		require.NoError(t, b.Add(ctx, command("UPDATE items SET name = :p0 WHERE id = :p1", "b", 2), batch.Default))
		err := b.Flush(ctx)
		require.Error(t, err)
		var rcErr *bulkmerge.RowCountMismatchError
		require.True(t, errors.As(err, &rcErr))
		assert.EqualValues(t, 2, rcErr.Expected)
		assert.EqualValues(t, 1, rcErr.Actual)
		assert.Equal(t, 0, b.Len())
	})

	t.Run("row_count_sum", func(t *testing.T) {
		rec := &recorder{rows: func(int) int64 { return 3 }}
		b := batch.New(nil, dialect.Postgres, rec)
		require.NoError(t, b.Add(ctx, command("DELETE FROM items WHERE id = :p0", 1), batch.RowCount(2)))
		require.NoError(t, b.Add(ctx, command("DELETE FROM items WHERE id = :p0", 2), batch.Default))
		require.NoError(t, b.Flush(ctx))
	})

	t.Run("unchecked", func(t *testing.T) {
		rec := &recorder{rows: func(int) int64 { return 0 }}
		b := batch.New(nil, dialect.Postgres, rec)
		require.NoError(t, b.Add(ctx, command("DELETE FROM items WHERE id = :p0", 1), batch.None))
		require.NoError(t, b.Add(ctx, command("DELETE FROM items WHERE id = :p0", 2), batch.Default))
		require.NoError(t, b.Flush(ctx))

		// The next batch is verified again.
		require.NoError(t, b.Add(ctx, command("DELETE FROM items WHERE id = :p0", 3), batch.Default))
		assert.True(t, bulkmerge.IsRowCountMismatch(b.Flush(ctx)))
	})
}

func TestBatcherDiscardsFailedBatch(t *testing.T) {
	mergeErr := errors.New("merge failed")
	rec := &recorder{err: mergeErr}
	b := batch.New(nil, dialect.Postgres, rec)
	ctx := context.Background()
	require.NoError(t, b.Add(ctx, command("INSERT INTO items (id) VALUES (:p0)", 1), batch.Default))
	require.ErrorIs(t, b.Flush(ctx), mergeErr)
	assert.Equal(t, 0, b.Len())
}

func TestBatcherUnrecognized(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := sql.OpenDB(dialect.Postgres, db)
	ctx := context.Background()

	t.Run("flushes_then_executes", func(t *testing.T) {
		rec := &recorder{}
		b := batch.New(drv, dialect.Postgres, rec)
		require.NoError(t, b.Add(ctx, command("INSERT INTO items (id) VALUES (:p0)", 1), batch.Default))

		mock.ExpectExec(regexp.QuoteMeta("UPDATE items SET qty = qty + $1 WHERE id = $2")).
			WithArgs(1, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, b.Add(ctx, command("UPDATE items SET qty = qty + :p0 WHERE id = :p1", 1, 1), batch.Default))
		require.Len(t, rec.batches, 1, "pending mutations are written first")
		assert.Equal(t, 0, b.Len())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("row_count_mismatch", func(t *testing.T) {
		b := batch.New(drv, dialect.Postgres, &recorder{})
		mock.ExpectExec("DELETE FROM items").WillReturnResult(sqlmock.NewResult(0, 0))
		err := b.Add(ctx, command("DELETE FROM items WHERE id IN (:p0)", 1), batch.Default)
		require.Error(t, err)
		var rcErr *bulkmerge.RowCountMismatchError
		require.True(t, errors.As(err, &rcErr))
		assert.Equal(t, "DELETE FROM items WHERE id IN ($1)", rcErr.SQL)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unchecked", func(t *testing.T) {
		b := batch.New(drv, dialect.Postgres, &recorder{})
		mock.ExpectExec("DELETE FROM items").WillReturnResult(sqlmock.NewResult(0, 5))
		require.NoError(t, b.Add(ctx, command("DELETE FROM items WHERE qty < :p0", 1), batch.None))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("flush_error_stops_statement", func(t *testing.T) {
		mergeErr := errors.New("merge failed")
		b := batch.New(drv, dialect.Postgres, &recorder{err: mergeErr})
		require.NoError(t, b.Add(ctx, command("INSERT INTO items (id) VALUES (:p0)", 1), batch.Default))
		err := b.Add(ctx, command("DELETE FROM items WHERE qty < :p0", 1), batch.Default)
		require.ErrorIs(t, err, mergeErr)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil_command", func(t *testing.T) {
		b := batch.New(drv, dialect.Postgres, &recorder{})
		require.Error(t, b.Add(ctx, nil, batch.Default))
	})
}

func TestVerify(t *testing.T) {
	assert.NoError(t, batch.Verify(batch.Default, 1, "q"))
	assert.NoError(t, batch.Verify(batch.None, 9, "q"))
	assert.NoError(t, batch.Verify(nil, 9, "q"))
	assert.True(t, bulkmerge.IsRowCountMismatch(batch.Verify(batch.RowCount(2), 1, "q")))
	assert.NoError(t, batch.VerifyBatched(4, 4))
	assert.True(t, bulkmerge.IsRowCountMismatch(batch.VerifyBatched(4, 3)))
}
