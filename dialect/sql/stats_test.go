package sql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/bulkmerge/dialect"
)

func TestStatsDriver(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var slow []string
	drv := OpenDBWithStats(dialect.Postgres, db,
		WithSlowThreshold(0),
		WithSlowCommandHook(func(_ context.Context, query string, _ []any, _ time.Duration) {
			slow = append(slow, query)
		}),
	)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO t").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("UPDATE t").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM t").WillReturnError(errors.New("boom"))

	require.NoError(t, drv.Exec(ctx, "INSERT INTO t VALUES (1), (2), (3)", []any{}, nil))
	rows := &Rows{}
	require.NoError(t, drv.Query(ctx, "SELECT 1", []any{}, rows))
	require.NoError(t, rows.Close())
	var res Result
	require.NoError(t, drv.Exec(ctx, "UPDATE t SET a = 1", []any{}, &res))
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	require.Error(t, drv.Exec(ctx, "DELETE FROM t", []any{}, nil))
	require.NoError(t, mock.ExpectationsWereMet())

	snap := drv.Stats()
	assert.EqualValues(t, 3, snap.Execs)
	assert.EqualValues(t, 1, snap.Queries)
	assert.EqualValues(t, 5, snap.Rows)
	assert.EqualValues(t, 1, snap.Errors)
	assert.EqualValues(t, 4, snap.RoundTrips())
	assert.Len(t, slow, 4)
	assert.Contains(t, snap.String(), "rows=5")

	drv.CommandStats().Reset()
	assert.Zero(t, drv.Stats().RoundTrips())
	assert.Zero(t, drv.Stats().Rows)
}

func TestStatsTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDBWithStats(dialect.Postgres, db)
	assert.Equal(t, 100*time.Millisecond, drv.SlowThreshold())
	drv.SetSlowThreshold(time.Hour)
	assert.Equal(t, time.Hour, drv.SlowThreshold())
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectPrepare("COPY")
	mock.ExpectExec("DELETE FROM t").WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectRollback()

	tx, err := drv.Tx(ctx)
	require.NoError(t, err)
	p, ok := tx.(Preparer)
	require.True(t, ok)
	stmt, err := p.Prepare(ctx, `COPY "t" ("a") FROM STDIN`)
	require.NoError(t, err)
	require.NoError(t, stmt.Close())
	require.NoError(t, tx.Exec(ctx, "DELETE FROM t", []any{}, nil))
	require.NoError(t, tx.Commit())

	tx, err = drv.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())

	snap := drv.Stats()
	assert.EqualValues(t, 1, snap.Prepares)
	assert.EqualValues(t, 4, snap.Rows)
	assert.EqualValues(t, 1, snap.Commits)
	assert.EqualValues(t, 1, snap.Rollbacks)
	assert.Zero(t, snap.Slow)
}
