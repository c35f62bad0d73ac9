package merge

import (
	"context"
	"fmt"

	"github.com/syssam/bulkmerge"
	"github.com/syssam/bulkmerge/dialect"
	"github.com/syssam/bulkmerge/dialect/sql"
)

// Exec runs a command that does not return rows and returns the number of
// affected rows. Failures are wrapped in a bulkmerge.CommandError.
func Exec(ctx context.Context, ex dialect.ExecQuerier, query string, args []any) (int64, error) {
	if args == nil {
		args = []any{}
	}
	var res sql.Result
	if err := ex.Exec(ctx, query, args, &res); err != nil {
		return 0, bulkmerge.NewCommandError(query, args, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, bulkmerge.NewCommandError(query, args, fmt.Errorf("rows affected: %w", err))
	}
	return n, nil
}

// CountRows runs a command and returns the number of rows it returned,
// across all of its result sets.
func CountRows(ctx context.Context, ex dialect.ExecQuerier, query string, args []any) (int64, error) {
	var n int64
	err := scanResultSets(ctx, ex, query, args, func(rows *sql.Rows) error {
		n++
		return nil
	})
	return n, err
}

// SumRows runs a command whose result sets each hold integer rows, such as
// "SELECT ROW_COUNT()", and returns their sum.
func SumRows(ctx context.Context, ex dialect.ExecQuerier, query string, args []any) (int64, error) {
	var sum int64
	err := scanResultSets(ctx, ex, query, args, func(rows *sql.Rows) error {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return err
		}
		sum += v
		return nil
	})
	return sum, err
}

func scanResultSets(ctx context.Context, ex dialect.ExecQuerier, query string, args []any, fn func(*sql.Rows) error) error {
	if args == nil {
		args = []any{}
	}
	rows := &sql.Rows{}
	if err := ex.Query(ctx, query, args, rows); err != nil {
		return bulkmerge.NewCommandError(query, args, err)
	}
	defer rows.Close()
	for {
		for rows.Next() {
			if err := fn(rows); err != nil {
				return bulkmerge.NewCommandError(query, args, err)
			}
		}
		if !rows.NextResultSet() {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return bulkmerge.NewCommandError(query, args, err)
	}
	return nil
}
