package batch

import "github.com/syssam/bulkmerge"

// Expectation describes how the affected row count of a statement is verified.
type Expectation interface {
	// Expected returns the number of rows the statement must affect, or
	// false when the outcome is not checked.
	Expected() (int64, bool)
}

type none struct{}

func (none) Expected() (int64, bool) { return 0, false }

type rowCount int64

func (n rowCount) Expected() (int64, bool) { return int64(n), true }

var (
	// None does not verify the outcome.
	None Expectation = none{}
	// Default expects exactly one affected row.
	Default = RowCount(1)
)

// RowCount expects exactly n affected rows.
func RowCount(n int64) Expectation { return rowCount(n) }

// Verify checks the outcome of a statement executed on its own.
func Verify(exp Expectation, actual int64, query string) error {
	if exp == nil {
		return nil
	}
	expected, ok := exp.Expected()
	if !ok || expected == actual {
		return nil
	}
	return &bulkmerge.RowCountMismatchError{Expected: expected, Actual: actual, SQL: query}
}

// VerifyBatched checks the outcome of a flushed batch.
func VerifyBatched(expected, actual int64) error {
	if expected == actual {
		return nil
	}
	return &bulkmerge.RowCountMismatchError{Expected: expected, Actual: actual}
}
