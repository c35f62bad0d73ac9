package bulkmerge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// Standard sentinel errors.
var (
	// ErrSchema is returned when a table schema cannot be used for a bulk merge,
	// e.g. the table has no primary key.
	ErrSchema = errors.New("bulkmerge: invalid table schema")

	// ErrStrategyNotFound is returned when no merge tier accepts a batch size.
	ErrStrategyNotFound = errors.New("bulkmerge: no merge strategy for batch size")

	// ErrRowCount is returned when the affected row count differs from the
	// expected one.
	ErrRowCount = errors.New("bulkmerge: unexpected row count")

	// ErrUnknownParameter is returned when a statement references a parameter
	// that is not bound.
	ErrUnknownParameter = errors.New("bulkmerge: unknown parameter")

	// ErrUnsupportedConn is returned when a connection lacks a capability a
	// strategy needs, such as prepared COPY streams.
	ErrUnsupportedConn = errors.New("bulkmerge: unsupported connection")
)

// SchemaError describes why a table cannot be merged.
type SchemaError struct {
	Table TablePath
	Msg   string
}

// Error returns the error string.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("bulkmerge: table %s: %s", e.Table, e.Msg)
}

// Is reports whether the target error matches SchemaError.
func (e *SchemaError) Is(err error) bool {
	return err == ErrSchema
}

// NewSchemaError returns a new SchemaError for the given table.
func NewSchemaError(table TablePath, format string, args ...any) *SchemaError {
	return &SchemaError{Table: table, Msg: fmt.Sprintf(format, args...)}
}

// IsSchemaError returns true if the error is a SchemaError.
func IsSchemaError(err error) bool {
	if err == nil {
		return false
	}
	var e *SchemaError
	return errors.As(err, &e) || errors.Is(err, ErrSchema)
}

// StrategyNotFoundError is returned by a dispatcher that has no tier for a batch size.
type StrategyNotFoundError struct {
	Size int
}

// Error returns the error string.
func (e *StrategyNotFoundError) Error() string {
	return fmt.Sprintf("bulkmerge: no merge strategy for batch size %d", e.Size)
}

// Is reports whether the target error matches StrategyNotFoundError.
func (e *StrategyNotFoundError) Is(err error) bool {
	return err == ErrStrategyNotFound
}

// RowCountMismatchError is returned when a command affects an unexpected
// number of rows.
type RowCountMismatchError struct {
	Expected int64
	Actual   int64
	// SQL is the statement that was verified. Empty for a batched flush.
	SQL string
}

// Error returns the error string.
func (e *RowCountMismatchError) Error() string {
	if e.SQL != "" {
		return fmt.Sprintf("bulkmerge: unexpected row count %d (expected %d) for %q", e.Actual, e.Expected, e.SQL)
	}
	return fmt.Sprintf("bulkmerge: batch update returned unexpected row count %d (expected %d)", e.Actual, e.Expected)
}

// Is reports whether the target error matches RowCountMismatchError.
func (e *RowCountMismatchError) Is(err error) bool {
	return err == ErrRowCount
}

// IsRowCountMismatch returns true if the error is a RowCountMismatchError.
func IsRowCountMismatch(err error) bool {
	if err == nil {
		return false
	}
	var e *RowCountMismatchError
	return errors.As(err, &e) || errors.Is(err, ErrRowCount)
}

// CommandError wraps a database error with the command that caused it.
type CommandError struct {
	SQL  string
	Args []any
	Err  error
}

// Error returns the error string.
func (e *CommandError) Error() string {
	if len(e.Args) > 0 {
		return fmt.Sprintf("bulkmerge: executing %q (args=%v): %v", e.SQL, e.Args, e.Err)
	}
	return fmt.Sprintf("bulkmerge: executing %q: %v", e.SQL, e.Err)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewCommandError returns a new CommandError.
func NewCommandError(query string, args []any, err error) *CommandError {
	return &CommandError{SQL: query, Args: args, Err: err}
}

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err error // Original error that triggered rollback
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("bulkmerge: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error {
	return e.Err
}

// IsConstraintError returns true if the error resulted from a database
// constraint violation. Constraint errors are reported as is; nothing in
// this module retries them.
func IsConstraintError(err error) bool {
	return IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsCheckConstraintError(err)
}

// sqlStateError is implemented by pq.Error, pgx and some MySQL drivers.
type sqlStateError interface {
	SQLState() string
}

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
)

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
func IsUniqueConstraintError(err error) bool {
	return matchConstraint(err, []string{pgUniqueViolation}, []uint16{mysqlDuplicateEntry},
		"Error 1062",
		"violates unique constraint",
		"UNIQUE constraint failed",
	)
}

// IsForeignKeyConstraintError reports if the error resulted from a database foreign-key constraint violation.
func IsForeignKeyConstraintError(err error) bool {
	return matchConstraint(err, []string{pgForeignKeyViolation}, []uint16{mysqlForeignKeyParent, mysqlForeignKeyChild},
		"Error 1451",
		"Error 1452",
		"violates foreign key constraint",
		"FOREIGN KEY constraint failed",
	)
}

// IsCheckConstraintError reports if the error resulted from a database check constraint violation.
func IsCheckConstraintError(err error) bool {
	return matchConstraint(err, []string{pgCheckViolation}, []uint16{mysqlCheckConstraintViolate},
		"Error 3819",
		"violates check constraint",
		"CHECK constraint failed",
	)
}

func matchConstraint(err error, states []string, numbers []uint16, messages ...string) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && contains(states, string(pqErr.Code)) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && contains(numbers, myErr.Number) {
		return true
	}
	var stateErr sqlStateError
	if errors.As(err, &stateErr) && contains(states, stateErr.SQLState()) {
		return true
	}
	// Fallback to string matching for drivers without typed errors, e.g. SQLite.
	msg := err.Error()
	for _, m := range messages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func contains[T comparable](list []T, v T) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}
