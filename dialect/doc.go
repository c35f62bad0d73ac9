// Package dialect provides the database dialect abstraction used by bulkmerge.
//
// This package defines the interfaces the batcher and its merge strategies
// execute commands through, so the same strategies run against a plain
// connection, a caller-owned transaction, or an instrumented driver.
//
// # Supported Dialects
//
//   - Postgres: all merge tiers, including the temp-table bulk merge
//   - MySQL: passthrough and concatenation tiers
//   - SQLite: passthrough and concatenation tiers
//
// # ExecQuerier Interface
//
// The ExecQuerier interface is implemented by both Driver and Tx:
//
//	type ExecQuerier interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	}
//
// # Sub-packages
//
//   - dialect/sql: database/sql driver wrapper, identifier quoting, literals and statistics
//   - dialect/sql/sqltoken: the lightweight statement tokenizer
package dialect
