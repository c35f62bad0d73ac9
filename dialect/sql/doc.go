// Package sql wraps database/sql for the batcher and its merge strategies.
//
// # Drivers
//
// Driver, Conn and Tx implement the dialect interfaces on top of *sql.DB and
// *sql.Tx. Exec and Query scan their outcome into the value passed as v:
//
//	var res sql.Result
//	if err := drv.Exec(ctx, "DELETE FROM items WHERE id = $1", []any{1}, &res); err != nil {
//		return err
//	}
//
//	var rows sql.Rows
//	if err := drv.Query(ctx, "SELECT id FROM items", []any{}, &rows); err != nil {
//		return err
//	}
//	defer rows.Close()
//
// A transaction owned by the caller is wrapped with WrapTx. Connections that
// implement Preparer can stream COPY data, which the Postgres bulk merge
// requires.
//
// # Quoting and literals
//
// Quoter escapes identifiers with a configurable pair of quote characters,
// doubling the closing one. Literal renders a Go value as a SQL literal for
// commands sent without parameters.
//
//	q := sql.QuoterFor(dialect.MySQL)
//	q.Ident("order")          // `order`
//	q.Path("shop", "orders")  // `shop`.`orders`
//
// # Statistics
//
// StatsDriver counts the commands issued through a driver and reports slow
// ones:
//
//	drv, err := sql.OpenWithStats("postgres", dsn,
//		sql.WithSlowThreshold(200*time.Millisecond),
//		sql.WithSlowCommandLog(logger),
//	)
//	...
//	fmt.Println(drv.Stats())
package sql
