package sql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/syssam/bulkmerge/dialect"
)

// CommandStats counts the commands sent through a StatsDriver.
type CommandStats struct {
	execs     atomic.Int64
	queries   atomic.Int64
	prepares  atomic.Int64
	rows      atomic.Int64
	commits   atomic.Int64
	rollbacks atomic.Int64
	slow      atomic.Int64
	errors    atomic.Int64
	duration  atomic.Int64 // nanoseconds
}

// Snapshot returns the current counters.
func (s *CommandStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Execs:     s.execs.Load(),
		Queries:   s.queries.Load(),
		Prepares:  s.prepares.Load(),
		Rows:      s.rows.Load(),
		Commits:   s.commits.Load(),
		Rollbacks: s.rollbacks.Load(),
		Slow:      s.slow.Load(),
		Errors:    s.errors.Load(),
		Duration:  time.Duration(s.duration.Load()),
	}
}

// Reset sets all counters to zero.
func (s *CommandStats) Reset() {
	for _, c := range []*atomic.Int64{
		&s.execs, &s.queries, &s.prepares, &s.rows,
		&s.commits, &s.rollbacks, &s.slow, &s.errors, &s.duration,
	} {
		c.Store(0)
	}
}

// StatsSnapshot is a point-in-time copy of CommandStats.
type StatsSnapshot struct {
	// Execs, Queries and Prepares count commands by kind. A COPY stream
	// counts as one prepare.
	Execs    int64
	Queries  int64
	Prepares int64

	// Rows is the sum of the rows affected reported for execs.
	Rows int64

	Commits   int64
	Rollbacks int64

	// Slow counts commands that ran longer than the slow threshold.
	Slow     int64
	Errors   int64
	Duration time.Duration
}

// RoundTrips returns the number of commands sent to the database.
func (s StatsSnapshot) RoundTrips() int64 {
	return s.Execs + s.Queries + s.Prepares
}

// AvgDuration returns the average command duration.
func (s StatsSnapshot) AvgDuration() time.Duration {
	n := s.RoundTrips()
	if n == 0 {
		return 0
	}
	return s.Duration / time.Duration(n)
}

// String implements fmt.Stringer.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"round_trips=%d execs=%d queries=%d prepares=%d rows=%d commits=%d rollbacks=%d slow=%d errors=%d avg=%s",
		s.RoundTrips(), s.Execs, s.Queries, s.Prepares, s.Rows, s.Commits, s.Rollbacks, s.Slow, s.Errors, s.AvgDuration(),
	)
}

// SlowCommandHook is called for each command slower than the threshold.
type SlowCommandHook func(ctx context.Context, query string, args []any, d time.Duration)

// StatsDriver wraps a Driver and counts the commands sent through it and
// through its transactions.
type StatsDriver struct {
	*Driver
	stats     *CommandStats
	threshold atomic.Int64
	hook      SlowCommandHook
}

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the duration above which a command is slow.
// Default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) {
		s.threshold.Store(int64(d))
	}
}

// WithSlowCommandHook sets the function called for slow commands.
func WithSlowCommandHook(hook SlowCommandHook) StatsOption {
	return func(s *StatsDriver) {
		s.hook = hook
	}
}

// WithSlowCommandLog logs slow commands with l at warn level.
func WithSlowCommandLog(l *slog.Logger) StatsOption {
	if l == nil {
		l = slog.Default()
	}
	return WithSlowCommandHook(func(ctx context.Context, query string, args []any, d time.Duration) {
		l.WarnContext(ctx, "slow command", "duration", d, "sql", query, "args", len(args))
	})
}

// NewStatsDriver wraps drv.
//
//	drv := sql.NewStatsDriver(sql.OpenDB(dialect.Postgres, db),
//		sql.WithSlowThreshold(200*time.Millisecond),
//		sql.WithSlowCommandLog(logger),
//	)
//	tx, _ := drv.Tx(ctx)
//	b, _ := batch.NewFromConfig(tx, cfg)
//	...
//	fmt.Println(drv.Stats())
func NewStatsDriver(drv *Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{Driver: drv, stats: &CommandStats{}}
	s.threshold.Store(int64(100 * time.Millisecond))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CommandStats returns the live counters.
func (d *StatsDriver) CommandStats() *CommandStats { return d.stats }

// Stats returns a snapshot of the counters.
func (d *StatsDriver) Stats() StatsSnapshot { return d.stats.Snapshot() }

// SlowThreshold returns the slow command threshold.
func (d *StatsDriver) SlowThreshold() time.Duration {
	return time.Duration(d.threshold.Load())
}

// SetSlowThreshold changes the slow command threshold.
func (d *StatsDriver) SetSlowThreshold(t time.Duration) {
	d.threshold.Store(int64(t))
}

// Exec implements the dialect.ExecQuerier interface.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	return d.exec(ctx, d.Driver, query, args, v)
}

// Query implements the dialect.ExecQuerier interface.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	return d.observe(ctx, &d.stats.queries, query, args, func() error {
		return d.Driver.Query(ctx, query, args, v)
	})
}

// Prepare implements the Preparer interface.
func (d *StatsDriver) Prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	return d.prepare(ctx, d.Driver, query)
}

// Tx starts a transaction whose commands are counted too.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsTx{Tx: tx, drv: d}, nil
}

func (d *StatsDriver) exec(ctx context.Context, ex dialect.ExecQuerier, query string, args, v any) error {
	// The row count is read from the caller's result, so a caller that does
	// not ask for one gets a private result.
	if v == nil {
		v = new(Result)
	}
	return d.observe(ctx, &d.stats.execs, query, args, func() error {
		if err := ex.Exec(ctx, query, args, v); err != nil {
			return err
		}
		if res, ok := v.(*Result); ok && *res != nil {
			if n, err := (*res).RowsAffected(); err == nil {
				d.stats.rows.Add(n)
			}
		}
		return nil
	})
}

func (d *StatsDriver) prepare(ctx context.Context, ex dialect.ExecQuerier, query string) (*sql.Stmt, error) {
	p, ok := ex.(Preparer)
	if !ok {
		return nil, fmt.Errorf("dialect/sql: prepare: %T does not support prepared statements", ex)
	}
	var stmt *sql.Stmt
	err := d.observe(ctx, &d.stats.prepares, query, nil, func() (err error) {
		stmt, err = p.Prepare(ctx, query)
		return err
	})
	return stmt, err
}

func (d *StatsDriver) observe(ctx context.Context, counter *atomic.Int64, query string, args any, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	counter.Add(1)
	d.stats.duration.Add(int64(elapsed))
	if err != nil {
		d.stats.errors.Add(1)
	}
	if elapsed > d.SlowThreshold() {
		d.stats.slow.Add(1)
		if d.hook != nil {
			argv, _ := args.([]any)
			d.hook(ctx, query, argv, elapsed)
		}
	}
	return err
}

// StatsTx is a transaction started by a StatsDriver.
type StatsTx struct {
	dialect.Tx
	drv *StatsDriver
}

// Exec implements the dialect.ExecQuerier interface.
func (tx *StatsTx) Exec(ctx context.Context, query string, args, v any) error {
	return tx.drv.exec(ctx, tx.Tx, query, args, v)
}

// Query implements the dialect.ExecQuerier interface.
func (tx *StatsTx) Query(ctx context.Context, query string, args, v any) error {
	return tx.drv.observe(ctx, &tx.drv.stats.queries, query, args, func() error {
		return tx.Tx.Query(ctx, query, args, v)
	})
}

// Prepare implements the Preparer interface.
func (tx *StatsTx) Prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	return tx.drv.prepare(ctx, tx.Tx, query)
}

// Commit commits the transaction.
func (tx *StatsTx) Commit() error {
	err := tx.Tx.Commit()
	if err == nil {
		tx.drv.stats.commits.Add(1)
	}
	return err
}

// Rollback rolls back the transaction.
func (tx *StatsTx) Rollback() error {
	err := tx.Tx.Rollback()
	if err == nil {
		tx.drv.stats.rollbacks.Add(1)
	}
	return err
}

var (
	_ dialect.Driver = (*StatsDriver)(nil)
	_ Preparer       = (*StatsDriver)(nil)
	_ dialect.Tx     = (*StatsTx)(nil)
	_ Preparer       = (*StatsTx)(nil)
)

// OpenWithStats opens a database and wraps it with a StatsDriver.
func OpenWithStats(driverName, source string, opts ...StatsOption) (*StatsDriver, error) {
	db, err := sql.Open(driverName, source)
	if err != nil {
		return nil, err
	}
	return OpenDBWithStats(driverName, db, opts...), nil
}

// OpenDBWithStats wraps an opened database with a StatsDriver.
func OpenDBWithStats(driverName string, db *sql.DB, opts ...StatsOption) *StatsDriver {
	return NewStatsDriver(OpenDB(driverName, db), opts...)
}
