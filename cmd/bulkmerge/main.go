// bulkmerge replays statement capture files through a batcher.
//
//	bulkmerge replay [-config bulkmerge.yml] [-dsn DSN] [-workers 4] file...
//	bulkmerge watch  [-config bulkmerge.yml] [-dsn DSN] dir
//
// Each capture file is replayed in its own transaction. The DSN may also be
// set with BULKMERGE_DSN.
package main

import (
	"context"
	stdsql "database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/syssam/bulkmerge"
	"github.com/syssam/bulkmerge/dialect"
	"github.com/syssam/bulkmerge/dialect/sql"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "bulkmerge: %v\n", err)
		os.Exit(1)
	}
}

const usage = `usage:
  bulkmerge replay [flags] file...
  bulkmerge watch [flags] dir
`

// options holds the flags shared by all commands.
type options struct {
	config  string
	dsn     string
	dialect string
	workers int
	verbose bool
}

func (o *options) register(fs *flag.FlagSet) {
	fs.StringVar(&o.config, "config", "bulkmerge.yml", "configuration file")
	fs.StringVar(&o.dsn, "dsn", os.Getenv("BULKMERGE_DSN"), "data source name")
	fs.StringVar(&o.dialect, "dialect", "", "database dialect, overrides the configuration")
	fs.IntVar(&o.workers, "workers", 4, "number of files replayed concurrently")
	fs.BoolVar(&o.verbose, "v", false, "log every command")
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errors.New("missing command")
	}
	name, args := args[0], args[1:]
	var opts options
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := bulkmerge.LoadConfig(opts.config)
	if err != nil {
		return err
	}
	if opts.dialect != "" {
		cfg.Dialect = dialect.Normalize(opts.dialect)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	switch name {
	case "replay":
		if fs.NArg() == 0 {
			return errors.New("replay: no capture files")
		}
		drv, err := openDriver(cfg, opts.dsn, log)
		if err != nil {
			return err
		}
		defer drv.Close()
		r := &replayer{drv: drv, cfg: cfg, log: log, workers: opts.workers}
		err = r.replayAll(ctx, fs.Args())
		fmt.Fprintln(stdout, drv.Stats())
		return err
	case "watch":
		if fs.NArg() != 1 {
			return errors.New("watch: expected one directory")
		}
		drv, err := openDriver(cfg, opts.dsn, log)
		if err != nil {
			return err
		}
		defer drv.Close()
		r := &replayer{drv: drv, cfg: cfg, log: log, workers: opts.workers}
		return r.watch(ctx, fs.Arg(0))
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command %q", name)
	}
}

// openDriver opens a database for the configured dialect and wraps it with
// statistics collection.
func openDriver(cfg *bulkmerge.Config, dsn string, log *slog.Logger) (*sql.StatsDriver, error) {
	if dsn == "" && cfg.Dialect != dialect.SQLite {
		return nil, errors.New("missing -dsn")
	}
	var (
		db  *stdsql.DB
		err error
	)
	switch cfg.Dialect {
	case dialect.Postgres:
		db, err = stdsql.Open("postgres", dsn)
	case dialect.MySQL:
		db, err = openMySQL(dsn)
	case dialect.SQLite:
		if dsn == "" {
			dsn = ":memory:"
		}
		db, err = stdsql.Open("sqlite", dsn)
	default:
		return nil, fmt.Errorf("unsupported dialect %q", cfg.Dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Dialect, err)
	}
	if cfg.Dialect == dialect.SQLite {
		db.SetMaxOpenConns(1)
	}
	return sql.OpenDBWithStats(cfg.Dialect, db,
		sql.WithSlowThreshold(cfg.SlowThreshold),
		sql.WithSlowCommandLog(log),
	), nil
}

// openMySQL enables multi-statement commands, which the concatenation tier
// sends, and client-side parameter interpolation.
func openMySQL(dsn string) (*stdsql.DB, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	mc.MultiStatements = true
	mc.InterpolateParams = true
	mc.ParseTime = true
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, err
	}
	return stdsql.OpenDB(connector), nil
}
