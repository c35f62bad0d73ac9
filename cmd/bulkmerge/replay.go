package main

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/bulkmerge"
	"github.com/syssam/bulkmerge/batch"
	"github.com/syssam/bulkmerge/dialect"
	"github.com/syssam/bulkmerge/internal/capture"
)

type replayer struct {
	drv     dialect.Driver
	cfg     *bulkmerge.Config
	log     *slog.Logger
	workers int
}

// replayAll replays the files concurrently. A failed file does not stop
// the others; all failures are reported.
func (r *replayer) replayAll(ctx context.Context, paths []string) error {
	var (
		eg   errgroup.Group
		errs = make([]error, len(paths))
	)
	if r.workers > 0 {
		eg.SetLimit(r.workers)
	}
	for i, path := range paths {
		eg.Go(func() error {
			errs[i] = r.replayFile(ctx, path)
			return nil
		})
	}
	_ = eg.Wait()
	return errors.Join(errs...)
}

// replayFile replays one capture file in a transaction.
func (r *replayer) replayFile(ctx context.Context, path string) (err error) {
	f, err := capture.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	start := time.Now()
	tx, err := r.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", path, err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, stdsql.ErrTxDone) {
			err = errors.Join(err, &bulkmerge.RollbackError{Err: rerr})
		}
	}()
	b, err := batch.NewFromConfig(tx, r.cfg, batch.WithLogger(r.log))
	if err != nil {
		return err
	}
	n, err := capture.Replay(ctx, b, f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", path, err)
	}
	r.log.InfoContext(ctx, "replayed", "file", path, "records", n, "elapsed", time.Since(start))
	return nil
}
