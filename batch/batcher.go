// Package batch accumulates the statements of a unit of work and writes them
// in batches.
//
// A Batcher recognizes each statement passed to Add. Recognized statements
// are held until the batch is full or Flush is called, and then handed to a
// merge.Merger. Other statements flush the pending batch, to keep the
// statement order, and run immediately.
//
//	b, err := batch.NewFromConfig(tx, cfg)
//	if err != nil {
//		return err
//	}
//	for _, cmd := range commands {
//		if err := b.Add(ctx, cmd, batch.Default); err != nil {
//			return err
//		}
//	}
//	// Pending mutations are lost unless flushed before commit.
//	if err := b.Flush(ctx); err != nil {
//		return err
//	}
//	return tx.Commit()
package batch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/syssam/bulkmerge"
	"github.com/syssam/bulkmerge/dialect"
	"github.com/syssam/bulkmerge/extract"
	"github.com/syssam/bulkmerge/merge"
)

// Batcher accumulates entity mutations. It is not safe for concurrent use.
type Batcher struct {
	ex         dialect.ExecQuerier
	dialect    string
	merger     merge.Merger
	extractors []extract.Extractor
	log        *slog.Logger
	size       int

	pending []*bulkmerge.EntityMutation
	// expected is the number of rows the pending mutations must affect.
	// It is only meaningful while verify is true.
	expected int64
	verify   bool
}

type options struct {
	size       int
	extractors []extract.Extractor
	log        *slog.Logger
}

// Option configures a Batcher.
type Option func(*options)

// WithBatchSize sets the number of mutations that triggers a flush.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.size = n
		}
	}
}

// WithExtractors replaces the statement recognizers.
func WithExtractors(extractors ...extract.Extractor) Option {
	return func(o *options) {
		o.extractors = extractors
	}
}

// WithLogger sets the logger of the batcher and the strategies it creates.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		size:       bulkmerge.DefaultBatchSize,
		extractors: extract.Default(),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// New returns a Batcher that runs its commands through ex and writes
// batches with m.
func New(ex dialect.ExecQuerier, dialectName string, m merge.Merger, opts ...Option) *Batcher {
	o := newOptions(opts)
	return newBatcher(ex, dialectName, m, o)
}

func newBatcher(ex dialect.ExecQuerier, dialectName string, m merge.Merger, o *options) *Batcher {
	return &Batcher{
		ex:         ex,
		dialect:    dialect.Normalize(dialectName),
		merger:     m,
		extractors: o.extractors,
		log:        o.log,
		size:       o.size,
		verify:     true,
	}
}

// Len returns the number of pending mutations.
func (b *Batcher) Len() int { return len(b.pending) }

// BatchSize returns the number of mutations that triggers a flush.
func (b *Batcher) BatchSize() int { return b.size }

// SetBatchSize changes the batch capacity. Values below one are ignored.
// A smaller capacity takes effect on the next Add.
func (b *Batcher) SetBatchSize(n int) {
	if n > 0 {
		b.size = n
	}
}

// Add adds a statement to the batch. Statements that cannot be recognized
// flush the pending batch and run immediately; their outcome is verified
// against exp. Add may flush, so it can fail with the error of a previous
// statement.
func (b *Batcher) Add(ctx context.Context, cmd *bulkmerge.CommandDescriptor, exp Expectation) error {
	if cmd == nil {
		return errors.New("batch: nil command")
	}
	m, ok := extract.Extract(cmd, b.extractors...)
	if !ok {
		if err := b.Flush(ctx); err != nil {
			return err
		}
		query, args, err := cmd.Render(b.dialect, bulkmerge.RenderArgs, 0)
		if err != nil {
			return err
		}
		b.log.DebugContext(ctx, "exec", "sql", query, "args", args)
		n, err := merge.Exec(ctx, b.ex, query, args)
		if err != nil {
			return err
		}
		return Verify(exp, n, query)
	}
	b.pending = append(b.pending, m)
	if exp == nil {
		exp = None
	}
	if n, ok := exp.Expected(); ok {
		b.expected += n
	} else {
		b.verify = false
	}
	if len(b.pending) >= b.size {
		return b.Flush(ctx)
	}
	return nil
}

// Flush writes the pending mutations. They are discarded whether or not
// the write succeeds. When every pending statement had a row count
// expectation, the total affected rows must match their sum.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	muts, expected, verify := b.pending, b.expected, b.verify
	b.pending, b.expected, b.verify = nil, 0, true

	start := time.Now()
	n, err := b.merger.Merge(ctx, b.ex, muts)
	if err != nil {
		return err
	}
	b.log.DebugContext(ctx, "batch flushed", "size", len(muts), "rows", n, "elapsed", time.Since(start))
	if !verify {
		return nil
	}
	return VerifyBatched(expected, n)
}
