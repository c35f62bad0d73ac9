// Package merge selects and runs the strategy that writes a flushed batch of
// entity mutations to the database.
//
// A Dispatcher holds strategy tiers, each with a minimum batch size. The
// tier with the largest threshold not above the batch size wins:
//
//	d, err := merge.NewDispatcher([]merge.Tier{
//		{MinBatchSize: 0, Merger: merge.NewPassthrough(dialect.Postgres)},
//		{MinBatchSize: 2, Merger: merge.NewConcat(dialect.Postgres)},
//		{MinBatchSize: 1000, Merger: pgbulk.New()},
//	})
package merge

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/syssam/bulkmerge"
	"github.com/syssam/bulkmerge/dialect"
)

// Merger writes a batch of mutations through ex and returns the number of
// affected rows. Mergers never commit or roll back; all commands run inside
// whatever scope ex belongs to.
type Merger interface {
	Merge(ctx context.Context, ex dialect.ExecQuerier, muts []*bulkmerge.EntityMutation) (int64, error)
}

// MergerFunc adapts a function to the Merger interface.
type MergerFunc func(context.Context, dialect.ExecQuerier, []*bulkmerge.EntityMutation) (int64, error)

// Merge calls f(ctx, ex, muts).
func (f MergerFunc) Merge(ctx context.Context, ex dialect.ExecQuerier, muts []*bulkmerge.EntityMutation) (int64, error) {
	return f(ctx, ex, muts)
}

// Tier is a merge strategy applied to batches of at least MinBatchSize mutations.
type Tier struct {
	MinBatchSize int
	Merger       Merger
}

type options struct {
	logger     *slog.Logger
	pageSize   int
	forceTypes []string
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:   slog.Default(),
		pageSize: bulkmerge.DefaultConcatBatchSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures the strategies of this package.
type Option func(*options)

// WithLogger sets the logger for issued commands and dispatch decisions.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPageSize sets the number of statements a Concat joins into one command.
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithForceTypes sets the parameter type names that route a batch to the
// top tier of a Dispatcher regardless of its size, e.g. "geometry" when only
// the bulk strategy can write such values.
func WithForceTypes(types ...string) Option {
	return func(o *options) {
		o.forceTypes = types
	}
}

// Dispatcher routes each batch to the tier matching its size.
// Dispatcher implements Merger.
type Dispatcher struct {
	tiers      []Tier
	forceTypes []string
	log        *slog.Logger
}

// NewDispatcher returns a Dispatcher over the given tiers. It fails if no
// tier accepts a batch of any size, i.e. there is no tier with a zero threshold.
func NewDispatcher(tiers []Tier, opts ...Option) (*Dispatcher, error) {
	o := newOptions(opts)
	sorted := slices.Clone(tiers)
	slices.SortStableFunc(sorted, func(a, b Tier) int {
		return cmp.Compare(b.MinBatchSize, a.MinBatchSize)
	})
	if len(sorted) == 0 || sorted[len(sorted)-1].MinBatchSize > 0 {
		return nil, &bulkmerge.StrategyNotFoundError{Size: 0}
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i].MinBatchSize == sorted[i-1].MinBatchSize {
			o.logger.Warn("merge tier is unreachable", "min_batch_size", sorted[i].MinBatchSize, "merger", sorted[i].Merger)
		}
	}
	return &Dispatcher{tiers: sorted, forceTypes: o.forceTypes, log: o.logger}, nil
}

// Tiers returns the tiers in selection order, largest threshold first.
func (d *Dispatcher) Tiers() []Tier {
	return slices.Clone(d.tiers)
}

// Select returns the tier for a batch of n mutations.
func (d *Dispatcher) Select(n int) (Tier, error) {
	for _, t := range d.tiers {
		if t.MinBatchSize <= n {
			return t, nil
		}
	}
	return Tier{}, &bulkmerge.StrategyNotFoundError{Size: n}
}

// Merge implements the Merger interface.
func (d *Dispatcher) Merge(ctx context.Context, ex dialect.ExecQuerier, muts []*bulkmerge.EntityMutation) (int64, error) {
	if len(muts) == 0 {
		return 0, nil
	}
	tier, err := d.Select(len(muts))
	if err != nil {
		return 0, err
	}
	if d.forced(muts) && tier.MinBatchSize != d.tiers[0].MinBatchSize {
		d.log.DebugContext(ctx, "batch forced to top merge tier", "size", len(muts), "min_batch_size", d.tiers[0].MinBatchSize)
		tier = d.tiers[0]
	}
	return tier.Merger.Merge(ctx, ex, muts)
}

// forced reports whether any mutation binds a parameter of a forced type.
func (d *Dispatcher) forced(muts []*bulkmerge.EntityMutation) bool {
	if len(d.forceTypes) == 0 {
		return false
	}
	for _, m := range muts {
		if m.Command == nil {
			continue
		}
		for _, typ := range m.Command.Types {
			for _, name := range d.forceTypes {
				if strings.EqualFold(typ.Name, name) {
					return true
				}
			}
		}
	}
	return false
}
