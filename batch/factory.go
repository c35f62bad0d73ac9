package batch

import (
	"fmt"

	"github.com/syssam/bulkmerge"
	"github.com/syssam/bulkmerge/dialect"
	"github.com/syssam/bulkmerge/merge"
	"github.com/syssam/bulkmerge/merge/pgbulk"
)

// Tiers returns the merge tiers described by cfg:
//
//   - passthrough for any batch size,
//   - concatenation from cfg.MinConcatEntities, except on sqlite where
//     statements do not cross a network,
//   - the bulk merge from cfg.MinBulkEntities, on postgres only.
func Tiers(cfg *bulkmerge.Config, opts ...Option) []merge.Tier {
	o := newOptions(opts)
	name := dialect.Normalize(cfg.Dialect)
	tiers := []merge.Tier{
		{MinBatchSize: 0, Merger: merge.NewPassthrough(name, merge.WithLogger(o.log))},
	}
	if name != dialect.SQLite {
		tiers = append(tiers, merge.Tier{
			MinBatchSize: cfg.MinConcatEntities,
			Merger:       merge.NewConcat(name, merge.WithPageSize(cfg.ConcatBatchSize), merge.WithLogger(o.log)),
		})
	}
	if bulkEnabled(cfg) {
		tiers = append(tiers, merge.Tier{
			MinBatchSize: cfg.MinBulkEntities,
			Merger: pgbulk.New(
				pgbulk.WithAvoidConcurrencyErrors(cfg.AvoidConcurrencyErrors),
				pgbulk.WithQuoter(cfg.Quoter()),
				pgbulk.WithLogger(o.log),
			),
		})
	}
	return tiers
}

// NewFromConfig returns a Batcher whose merge tiers and capacity follow cfg.
// A nil cfg means bulkmerge.DefaultConfig.
func NewFromConfig(ex dialect.ExecQuerier, cfg *bulkmerge.Config, opts ...Option) (*Batcher, error) {
	if cfg == nil {
		cfg = bulkmerge.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := newOptions(append([]Option{WithBatchSize(cfg.BatchSize)}, opts...))
	tiers := Tiers(cfg, opts...)
	dopts := []merge.Option{merge.WithLogger(o.log)}
	if bulkEnabled(cfg) {
		dopts = append(dopts, merge.WithForceTypes(cfg.ForceBulkTypes...))
	}
	d, err := merge.NewDispatcher(tiers, dopts...)
	if err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	return newBatcher(ex, cfg.Dialect, d, o), nil
}

func bulkEnabled(cfg *bulkmerge.Config) bool {
	return dialect.Normalize(cfg.Dialect) == dialect.Postgres && cfg.MinBulkEntities > 0
}
