package bulkmerge

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/syssam/bulkmerge/dialect"
	"github.com/syssam/bulkmerge/dialect/sql"
)

// Default configuration values.
const (
	DefaultBatchSize         = 1000
	DefaultConcatBatchSize   = 50
	DefaultMinConcatEntities = 2
	DefaultMinBulkEntities   = 1000
	DefaultSlowThreshold     = 100 * time.Millisecond
)

// Config configures a batcher and its merge tiers. It is usually loaded from
// a bulkmerge.yml file:
//
//	dialect: postgres
//	batch_size: 2000
//	min_bulk_entities: 500
//	avoid_concurrency_errors: true
//	quote:
//	  open: '"'
//	  close: '"'
type Config struct {
	// Dialect is the target database dialect.
	Dialect string `yaml:"dialect"`
	// BatchSize is the number of mutations accumulated before a flush.
	BatchSize int `yaml:"batch_size"`
	// ConcatBatchSize is the number of statements joined into one command.
	ConcatBatchSize int `yaml:"concat_batch_size"`
	// MinConcatEntities is the smallest batch merged by concatenation.
	MinConcatEntities int `yaml:"min_concat_entities"`
	// MinBulkEntities is the smallest batch merged by the bulk strategy.
	// Zero disables the bulk tier. The bulk tier exists only for postgres.
	MinBulkEntities int `yaml:"min_bulk_entities"`
	// AvoidConcurrencyErrors switches the bulk merge to its tolerant
	// reconciliation, which skips rows that vanished or already exist.
	AvoidConcurrencyErrors bool `yaml:"avoid_concurrency_errors"`
	// Quote is the identifier quoting policy. Empty means the dialect default.
	Quote sql.Quoter `yaml:"quote"`
	// ForceBulkTypes lists parameter type names that send a batch straight to
	// the top tier, whatever its size.
	ForceBulkTypes []string `yaml:"force_bulk_types"`
	// SlowThreshold is the duration above which a command is reported as slow.
	SlowThreshold time.Duration `yaml:"slow_threshold"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Dialect:           dialect.Postgres,
		BatchSize:         DefaultBatchSize,
		ConcatBatchSize:   DefaultConcatBatchSize,
		MinConcatEntities: DefaultMinConcatEntities,
		MinBulkEntities:   DefaultMinBulkEntities,
		ForceBulkTypes:    []string{"geometry", "geography"},
		SlowThreshold:     DefaultSlowThreshold,
	}
}

// LoadConfig reads a YAML configuration file on top of the defaults.
// A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read bulkmerge config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse bulkmerge config: %w", err)
	}
	cfg.Dialect = dialect.Normalize(cfg.Dialect)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error
	switch dialect.Normalize(c.Dialect) {
	case dialect.Postgres, dialect.MySQL, dialect.SQLite:
	default:
		errs = append(errs, fmt.Errorf("unsupported dialect %q", c.Dialect))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.ConcatBatchSize < 1 {
		errs = append(errs, fmt.Errorf("concat_batch_size must be positive, got %d", c.ConcatBatchSize))
	}
	if c.MinConcatEntities < 1 {
		errs = append(errs, fmt.Errorf("min_concat_entities must be positive, got %d", c.MinConcatEntities))
	}
	if c.MinBulkEntities < 0 {
		errs = append(errs, fmt.Errorf("min_bulk_entities must not be negative, got %d", c.MinBulkEntities))
	}
	if c.Quote.Open == "" && c.Quote.Close != "" {
		errs = append(errs, errors.New("quote.open must be set when quote.close is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("bulkmerge: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Quoter returns the configured identifier quoting, or the dialect default.
func (c *Config) Quoter() sql.Quoter {
	if c.Quote.IsZero() {
		return sql.QuoterFor(c.Dialect)
	}
	return c.Quote
}
