package bulkmerge_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/bulkmerge"
	"github.com/syssam/bulkmerge/dialect/sql"
)

func TestDefaultConfig(t *testing.T) {
	cfg := bulkmerge.DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "postgres", cfg.Dialect)
	assert.Equal(t, 1000, cfg.BatchSize)
	assert.Equal(t, 50, cfg.ConcatBatchSize)
	assert.Equal(t, 2, cfg.MinConcatEntities)
	assert.Equal(t, 1000, cfg.MinBulkEntities)
	assert.False(t, cfg.AvoidConcurrencyErrors)
	assert.Equal(t, []string{"geometry", "geography"}, cfg.ForceBulkTypes)
	assert.Equal(t, sql.DoubleQuote, cfg.Quoter())
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing_file", func(t *testing.T) {
		cfg, err := bulkmerge.LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
		require.NoError(t, err)
		assert.Equal(t, bulkmerge.DefaultConfig(), cfg)
	})

	t.Run("overrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bulkmerge.yml")
		require.NoError(t, os.WriteFile(path, []byte(`
dialect: mysql
batch_size: 200
min_bulk_entities: 0
avoid_concurrency_errors: true
slow_threshold: 250ms
`), 0o600))
		cfg, err := bulkmerge.LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "mysql", cfg.Dialect)
		assert.Equal(t, 200, cfg.BatchSize)
		assert.Equal(t, 0, cfg.MinBulkEntities)
		assert.Equal(t, 50, cfg.ConcatBatchSize)
		assert.True(t, cfg.AvoidConcurrencyErrors)
		assert.Equal(t, 250*time.Millisecond, cfg.SlowThreshold)
		assert.Equal(t, sql.Backtick, cfg.Quoter())
	})

	t.Run("custom_quote", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bulkmerge.yml")
		require.NoError(t, os.WriteFile(path, []byte("dialect: postgresql\nquote:\n  open: '['\n  close: ']'\n"), 0o600))
		cfg, err := bulkmerge.LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "postgres", cfg.Dialect)
		assert.Equal(t, sql.Bracket, cfg.Quoter())
	})

	t.Run("invalid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bulkmerge.yml")
		require.NoError(t, os.WriteFile(path, []byte("dialect: oracle\nbatch_size: 0\n"), 0o600))
		_, err := bulkmerge.LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unsupported dialect "oracle"`)
		assert.Contains(t, err.Error(), "batch_size must be positive")
	})

	t.Run("malformed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bulkmerge.yml")
		require.NoError(t, os.WriteFile(path, []byte("batch_size: [1"), 0o600))
		_, err := bulkmerge.LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse bulkmerge config")
	})
}
