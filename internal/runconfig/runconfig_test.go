package runconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 4, cfg.Transport.Partitions)
	assert.Equal(t, 4<<20, cfg.Flush.StringThresholdBytes)
	assert.Equal(t, 16<<20, cfg.Flush.BytesThresholdBytes)
	assert.False(t, cfg.Flush.NonBlockingHalfFlush)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadExplicitFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transportx.yaml")
	doc := `
source:
  dialect: mysql
  dsn: "user:pass@tcp(localhost:3306)/testdb"
  queries:
    - "SELECT * FROM t WHERE id < 100"
    - "SELECT * FROM t WHERE id >= 100"
transport:
  partitions: 2
flush:
  string_threshold_bytes: 1048576
  nonblocking_half_flush: true
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Source.Dialect)
	assert.Len(t, cfg.Source.Queries, 2)
	assert.Equal(t, 2, cfg.Transport.Partitions)
	assert.Equal(t, 1<<20, cfg.Flush.StringThresholdBytes)
	assert.Equal(t, 16<<20, cfg.Flush.BytesThresholdBytes, "unset keys keep their defaults")
	assert.True(t, cfg.Flush.NonBlockingHalfFlush)
	assert.Equal(t, "debug", cfg.Logging.Level)
}
