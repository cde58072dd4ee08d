package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.False(t, config.Store.Enabled, "store should be disabled by default")
	assert.Equal(t, "oodb", config.Store.Path)
	assert.True(t, config.Store.SyncOnCommit)

	size, err := config.Store.PoolSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(536870912), size)

	assert.Empty(t, ValidateConfig(config))
}

func TestParseConfig(t *testing.T) {
	data := []byte(`
store:
  enabled: true
  path: /data/accounts.db
  pagePoolSize: 64MiB
  syncOnCommit: false
  objectCacheSize: 8MiB
logging:
  level: debug
  format: json
`)

	config, err := ParseConfig(data)
	require.NoError(t, err)

	assert.True(t, config.Store.Enabled)
	assert.Equal(t, "/data/accounts.db", config.Store.Path)
	assert.False(t, config.Store.SyncOnCommit)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.Equal(t, "stderr", config.Logging.Output, "unset keys keep defaults")

	pool, err := config.Store.PoolSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(64<<20), pool)

	cache, err := config.Store.CacheSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(8<<20), cache)
}

func TestParseConfigEmpty(t *testing.T) {
	config, err := ParseConfig([]byte("\n# nothing here\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), config)
}

func TestParseConfigInvalidYAML(t *testing.T) {
	_, err := ParseConfig([]byte("store: [unclosed"))
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestEnvSubstitution(t *testing.T) {
	t.Setenv("OODB_TEST_PATH", "/from/env.db")

	config, err := ParseConfig([]byte(`
store:
  path: ${OODB_TEST_PATH}
  pagePoolSize: ${OODB_TEST_UNSET:-32MiB}
`))
	require.NoError(t, err)

	assert.Equal(t, "/from/env.db", config.Store.Path)
	assert.Equal(t, "32MiB", config.Store.PagePoolSize)
}

func TestParseLegacy(t *testing.T) {
	data := []byte(`# application settings
PerstEnabled = TRUE
PerstDatabasePath = testdb
PerstPagePoolSize = 1048576
SomethingElse = ignored
`)

	config, err := ParseLegacy(data)
	require.NoError(t, err)

	assert.True(t, config.Store.Enabled)
	assert.Equal(t, "testdb", config.Store.Path)
	size, err := config.Store.PoolSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(1048576), size)
}

func TestParseLegacyDisabled(t *testing.T) {
	config, err := ParseLegacy([]byte("PerstEnabled = false\n"))
	require.NoError(t, err)
	assert.False(t, config.Store.Enabled)
	assert.Equal(t, DefaultStorePath, config.Store.Path)
}

func TestParseLegacyMalformed(t *testing.T) {
	_, err := ParseLegacy([]byte("PerstEnabled\n"))
	assert.ErrorIs(t, err, ErrInvalidLegacy)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "oodb.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("store:\n  enabled: true\n"), 0644))
	config, err := LoadConfig(yamlPath)
	require.NoError(t, err)
	assert.True(t, config.Store.Enabled)

	iniPath := filepath.Join(dir, "application.ini")
	require.NoError(t, os.WriteFile(iniPath, []byte("PerstDatabasePath = legacy\n"), 0644))
	config, err = LoadConfig(iniPath)
	require.NoError(t, err)
	assert.Equal(t, "legacy", config.Store.Path)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"empty path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"bad pool size", func(c *Config) { c.Store.PagePoolSize = "lots" }, "store.pagePoolSize"},
		{"tiny pool", func(c *Config) { c.Store.PagePoolSize = "4KiB" }, "store.pagePoolSize"},
		{"bad cache size", func(c *Config) { c.Store.ObjectCacheSize = "-1" }, "store.objectCacheSize"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"relative output", func(c *Config) { c.Logging.Output = "logs/oodb.log" }, "logging.output"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)

			errs := ValidateConfig(config)
			require.Len(t, errs, 1)
			var verr ValidationError
			require.ErrorAs(t, errs[0], &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}
