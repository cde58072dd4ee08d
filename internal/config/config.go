// Package config provides configuration loading for oodb.
package config

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Config holds the complete configuration.
type Config struct {
	Store   StoreConfig `yaml:"store"`
	Logging LogConfig   `yaml:"logging"`
}

// StoreConfig holds object store configuration.
type StoreConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Path            string `yaml:"path"`
	PagePoolSize    string `yaml:"pagePoolSize"`
	SyncOnCommit    bool   `yaml:"syncOnCommit"`
	ObjectCacheSize string `yaml:"objectCacheSize"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PoolSizeBytes returns the page pool size in bytes.
func (c StoreConfig) PoolSizeBytes() (int64, error) {
	return parseSize(c.PagePoolSize)
}

// CacheSizeBytes returns the record cache size in bytes. Zero means the
// store picks its default.
func (c StoreConfig) CacheSizeBytes() (int64, error) {
	return parseSize(c.ObjectCacheSize)
}

// parseSize parses a size such as "512MiB", "64 MB" or "536870912".
func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidSize, s)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("%w: %s is too large", ErrInvalidSize, s)
	}
	return int64(n), nil
}
