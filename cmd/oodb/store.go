package main

import (
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/oodb/internal/config"
	"github.com/KilimcininKorOglu/oodb/internal/logging"
	"github.com/KilimcininKorOglu/oodb/internal/storage/engine"
)

// ErrStoreDisabled is returned when the configuration leaves the store off.
var ErrStoreDisabled = errors.New("store is disabled; enable it in the configuration or pass --path")

// accountsIndex is the unique username index used by bench and history.
const accountsIndex = "users"

// Account is the object type the CLI workloads store.
type Account struct {
	engine.Versioned
	Username string
	Balance  float64
}

// resolve loads the configuration and applies the global overrides.
func (g *Globals) resolve() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if g.Config != "" {
		loaded, err := config.LoadConfig(g.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", g.Config, err)
		}
		cfg = loaded
	}
	if g.Path != "" {
		cfg.Store.Path = g.Path
		cfg.Store.Enabled = true
	}
	if g.Pool != "" {
		cfg.Store.PagePoolSize = g.Pool
	}
	if g.LogLevel != "" {
		cfg.Logging.Level = g.LogLevel
	}

	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if !cfg.Store.Enabled {
		return nil, ErrStoreDisabled
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// openStore opens the configured store and registers Account.
func openStore(cfg *config.Config, opts ...engine.Option) (*engine.Store, error) {
	pool, err := cfg.Store.PoolSizeBytes()
	if err != nil {
		return nil, err
	}
	cache, err := cfg.Store.CacheSizeBytes()
	if err != nil {
		return nil, err
	}

	base := []engine.Option{
		engine.WithLogger(newLogger(cfg)),
		engine.WithSyncOnCommit(cfg.Store.SyncOnCommit),
	}
	if cache > 0 {
		base = append(base, engine.WithCacheSize(cache))
	}
	s, err := engine.Open(cfg.Store.Path, pool, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := engine.Register[Account](s, "Account"); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// closeInto closes s and reports its error through err unless err is
// already set.
func closeInto(s *engine.Store, err *error) {
	if cerr := s.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}
