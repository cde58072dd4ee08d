package config

// Default values.
const (
	DefaultStorePath    = "oodb"
	DefaultPagePoolSize = "536870912"
)

// DefaultConfig returns a Config with default values. The store is disabled
// until configuration enables it.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Enabled:      false,
			Path:         DefaultStorePath,
			PagePoolSize: DefaultPagePoolSize,
			SyncOnCommit: true,
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}
