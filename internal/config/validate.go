package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// minPoolSize is the smallest page pool accepted, 16 pages.
const minPoolSize = 16 * 4096

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig validates the configuration and returns a list of validation errors.
// An empty slice indicates the configuration is valid.
func ValidateConfig(config *Config) []error {
	var errs []error
	errs = append(errs, validateStoreConfig(&config.Store)...)
	errs = append(errs, validateLogConfig(&config.Logging)...)
	return errs
}

// validateStoreConfig validates store configuration.
func validateStoreConfig(config *StoreConfig) []error {
	var errs []error

	if config.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "store.path",
			Message: "database path is required",
		})
	}

	if size, err := config.PoolSizeBytes(); err != nil {
		errs = append(errs, ValidationError{
			Field:   "store.pagePoolSize",
			Message: err.Error(),
		})
	} else if size != 0 && size < minPoolSize {
		errs = append(errs, ValidationError{
			Field:   "store.pagePoolSize",
			Message: fmt.Sprintf("must be at least %d bytes", minPoolSize),
		})
	}

	if _, err := config.CacheSizeBytes(); err != nil {
		errs = append(errs, ValidationError{
			Field:   "store.objectCacheSize",
			Message: err.Error(),
		})
	}

	return errs
}

// validateLogConfig validates logging configuration.
func validateLogConfig(config *LogConfig) []error {
	var errs []error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if config.Level != "" && !validLevels[strings.ToLower(config.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be debug, info, warn, or error",
		})
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if config.Format != "" && !validFormats[strings.ToLower(config.Format)] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be text or json",
		})
	}

	if config.Output != "" && config.Output != "stdout" && config.Output != "stderr" {
		dir := filepath.Dir(config.Output)
		if !filepath.IsAbs(config.Output) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: "must be stdout, stderr, or an absolute file path",
			})
		} else if _, err := os.Stat(dir); os.IsNotExist(err) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: fmt.Sprintf("directory %s does not exist", dir),
			})
		}
	}

	return errs
}
