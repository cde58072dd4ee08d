// Package config provides configuration loading for oodb.
//
// # Overview
//
// Configuration comes from a YAML file or from a legacy application.ini
// properties file. Both support ${VAR} and ${VAR:-default} environment
// substitution, and every missing setting falls back to DefaultConfig.
//
//	store:
//	  enabled: true
//	  path: ${OODB_PATH:-/var/lib/oodb/store.db}
//	  pagePoolSize: 512MiB
//	  syncOnCommit: true
//	  objectCacheSize: 64MiB
//	logging:
//	  level: info
//	  format: json
//	  output: stderr
//
// The legacy format uses three keys:
//
//	PerstEnabled = true
//	PerstDatabasePath = oodb
//	PerstPagePoolSize = 536870912
//
// # Loading Configuration
//
//	cfg, err := config.LoadConfig("/etc/oodb/config.yaml")
//	if err != nil {
//	    return err
//	}
//	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
//	    return errs[0]
//	}
//
// Sizes accept plain byte counts and human forms such as "64MiB" or "1 GB".
package config
