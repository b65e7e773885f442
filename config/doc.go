// Package config provides application configuration management.
//
// Settings are read from an optional config.yaml (in the working directory
// or ./config) and can be overridden by environment variables prefixed with
// SQLBOX_, e.g. SQLBOX_POSTGRES_DSN or SQLBOX_SANDBOX_TIMEOUT_MS. A .env
// file is loaded into the environment first when present.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Query timeout: %s\n", cfg.GetTimeout())
package config
