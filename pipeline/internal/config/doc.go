// Package config loads the pipeline configuration from the `pipeline:`
// section of a YAML file. The monitor reads the `monitor:` section of the
// same file and ignores this one.
//
// Config fields:
//   - HTTPPort: job trigger endpoint and /metrics (default 8090)
//   - Timezone: zone that defines "today" for triggers and cron
//   - Database: partition store driver (sqlite3 | postgres) and DSN
//   - Events: JSON-lines events file and optional Redis publish
//   - Symbols: instruments fetched by the collector
//   - QuoteSource: HTTP quote endpoint and its auth settings
//   - CandleInterval: aggregator bucket size (default 5m)
//   - SMA: fast/slow periods for the signal generator
//   - Jobs: cron schedule per job
//
// Secrets are referenced by environment variable name (*_env fields).
package config
