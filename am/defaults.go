package am

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// DefaultRemoteFields maps logical status fields to the record fields of
// the remote suite and job tables.
var DefaultRemoteFields = map[string]string{
	"name":              "u_name",
	"status":            "u_status",
	"run_start":         "u_run_start",
	"next_run_start":    "u_next_run_start",
	"frequency":         "u_frequency",
	"target":            "u_target",
	"suite":             "u_jobset",
	"order":             "u_order",
	"inactive":          "u_inactive",
	"table":             "u_table",
	"target_table":      "u_sql_table_name",
	"operation":         "u_operation",
	"truncate":          "u_truncate",
	"load_method":       "u_load_method",
	"partition_field":   "u_partition_field",
	"partition_value":   "u_partition_value",
	"interval_field":    "u_interval_field",
	"interval_start":    "u_interval_start",
	"interval_end":      "u_interval_end",
	"conditions":        "u_conditions",
	"sql":               "u_sql_statement",
	"error_message":     "u_error_message",
	"records_inserted":  "u_records_inserted",
	"records_updated":   "u_records_updated",
	"records_deleted":   "u_records_deleted",
	"records_published": "u_records_processed",
	"records_expected":  "u_records_total",
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Source defaults
	v.SetDefault("source.timeout_seconds", 60)
	v.SetDefault("source.requests_per_minute", 0)
	v.SetDefault("source.max_retry_seconds", 120)
	v.SetDefault("source.key_chunk", 2000)
	v.SetDefault("source.chunk_size", 200)
	v.SetDefault("source.page_threshold", 0.95)
	v.SetDefault("source.check_count", true)

	// Target defaults
	v.SetDefault("target.url", "sqlite3://datapump-target.db")
	v.SetDefault("target.auto_create", true)
	v.SetDefault("target.batch_inserts", false)
	v.SetDefault("target.warn_on_truncate", true)
	v.SetDefault("target.truncate_bytes", false)

	v.SetDefault("loader.load_limit", 0)

	// Daemon defaults
	v.SetDefault("daemon.threads", 1)
	v.SetDefault("daemon.interval_seconds", 20)
	v.SetDefault("daemon.shutdown_seconds", 30)
	v.SetDefault("daemon.lag_seconds", 0)
	v.SetDefault("daemon.catalog", CatalogLocal)

	v.SetDefault("database.path", "datapump.db")

	v.SetDefault("remote.suite_table", "u_datapump_jobset")
	v.SetDefault("remote.job_table", "u_datapump_job")
	v.SetDefault("remote.fields", DefaultRemoteFields)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("source.url", "DATAPUMP_SOURCE_URL")
	v.BindEnv("source.username", "DATAPUMP_SOURCE_USERNAME")
	v.BindEnv("source.password", "DATAPUMP_SOURCE_PASSWORD")
	v.BindEnv("target.url", "DATAPUMP_TARGET_URL")
	v.BindEnv("database.path", "DATAPUMP_DATABASE_PATH")
}

// GetDatabasePath returns the configured status store path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "datapump.db"
	}
	return c.Database.Path
}

// RemoteField returns the record field name for a logical field, falling
// back to the built-in mapping.
func (c *Config) RemoteField(name string) string {
	if f, ok := c.Remote.Fields[name]; ok && f != "" {
		return f
	}
	return DefaultRemoteFields[name]
}

// Timeout returns the per-call source timeout.
func (s SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Interval returns the scan period.
func (d DaemonConfig) Interval() time.Duration {
	return time.Duration(d.IntervalSeconds) * time.Second
}

// Lag returns the clock skew allowance.
func (d DaemonConfig) Lag() time.Duration {
	return time.Duration(d.LagSeconds) * time.Second
}

// ShutdownTimeout returns the worker grace period.
func (d DaemonConfig) ShutdownTimeout() time.Duration {
	return time.Duration(d.ShutdownSeconds) * time.Second
}

// String returns a string representation of the config without secrets
func (c *Config) String() string {
	return fmt.Sprintf("Config{Source: %s, Target: %s, Daemon: {Threads: %d, Interval: %ds, Catalog: %s}, Database: %s}",
		c.Source.URL, c.Target.URL, c.Daemon.Threads, c.Daemon.IntervalSeconds, c.Daemon.Catalog, c.GetDatabasePath())
}
