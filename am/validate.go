package am

import (
	"strings"

	"github.com/teranos/datapump/errors"
)

var targetSchemes = []string{"sqlite3://", "sqlite://", "postgres://", "postgresql://", "kafka://"}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Source.ChunkSize <= 0 {
		return errors.Newf("source.chunk_size must be > 0, got %d", c.Source.ChunkSize)
	}
	// key_chunk: 0 = single unbounded enumeration call, negative = invalid
	if c.Source.KeyChunk < 0 {
		return errors.Newf("source.key_chunk must be >= 0, got %d", c.Source.KeyChunk)
	}
	if c.Source.PageThreshold <= 0 || c.Source.PageThreshold > 1 {
		return errors.Newf("source.page_threshold must be in (0, 1], got %f", c.Source.PageThreshold)
	}
	if c.Source.TimeoutSeconds < 0 {
		return errors.Newf("source.timeout_seconds must be >= 0, got %d", c.Source.TimeoutSeconds)
	}
	if c.Source.RequestsPerMinute < 0 {
		return errors.Newf("source.requests_per_minute must be >= 0, got %d", c.Source.RequestsPerMinute)
	}

	if c.Target.URL != "" && !hasTargetScheme(c.Target.URL) {
		return errors.WithHint(
			errors.Newf("target.url has unsupported scheme: %s", c.Target.URL),
			"use sqlite3://, postgres:// or kafka://")
	}

	if c.Loader.LoadLimit < 0 {
		return errors.Newf("loader.load_limit must be >= 0, got %d", c.Loader.LoadLimit)
	}

	if c.Daemon.Threads < 0 {
		return errors.Newf("daemon.threads must be >= 0, got %d", c.Daemon.Threads)
	}
	if c.Daemon.IntervalSeconds <= 0 {
		return errors.Newf("daemon.interval_seconds must be > 0, got %d", c.Daemon.IntervalSeconds)
	}
	if c.Daemon.ShutdownSeconds < 0 {
		return errors.Newf("daemon.shutdown_seconds must be >= 0, got %d", c.Daemon.ShutdownSeconds)
	}
	if c.Daemon.LagSeconds < 0 {
		return errors.Newf("daemon.lag_seconds must be >= 0, got %d", c.Daemon.LagSeconds)
	}
	switch c.Daemon.Catalog {
	case "", CatalogLocal, CatalogRemote:
	default:
		return errors.Newf("daemon.catalog must be %q or %q, got %q", CatalogLocal, CatalogRemote, c.Daemon.Catalog)
	}

	return nil
}

func hasTargetScheme(url string) bool {
	for _, s := range targetSchemes {
		if strings.HasPrefix(url, s) {
			return true
		}
	}
	return false
}
