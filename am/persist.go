package am

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/datapump/errors"
)

// templateFile mirrors Config with toml tags and comments for `am init`.
type templateFile struct {
	Source struct {
		URL               string  `toml:"url" comment:"Base URL of the source instance"`
		Username          string  `toml:"username"`
		Password          string  `toml:"password" comment:"Prefer DATAPUMP_SOURCE_PASSWORD"`
		TimeoutSeconds    int     `toml:"timeout_seconds"`
		RequestsPerMinute int     `toml:"requests_per_minute" comment:"0 = unlimited"`
		MaxRetrySeconds   int     `toml:"max_retry_seconds"`
		KeyChunk          int     `toml:"key_chunk" comment:"Keys per enumeration page, 0 = single call"`
		ChunkSize         int     `toml:"chunk_size" comment:"Records per retrieval call"`
		PageThreshold     float64 `toml:"page_threshold" comment:"A key page shorter than threshold*key_chunk ends enumeration"`
		CheckCount        bool    `toml:"check_count"`
	} `toml:"source"`
	Target struct {
		URL            string `toml:"url" comment:"sqlite3://path | postgres://user@host/db | kafka://broker:9092/topic"`
		Schema         string `toml:"schema"`
		AutoCreate     bool   `toml:"auto_create"`
		BatchInserts   bool   `toml:"batch_inserts"`
		WarnOnTruncate bool   `toml:"warn_on_truncate"`
	} `toml:"target"`
	Loader struct {
		LoadLimit int `toml:"load_limit" comment:"Fail a job that publishes more rows, 0 = unlimited"`
	} `toml:"loader"`
	Daemon struct {
		Threads         int    `toml:"threads"`
		IntervalSeconds int    `toml:"interval_seconds"`
		ShutdownSeconds int    `toml:"shutdown_seconds"`
		LagSeconds      int    `toml:"lag_seconds"`
		Target          string `toml:"target" comment:"Only run suites tagged with this target"`
		Catalog         string `toml:"catalog" comment:"local | remote"`
	} `toml:"daemon"`
	Database struct {
		Path string `toml:"path"`
	} `toml:"database"`
}

func newTemplate(cfg *Config) templateFile {
	var t templateFile
	t.Source.URL = cfg.Source.URL
	t.Source.Username = cfg.Source.Username
	t.Source.TimeoutSeconds = cfg.Source.TimeoutSeconds
	t.Source.RequestsPerMinute = cfg.Source.RequestsPerMinute
	t.Source.MaxRetrySeconds = cfg.Source.MaxRetrySeconds
	t.Source.KeyChunk = cfg.Source.KeyChunk
	t.Source.ChunkSize = cfg.Source.ChunkSize
	t.Source.PageThreshold = cfg.Source.PageThreshold
	t.Source.CheckCount = cfg.Source.CheckCount
	t.Target.URL = cfg.Target.URL
	t.Target.Schema = cfg.Target.Schema
	t.Target.AutoCreate = cfg.Target.AutoCreate
	t.Target.BatchInserts = cfg.Target.BatchInserts
	t.Target.WarnOnTruncate = cfg.Target.WarnOnTruncate
	t.Loader.LoadLimit = cfg.Loader.LoadLimit
	t.Daemon.Threads = cfg.Daemon.Threads
	t.Daemon.IntervalSeconds = cfg.Daemon.IntervalSeconds
	t.Daemon.ShutdownSeconds = cfg.Daemon.ShutdownSeconds
	t.Daemon.LagSeconds = cfg.Daemon.LagSeconds
	t.Daemon.Target = cfg.Daemon.Target
	t.Daemon.Catalog = cfg.Daemon.Catalog
	t.Database.Path = cfg.GetDatabasePath()
	return t
}

// WriteTemplate writes cfg as a commented am.toml. An existing file is
// rotated into backups first.
func WriteTemplate(configPath string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(configPath), DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(newTemplate(cfg))
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write config")
	}
	return nil
}

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete old backup %s", back3)
	}

	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}
