package am

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/datapump/errors"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	// Isolated viper instance without loading user/system config
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper() failed: %v", err)
	}
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := defaultConfig(t)

	if cfg.Database.Path != "datapump.db" {
		t.Errorf("expected default database path 'datapump.db', got %q", cfg.Database.Path)
	}
	if cfg.Source.ChunkSize != 200 {
		t.Errorf("expected default chunk size 200, got %d", cfg.Source.ChunkSize)
	}
	if cfg.Source.PageThreshold != 0.95 {
		t.Errorf("expected default page threshold 0.95, got %f", cfg.Source.PageThreshold)
	}
	if !cfg.Source.CheckCount {
		t.Error("expected check_count to default to true")
	}
	if cfg.Daemon.Threads != 1 || cfg.Daemon.IntervalSeconds != 20 || cfg.Daemon.ShutdownSeconds != 30 {
		t.Errorf("unexpected daemon defaults: %+v", cfg.Daemon)
	}
	if !cfg.Target.AutoCreate || cfg.Target.BatchInserts || !cfg.Target.WarnOnTruncate {
		t.Errorf("unexpected target defaults: %+v", cfg.Target)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero key chunk is valid (single call)", func(c *Config) { c.Source.KeyChunk = 0 }, false},
		{"negative key chunk", func(c *Config) { c.Source.KeyChunk = -1 }, true},
		{"zero chunk size", func(c *Config) { c.Source.ChunkSize = 0 }, true},
		{"threshold above one", func(c *Config) { c.Source.PageThreshold = 1.5 }, true},
		{"threshold zero", func(c *Config) { c.Source.PageThreshold = 0 }, true},
		{"negative rate limit", func(c *Config) { c.Source.RequestsPerMinute = -1 }, true},
		{"zero threads is valid (inline)", func(c *Config) { c.Daemon.Threads = 0 }, false},
		{"negative threads", func(c *Config) { c.Daemon.Threads = -2 }, true},
		{"zero interval", func(c *Config) { c.Daemon.IntervalSeconds = 0 }, true},
		{"negative lag", func(c *Config) { c.Daemon.LagSeconds = -5 }, true},
		{"unknown catalog", func(c *Config) { c.Daemon.Catalog = "cloud" }, true},
		{"remote catalog", func(c *Config) { c.Daemon.Catalog = CatalogRemote }, false},
		{"negative load limit", func(c *Config) { c.Loader.LoadLimit = -1 }, true},
		{"postgres target", func(c *Config) { c.Target.URL = "postgres://dp@localhost/mirror" }, false},
		{"kafka target", func(c *Config) { c.Target.URL = "kafka://localhost:9092/records" }, false},
		{"unsupported target", func(c *Config) { c.Target.URL = "mysql://x" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	content := `
[source]
url = "https://dev1234.example.com"
chunk_size = 50

[target]
url = "postgres://dp@localhost/mirror"
batch_inserts = true

[daemon]
threads = 4
target = "reporting"

[remote.fields]
status = "x_status"
`
	require.NoError(t, os.WriteFile(path, []byte(content), DefaultFilePermissions))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "https://dev1234.example.com", cfg.Source.URL)
	assert.Equal(t, 50, cfg.Source.ChunkSize)
	assert.Equal(t, 2000, cfg.Source.KeyChunk)
	assert.True(t, cfg.Target.BatchInserts)
	assert.Equal(t, 4, cfg.Daemon.Threads)
	assert.Equal(t, "reporting", cfg.Daemon.Target)
	assert.Equal(t, "x_status", cfg.RemoteField("status"))
	assert.Equal(t, "u_interval_end", cfg.RemoteField("interval_end"))
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestFindProjectConfig(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("found in parent", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "test1", "subdir")
		require.NoError(t, os.MkdirAll(subDir, DefaultDirPermissions))
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test1", "am.toml"), []byte(""), DefaultFilePermissions))

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		require.NoError(t, os.Chdir(subDir))

		result := findProjectConfig()
		if filepath.Base(result) != "am.toml" {
			t.Errorf("expected am.toml, got %q", result)
		}
	})

	t.Run("none found", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "test2", "subdir")
		require.NoError(t, os.MkdirAll(subDir, DefaultDirPermissions))

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		require.NoError(t, os.Chdir(subDir))

		// ancestors of tmpDir may hold an am.toml on a developer machine
		result := findProjectConfig()
		assert.False(t, strings.HasPrefix(result, filepath.Join(tmpDir, "test2")))
	})
}

func TestWriteTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "am.toml")
	cfg := defaultConfig(t)
	cfg.Source.URL = "https://dev1.example.com"

	require.NoError(t, WriteTemplate(path, cfg))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://dev1.example.com", loaded.Source.URL)
	assert.Equal(t, cfg.Source.ChunkSize, loaded.Source.ChunkSize)
	assert.Equal(t, cfg.Daemon.IntervalSeconds, loaded.Daemon.IntervalSeconds)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# local | remote")

	// second write rotates a backup
	cfg.Source.URL = "https://dev2.example.com"
	require.NoError(t, WriteTemplate(path, cfg))
	backup, err := os.ReadFile(path + ".back1")
	require.NoError(t, err)
	assert.Contains(t, string(backup), "dev1.example.com")
}

func TestMergeConfigFilesTracksSources(t *testing.T) {
	Reset()
	defer Reset()

	dir := t.TempDir()
	first := filepath.Join(dir, "first.toml")
	second := filepath.Join(dir, "second.toml")
	require.NoError(t, os.WriteFile(first, []byte("[source]\nchunk_size = 10\nkey_chunk = 100\n"), DefaultFilePermissions))
	require.NoError(t, os.WriteFile(second, []byte("[source]\nchunk_size = 20\n"), DefaultFilePermissions))

	v := viper.New()
	SetDefaults(v)
	require.NoError(t, mergeConfigFiles(v, []string{first, second, filepath.Join(dir, "missing.toml")}))

	assert.Equal(t, 20, v.GetInt("source.chunk_size"))
	assert.Equal(t, 100, v.GetInt("source.key_chunk"))
	assert.Equal(t, second, ConfigSources["source.chunk_size"].Path)
	assert.Equal(t, first, ConfigSources["source.key_chunk"].Path)
}

func TestMergeConfigFilesReportsBrokenFile(t *testing.T) {
	Reset()
	defer Reset()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.toml")
	broken := filepath.Join(dir, "broken.toml")
	require.NoError(t, os.WriteFile(good, []byte("[source]\nchunk_size = 30\n"), DefaultFilePermissions))
	require.NoError(t, os.WriteFile(broken, []byte("[source\nchunk_size = \n"), DefaultFilePermissions))

	v := viper.New()
	SetDefaults(v)
	err := mergeConfigFiles(v, []string{broken, good})
	require.Error(t, err)
	assert.True(t, errors.IsInit(err))
	assert.Contains(t, err.Error(), "broken.toml")
	// files after the broken one are still merged
	assert.Equal(t, 30, v.GetInt("source.chunk_size"))
}

func TestLoadHonoursConfigEnvVar(t *testing.T) {
	Reset()
	defer Reset()

	path := filepath.Join(t.TempDir(), "explicit.toml")
	require.NoError(t, os.WriteFile(path, []byte("[daemon]\nlag_seconds = 9\n"), DefaultFilePermissions))
	t.Setenv(ConfigEnvVar, path)

	assert.Equal(t, path, ConfigPaths()[len(ConfigPaths())-1])
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Daemon.LagSeconds)
}

func TestLoadFailsOnBrokenExplicitFile(t *testing.T) {
	Reset()
	defer Reset()

	path := filepath.Join(t.TempDir(), "explicit.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [toml"), DefaultFilePermissions))
	t.Setenv(ConfigEnvVar, path)

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.IsInit(err))
	assert.NotNil(t, GetViper())
}

func TestConfigWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, os.WriteFile(path, []byte("[daemon]\nlag_seconds = 7\n"), DefaultFilePermissions))

	cw, err := NewConfigWatcher(path)
	require.NoError(t, err)
	defer cw.Stop()

	var got *Config
	cw.OnReload(func(c *Config) error {
		got = c
		return nil
	})

	require.NoError(t, cw.reload())
	require.NotNil(t, got)
	assert.Equal(t, 7, got.Daemon.LagSeconds)
	assert.Equal(t, 1, cw.Reloads())

	// invalid configs never reach callbacks
	got = nil
	require.NoError(t, os.WriteFile(path, []byte("[daemon]\ninterval_seconds = -1\n"), DefaultFilePermissions))
	assert.Error(t, cw.reload())
	assert.Nil(t, got)
	assert.Equal(t, 1, cw.Reloads())
}

func TestConfigWatcherPicksUpEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, os.WriteFile(path, []byte("[daemon]\nlag_seconds = 1\n"), DefaultFilePermissions))

	cw, err := NewConfigWatcher(path)
	require.NoError(t, err)
	cw.settle = 10 * time.Millisecond

	lags := make(chan int, 4)
	cw.OnReload(func(c *Config) error {
		lags <- c.Daemon.LagSeconds
		return nil
	})
	cw.Start()
	defer cw.Stop()

	require.NoError(t, os.WriteFile(path, []byte("[daemon]\nlag_seconds = 4\n"), DefaultFilePermissions))
	select {
	case lag := <-lags:
		assert.Equal(t, 4, lag)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not picked up")
	}
}

func TestConfigWatcherOwnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), DefaultFilePermissions))

	cw, err := NewConfigWatcher(path)
	require.NoError(t, err)
	defer cw.Stop()

	cw.MarkOwnWrite()
	cw.MarkOwnWrite()
	assert.True(t, cw.consumeOwnWrite())
	assert.True(t, cw.consumeOwnWrite())
	assert.False(t, cw.consumeOwnWrite())
	assert.True(t, backupFile.MatchString(path+".back2"))
}
