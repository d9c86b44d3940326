package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/datapump/errors"
)

// ConfigFileName is the project/user config file name.
const ConfigFileName = "am.toml"

// ConfigEnvVar names an explicit config file that overrides all others
// except environment variables.
const ConfigEnvVar = "DATAPUMP_CONFIG"

var (
	loadMu        sync.Mutex
	globalConfig  *Config
	viperInstance *viper.Viper
)

// Load reads the datapump configuration. The result is cached until Reset.
// A config file that exists but cannot be parsed is an error; missing
// files are skipped.
func Load() (*Config, error) {
	loadMu.Lock()
	defer loadMu.Unlock()
	if globalConfig != nil {
		return globalConfig, nil
	}

	v, err := initViper()
	if err != nil {
		return nil, err
	}
	cfg, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}
	globalConfig = cfg
	return cfg, nil
}

// GetViper returns the merged Viper instance. Files that fail to parse are
// left out.
func GetViper() *viper.Viper {
	loadMu.Lock()
	defer loadMu.Unlock()
	v, _ := initViper()
	return v
}

// LoadWithViper decodes a Config from v.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.WrapInit(err, "failed to decode config")
	}
	return &config, nil
}

// LoadFromFile loads defaults plus a single file, without environment
// overrides. The config watcher reloads through it.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	if err := mergeFile(v, configPath); err != nil {
		return nil, err
	}
	return LoadWithViper(v)
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	loadMu.Lock()
	globalConfig = nil
	viperInstance = nil
	loadMu.Unlock()

	sourcesMu.Lock()
	ConfigSources = map[string]SourceInfo{}
	sourcesMu.Unlock()
}

// initViper builds the merged instance: defaults, then system, user and
// project files, then DATAPUMP_* environment variables. Callers hold loadMu.
func initViper() (*viper.Viper, error) {
	if viperInstance != nil {
		return viperInstance, nil
	}

	v := viper.New()
	v.SetEnvPrefix("DATAPUMP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)
	SetDefaults(v)

	err := mergeConfigFiles(v, ConfigPaths())
	viperInstance = v
	return v, err
}

// findProjectConfig searches for am.toml by walking up the directory tree
// from the working directory.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// UserConfigDir returns ~/.datapump
func UserConfigDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".datapump")
}

// ConfigPaths lists the candidate config files, lowest precedence first.
func ConfigPaths() []string {
	paths := []string{
		"/etc/datapump/" + ConfigFileName,
		filepath.Join(UserConfigDir(), ConfigFileName),
	}
	if project := findProjectConfig(); project != "" {
		paths = append(paths, project)
	}
	if explicit := os.Getenv(ConfigEnvVar); explicit != "" {
		paths = append(paths, explicit)
	}
	return paths
}

// mergeConfigFiles merges the existing files in order, later files
// overriding earlier ones. Every file that parses is merged; the first
// parse failure is returned.
func mergeConfigFiles(v *viper.Viper, configPaths []string) error {
	var first error
	for _, configPath := range configPaths {
		if _, err := os.Stat(configPath); err != nil {
			continue
		}
		if err := mergeFile(v, configPath); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func mergeFile(v *viper.Viper, configPath string) error {
	file := viper.New()
	file.SetConfigFile(configPath)
	file.SetConfigType("toml")
	if err := file.ReadInConfig(); err != nil {
		return errors.WrapInit(err, "failed to read config file "+configPath)
	}
	settings := file.AllSettings()
	if err := v.MergeConfigMap(settings); err != nil {
		return errors.WrapInit(err, "failed to merge config file "+configPath)
	}
	recordSources(settings, "", SourceInfo{Source: sourceKind(configPath), Path: configPath})
	return nil
}
