package am

import (
	"os"
	"sort"
	"strings"
	"sync"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/datapump/am.toml
	SourceUser        ConfigSource = "user"        // ~/.datapump/am.toml
	SourceProject     ConfigSource = "project"     // project am.toml
	SourceEnvironment ConfigSource = "environment" // DATAPUMP_* env vars
)

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource
	Path   string // File path or environment variable name
}

// SettingInfo contains metadata about a configuration setting
type SettingInfo struct {
	Key        string       `json:"key"`
	Value      interface{}  `json:"value"`
	Source     ConfigSource `json:"source"`
	SourcePath string       `json:"source_path,omitempty"`
}

var (
	// ConfigSources records, per flattened key, the last file that set it.
	ConfigSources = map[string]SourceInfo{}
	sourcesMu     sync.Mutex
)

// sensitiveKeys are masked by Settings.
var sensitiveKeys = map[string]bool{
	"source.password": true,
}

func sourceKind(path string) ConfigSource {
	switch {
	case strings.HasPrefix(path, "/etc/"):
		return SourceSystem
	case strings.HasPrefix(path, UserConfigDir()):
		return SourceUser
	default:
		return SourceProject
	}
}

func recordSources(settings map[string]interface{}, prefix string, info SourceInfo) {
	sourcesMu.Lock()
	defer sourcesMu.Unlock()
	flatten(settings, prefix, func(key string, _ interface{}) {
		ConfigSources[key] = info
	})
}

func flatten(settings map[string]interface{}, prefix string, visit func(string, interface{})) {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := settings[key].(map[string]interface{}); ok {
			flatten(nested, fullKey, visit)
			continue
		}
		visit(fullKey, settings[key])
	}
}

// Settings returns every effective setting with the source that provided
// it, sorted by key. Secrets are masked.
func Settings() []SettingInfo {
	v := GetViper()

	var out []SettingInfo
	sourcesMu.Lock()
	defer sourcesMu.Unlock()
	flatten(v.AllSettings(), "", func(key string, value interface{}) {
		info := SourceInfo{Source: SourceDefault, Path: "built-in default"}
		if si, ok := ConfigSources[key]; ok {
			info = si
		}
		envKey := "DATAPUMP_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if os.Getenv(envKey) != "" {
			info = SourceInfo{Source: SourceEnvironment, Path: envKey}
		}
		if sensitiveKeys[key] && value != "" {
			value = "********"
		}
		out = append(out, SettingInfo{Key: key, Value: value, Source: info.Source, SourcePath: info.Path})
	})
	return out
}
