package am

// Config represents the datapump configuration (am.toml)
type Config struct {
	Source   SourceConfig   `mapstructure:"source"`
	Target   TargetConfig   `mapstructure:"target"`
	Loader   LoaderConfig   `mapstructure:"loader"`
	Daemon   DaemonConfig   `mapstructure:"daemon"`
	Database DatabaseConfig `mapstructure:"database"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Log      LogConfig      `mapstructure:"log"`
}

// SourceConfig configures the remote table source and the chunked reader
type SourceConfig struct {
	URL               string  `mapstructure:"url"`      // e.g. "https://dev1234.service-now.com"
	Username          string  `mapstructure:"username"` // basic auth user
	Password          string  `mapstructure:"password"` // prefer DATAPUMP_SOURCE_PASSWORD
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerMinute int     `mapstructure:"requests_per_minute"` // 0 = unlimited
	MaxRetrySeconds   int     `mapstructure:"max_retry_seconds"`   // total retry budget per call (0 = no retries)
	KeyChunk          int     `mapstructure:"key_chunk"`           // keys per enumeration page (0 = one unbounded call)
	ChunkSize         int     `mapstructure:"chunk_size"`          // records per retrieval call
	PageThreshold     float64 `mapstructure:"page_threshold"`      // short-page fraction that ends key enumeration
	CheckCount        bool    `mapstructure:"check_count"`         // compare enumerated keys with an independent count
}

// TargetConfig configures the target sink
type TargetConfig struct {
	URL            string `mapstructure:"url"`          // sqlite3://path, postgres://..., kafka://broker:9092/topic
	Dialect        string `mapstructure:"dialect"`      // sqlite, postgres, default (empty = from url)
	DialectFile    string `mapstructure:"dialect_file"` // external dialect TOML overriding the embedded one
	Schema         string `mapstructure:"schema"`
	Username       string `mapstructure:"username"` // substituted as $user in grant templates
	AutoCreate     bool   `mapstructure:"auto_create"`
	BatchInserts   bool   `mapstructure:"batch_inserts"`
	WarnOnTruncate bool   `mapstructure:"warn_on_truncate"`
	TruncateBytes  bool   `mapstructure:"truncate_bytes"` // truncate strings until their UTF-8 length fits
}

// LoaderConfig configures job-level limits
type LoaderConfig struct {
	LoadLimit int `mapstructure:"load_limit"` // 0 = unlimited
}

// DaemonConfig configures the scanner and worker pool
type DaemonConfig struct {
	Threads         int    `mapstructure:"threads"`          // 0 = run suites inline on the scanner goroutine
	IntervalSeconds int    `mapstructure:"interval_seconds"` // scan period
	ShutdownSeconds int    `mapstructure:"shutdown_seconds"` // grace period for workers on shutdown
	LagSeconds      int    `mapstructure:"lag_seconds"`      // subtracted from run start to absorb clock skew
	Target          string `mapstructure:"target"`           // only run suites tagged with this target
	Catalog         string `mapstructure:"catalog"`          // local | remote
}

// DatabaseConfig configures the local SQLite status store
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RemoteConfig names the source tables and fields backing the remote catalog
type RemoteConfig struct {
	SuiteTable string            `mapstructure:"suite_table"`
	JobTable   string            `mapstructure:"job_table"`
	Fields     map[string]string `mapstructure:"fields"` // logical name -> record field
}

// LogConfig configures logging output
type LogConfig struct {
	JSON      bool `mapstructure:"json"`
	Verbosity int  `mapstructure:"verbosity"`
}

// Catalog kinds
const (
	CatalogLocal  = "local"
	CatalogRemote = "remote"
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
