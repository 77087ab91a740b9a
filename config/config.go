package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	pkgerrors "github.com/pkg/errors"
)

const (
	// LogFormatPlain is a format for colored text
	LogFormatPlain = "plain"
	// LogFormatJSON is a format for json output
	LogFormatJSON = "json"

	// Backend kinds accepted in the [storage.tables] section. The storage
	// package owns the implementations; they are repeated here so the config
	// can be validated without opening anything.
	BackendMemDB     = "memdb"
	BackendGoLevelDB = "goleveldb"
	BackendBadger    = "badger"
	BackendSQLite    = "sqlite"

	// Table names used as keys of the [storage.tables] section.
	TableMisc         = "misc"
	TableBlocks       = "blocks"
	TableTransactions = "transactions"
	TableEpochNumbers = "epoch_numbers"
)

// NOTE: Most of the structs & relevant comments + the
// default configuration options were used to manually
// generate the config.toml. Please reflect any changes
// made here in the defaultConfigTemplate constant in
// config/toml.go
var (
	DefaultHomeDir   = ".cfxcore"
	defaultConfigDir = "config"
	defaultDataDir   = "data"

	defaultConfigFileName = "config.toml"
	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName)
)

// Config defines the top level configuration for a node
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	Storage         *StorageConfig         `mapstructure:"storage"`
	Sync            *SyncConfig            `mapstructure:"sync"`
	StateSync       *StateSyncConfig       `mapstructure:"statesync"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for a node
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		Storage:         DefaultStorageConfig(),
		Sync:            DefaultSyncConfig(),
		StateSync:       DefaultStateSyncConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		Storage:         TestStorageConfig(),
		Sync:            TestSyncConfig(),
		StateSync:       TestStateSyncConfig(),
		Instrumentation: TestInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	cfg.Storage.RootDir = root
	cfg.StateSync.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Storage.ValidateBasic(); err != nil {
		return pkgerrors.Wrap(err, "error in [storage] section")
	}
	if err := cfg.Sync.ValidateBasic(); err != nil {
		return pkgerrors.Wrap(err, "error in [sync] section")
	}
	if err := cfg.StateSync.ValidateBasic(); err != nil {
		return pkgerrors.Wrap(err, "error in [statesync] section")
	}
	return pkgerrors.Wrap(
		cfg.Instrumentation.ValidateBasic(),
		"error in [instrumentation] section",
	)
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for a node
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// A custom human readable name for this node
	Moniker string `mapstructure:"moniker"`

	// Output level for logging
	LogLevel string `mapstructure:"log_level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log_format"`
}

// DefaultBaseConfig returns a default base configuration for a node
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Moniker:   defaultMoniker,
		LogLevel:  DefaultLogLevel,
		LogFormat: LogFormatPlain,
	}
}

// TestBaseConfig returns a base configuration for testing a node
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.Moniker = "cfxcore_test"
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case LogFormatPlain, LogFormatJSON:
	default:
		return errors.New("unknown log_format (must be 'plain' or 'json')")
	}
	return nil
}

// DefaultLogLevel defines a default log level as INFO.
const DefaultLogLevel = "info"

//-----------------------------------------------------------------------------
// StorageConfig

// StorageConfig selects a backend for every logical table. The mapping is
// read once at startup; a table without a backend is a fatal error because
// routing cannot be changed on a running node without a migration.
type StorageConfig struct {
	RootDir string `mapstructure:"home"`

	// Database directory
	DBPath string `mapstructure:"db_dir"`

	// Backend per table: memdb | goleveldb | badger | sqlite
	// * goleveldb is pure go and suits small random updates
	// * sqlite has less write amplification for large values such as
	//   block bodies (requires cgo)
	// * badger separates keys from values and is pure go
	// * memdb keeps everything in memory (tests only)
	Tables map[string]string `mapstructure:"tables"`

	// Number of decoded block headers kept in memory. 0 disables the cache.
	HeaderCacheSize int `mapstructure:"header_cache_size"`
}

// DefaultStorageConfig returns a default storage configuration.
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		DBPath: defaultDataDir,
		Tables: map[string]string{
			TableMisc:         BackendGoLevelDB,
			TableBlocks:       BackendSQLite,
			TableTransactions: BackendGoLevelDB,
			TableEpochNumbers: BackendGoLevelDB,
		},
		HeaderCacheSize: 4096,
	}
}

// TestStorageConfig keeps every table in memory.
func TestStorageConfig() *StorageConfig {
	cfg := DefaultStorageConfig()
	for table := range cfg.Tables {
		cfg.Tables[table] = BackendMemDB
	}
	cfg.HeaderCacheSize = 16
	return cfg
}

// DBDir returns the full path to the database directory
func (cfg *StorageConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

// TableNames returns the configured table names in sorted order.
func (cfg *StorageConfig) TableNames() []string {
	names := make([]string, 0, len(cfg.Tables))
	for name := range cfg.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateBasic performs basic validation.
func (cfg *StorageConfig) ValidateBasic() error {
	for _, table := range []string{TableMisc, TableBlocks, TableTransactions, TableEpochNumbers} {
		if _, ok := cfg.Tables[table]; !ok {
			return fmt.Errorf("no backend configured for table %q", table)
		}
	}
	for _, table := range cfg.TableNames() {
		switch table {
		case TableMisc, TableBlocks, TableTransactions, TableEpochNumbers:
		default:
			return fmt.Errorf("unknown table %q", table)
		}
		switch backend := cfg.Tables[table]; backend {
		case BackendMemDB, BackendGoLevelDB, BackendBadger, BackendSQLite:
		default:
			return fmt.Errorf("unknown backend %q for table %q", backend, table)
		}
	}
	if cfg.HeaderCacheSize < 0 {
		return errors.New("header_cache_size can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// SyncConfig

// SyncConfig is the protocol configuration consumed by the request manager:
// per message kind timeouts and resend ceilings.
type SyncConfig struct {
	HeadersRequestTimeout time.Duration `mapstructure:"headers_request_timeout"`
	BlocksRequestTimeout  time.Duration `mapstructure:"blocks_request_timeout"`
	// 0 uses HeadersRequestTimeout.
	SnapshotManifestRequestTimeout time.Duration `mapstructure:"snapshot_manifest_request_timeout"`
	SnapshotChunkRequestTimeout    time.Duration `mapstructure:"snapshot_chunk_request_timeout"`

	// Number of times a timed out request is sent again before it is
	// abandoned. 0 means a single attempt.
	HeadersMaxResends          int `mapstructure:"headers_max_resends"`
	BlocksMaxResends           int `mapstructure:"blocks_max_resends"`
	SnapshotManifestMaxResends int `mapstructure:"snapshot_manifest_max_resends"`
	SnapshotChunkMaxResends    int `mapstructure:"snapshot_chunk_max_resends"`

	// How often pending requests are checked for expiry.
	TimeoutCheckInterval time.Duration `mapstructure:"timeout_check_interval"`

	// Caps on the number of items served in a single response.
	MaxHeadersPerRequest int `mapstructure:"max_headers_per_request"`
	MaxBlocksPerRequest  int `mapstructure:"max_blocks_per_request"`
}

// DefaultSyncConfig returns a default configuration for the sync protocol.
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		HeadersRequestTimeout:          10 * time.Second,
		BlocksRequestTimeout:           20 * time.Second,
		SnapshotManifestRequestTimeout: 0,
		SnapshotChunkRequestTimeout:    30 * time.Second,
		HeadersMaxResends:              3,
		BlocksMaxResends:               3,
		SnapshotManifestMaxResends:     3,
		SnapshotChunkMaxResends:        5,
		TimeoutCheckInterval:           time.Second,
		MaxHeadersPerRequest:           512,
		MaxBlocksPerRequest:            128,
	}
}

// TestSyncConfig returns a sync configuration with short timeouts.
func TestSyncConfig() *SyncConfig {
	cfg := DefaultSyncConfig()
	cfg.HeadersRequestTimeout = 200 * time.Millisecond
	cfg.BlocksRequestTimeout = 200 * time.Millisecond
	cfg.SnapshotManifestRequestTimeout = 200 * time.Millisecond
	cfg.SnapshotChunkRequestTimeout = 200 * time.Millisecond
	cfg.TimeoutCheckInterval = 20 * time.Millisecond
	return cfg
}

// ValidateBasic performs basic validation.
func (cfg *SyncConfig) ValidateBasic() error {
	for name, d := range map[string]time.Duration{
		"headers_request_timeout":        cfg.HeadersRequestTimeout,
		"blocks_request_timeout":         cfg.BlocksRequestTimeout,
		"snapshot_chunk_request_timeout": cfg.SnapshotChunkRequestTimeout,
		"timeout_check_interval":         cfg.TimeoutCheckInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be greater than 0", name)
		}
	}
	if cfg.SnapshotManifestRequestTimeout < 0 {
		return errors.New("snapshot_manifest_request_timeout can't be negative")
	}
	for name, n := range map[string]int{
		"headers_max_resends":           cfg.HeadersMaxResends,
		"blocks_max_resends":            cfg.BlocksMaxResends,
		"snapshot_manifest_max_resends": cfg.SnapshotManifestMaxResends,
		"snapshot_chunk_max_resends":    cfg.SnapshotChunkMaxResends,
	} {
		if n < 0 {
			return fmt.Errorf("%s can't be negative", name)
		}
	}
	if cfg.MaxHeadersPerRequest <= 0 {
		return errors.New("max_headers_per_request must be greater than 0")
	}
	if cfg.MaxBlocksPerRequest <= 0 {
		return errors.New("max_blocks_per_request must be greater than 0")
	}
	return nil
}

//-----------------------------------------------------------------------------
// StateSyncConfig

// StateSyncConfig defines the configuration for snapshot restoration.
type StateSyncConfig struct {
	RootDir string `mapstructure:"home"`

	// Temporary directory for spooling received chunks. Empty means the OS
	// temp dir.
	TempDir string `mapstructure:"temp_dir"`

	// Size in bytes of the chunks produced when creating a local snapshot.
	ChunkSize int `mapstructure:"chunk_size"`

	// Number of verified chunks kept in memory before spooling to disk.
	ChunkBufferSize int `mapstructure:"chunk_buffer_size"`
}

// DefaultStateSyncConfig returns a default configuration for state sync.
func DefaultStateSyncConfig() *StateSyncConfig {
	return &StateSyncConfig{
		ChunkSize:       1 << 20,
		ChunkBufferSize: 4,
	}
}

// TestStateSyncConfig returns a default configuration for state sync tests.
func TestStateSyncConfig() *StateSyncConfig {
	cfg := DefaultStateSyncConfig()
	cfg.ChunkSize = 16
	cfg.ChunkBufferSize = 2
	return cfg
}

// ChunkDir returns the directory chunks are spooled to.
func (cfg *StateSyncConfig) ChunkDir() string {
	if cfg.TempDir == "" {
		return ""
	}
	return rootify(cfg.TempDir, cfg.RootDir)
}

// ValidateBasic performs basic validation.
func (cfg *StateSyncConfig) ValidateBasic() error {
	if cfg.ChunkSize <= 0 {
		return errors.New("chunk_size must be greater than 0")
	}
	if cfg.ChunkBufferSize < 0 {
		return errors.New("chunk_buffer_size can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	Prometheus bool `mapstructure:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus_listen_addr"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		Namespace:            "cfxcore",
	}
}

// TestInstrumentationConfig returns a default configuration for metrics
// reporting.
func TestInstrumentationConfig() *InstrumentationConfig {
	return DefaultInstrumentationConfig()
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.Prometheus && cfg.PrometheusListenAddr == "" {
		return errors.New("prometheus_listen_addr can't be empty when prometheus is enabled")
	}
	return nil
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

//-----------------------------------------------------------------------------
// Moniker

var defaultMoniker = getDefaultMoniker()

// getDefaultMoniker returns a default moniker, which is the host name. If runtime
// fails to get the host name, "anonymous" will be returned.
func getDefaultMoniker() string {
	moniker, err := os.Hostname()
	if err != nil {
		moniker = "anonymous"
	}
	return moniker
}
