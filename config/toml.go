package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// defaultDirPerm is the default permissions used when creating directories.
const defaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate").Funcs(template.FuncMap{
		"StringsJoin": strings.Join,
	})
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

/****** these are for production settings ***********/

// EnsureRoot creates the root, config, and data directories if they don't
// exist, and writes the default config file if none is present.
func EnsureRoot(rootDir string) error {
	for _, dir := range []string{
		rootDir,
		filepath.Join(rootDir, defaultConfigDir),
		filepath.Join(rootDir, defaultDataDir),
	} {
		if err := ensureDir(dir, defaultDirPerm); err != nil {
			return err
		}
	}
	return writeDefaultConfigFileIfNone(rootDir)
}

// WriteConfigFile renders config using the template and writes it to
// configFilePath.
func WriteConfigFile(rootDir string, config *Config) error {
	return config.WriteToTemplate(filepath.Join(rootDir, defaultConfigFilePath))
}

// WriteToTemplate writes the config to the exact file specified by
// the path, in the default toml template and does not mangle the path
// or filename at all.
func (cfg *Config) WriteToTemplate(path string) error {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, cfg); err != nil {
		return err
	}

	return writeFile(path, buffer.Bytes(), 0644)
}

func writeDefaultConfigFileIfNone(rootDir string) error {
	configFilePath := filepath.Join(rootDir, defaultConfigFilePath)
	if _, err := os.Stat(configFilePath); os.IsNotExist(err) {
		return WriteConfigFile(rootDir, DefaultConfig())
	}
	return nil
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/cfxcore/data") or
# relative to the home directory (e.g. "data"). The home directory is
# "$HOME/.cfxcore" by default, but could be changed via $CFX_HOME env variable
# or --home cmd flag.

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# A custom human readable name for this node
moniker = "{{ .BaseConfig.Moniker }}"

# Output level for logging: "debug", "info" or "error"
log_level = "{{ .BaseConfig.LogLevel }}"

# Output format: 'plain' (colored text) or 'json'
log_format = "{{ .BaseConfig.LogFormat }}"

#######################################################################
###                 Advanced Configuration Options                  ###
#######################################################################

#######################################################
###          Storage Configuration Options          ###
#######################################################
[storage]

# Database directory
db_dir = "{{ .Storage.DBPath }}"

# Number of decoded block headers kept in memory (0 disables the cache)
header_cache_size = {{ .Storage.HeaderCacheSize }}

# Backend for every table: memdb | goleveldb | badger | sqlite
# Every table must be mapped; the node refuses to start otherwise.
[storage.tables]
{{- range $table, $backend := .Storage.Tables }}
{{ $table }} = "{{ $backend }}"
{{- end }}

#######################################################
###         Sync Protocol Configuration Options     ###
#######################################################
[sync]

headers_request_timeout = "{{ .Sync.HeadersRequestTimeout }}"
blocks_request_timeout = "{{ .Sync.BlocksRequestTimeout }}"
# 0 uses headers_request_timeout
snapshot_manifest_request_timeout = "{{ .Sync.SnapshotManifestRequestTimeout }}"
snapshot_chunk_request_timeout = "{{ .Sync.SnapshotChunkRequestTimeout }}"

# Number of resends after a timeout before a request is abandoned
headers_max_resends = {{ .Sync.HeadersMaxResends }}
blocks_max_resends = {{ .Sync.BlocksMaxResends }}
snapshot_manifest_max_resends = {{ .Sync.SnapshotManifestMaxResends }}
snapshot_chunk_max_resends = {{ .Sync.SnapshotChunkMaxResends }}

# How often pending requests are checked for expiry
timeout_check_interval = "{{ .Sync.TimeoutCheckInterval }}"

# Maximum number of items served per response
max_headers_per_request = {{ .Sync.MaxHeadersPerRequest }}
max_blocks_per_request = {{ .Sync.MaxBlocksPerRequest }}

#######################################################
###       State Sync Configuration Options          ###
#######################################################
[statesync]

# Temporary directory for state sync snapshot chunks, defaults to the OS tempdir
temp_dir = "{{ .StateSync.TempDir }}"

# Size in bytes of chunks produced by "snapshot create"
chunk_size = {{ .StateSync.ChunkSize }}

# Number of verified chunks buffered in memory before spooling to temp_dir
chunk_buffer_size = {{ .StateSync.ChunkBufferSize }}

#######################################################
###       Instrumentation Configuration Options     ###
#######################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics on
# PrometheusListenAddr.
prometheus = {{ .Instrumentation.Prometheus }}

# Address to listen for Prometheus collector(s) connections
prometheus_listen_addr = "{{ .Instrumentation.PrometheusListenAddr }}"

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"
`

/****** these are for test settings ***********/

// ResetTestRoot creates a unique test directory under dir, writes the
// default config file into it and returns a test config rooted there.
func ResetTestRoot(dir, testName string) (*Config, error) {
	rootDir, err := os.MkdirTemp(dir, fmt.Sprintf("%s_", testName))
	if err != nil {
		return nil, err
	}
	if err := EnsureRoot(rootDir); err != nil {
		return nil, err
	}
	return TestConfig().SetRoot(rootDir), nil
}

func ensureDir(dir string, mode os.FileMode) error {
	if err := os.MkdirAll(dir, mode); err != nil {
		return fmt.Errorf("could not create directory %q: %w", dir, err)
	}
	return nil
}

func writeFile(filePath string, contents []byte, mode os.FileMode) error {
	if err := os.WriteFile(filePath, contents, mode); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
