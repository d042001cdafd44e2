// Package config provides configuration for the sysview service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Catalog types.
const (
	CatalogSQLite = "sqlite"
	CatalogCQL    = "cql"
)

// Config holds the configuration of the sysview service.
type Config struct {
	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// gRPC configuration
	GRPC GRPCConfig `json:"grpc" yaml:"grpc"`

	// Catalog configuration
	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`

	// Namespace configuration
	Namespace NamespaceConfig `json:"namespace" yaml:"namespace"`

	// Auth configuration
	Auth AuthConfig `json:"auth" yaml:"auth"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`

	// Stats configuration
	Stats StatsConfig `json:"stats" yaml:"stats"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address of the DynamoDB-compatible HTTP API
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC server address
	Addr string `json:"addr" yaml:"addr"`

	// Enabled controls whether gRPC is enabled
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// CatalogConfig selects and configures the schema catalog.
type CatalogConfig struct {
	// Type is the catalog type: sqlite, cql
	Type string `json:"type" yaml:"type"`

	// Path is the SQLite database path (for sqlite type)
	Path string `json:"path" yaml:"path"`

	// CQL configuration (for cql type)
	CQL CQLConfig `json:"cql" yaml:"cql"`
}

// CQLConfig holds the connection settings of a live cluster.
type CQLConfig struct {
	Hosts       []string      `json:"hosts" yaml:"hosts"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	Consistency string        `json:"consistency" yaml:"consistency"`
	Username    string        `json:"username" yaml:"username"`
	Password    string        `json:"password" yaml:"password"`
}

// NamespaceConfig holds the internal namespace policy.
type NamespaceConfig struct {
	// Prefix is the reserved table name prefix
	Prefix string `json:"prefix" yaml:"prefix"`

	// VirtualTablesEnabled controls whether privileged callers may read
	// virtual tables
	VirtualTablesEnabled bool `json:"virtual_tables_enabled" yaml:"virtual_tables_enabled"`
}

// AuthConfig decides which callers are privileged.
type AuthConfig struct {
	// PrivilegedAccessKeys lists access key ids allowed to read internal tables
	PrivilegedAccessKeys []string `json:"privileged_access_keys" yaml:"privileged_access_keys"`

	// PrivilegedByDefault makes every caller privileged
	PrivilegedByDefault bool `json:"privileged_by_default" yaml:"privileged_by_default"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Format is json or console
	Format string `json:"format" yaml:"format"`
}

// StatsConfig holds access statistics configuration.
type StatsConfig struct {
	// Window is how long an idle table stays in the statistics
	Window time.Duration `json:"window" yaml:"window"`

	// PruneInterval is the interval between pruning passes
	PruneInterval time.Duration `json:"prune_interval" yaml:"prune_interval"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/sysview",
		HTTP: HTTPConfig{
			Addr:         ":8000",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
		Catalog: CatalogConfig{
			Type: CatalogSQLite,
			CQL: CQLConfig{
				Hosts:       []string{"127.0.0.1"},
				Timeout:     5 * time.Second,
				Consistency: "LOCAL_ONE",
			},
		},
		Namespace: NamespaceConfig{
			Prefix:               ".scylla.alternator.",
			VirtualTablesEnabled: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Stats: StatsConfig{
			Window:        time.Hour,
			PruneInterval: 5 * time.Minute,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/sysview"
	}
	if c.Catalog.Type == "" {
		c.Catalog.Type = CatalogSQLite
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(c.DataDir, "catalog.db")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Catalog.Type {
	case CatalogSQLite:
		if c.Catalog.Path == "" {
			return fmt.Errorf("catalog.path is required when catalog type is sqlite")
		}
	case CatalogCQL:
		if len(c.Catalog.CQL.Hosts) == 0 {
			return fmt.Errorf("catalog.cql.hosts is required when catalog type is cql")
		}
	default:
		return fmt.Errorf("invalid catalog type: %s (must be sqlite or cql)", c.Catalog.Type)
	}

	if c.Namespace.Prefix == "" {
		return fmt.Errorf("namespace.prefix must not be empty")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Log.Format)
	}

	if c.Stats.Window < 0 || c.Stats.PruneInterval < 0 {
		return fmt.Errorf("stats durations must not be negative")
	}

	return nil
}

// IsPrivileged reports whether the caller with the given access key id may
// read internal tables.
func (c *Config) IsPrivileged(accessKeyID string) bool {
	if c.Auth.PrivilegedByDefault {
		return true
	}
	if accessKeyID == "" {
		return false
	}
	for _, k := range c.Auth.PrivilegedAccessKeys {
		if k == accessKeyID {
			return true
		}
	}
	return false
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the SYSVIEW_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("SYSVIEW_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// HTTP configuration
	if v := os.Getenv("SYSVIEW_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	// gRPC configuration
	if v := os.Getenv("SYSVIEW_GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := os.Getenv("SYSVIEW_GRPC_ENABLED"); v != "" {
		cfg.GRPC.Enabled = v == "true" || v == "1"
	}

	// Catalog configuration
	if v := os.Getenv("SYSVIEW_CATALOG_TYPE"); v != "" {
		cfg.Catalog.Type = v
	}
	if v := os.Getenv("SYSVIEW_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := os.Getenv("SYSVIEW_CQL_HOSTS"); v != "" {
		cfg.Catalog.CQL.Hosts = splitList(v)
	}
	if v := os.Getenv("SYSVIEW_CQL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Catalog.CQL.Timeout = d
		}
	}
	if v := os.Getenv("SYSVIEW_CQL_CONSISTENCY"); v != "" {
		cfg.Catalog.CQL.Consistency = v
	}
	if v := os.Getenv("SYSVIEW_CQL_USERNAME"); v != "" {
		cfg.Catalog.CQL.Username = v
	}
	if v := os.Getenv("SYSVIEW_CQL_PASSWORD"); v != "" {
		cfg.Catalog.CQL.Password = v
	}

	// Namespace configuration
	if v := os.Getenv("SYSVIEW_NAMESPACE_PREFIX"); v != "" {
		cfg.Namespace.Prefix = v
	}
	if v := os.Getenv("SYSVIEW_VIRTUAL_TABLES_ENABLED"); v != "" {
		cfg.Namespace.VirtualTablesEnabled = v == "true" || v == "1"
	}

	// Auth configuration
	if v := os.Getenv("SYSVIEW_PRIVILEGED_ACCESS_KEYS"); v != "" {
		cfg.Auth.PrivilegedAccessKeys = splitList(v)
	}
	if v := os.Getenv("SYSVIEW_PRIVILEGED_BY_DEFAULT"); v != "" {
		cfg.Auth.PrivilegedByDefault = v == "true" || v == "1"
	}

	// Log configuration
	if v := os.Getenv("SYSVIEW_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SYSVIEW_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	// Stats configuration
	if v := os.Getenv("SYSVIEW_STATS_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Stats.Window = d
		}
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Catalog.Type == CatalogSQLite && c.Catalog.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Catalog.Path))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
