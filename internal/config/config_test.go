package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Catalog.Path != filepath.Join(cfg.DataDir, "catalog.db") {
		t.Errorf("unexpected catalog path %s", cfg.Catalog.Path)
	}
	if cfg.Namespace.Prefix != ".scylla.alternator." {
		t.Errorf("unexpected prefix %q", cfg.Namespace.Prefix)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad catalog type", func(c *Config) { c.Catalog.Type = "etcd" }},
		{"cql without hosts", func(c *Config) { c.Catalog.Type = CatalogCQL; c.Catalog.CQL.Hosts = nil }},
		{"empty prefix", func(c *Config) { c.Namespace.Prefix = "" }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"negative window", func(c *Config) { c.Stats.Window = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestIsPrivileged(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth.PrivilegedAccessKeys = []string{"AKIDADMIN"}

	if !cfg.IsPrivileged("AKIDADMIN") {
		t.Error("listed key should be privileged")
	}
	if cfg.IsPrivileged("AKIDOTHER") || cfg.IsPrivileged("") {
		t.Error("unlisted keys should not be privileged")
	}

	cfg.Auth.PrivilegedByDefault = true
	if !cfg.IsPrivileged("") {
		t.Error("privileged_by_default should apply to anonymous callers")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "sysview.yaml")
	yamlData := `
data_dir: /var/lib/sysview
http:
  addr: ":8100"
catalog:
  type: cql
  cql:
    hosts: ["10.0.0.1", "10.0.0.2"]
namespace:
  virtual_tables_enabled: false
auth:
  privileged_access_keys: ["AKIDADMIN"]
`
	if err := os.WriteFile(yamlPath, []byte(yamlData), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromFile(yamlPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.HTTP.Addr != ":8100" || cfg.Catalog.Type != CatalogCQL || len(cfg.Catalog.CQL.Hosts) != 2 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Namespace.VirtualTablesEnabled {
		t.Error("virtual tables should be disabled")
	}
	if cfg.Namespace.Prefix != ".scylla.alternator." {
		t.Error("unset fields should keep their defaults")
	}

	jsonPath := filepath.Join(dir, "sysview.json")
	if err := os.WriteFile(jsonPath, []byte(`{"log":{"level":"debug","format":"console"}}`), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadFromFile(jsonPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}

	if _, err := LoadFromFile(filepath.Join(dir, "sysview.toml")); err == nil {
		t.Error("expected error for missing file")
	}
	tomlPath := filepath.Join(dir, "real.toml")
	os.WriteFile(tomlPath, []byte("x = 1"), 0644)
	if _, err := LoadFromFile(tomlPath); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SYSVIEW_HTTP_ADDR", ":9999")
	t.Setenv("SYSVIEW_CATALOG_TYPE", "cql")
	t.Setenv("SYSVIEW_CQL_HOSTS", "a, b ,,c")
	t.Setenv("SYSVIEW_CQL_TIMEOUT", "2s")
	t.Setenv("SYSVIEW_PRIVILEGED_ACCESS_KEYS", "K1,K2")
	t.Setenv("SYSVIEW_VIRTUAL_TABLES_ENABLED", "0")
	t.Setenv("SYSVIEW_GRPC_ENABLED", "false")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.HTTP.Addr != ":9999" || cfg.Catalog.Type != CatalogCQL {
		t.Errorf("unexpected config %+v", cfg)
	}
	if len(cfg.Catalog.CQL.Hosts) != 3 || cfg.Catalog.CQL.Hosts[1] != "b" {
		t.Errorf("unexpected hosts %v", cfg.Catalog.CQL.Hosts)
	}
	if cfg.Catalog.CQL.Timeout != 2*time.Second {
		t.Errorf("unexpected timeout %v", cfg.Catalog.CQL.Timeout)
	}
	if !cfg.IsPrivileged("K2") {
		t.Error("K2 should be privileged")
	}
	if cfg.Namespace.VirtualTablesEnabled || cfg.GRPC.Enabled {
		t.Error("boolean env overrides not applied")
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Catalog.Path = filepath.Join(dir, "meta", "catalog.db")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, d := range []string{cfg.DataDir, filepath.Dir(cfg.Catalog.Path)} {
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			t.Errorf("directory %s not created", d)
		}
	}
}
