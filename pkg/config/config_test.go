package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.Port != 4001 {
		t.Errorf("node port = %d, want default 4001", cfg.Node.Port)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("api port = %d, want default 8080", cfg.API.Port)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("default config not written: %v", err)
	}
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[node]
port = 5001
enable_dht = true
bootstrap_peers = ["/ip4/10.0.0.1/tcp/4001/p2p/peer"]

[api]
port = 9090
rate_limit = 10

[storage]
database_path = "/tmp/test.db"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.Port != 5001 || !cfg.Node.EnableDHT {
		t.Errorf("node section = %+v", cfg.Node)
	}
	if len(cfg.Node.BootstrapPeers) != 1 {
		t.Errorf("bootstrap peers = %v", cfg.Node.BootstrapPeers)
	}
	if cfg.API.Port != 9090 || cfg.API.RateLimit != 10 {
		t.Errorf("api section = %+v", cfg.API)
	}
	if cfg.Storage.DatabasePath != "/tmp/test.db" {
		t.Errorf("database path = %q", cfg.Storage.DatabasePath)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[node\nport = oops"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PEERCHAT_NODE_PORT", "6001")
	t.Setenv("PEERCHAT_API_RATE_LIMIT", "5")
	t.Setenv("PEERCHAT_STORAGE_DATABASE_PATH", "/tmp/override.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.Port != 6001 {
		t.Errorf("node port = %d, want 6001", cfg.Node.Port)
	}
	if cfg.API.RateLimit != 5 {
		t.Errorf("rate limit = %d, want 5", cfg.API.RateLimit)
	}
	if cfg.Storage.DatabasePath != "/tmp/override.db" {
		t.Errorf("database path = %q", cfg.Storage.DatabasePath)
	}
}
