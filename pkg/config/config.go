// Package config loads the server daemon's TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the structure of the server config file
type Config struct {
	Node    NodeSection    `toml:"node"`
	API     APISection     `toml:"api"`
	Storage StorageSection `toml:"storage"`
}

type NodeSection struct {
	Port           int      `toml:"port"`
	KeyPath        string   `toml:"key_path"`
	EnableDHT      bool     `toml:"enable_dht"`
	BootstrapPeers []string `toml:"bootstrap_peers"`
}

type APISection struct {
	Port       int  `toml:"port"`
	EnableCORS bool `toml:"enable_cors"`
	RateLimit  int  `toml:"rate_limit"`
}

type StorageSection struct {
	DatabasePath string `toml:"database_path"`
}

// Default returns the default configuration
func Default() Config {
	return Config{
		Node: NodeSection{
			Port:      4001,
			KeyPath:   "~/.peerchat/node.key",
			EnableDHT: false,
		},
		API: APISection{
			Port:       8080,
			EnableCORS: true,
			RateLimit:  100,
		},
		Storage: StorageSection{
			DatabasePath: "~/.peerchat/peerchat.db",
		},
	}
}

// Load reads the config file, writing a default one first if the file
// does not exist. Environment variables of the form PEERCHAT_SECTION_KEY
// override file values.
func Load(path string) (Config, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return Config{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := writeDefault(path); err != nil {
			// Unwritable config dir is not fatal; run on defaults
			return applyEnvOverrides(cfg), nil
		}
		return applyEnvOverrides(cfg), nil
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return applyEnvOverrides(cfg), nil
}

// ExpandPath expands a leading ~ to the user's home directory
func ExpandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}
	return path, nil
}

func applyEnvOverrides(cfg Config) Config {
	if val := os.Getenv("PEERCHAT_NODE_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Node.Port = port
		}
	}
	if val := os.Getenv("PEERCHAT_NODE_KEY_PATH"); val != "" {
		cfg.Node.KeyPath = val
	}
	if val := os.Getenv("PEERCHAT_NODE_ENABLE_DHT"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			cfg.Node.EnableDHT = enabled
		}
	}
	if val := os.Getenv("PEERCHAT_NODE_BOOTSTRAP_PEERS"); val != "" {
		peers := strings.Split(val, ",")
		for i, p := range peers {
			peers[i] = strings.TrimSpace(p)
		}
		cfg.Node.BootstrapPeers = peers
	}
	if val := os.Getenv("PEERCHAT_API_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.API.Port = port
		}
	}
	if val := os.Getenv("PEERCHAT_API_RATE_LIMIT"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			cfg.API.RateLimit = limit
		}
	}
	if val := os.Getenv("PEERCHAT_STORAGE_DATABASE_PATH"); val != "" {
		cfg.Storage.DatabasePath = val
	}
	return cfg
}

// writeDefault writes a documented default config file
func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	content := `# Peerchat Server Configuration
# This file was auto-generated with default values.
# Environment variables can override these settings:
# PEERCHAT_SECTION_KEY (e.g. PEERCHAT_NODE_PORT=4002)

[node]
# TCP port for the p2p listener
port = 4001

# Path to the node's private key (generated on first start)
key_path = "~/.peerchat/node.key"

# Enable Kademlia DHT peer discovery
enable_dht = false

# Bootstrap peer multiaddrs for DHT discovery
# bootstrap_peers = ["/ip4/1.2.3.4/tcp/4001/p2p/Qm..."]

[api]
# Port for the HTTP operator API
port = 8080

# Allow cross-origin requests
enable_cors = true

# Requests per minute per IP
rate_limit = 100

[storage]
# Path to the SQLite database file
database_path = "~/.peerchat/peerchat.db"
`

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
