package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Telemetry controls the optional OTLP trace exporter.
type Telemetry struct {
	Enabled  bool   `toml:"Enabled"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
}

// Webhook controls the optional event delivery endpoint.
type Webhook struct {
	Endpoint string `toml:"Endpoint"`
	Secret   string `toml:"Secret"`
}

type Config struct {
	RPCAddress     string    `toml:"RPCAddress"`
	MetricsAddress string    `toml:"MetricsAddress"`
	DataDir        string    `toml:"DataDir"`
	StorageBackend string    `toml:"StorageBackend"`
	LogFile        string    `toml:"LogFile"`
	LogMaxSizeMB   int       `toml:"LogMaxSizeMB"`
	LogMaxBackups  int       `toml:"LogMaxBackups"`
	Webhook        Webhook   `toml:"Webhook"`
	Telemetry      Telemetry `toml:"Telemetry"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		RPCAddress:     "127.0.0.1:8645",
		MetricsAddress: "127.0.0.1:9464",
		DataDir:        "./data",
		StorageBackend: "leveldb",
		LogMaxSizeMB:   100,
		LogMaxBackups:  5,
	}
}

// Load loads the configuration from the given path, falling back to defaults
// when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir must not be empty")
	}
	switch strings.ToLower(strings.TrimSpace(c.StorageBackend)) {
	case "leveldb", "bolt", "memory":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.StorageBackend)
	}
	if c.Webhook.Endpoint != "" && strings.TrimSpace(c.Webhook.Secret) == "" {
		return fmt.Errorf("config: webhook secret required when endpoint is set")
	}
	return nil
}
