package broker

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ticksync/ticksync/internal/core/observability/log"
)

// Config holds broker settings. Values load from YAML, then from
// environment variables, which win.
type Config struct {
	// ListenAddr serves WebSocket, health, metrics, and static files.
	ListenAddr string `yaml:"listen_addr"`

	// QUICAddr serves the QUIC listener. Empty disables it.
	QUICAddr string `yaml:"quic_addr"`

	// Store selects the backend: "jsonl" or "sqlite".
	Store string `yaml:"store"`

	// DataDir holds the JSONL room files or the SQLite database.
	DataDir string `yaml:"data_dir"`

	// StaticDir, when set, is served at /. The demo front end lives
	// here.
	StaticDir string `yaml:"static_dir"`

	LogLevel string `yaml:"log_level"`

	WriteTimeout time.Duration `yaml:"write_timeout"`
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:   "127.0.0.1:8080",
		Store:        "jsonl",
		DataDir:      "./data",
		LogLevel:     "info",
		WriteTimeout: 10 * time.Second,
	}
}

// LoadConfig reads YAML from path over the defaults. An empty path
// skips the file; environment overrides apply in both cases.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg.withEnv(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg.withEnv(), nil
}

func (c Config) withEnv() Config {
	if v := os.Getenv("TICKSYNC_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("TICKSYNC_QUIC_ADDR"); v != "" {
		c.QUICAddr = v
	}
	if v := os.Getenv("TICKSYNC_STORE"); v != "" {
		c.Store = v
	}
	if v := os.Getenv("TICKSYNC_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("TICKSYNC_STATIC_DIR"); v != "" {
		c.StaticDir = v
	}
	if v := os.Getenv("TICKSYNC_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return c
}

func (c Config) Level() log.Level {
	return log.ParseLevel(c.LogLevel)
}
