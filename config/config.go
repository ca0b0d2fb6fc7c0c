package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Addr          string `toml:"addr"`
	Backend       string `toml:"backend"` // "sqlite" or "memory"
	DBPath        string `toml:"db_path"`
	ControlSocket string `toml:"control_socket"`
	WriteTimeout  int    `toml:"write_timeout"` // seconds
}

// Load builds the configuration from defaults, then an optional TOML
// file named by HSC_CONFIG, then individual environment overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:          ":9999",
		Backend:       "sqlite",
		DBPath:        "chat.db",
		ControlSocket: "/tmp/http-sucks-chat.sock",
		WriteTimeout:  30,
	}

	if path := os.Getenv("HSC_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if addr := os.Getenv("HSC_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if backend := os.Getenv("HSC_BACKEND"); backend != "" {
		cfg.Backend = backend
	}
	if dbPath := os.Getenv("HSC_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if sock := os.Getenv("HSC_CONTROL_SOCKET"); sock != "" {
		cfg.ControlSocket = sock
	}
	if timeoutStr := os.Getenv("HSC_WRITE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.WriteTimeout = timeout
		}
	}

	return cfg, nil
}
