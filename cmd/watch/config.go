package main

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// fileConfig holds CLI configuration loaded from TOML.
type fileConfig struct {
	Server  string `toml:"server"`
	GuestID string `toml:"guest_id"`
	Tier    string `toml:"tier"`
}

const defaultServer = "http://localhost:8080"

// loadConfig reads configuration from the given TOML file path.
// If the file does not exist, it returns an empty config without error.
// Environment variables always take precedence over file values:
//   - DESIGNSCORE_SERVER   overrides server
//   - DESIGNSCORE_GUEST_ID overrides guest_id
func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return fileConfig{}, err
		}
	}
	if v := os.Getenv("DESIGNSCORE_SERVER"); v != "" {
		cfg.Server = v
	}
	if v := os.Getenv("DESIGNSCORE_GUEST_ID"); v != "" {
		cfg.GuestID = v
	}
	if cfg.Server == "" {
		cfg.Server = defaultServer
	}
	return cfg, nil
}

// defaultConfigPath returns the default path for the config file.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "designscore.toml"
	}
	return filepath.Join(dir, "designscore", "config.toml")
}
