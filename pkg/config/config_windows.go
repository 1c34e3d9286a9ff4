//go:build windows

package config

import (
	"os"
	"path/filepath"
)

var (
	DefaultConfigPath         = filepath.Join(os.Getenv("AppData"), "threatvet", "config.yml")
	DefaultCacheLocation      = filepath.Join(os.Getenv("AppData"), "threatvet", "cache.db")
	DefaultQuarantineLocation = filepath.Join(os.Getenv("AppData"), "threatvet", "quarantine")
)

func GetConfigFile() (config string, err error) {
	config = DefaultConfigPath
	home := os.Getenv("APPDATA")
	cfg := filepath.Join(home, "threatvet", "config.yml")
	if _, err := os.Stat(cfg); err == nil {
		return cfg, nil
	}
	if _, err := os.Stat(config); err != nil {
		_, err = os.Create(filepath.Clean(config))
		if err != nil {
			return config, err
		}
	}
	return
}
