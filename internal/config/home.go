package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeEnv overrides the state directory.
const HomeEnv = "GATEKEEPER_HOME"

// GetHome returns the gatekeeper home directory
// Priority order:
//  1. GATEKEEPER_HOME environment variable (if set)
//  2. .gatekeeper under the current working directory
//
// The directory is created if it doesn't exist
func GetHome() (string, error) {
	home := os.Getenv(HomeEnv)
	if home == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		home = filepath.Join(cwd, ".gatekeeper")
	}

	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create gatekeeper home directory: %w", err)
	}
	return home, nil
}

// Load resolves the home directory and loads its config.yaml.
func Load() (*Config, string, error) {
	home, err := GetHome()
	if err != nil {
		return nil, "", err
	}
	cfg, err := LoadConfigFromDir(home)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}
	return cfg, home, nil
}
