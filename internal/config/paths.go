package config

import (
	"os"
	"path/filepath"
)

// HomePath returns the root directory for EchoVision data.
// It uses $ECHOVISION_PATH if set, otherwise defaults to ~/.echovision.
func HomePath() string {
	if v := os.Getenv("ECHOVISION_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".echovision")
	}
	return filepath.Join(home, ".echovision")
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	return filepath.Join(HomePath(), "config.jsonc")
}

// DotenvPath returns the path to the .env file.
func DotenvPath() string {
	return filepath.Join(HomePath(), ".env")
}

// DataPath returns the data directory (conversations, images, sqlite db).
func DataPath() string {
	return filepath.Join(HomePath(), "data")
}

// HeartbeatPath returns the path of the gateway heartbeat file.
func HeartbeatPath() string {
	return filepath.Join(HomePath(), "heartbeat.json")
}
