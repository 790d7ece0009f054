package config

import (
	"os"
	"path/filepath"
)

// EnvHome overrides the config directory.
const EnvHome = "CLICKER_HOME"

// Dir returns the config directory: $CLICKER_HOME or ~/.presentationclicker.
func Dir() (string, error) {
	if d := os.Getenv(EnvHome); d != "" {
		return d, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".presentationclicker"), nil
}
