// Package paths resolves the keyvault configuration and data directories.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	// DefaultDataDirName is the CWD-relative data directory used when no
	// override is set.
	DefaultDataDirName = ".keyvault-db"

	// ConfigFileName is the configuration file inside the config directory.
	ConfigFileName = "config.yaml"

	appDirName = "keyvault"
)

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "KEYVAULT_CONFIG_DIR"
	EnvDataDir   = "KEYVAULT_DATA_DIR"
)

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	goos          string
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	goos:          runtime.GOOS,
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the platform-specific configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/keyvault (fallback ~/.config/keyvault)
// macOS:   ~/Library/Application Support/keyvault
// Windows: %APPDATA%/keyvault
func DefaultConfigDir() (string, error) {
	return platformPath("XDG_CONFIG_HOME", ".config")
}

func platformPath(xdgEnv string, homeRel ...string) (string, error) {
	if platformDir.goos != "linux" {
		dir, err := platformDir.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, appDirName), nil
	}
	if xdg := os.Getenv(xdgEnv); xdg != "" {
		return filepath.Join(xdg, appDirName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append(append([]string{home}, homeRel...), appDirName)...), nil
}

// ResolveConfigDir returns the configuration directory following the
// precedence chain: flag > KEYVAULT_CONFIG_DIR > DefaultConfigDir().
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDataDir returns the data directory following the precedence chain:
// flag > config data_dir > KEYVAULT_DATA_DIR > $(CWD)/.keyvault-db.
func ResolveDataDir(flag, configValue string) (string, error) {
	for _, dir := range []string{flag, configValue, os.Getenv(EnvDataDir)} {
		if dir != "" {
			return filepath.Abs(dir)
		}
	}
	return filepath.Abs(DefaultDataDirName)
}
