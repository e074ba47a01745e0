package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/keyvault/internal/paths"
	"github.com/mesh-intelligence/keyvault/pkg/types"
)

// Config keys in config.yaml.
const (
	cfgKeyBackend  = "backend"
	cfgKeyDataDir  = "data_dir"
	cfgKeyPool     = "pool"
	cfgKeyRegistry = "registry"
	cfgKeyUnlockAt = "unlock_at"

	envPrefix = "KEYVAULT"
)

// configFile holds the structure written to config.yaml.
type configFile struct {
	Backend  string `yaml:"backend"`
	DataDir  string `yaml:"data_dir,omitempty"`
	Pool     string `yaml:"pool"`
	Registry string `yaml:"registry"`
	UnlockAt int64  `yaml:"unlock_at,omitempty"`
}

// loadConfig reads config.yaml from the resolved config directory using
// Viper. A missing config.yaml is not an error. KEYVAULT_BACKEND,
// KEYVAULT_POOL, KEYVAULT_REGISTRY and KEYVAULT_UNLOCK_AT override the file;
// the data directory follows paths.ResolveDataDir.
func loadConfig(configDirFlag, dataDirFlag string) (types.Config, error) {
	configDir, err := paths.ResolveConfigDir(configDirFlag)
	if err != nil {
		return types.Config{}, fmt.Errorf("resolving config dir: %w", err)
	}

	v := viper.New()
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetDefault(cfgKeyPool, types.DefaultPool)
	v.SetDefault(cfgKeyRegistry, types.DefaultRegistry)
	v.SetDefault(cfgKeyUnlockAt, 0)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	for _, key := range []string{cfgKeyBackend, cfgKeyPool, cfgKeyRegistry, cfgKeyUnlockAt} {
		if err := v.BindEnv(key); err != nil {
			return types.Config{}, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return types.Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	dataDir, err := paths.ResolveDataDir(dataDirFlag, v.GetString(cfgKeyDataDir))
	if err != nil {
		return types.Config{}, fmt.Errorf("resolving data dir: %w", err)
	}

	cfg := types.Config{
		Backend:  v.GetString(cfgKeyBackend),
		DataDir:  dataDir,
		Pool:     v.GetString(cfgKeyPool),
		Registry: v.GetString(cfgKeyRegistry),
		UnlockAt: v.GetInt64(cfgKeyUnlockAt),
	}
	if err := cfg.Validate(); err != nil {
		return types.Config{}, fmt.Errorf("invalid config in %s: %w", configDir, err)
	}
	return cfg, nil
}

// writeConfigIfMissing creates config.yaml from cfg if the file does not
// exist. An existing file is left untouched.
func writeConfigIfMissing(configDir string, cfg types.Config) (bool, error) {
	path := filepath.Join(configDir, paths.ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return false, fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(&configFile{
		Backend:  cfg.Backend,
		DataDir:  cfg.DataDir,
		Pool:     cfg.Pool,
		Registry: cfg.Registry,
		UnlockAt: cfg.UnlockAt,
	})
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, err
	}
	return true, nil
}
