package types

import (
	"errors"
	"time"
)

// Config holds backend selection and vault parameters used by the CLI and
// by Backend.Attach.
type Config struct {
	Backend string `json:"backend" yaml:"backend"`
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Pool is the account name the value store custodies the pool under.
	Pool string `json:"pool" yaml:"pool"`

	// Registry names the key registry that issues units.
	Registry string `json:"registry" yaml:"registry"`

	// UnlockAt is the unlock instant in seconds since the Unix epoch.
	UnlockAt int64 `json:"unlock_at" yaml:"unlock_at"`
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
)

// Default names written to a fresh config.yaml.
const (
	DefaultPool     = "vault"
	DefaultRegistry = "keys"
)

// Config validation errors.
var (
	ErrBackendEmpty   = errors.New("backend must not be empty")
	ErrBackendUnknown = errors.New("unknown backend")
	ErrPoolEmpty      = errors.New("pool must not be empty")
	ErrRegistryEmpty  = errors.New("registry must not be empty")
	ErrUnlockInvalid  = errors.New("unlock timestamp must not be negative")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.Pool == "" {
		return ErrPoolEmpty
	}
	if c.Registry == "" {
		return ErrRegistryEmpty
	}
	if c.UnlockAt < 0 {
		return ErrUnlockInvalid
	}
	return nil
}

// UnlockTime returns UnlockAt as a UTC time.
func (c Config) UnlockTime() time.Time {
	return time.Unix(c.UnlockAt, 0).UTC()
}
