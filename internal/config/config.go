// Package config implements TOML configuration loading, validation, writing,
// and platform-specific path resolution for fichier-sync. All keys are flat
// top-level keys; the embedded sub-structs only group them in code.
package config

import (
	"time"

	"github.com/tonimelisma/fichier-sync/internal/dirtree"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	AccountConfig
	SyncConfig
	LoggingConfig
	NetworkConfig
}

// AccountConfig holds the remote credentials.
type AccountConfig struct {
	Email    string `toml:"email"`
	Password string `toml:"password"`
}

// SyncConfig controls what is synced where and how often.
type SyncConfig struct {
	DownloadPath    string `toml:"download_path"`
	Directory       string `toml:"directory"`
	Done            string `toml:"done"`
	Delay           int    `toml:"delay"` // seconds between cycles
	DirectoryLookup string `toml:"directory_lookup"`
	StateDir        string `toml:"state_dir"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls the HTTP clients.
type NetworkConfig struct {
	BaseURL        string  `toml:"base_url"`
	TPSLimit       float64 `toml:"tps_limit"`
	ConnectTimeout string  `toml:"connect_timeout"`
	RequestTimeout string  `toml:"request_timeout"`
	ReadTimeout    string  `toml:"read_timeout"`
	UserAgent      string  `toml:"user_agent"`
}

// DelayDuration returns the pause between cycles.
func (c *SyncConfig) DelayDuration() time.Duration {
	return time.Duration(c.Delay) * time.Second
}

// LookupMode returns the parsed directory_lookup value. Invalid values have
// been rejected by Validate; they fall back to global here.
func (c *SyncConfig) LookupMode() dirtree.LookupMode {
	m, err := dirtree.ParseLookupMode(c.DirectoryLookup)
	if err != nil {
		return dirtree.LookupGlobal
	}

	return m
}

// ResolvedStateDir returns state_dir, or the platform data directory when
// unset.
func (c *SyncConfig) ResolvedStateDir() string {
	if c.StateDir != "" {
		return expandTilde(c.StateDir)
	}

	return DefaultDataDir()
}

// ResolvedDownloadPath returns download_path with a leading "~" expanded.
func (c *SyncConfig) ResolvedDownloadPath() string {
	return expandTilde(c.DownloadPath)
}

// Timeouts returns the parsed connect, request, and read timeouts. Values
// that fail to parse fall back to the defaults.
func (c *NetworkConfig) Timeouts() (connect, request, read time.Duration) {
	return durationOr(c.ConnectTimeout, defaultConnectTimeout),
		durationOr(c.RequestTimeout, defaultRequestTimeout),
		durationOr(c.ReadTimeout, defaultReadTimeout)
}

func durationOr(s, fallback string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}

	d, _ := time.ParseDuration(fallback)

	return d
}
