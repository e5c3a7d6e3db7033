// Package config loads and validates the engine's TOML configuration.
// Resolution is layered: built-in defaults, then the config file, then
// UNIFS_* environment variables. Unknown keys in the file are fatal —
// silently ignoring a typo leads to hard-to-debug behavior.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Validation range constants.
const (
	minConcurrency = 1
	maxConcurrency = 64
)

// Config is the root of the TOML file.
type Config struct {
	Cache    CacheConfig    `toml:"cache"`
	Throttle ThrottleConfig `toml:"throttle"`
	Transfer TransferConfig `toml:"transfers"`
	Undo     UndoConfig     `toml:"undo"`
	Store    StoreConfig    `toml:"store"`
}

// CacheConfig controls the disk content cache.
type CacheConfig struct {
	Dir      string `toml:"dir"`
	MaxSize  string `toml:"max_size"` // "512MB" style; see ParseSize
	TTLHours int    `toml:"ttl_hours"`
}

// ThrottleConfig sets per-protocol-class concurrency ceilings. Zero means
// use the built-in default for that class.
type ThrottleConfig struct {
	SMB   int `toml:"smb"`
	SFTP  int `toml:"sftp"`
	FTP   int `toml:"ftp"`
	Cloud int `toml:"cloud"`

	// AcquireTimeoutSeconds bounds a slot wait; 0 waits until cancellation.
	AcquireTimeoutSeconds int `toml:"acquire_timeout_seconds"`
}

// TransferConfig controls the transfer orchestrator.
type TransferConfig struct {
	// BandwidthLimit caps aggregate transfer throughput, e.g. "5MB/s".
	// "0" or empty means unlimited.
	BandwidthLimit string `toml:"bandwidth_limit"`
}

// UndoConfig controls trash-based undo.
type UndoConfig struct {
	WindowSeconds     int `toml:"window_seconds"`
	SweepGraceMinutes int `toml:"sweep_grace_minutes"`
}

// StoreConfig locates the credential database.
type StoreConfig struct {
	Path string `toml:"path"`
}

// DefaultConfig returns a Config with every field at its built-in default.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Dir:      filepath.Join(defaultStateDir(), "cache"),
			MaxSize:  "512MB",
			TTLHours: 24,
		},
		Undo: UndoConfig{
			WindowSeconds:     10,
			SweepGraceMinutes: 5,
		},
		Store: StoreConfig{
			Path: filepath.Join(defaultStateDir(), "credentials.db"),
		},
	}
}

// DefaultConfigPath is ~/.config/unifs/config.toml, honoring XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "unifs", "config.toml")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.toml")
	}

	return filepath.Join(home, ".config", "unifs", "config.toml")
}

func defaultStateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "unifs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".local", "state", "unifs")
}

// TTL returns the configured cache TTL as a duration.
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// MaxBytes parses the configured ceiling.
func (c *CacheConfig) MaxBytes() (int64, error) {
	return ParseSize(c.MaxSize)
}

// Window returns the undo window as a duration.
func (c *UndoConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// SweepGrace returns the trash sweep grace period.
func (c *UndoConfig) SweepGrace() time.Duration {
	return time.Duration(c.SweepGraceMinutes) * time.Minute
}

// AcquireTimeout returns the throttle wait bound, zero for unbounded.
func (c *ThrottleConfig) AcquireTimeout() time.Duration {
	return time.Duration(c.AcquireTimeoutSeconds) * time.Second
}

// applyEnv overlays UNIFS_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("UNIFS_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}

	if v := os.Getenv("UNIFS_CACHE_MAX_SIZE"); v != "" {
		cfg.Cache.MaxSize = v
	}

	if v := os.Getenv("UNIFS_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}

	if v := os.Getenv("UNIFS_BANDWIDTH_LIMIT"); v != "" {
		cfg.Transfer.BandwidthLimit = v
	}
}

// validate checks all configuration values, accumulating every error so
// users can fix the whole file in one pass.
func validate(cfg *Config) error {
	var errs []error

	if _, err := cfg.Cache.MaxBytes(); err != nil {
		errs = append(errs, fmt.Errorf("cache.max_size: %w", err))
	}

	if cfg.Cache.TTLHours < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl_hours: must be >= 0, got %d", cfg.Cache.TTLHours))
	}

	for name, v := range map[string]int{
		"throttle.smb":   cfg.Throttle.SMB,
		"throttle.sftp":  cfg.Throttle.SFTP,
		"throttle.ftp":   cfg.Throttle.FTP,
		"throttle.cloud": cfg.Throttle.Cloud,
	} {
		if v != 0 && (v < minConcurrency || v > maxConcurrency) {
			errs = append(errs, fmt.Errorf("%s: must be %d-%d, got %d", name, minConcurrency, maxConcurrency, v))
		}
	}

	if cfg.Undo.WindowSeconds < 0 {
		errs = append(errs, fmt.Errorf("undo.window_seconds: must be >= 0, got %d", cfg.Undo.WindowSeconds))
	}

	if _, err := ParseRate(cfg.Transfer.BandwidthLimit); err != nil {
		errs = append(errs, fmt.Errorf("transfers.bandwidth_limit: %w", err))
	}

	if len(errs) == 0 {
		return nil
	}

	msg := "invalid configuration:"
	for _, e := range errs {
		msg += "\n  " + e.Error()
	}

	return fmt.Errorf("%s", msg)
}
