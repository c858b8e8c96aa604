package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hkuds/shellbox/internal/sandbox"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// Config represents the root configuration structure for shellbox.
type Config struct {
	Sandbox  SandboxConfig  `json:"sandbox"`
	Session  SessionConfig  `json:"session"`
	Reaper   ReaperConfig   `json:"reaper"`
	Store    StoreConfig    `json:"store"`
	Channels ChannelsConfig `json:"channels"`
	Metrics  MetricsConfig  `json:"metrics"`
	Log      LogConfig      `json:"log"`
}

// SandboxConfig describes the image and resource envelope of every sandbox.
type SandboxConfig struct {
	DockerHost         string  `json:"dockerHost,omitempty"` // empty means DOCKER_HOST or the local socket
	Image              string  `json:"image"`
	Shell              string  `json:"shell"`
	Memory             string  `json:"memory"` // docker notation, e.g. "150m"
	CPUs               float64 `json:"cpus"`
	MaxProcesses       int64   `json:"maxProcesses"`
	MaxOpenFiles       int64   `json:"maxOpenFiles"`
	StopTimeoutSeconds int     `json:"stopTimeoutSeconds"`
	Network            bool    `json:"network"`
	GVisor             bool    `json:"gvisor"`
	ReadOnlyRootfs     bool    `json:"readOnlyRootfs"`
}

// SessionConfig holds session lifetime settings.
type SessionConfig struct {
	TTLSeconds int `json:"ttlSeconds"`
}

// ReaperConfig holds expiry sweep settings.
type ReaperConfig struct {
	IntervalSeconds int `json:"intervalSeconds"`
}

// StoreConfig selects where session records live.
type StoreConfig struct {
	Driver  string `json:"driver"`            // memory, file or postgres
	DataDir string `json:"dataDir,omitempty"` // file driver; default ~/.shellbox/data
	DSN     string `json:"dsn,omitempty"`     // postgres driver
}

// ChannelsConfig holds all communication channel configurations.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig represents Telegram bot configuration.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Addr string `json:"addr"` // empty disables the endpoint
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // console or json
}

// DefaultConfig returns a new Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Sandbox: SandboxConfig{
			Image:              sandbox.DefaultImage,
			Shell:              sandbox.DefaultShell,
			Memory:             sandbox.DefaultMemory,
			CPUs:               sandbox.DefaultCPUs,
			MaxProcesses:       sandbox.DefaultMaxProcesses,
			MaxOpenFiles:       sandbox.DefaultMaxOpenFiles,
			StopTimeoutSeconds: int(sandbox.DefaultStopTimeout / time.Second),
		},
		Session: SessionConfig{
			TTLSeconds: 900,
		},
		Reaper: ReaperConfig{
			IntervalSeconds: 60,
		},
		Store: StoreConfig{
			Driver:  StoreFile,
			DataDir: "~/.shellbox/data",
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				Token:     "",
				AllowFrom: []string{},
			},
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// SandboxEnvelope converts the sandbox section to a validated engine config.
// Zero values fall back to the engine defaults.
func (c *Config) SandboxEnvelope() (sandbox.Config, error) {
	s := c.Sandbox
	cfg := sandbox.Config{
		DockerHost:     s.DockerHost,
		Image:          s.Image,
		Shell:          s.Shell,
		Memory:         s.Memory,
		CPUs:           s.CPUs,
		MaxProcesses:   s.MaxProcesses,
		MaxOpenFiles:   s.MaxOpenFiles,
		NetworkEnabled: s.Network,
		UseGVisor:      s.GVisor,
		ReadOnlyRootfs: s.ReadOnlyRootfs,
		StopTimeout:    time.Duration(s.StopTimeoutSeconds) * time.Second,
	}
	if err := cfg.Validate(); err != nil {
		return sandbox.Config{}, fmt.Errorf("invalid sandbox config: %w", err)
	}
	return cfg, nil
}

// TTL returns the session lifetime.
func (c *Config) TTL() time.Duration {
	return time.Duration(c.Session.TTLSeconds) * time.Second
}

// ReapInterval returns the reaper sweep interval.
func (c *Config) ReapInterval() time.Duration {
	return time.Duration(c.Reaper.IntervalSeconds) * time.Second
}

// DataPath returns the absolute path of the file store directory,
// expanding ~ to the user's home directory.
func (c *Config) DataPath() string {
	dir := c.Store.DataDir
	if dir == "" {
		dir = "~/.shellbox/data"
	}
	return expandPath(dir)
}

// expandPath expands ~ to the user's home directory and resolves the path.
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == filepath.Separator {
			path = filepath.Join(home, path[2:])
		} else {
			path = filepath.Join(home, path[1:])
		}
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}
