package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Session.TTLSeconds != 900 {
		t.Errorf("default ttlSeconds = %d, want 900", cfg.Session.TTLSeconds)
	}
	if cfg.TTL() != 15*time.Minute {
		t.Errorf("TTL() = %v, want 15m", cfg.TTL())
	}
	if cfg.ReapInterval() != time.Minute {
		t.Errorf("ReapInterval() = %v, want 1m", cfg.ReapInterval())
	}
	if cfg.Sandbox.Memory != "150m" {
		t.Errorf("default memory = %q, want 150m", cfg.Sandbox.Memory)
	}
	if cfg.Sandbox.Network {
		t.Error("network should be disabled by default")
	}
	if cfg.Channels.Telegram.Enabled {
		t.Error("telegram should be disabled by default")
	}
	if cfg.Store.Driver != StoreFile {
		t.Errorf("default store driver = %q, want %q", cfg.Store.Driver, StoreFile)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestSandboxEnvelope(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sandbox.Memory = "256m"
	cfg.Sandbox.GVisor = true
	cfg.Sandbox.StopTimeoutSeconds = 3

	env, err := cfg.SandboxEnvelope()
	if err != nil {
		t.Fatalf("SandboxEnvelope: %v", err)
	}
	if env.MemoryBytes() != 256*1024*1024 {
		t.Errorf("MemoryBytes() = %d, want %d", env.MemoryBytes(), 256*1024*1024)
	}
	if !env.UseGVisor {
		t.Error("gvisor not carried over")
	}
	if env.StopTimeout != 3*time.Second {
		t.Errorf("StopTimeout = %v, want 3s", env.StopTimeout)
	}

	// Zero fields take the engine defaults.
	cfg.Sandbox = SandboxConfig{}
	env, err = cfg.SandboxEnvelope()
	if err != nil {
		t.Fatalf("SandboxEnvelope(zero): %v", err)
	}
	if env.Image != "ubuntu:22.04" || env.MaxProcesses != 100 {
		t.Errorf("zero section gave image %q pids %d, want defaults", env.Image, env.MaxProcesses)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"memory driver", func(c *Config) { c.Store.Driver = StoreMemory }, ""},
		{"zero ttl", func(c *Config) { c.Session.TTLSeconds = 0 }, "ttlSeconds"},
		{"negative interval", func(c *Config) { c.Reaper.IntervalSeconds = -1 }, "intervalSeconds"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "redis" }, "unknown store driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = StorePostgres }, "dsn"},
		{"postgres with dsn", func(c *Config) {
			c.Store.Driver = StorePostgres
			c.Store.DSN = "postgres://localhost/shellbox"
		}, ""},
		{"telegram without token", func(c *Config) { c.Channels.Telegram.Enabled = true }, "token"},
		{"bad memory", func(c *Config) { c.Sandbox.Memory = "lots" }, "memory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Session.TTLSeconds != 900 {
		t.Errorf("ttlSeconds = %d, want default 900", cfg.Session.TTLSeconds)
	}
}

func TestLoadConfigOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"session": {"ttlSeconds": 300}, "store": {"driver": "memory"}}`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Session.TTLSeconds != 300 {
		t.Errorf("ttlSeconds = %d, want 300", cfg.Session.TTLSeconds)
	}
	if cfg.Store.Driver != StoreMemory {
		t.Errorf("driver = %q, want memory", cfg.Store.Driver)
	}
	// Untouched sections keep their defaults.
	if cfg.Reaper.IntervalSeconds != 60 {
		t.Errorf("intervalSeconds = %d, want default 60", cfg.Reaper.IntervalSeconds)
	}
	if cfg.Sandbox.Image != "ubuntu:22.04" {
		t.Errorf("image = %q, want default", cfg.Sandbox.Image)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	malformed := filepath.Join(dir, "malformed.json")
	if err := os.WriteFile(malformed, []byte(`{"session":`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(malformed); err == nil {
		t.Error("LoadConfig(malformed) succeeded")
	}

	invalid := filepath.Join(dir, "invalid.json")
	if err := os.WriteFile(invalid, []byte(`{"store": {"driver": "sqlite"}}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(invalid); err == nil {
		t.Error("LoadConfig(invalid driver) succeeded")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = "123:abc"
	cfg.Channels.Telegram.AllowFrom = []string{"42", "alice"}

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	if !Exists(path) {
		t.Fatal("Exists() = false after save")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config file mode = %o, want 600", perm)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Channels.Telegram.Token != "123:abc" {
		t.Errorf("token = %q, want 123:abc", loaded.Channels.Telegram.Token)
	}
	if len(loaded.Channels.Telegram.AllowFrom) != 2 {
		t.Errorf("allowFrom = %v, want 2 entries", loaded.Channels.Telegram.AllowFrom)
	}
}

func TestDataPath(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.DataPath(); got == "" || strings.HasPrefix(got, "~") {
		t.Errorf("DataPath() = %q, want an expanded path", got)
	}

	cfg.Store.DataDir = "/var/lib/shellbox"
	if got := cfg.DataPath(); got != "/var/lib/shellbox" {
		t.Errorf("DataPath() = %q, want /var/lib/shellbox", got)
	}
}

func TestExpandPath(t *testing.T) {
	if got := expandPath(""); got != "" {
		t.Errorf("expandPath('') = %q, want empty", got)
	}

	result := expandPath("~/test")
	if result == "~/test" || result == "" {
		t.Errorf("expandPath('~/test') = %q, want tilde expanded", result)
	}

	result = expandPath("~")
	if result == "~" {
		t.Error("expandPath('~') should expand to home dir")
	}

	result = expandPath("/tmp/test")
	if result != "/tmp/test" {
		t.Errorf("expandPath('/tmp/test') = %q, want /tmp/test", result)
	}
}
