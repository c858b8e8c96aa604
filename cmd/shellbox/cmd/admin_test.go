package cmd

import (
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/hkuds/shellbox/internal/config"
)

func TestCheckAdminStore(t *testing.T) {
	tests := []struct {
		driver   string
		mutating bool
		wantErr  bool
	}{
		{config.StoreMemory, true, true},
		{config.StoreMemory, false, false},
		{config.StoreFile, true, false},
		{config.StorePostgres, true, false},
	}

	for _, tt := range tests {
		cfg := config.DefaultConfig()
		cfg.Store.Driver = tt.driver
		err := checkAdminStore(cfg, tt.mutating)
		if (err != nil) != tt.wantErr {
			t.Errorf("checkAdminStore(%s, mutating=%v) error = %v, wantErr %v", tt.driver, tt.mutating, err, tt.wantErr)
		}
		if tt.wantErr && !errors.Is(err, errPrivateStore) {
			t.Errorf("checkAdminStore(%s) error = %v, want errPrivateStore", tt.driver, err)
		}
	}
}

func TestAdminRefusesMemoryStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Driver = config.StoreMemory
	path := filepath.Join(t.TempDir(), "config.json")
	if err := config.SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	t.Cleanup(func() {
		cfgFile, adminRemove, adminYes = "", false, false
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)

	commands := [][]string{
		{"admin", "reconcile", "--remove"},
		{"admin", "terminate", "sb-1"},
		{"admin", "purge", "42", "--yes"},
	}
	for _, args := range commands {
		cfgFile, adminRemove, adminYes = "", false, false
		rootCmd.SetArgs(append([]string{"--config", path}, args...))
		if err := rootCmd.Execute(); !errors.Is(err, errPrivateStore) {
			t.Errorf("%v: error = %v, want errPrivateStore", args, err)
		}
	}
}
