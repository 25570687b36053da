package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Hub.ValidationTimeout != 3*time.Minute {
		t.Errorf("ValidationTimeout = %s, want 3m", cfg.Hub.ValidationTimeout)
	}
	if !reflect.DeepEqual(cfg.Accounts, DefaultAccounts) {
		t.Errorf("Accounts = %v, want %v", cfg.Accounts, DefaultAccounts)
	}
}

func TestLoad_LegacyEnvNames(t *testing.T) {
	t.Setenv("DB_SOURCE", "postgresql://u:p@localhost:5432/db")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBSource != "postgresql://u:p@localhost:5432/db" {
		t.Errorf("DBSource = %q", cfg.DBSource)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("Env = %q, want production", cfg.Env)
	}
}

func TestLoad_PrefixedEnv(t *testing.T) {
	t.Setenv("TRANSFERVAL_HUB_VALIDATION_TIMEOUT", "45s")
	t.Setenv("TRANSFERVAL_ACCOUNTS", "santander, bci ,")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Hub.ValidationTimeout != 45*time.Second {
		t.Errorf("ValidationTimeout = %s, want 45s", cfg.Hub.ValidationTimeout)
	}
	if want := []string{"santander", "bci"}; !reflect.DeepEqual(cfg.Accounts, want) {
		t.Errorf("Accounts = %v, want %v", cfg.Accounts, want)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transferval.yaml")
	content := "port: \"7070\"\nhub:\n  validation_timeout: 90s\naccounts:\n  - ITAU\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "7070" {
		t.Errorf("Port = %q, want 7070", cfg.Port)
	}
	if cfg.Hub.ValidationTimeout != 90*time.Second {
		t.Errorf("ValidationTimeout = %s, want 90s", cfg.Hub.ValidationTimeout)
	}
	if want := []string{"ITAU"}; !reflect.DeepEqual(cfg.Accounts, want) {
		t.Errorf("Accounts = %v, want %v", cfg.Accounts, want)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	cfg := Config{Port: "8080", Hub: HubConfig{ValidationTimeout: time.Minute}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.Redis = RedisConfig{Addr: "localhost:6379", TTL: time.Second}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when redis ttl is shorter than the validation timeout")
	}

	cfg = Config{Port: "8080"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero validation timeout")
	}
}
