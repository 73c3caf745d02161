package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Server.Port != 4268 {
		t.Fatalf("port = %d", c.Server.Port)
	}
	if c.Addr() != ":4268" {
		t.Fatalf("addr = %q", c.Addr())
	}
	if c.SelfURL() != "http://localhost:4268" {
		t.Fatalf("self url = %q", c.SelfURL())
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: 9000
  public_url: https://chat.example/
  public_name: chat.example
accounts:
  allow_signups: false
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Port != 9000 || c.Server.PublicName != "chat.example" {
		t.Fatalf("yaml not applied: %+v", c.Server)
	}
	if c.SelfURL() != "https://chat.example" {
		t.Fatalf("self url = %q", c.SelfURL())
	}
	if c.Accounts.AllowSignups {
		t.Fatalf("signups not disabled")
	}
	// untouched fields keep their defaults
	if c.Storage.DBPath != "./.database" {
		t.Fatalf("db path = %q", c.Storage.DBPath)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Port != 4268 {
		t.Fatalf("port = %d", c.Server.Port)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("FLOCK_PORT", "7777")
	t.Setenv("FLOCK_ALLOW_SIGNUPS", "false")
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Server.Port != 7777 {
		t.Fatalf("port = %d", c.Server.Port)
	}
	if c.Accounts.AllowSignups {
		t.Fatalf("signups not disabled via env")
	}
}

func TestMaxBodyBytes(t *testing.T) {
	c := Default()
	if c.MaxBodyBytes() != 24<<20 {
		t.Fatalf("default cap = %d", c.MaxBodyBytes())
	}
	c.Limits.MaxBodySize = "1MB"
	if c.MaxBodyBytes() != 1_000_000 {
		t.Fatalf("1MB cap = %d", c.MaxBodyBytes())
	}
	c.Limits.MaxBodySize = "garbage"
	if c.MaxBodyBytes() != 24<<20 {
		t.Fatalf("fallback cap = %d", c.MaxBodyBytes())
	}
}

func TestValidate(t *testing.T) {
	c := Default()
	c.Server.Port = 0
	if err := c.Validate(); err == nil {
		t.Fatalf("zero port accepted")
	}
	c = Default()
	c.Storage.DBPath = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("empty db path accepted")
	}
}
