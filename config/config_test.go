package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("account:\n  email: grower@example.com\n  password: secret\n"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	if cfg.Cloud.PrimaryURL != "https://mars-pro.api.lgledsolutions.com" {
		t.Errorf("primary url: got %s", cfg.Cloud.PrimaryURL)
	}
	if cfg.Cloud.Timeout != 30*time.Second {
		t.Errorf("timeout: got %v, want 30s", cfg.Cloud.Timeout)
	}
	if len(cfg.Cloud.TokenExpiredCodes) != 1 || cfg.Cloud.TokenExpiredCodes[0] != "102" {
		t.Errorf("token expired codes: got %v", cfg.Cloud.TokenExpiredCodes)
	}
	if cfg.Session.ReloginCooldown != time.Minute {
		t.Errorf("relogin cooldown: got %v, want 1m", cfg.Session.ReloginCooldown)
	}
	groups := cfg.Discovery.ProductGroups
	if len(groups) != 4 || *groups[0] != 1 || groups[3] != nil {
		t.Errorf("product groups: got %v", groups)
	}
	if cfg.Log.Format != "text" || cfg.Log.Level != "info" {
		t.Errorf("log: got %+v", cfg.Log)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestParse_ExpandsEnvironment(t *testing.T) {
	t.Setenv("MARS_PASSWORD", "from-env")

	cfg, err := Parse([]byte(`
account:
  email: grower@example.com
  password: ${MARS_PASSWORD}
discovery:
  product_groups: [1, null]
session:
  relogin_cooldown: 5s
`))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Account.Password != "from-env" {
		t.Errorf("password: got %q, want from-env", cfg.Account.Password)
	}
	if cfg.Session.ReloginCooldown != 5*time.Second {
		t.Errorf("relogin cooldown: got %v, want 5s", cfg.Session.ReloginCooldown)
	}
	groups := cfg.Discovery.ProductGroups
	if len(groups) != 2 || groups[0] == nil || *groups[0] != 1 || groups[1] != nil {
		t.Errorf("product groups: got %v, want [1 nil]", groups)
	}
}

func TestValidate(t *testing.T) {
	cfg, err := Parse([]byte("ble:\n  enabled: true\n"))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"account.email", "account.password", "ble.service_uuid"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("account:\n  email: a@b.c\n  password: pw\nlog:\n  format: json\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log format: got %s, want json", cfg.Log.Format)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}
