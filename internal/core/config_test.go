package core

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaultsWhenMissing(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("LIFELINK_INTAKE_TOKEN", "")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Arming.Step != 2 || cfg.Intake.TimeoutSeconds != 5 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if filepath.Base(cfg.Store.Path) != "incidents.db" {
		t.Fatalf("store path %q", cfg.Store.Path)
	}
}

func TestLoadConfigExplicitMissingFails(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoadConfigOverridesAndSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
intake:
  report_url: http://intake.local/api/emergency
locator:
  default: offline
arming:
  step: 5
dispatch:
  count: 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "secrets.env"), []byte("# token\nLIFELINK_INTAKE_TOKEN=\"abc\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LIFELINK_INTAKE_TOKEN", "")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Intake.ReportURL != "http://intake.local/api/emergency" || cfg.Locator.Default != "offline" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Arming.Step != 5 || cfg.Dispatch.Count != 4 {
		t.Fatalf("numeric overrides not applied: %+v", cfg)
	}
	if cfg.Arming.TickMillis != 60 {
		t.Fatalf("unset fields should keep defaults, tick=%d", cfg.Arming.TickMillis)
	}
	if cfg.Intake.Token != "abc" {
		t.Fatalf("token %q", cfg.Intake.Token)
	}
	if cfg.Store.Path != filepath.Join(dir, "incidents.db") {
		t.Fatalf("store path %q", cfg.Store.Path)
	}

	t.Setenv("LIFELINK_INTAKE_TOKEN", "from-env")
	cfg, err = LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Intake.Token != "from-env" {
		t.Fatalf("env token should win, got %q", cfg.Intake.Token)
	}
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("arming: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
