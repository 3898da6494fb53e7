package core

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	prov "github.com/3cpo-dev/lifelink/internal/providers"
	"gopkg.in/yaml.v3"
)

// ConfigDir resolves $XDG_CONFIG_HOME/lifelink or ~/.config/lifelink.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "lifelink")
}

// LoadConfig reads YAML configuration over the built-in defaults. If path is
// empty it resolves ConfigDir()/config.yaml and tolerates its absence.
func LoadConfig(path string) (prov.Config, error) {
	cfg := prov.DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = filepath.Join(ConfigDir(), "config.yaml")
	}
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case !explicit && errors.Is(err, fs.ErrNotExist):
		// defaults only
	default:
		return cfg, fmt.Errorf("open config: %w", err)
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(filepath.Dir(path), "incidents.db")
	}

	// Merge secrets from secrets.env if present to avoid storing tokens in YAML
	secrets, _ := LoadSecretsEnv(filepath.Join(filepath.Dir(path), "secrets.env"))
	if v := os.Getenv("LIFELINK_INTAKE_TOKEN"); v != "" {
		secrets["LIFELINK_INTAKE_TOKEN"] = v
	}
	if t, ok := secrets["LIFELINK_INTAKE_TOKEN"]; ok && t != "" {
		cfg.Intake.Token = t
	}
	return cfg, nil
}
