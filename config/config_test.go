package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg != Default() {
		t.Errorf("got %+v, want defaults %+v", cfg, Default())
	}
}

func TestLoadOverridesKeepDefaults(t *testing.T) {
	path := writeFile(t, "multiload_threshold = 4\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MultiloadThreshold != 4 {
		t.Errorf("MultiloadThreshold = %d, want 4", cfg.MultiloadThreshold)
	}
	if cfg.MaxSetWidth != Default().MaxSetWidth || cfg.MergeToBase != Default().MergeToBase {
		t.Errorf("unset keys changed: %+v", cfg)
	}
}

func TestLoadAllKeys(t *testing.T) {
	path := writeFile(t, `
multiload_threshold = 8
max_set_width = 3
merge_to_base = false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := Config{MultiloadThreshold: 8, MaxSetWidth: 3, MergeToBase: false}
	if cfg != want {
		t.Errorf("got %+v, want %+v", cfg, want)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "multiload_treshold = 4\n")
	_, err := Load(path)
	var uerr *UnknownKeyError
	if !errors.As(err, &uerr) {
		t.Fatalf("got %v, want UnknownKeyError", err)
	}
	if uerr.Key != "multiload_treshold" {
		t.Errorf("Key = %q, want the misspelt key", uerr.Key)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeFile(t, "multiload_threshold = \n")
	if _, err := Load(path); err == nil {
		t.Error("malformed file loaded without error")
	}
}
