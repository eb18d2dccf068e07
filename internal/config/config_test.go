package config_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"taskwire/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default(t.TempDir())
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.TLSEnabled() {
		t.Fatalf("default config should not enable TLS")
	}
}

func TestLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskwire.yml")
	if err := os.WriteFile(path, []byte(config.GenerateDefault(dir)), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Fatalf("listen = %q", cfg.Listen)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(t.TempDir()); err == nil {
		t.Fatalf("expected error for missing config file")
	}
	cfg, err := config.LoadOptional(t.TempDir())
	if err != nil || cfg != nil {
		t.Fatalf("LoadOptional on missing file = %v, %v; want nil, nil", cfg, err)
	}
}

func TestValidateRejectsPartialTLS(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.TLS.Certificate = "cert.pem"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("certificate without private key should fail validation")
	}
}

func TestValidateRejectsEmptySecrets(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.Registration.Secrets = nil
	if err := cfg.Validate(); err == nil {
		t.Fatalf("empty secret list should fail validation")
	}
	cfg.Registration.Secrets = []string{""}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("blank secret should fail validation")
	}
}

func TestParseSecrets(t *testing.T) {
	got := config.ParseSecrets("alpha|beta||  |gamma")
	want := []string{"alpha", "beta", "gamma"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseSecrets = %v, want %v", got, want)
	}
}

func TestApplyEnvOverlay(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.ApplyEnv(":9999", "prod", "/data/users", "one|two", "", "")
	if cfg.Listen != ":9999" || cfg.Environment != "prod" || cfg.UsersRoot != "/data/users" {
		t.Fatalf("overlay not applied: %+v", cfg)
	}
	if len(cfg.Registration.Secrets) != 2 {
		t.Fatalf("secrets overlay = %v", cfg.Registration.Secrets)
	}
	before := *cfg
	cfg.ApplyEnv("", "", "", "", "", "")
	if !reflect.DeepEqual(before, *cfg) {
		t.Fatalf("blank overlay must not change config")
	}
}
