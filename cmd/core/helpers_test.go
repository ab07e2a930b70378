package core

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRuntimeConfigParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qemu-compose.yml")
	body := "name: web-1\nimage: alpine\nports:\n  - \"8080:80\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	cfg, err := LoadRuntimeConfig(path)
	if err != nil {
		t.Fatalf("LoadRuntimeConfig() error = %v", err)
	}
	if cfg.Name != "web-1" || cfg.Image != "alpine" {
		t.Errorf("cfg = %+v, want Name=web-1 Image=alpine", cfg)
	}
	if len(cfg.Ports) != 1 || cfg.Ports[0] != "8080:80" {
		t.Errorf("Ports = %+v, want [8080:80]", cfg.Ports)
	}
	if cfg.Env == nil {
		t.Error("Init should have allocated a non-nil Env map")
	}
}

func TestLoadRuntimeConfigMissingFile(t *testing.T) {
	if _, err := LoadRuntimeConfig(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("expected an error for a nonexistent config file")
	}
}

func TestDefaultConfigPathPrefersYml(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error = %v", err)
	}
	defer func() { _ = os.Chdir(cwd) }()

	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir() error = %v", err)
	}
	if got := DefaultConfigPath(); got != "" {
		t.Errorf("DefaultConfigPath() in an empty dir = %q, want empty", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "qemu-compose.yaml"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if got := DefaultConfigPath(); got != "qemu-compose.yaml" {
		t.Errorf("DefaultConfigPath() = %q, want qemu-compose.yaml", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "qemu-compose.yml"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if got := DefaultConfigPath(); got != "qemu-compose.yml" {
		t.Errorf("DefaultConfigPath() with both present = %q, want qemu-compose.yml", got)
	}
}

func TestWordlistNameGeneratorAvoidsExisting(t *testing.T) {
	existing := map[string]struct{}{}
	gen := WordlistNameGenerator{}
	seen := map[string]struct{}{}
	for i := 0; i < 20; i++ {
		name := gen.Generate(existing)
		if name == "" {
			t.Fatal("Generate() returned an empty name")
		}
		if _, dup := seen[name]; dup {
			// collisions across calls are possible but we immediately add it
			// to `existing` below, so Generate must never repeat a name
			// already recorded as taken.
			t.Errorf("Generate() returned %q again after it was marked taken", name)
		}
		seen[name] = struct{}{}
		existing[name] = struct{}{}
	}
}

func TestWordlistNameGeneratorFallsBackWhenWordlistExhausted(t *testing.T) {
	existing := map[string]struct{}{}
	for _, a := range nameAdjectives {
		for _, n := range nameNouns {
			existing[a+"-"+n] = struct{}{}
		}
	}
	gen := WordlistNameGenerator{}
	name := gen.Generate(existing)
	if name == "" {
		t.Fatal("Generate() returned an empty name after wordlist exhaustion")
	}
	if _, taken := existing[name]; taken {
		t.Errorf("Generate() returned %q which is already taken", name)
	}
}
