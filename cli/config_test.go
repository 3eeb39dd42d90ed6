package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDiscoverConfigPathFrom(t *testing.T) {
	cwd := t.TempDir()
	home := t.TempDir()

	if _, found, err := DiscoverConfigPathFrom("", cwd, home); err != nil || found {
		t.Fatalf("empty dirs: found=%v err=%v", found, err)
	}

	homeCfg := filepath.Join(home, homeConfigDir, homeConfigName)
	if err := os.MkdirAll(filepath.Dir(homeCfg), 0o755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, filepath.Dir(homeCfg), homeConfigName, "concurrency: 1\n")
	path, found, err := DiscoverConfigPathFrom("", cwd, home)
	if err != nil || !found || path != homeCfg {
		t.Fatalf("home config: path=%q found=%v err=%v", path, found, err)
	}

	projectCfg := writeTestFile(t, cwd, projectConfigName, "concurrency: 2\n")
	path, found, err = DiscoverConfigPathFrom("", cwd, home)
	if err != nil || !found || path != projectCfg {
		t.Fatalf("project config should win: path=%q found=%v err=%v", path, found, err)
	}

	_, _, err = DiscoverConfigPathFrom(filepath.Join(cwd, "missing.yaml"), cwd, home)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("explicit missing path: err=%v", err)
	}
}

func TestLoadConfig_ResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "toolreg.yaml", `registry: registry.yaml
catalog:
  snapshot: snaps/v1.yaml
  store: /var/lib/toolreg/catalog.db
library_timeout: 5s
concurrency: 2
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Registry != filepath.Join(dir, "registry.yaml") {
		t.Errorf("registry = %q", cfg.Registry)
	}
	if cfg.Catalog.Snapshot != filepath.Join(dir, "snaps", "v1.yaml") {
		t.Errorf("snapshot = %q", cfg.Catalog.Snapshot)
	}
	if cfg.Catalog.Store != "/var/lib/toolreg/catalog.db" {
		t.Errorf("store = %q", cfg.Catalog.Store)
	}
	if cfg.Concurrency != 2 || cfg.LibraryTimeout != "5s" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadConfig_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown field", "registy: typo.yaml\n"},
		{"bad timeout", "library_timeout: soon\n"},
		{"negative concurrency", "concurrency: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTestFile(t, t.TempDir(), "toolreg.yaml", tt.content)
			if _, err := LoadConfig(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestResolve_UsesConfigFile(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "registry.yaml", workedRegistryYAML)
	writeTestFile(t, dir, "snap.yaml", snapshotV1YAML)
	cfg := writeTestFile(t, dir, "toolreg.yaml", "registry: registry.yaml\ncatalog:\n  snapshot: snap.yaml\n")

	stdout, _, err := executeCommand(t, "resolve", "--config", cfg)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(stdout, "1 resolved, 2 skipped") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestResolve_StoreFlagOverridesConfigSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "registry.yaml", workedRegistryYAML)
	writeTestFile(t, dir, "snap.yaml", snapshotV1YAML)
	cfg := writeTestFile(t, dir, "toolreg.yaml", "registry: registry.yaml\ncatalog:\n  snapshot: snap.yaml\n")

	_, stderr, err := executeCommand(t, "resolve", "--config", cfg, "--store", filepath.Join(dir, "empty.db"))
	requireExitCode(t, err, exitValidation)
	if !strings.Contains(stderr+err.Error(), "catalog store is empty") {
		t.Errorf("err = %v", err)
	}
}

func TestExplicitConfigMissing(t *testing.T) {
	_, _, err := executeCommand(t, "check", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	requireExitCode(t, err, exitValidation)
}
