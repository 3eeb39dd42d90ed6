package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/petal-labs/toolreg/loader"
)

const (
	projectConfigName = "toolreg.yaml"
	homeConfigDir     = ".toolreg"
	homeConfigName    = "config.yaml"
)

// Config is the optional project configuration file. Every field can be
// overridden by the matching command-line flag.
type Config struct {
	Registry       string        `json:"registry,omitempty"`
	Catalog        CatalogConfig `json:"catalog,omitempty"`
	Concurrency    int           `json:"concurrency,omitempty"`
	LibraryTimeout string        `json:"library_timeout,omitempty"`
	OTLPEndpoint   string        `json:"otlp_endpoint,omitempty"`
	OTLPInsecure   bool          `json:"otlp_insecure,omitempty"`
	Schedule       string        `json:"schedule,omitempty"`
	History        string        `json:"history,omitempty"`
}

// CatalogConfig selects the catalog to resolve against: a snapshot file,
// or a version inside a SQLite snapshot store.
type CatalogConfig struct {
	Snapshot string `json:"snapshot,omitempty"`
	Store    string `json:"store,omitempty"`
	Version  string `json:"version,omitempty"`
}

// DiscoverConfigPath resolves the config file to use. An explicit path
// must exist; otherwise ./toolreg.yaml and ~/.toolreg/config.yaml are
// tried in that order.
func DiscoverConfigPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}
	return DiscoverConfigPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverConfigPathFrom is a testable variant of DiscoverConfigPath.
func DiscoverConfigPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		if homeDir != "" {
			candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
		}
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// LoadConfig reads a config file. Relative paths inside it are resolved
// against the directory holding the file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if err := loader.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.LibraryTimeout != "" {
		if _, err := time.ParseDuration(cfg.LibraryTimeout); err != nil {
			return Config{}, fmt.Errorf("%s: library_timeout: %w", path, err)
		}
	}
	if cfg.Concurrency < 0 {
		return Config{}, fmt.Errorf("%s: concurrency must be >= 0", path)
	}

	base := filepath.Dir(path)
	cfg.Registry = resolveRelative(base, cfg.Registry)
	cfg.Catalog.Snapshot = resolveRelative(base, cfg.Catalog.Snapshot)
	cfg.Catalog.Store = resolveRelative(base, cfg.Catalog.Store)
	cfg.History = resolveRelative(base, cfg.History)
	return cfg, nil
}

func resolveRelative(base, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
