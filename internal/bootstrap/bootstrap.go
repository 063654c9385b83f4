// Package bootstrap scaffolds the gateway's on-disk configuration: the base
// settings file, the per-environment overlay and a starter pricing catalog.
package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/debatearena/arena-gateway/internal/config"
)

// InitOptions configures config file generation.
type InitOptions struct {
	Root        string
	Environment string
	Port        int
	Provider    string
	SQLitePath  string
	PricingPath string
	Force       bool
}

// Init scaffolds configuration files for the arena gateway.
func Init(opts InitOptions) error {
	applyDefaults(&opts)
	if err := os.MkdirAll(filepath.Join(opts.Root, "config", opts.Environment), 0o755); err != nil {
		return err
	}

	settingPath := filepath.Join(opts.Root, "config", "setting.ini")
	if err := writeFile(settingPath, settingTemplate(opts), opts.Force); err != nil {
		return err
	}

	arenaPath := filepath.Join(opts.Root, "config", opts.Environment, "arena.ini")
	if err := writeFile(arenaPath, arenaTemplate(opts), opts.Force); err != nil {
		return err
	}

	pricingPath := filepath.Join(opts.Root, opts.PricingPath)
	if err := os.MkdirAll(filepath.Dir(pricingPath), 0o755); err != nil {
		return err
	}
	return writeFile(pricingPath, pricingTemplate(), opts.Force)
}

func applyDefaults(opts *InitOptions) {
	if strings.TrimSpace(opts.Root) == "" {
		opts.Root = "."
	}
	if strings.TrimSpace(opts.Environment) == "" {
		opts.Environment = "dev"
	}
	if opts.Port <= 0 {
		opts.Port = 8090
	}
	if strings.TrimSpace(opts.Provider) == "" {
		opts.Provider = "loopback"
	}
	if strings.TrimSpace(opts.SQLitePath) == "" {
		opts.SQLitePath = config.DefaultTurnStorePath()
	}
	if strings.TrimSpace(opts.PricingPath) == "" {
		opts.PricingPath = "config/pricing.yaml"
	}
}

func writeFile(path, contents string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

func settingTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# Arena Gateway settings
environment=%s
provider=%s
turnstore_driver=sqlite
sqlite_path=%s
pricing_path=%s
`, opts.Environment, opts.Provider, opts.SQLitePath, opts.PricingPath)
}

func arenaTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# Environment specific overrides for %s
port=%d
stream_enabled=true
session_ttl=5m
heartbeat_interval=15s
log_level=info
# Dash '-' disables file output.
log_file=logs/arenad.log
`, opts.Environment, opts.Port)
}

func pricingTemplate() string {
	return `# Per-million-token prices used for turn cost estimates.
models:
  - model: gpt-4o
    prompt_per_mtok: 2.50
    completion_per_mtok: 10.00
  - model: loopback-1
    prompt_per_mtok: 0.00
    completion_per_mtok: 0.00
`
}
