package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/debatearena/arena-gateway/internal/config"
)

func TestInitCreatesConfigFiles(t *testing.T) {
	tmp := t.TempDir()
	opts := InitOptions{
		Root:     tmp,
		Port:     9090,
		Provider: "loopback",
	}
	if err := Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}

	settingBytes, err := os.ReadFile(filepath.Join(tmp, "config", "setting.ini"))
	if err != nil {
		t.Fatalf("read setting: %v", err)
	}
	content := string(settingBytes)
	if !strings.Contains(content, "environment=dev") {
		t.Fatalf("missing environment: %s", content)
	}
	if !strings.Contains(content, "provider=loopback") {
		t.Fatalf("missing provider: %s", content)
	}

	arenaBytes, err := os.ReadFile(filepath.Join(tmp, "config", "dev", "arena.ini"))
	if err != nil {
		t.Fatalf("read arena overlay: %v", err)
	}
	arenaContent := string(arenaBytes)
	if !strings.Contains(arenaContent, "port=9090") {
		t.Fatalf("missing port: %s", arenaContent)
	}
	if !strings.Contains(arenaContent, "session_ttl=5m") {
		t.Fatalf("missing session ttl: %s", arenaContent)
	}

	if _, err := os.Stat(filepath.Join(tmp, "config", "pricing.yaml")); err != nil {
		t.Fatalf("pricing catalog not written: %v", err)
	}
}

func TestInitOutputLoadsCleanly(t *testing.T) {
	tmp := t.TempDir()
	if err := Init(InitOptions{Root: tmp}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	cfg, err := config.Load(tmp)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if cfg.ProviderKind != "loopback" {
		t.Fatalf("provider = %s", cfg.ProviderKind)
	}
	if cfg.ListenPort != 8090 {
		t.Fatalf("port = %d", cfg.ListenPort)
	}
}

func TestInitRespectsForce(t *testing.T) {
	tmp := t.TempDir()
	opts := InitOptions{Root: tmp}
	if err := Init(opts); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := Init(opts); err == nil {
		t.Fatalf("expected error when files exist")
	}
	opts.Force = true
	if err := Init(opts); err != nil {
		t.Fatalf("Init with force: %v", err)
	}
}
