package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMergesBaseEnvAndVariables(t *testing.T) {
	tmp := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmp, "config", "dev"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	setting := "environment=dev\nport=9001\nlog_level=debug\nsession_ttl=2m\nprovider=loopback\nturnstore_driver=memory\n"
	if err := os.WriteFile(filepath.Join(tmp, "config", "setting.ini"), []byte(setting), 0o644); err != nil {
		t.Fatalf("write setting: %v", err)
	}
	overlay := "port=9002\nheartbeat_interval=3s\nlog_file=/tmp/arena.log\n"
	if err := os.WriteFile(filepath.Join(tmp, "config", "dev", "arena.ini"), []byte(overlay), 0o644); err != nil {
		t.Fatalf("write env config: %v", err)
	}
	os.Setenv("ARENA_HEARTBEAT_INTERVAL", "7s")
	t.Cleanup(func() { os.Unsetenv("ARENA_HEARTBEAT_INTERVAL") })

	cfg, err := Load(tmp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenPort != 9002 {
		t.Fatalf("port = %d, want env overlay 9002", cfg.ListenPort)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %s, want base value", cfg.LogLevel)
	}
	if cfg.SessionTTL != 2*time.Minute {
		t.Fatalf("session ttl = %v", cfg.SessionTTL)
	}
	if cfg.HeartbeatInterval != 7*time.Second {
		t.Fatalf("heartbeat = %v, want env var 7s", cfg.HeartbeatInterval)
	}
	if cfg.LogFile != "/tmp/arena.log" {
		t.Fatalf("log file = %s", cfg.LogFile)
	}
	if cfg.TurnStoreDriver != "memory" {
		t.Fatalf("driver = %s", cfg.TurnStoreDriver)
	}
}

func TestLoadDefaultsWithoutFiles(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenPort != 8090 {
		t.Fatalf("port = %d, want default 8090", cfg.ListenPort)
	}
	if !cfg.StreamEnabled {
		t.Fatal("streaming disabled by default")
	}
	if cfg.SessionTTL != 5*time.Minute {
		t.Fatalf("session ttl = %v, want 5m", cfg.SessionTTL)
	}
	if cfg.ProviderKind != "loopback" {
		t.Fatalf("provider = %s", cfg.ProviderKind)
	}
	if cfg.TurnStoreDriver != "sqlite" {
		t.Fatalf("driver = %s", cfg.TurnStoreDriver)
	}
}

func TestLoadRejectsBadCombos(t *testing.T) {
	tmp := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmp, "config"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	write := func(content string) {
		if err := os.WriteFile(filepath.Join(tmp, "config", "setting.ini"), []byte(content), 0o644); err != nil {
			t.Fatalf("write setting: %v", err)
		}
	}

	write("provider=carrier-pigeon\n")
	if _, err := Load(tmp); err == nil {
		t.Fatal("unknown provider accepted")
	}

	write("turnstore_driver=oracle\n")
	if _, err := Load(tmp); err == nil {
		t.Fatal("unknown driver accepted")
	}

	write("turnstore_driver=postgres\n")
	if _, err := Load(tmp); err == nil {
		t.Fatal("postgres without dsn accepted")
	}

	write("provider=openai\n")
	if _, err := Load(tmp); err == nil {
		t.Fatal("openai without api key accepted")
	}

	write("session_ttl=banana\n")
	if _, err := Load(tmp); err == nil {
		t.Fatal("invalid duration accepted")
	}
}

func TestModelAliases(t *testing.T) {
	tmp := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmp, "config"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	setting := "model_aliases=debater-a=gpt-4o, debater-b=claude-3-5-sonnet\n"
	if err := os.WriteFile(filepath.Join(tmp, "config", "setting.ini"), []byte(setting), 0o644); err != nil {
		t.Fatalf("write setting: %v", err)
	}
	cfg, err := Load(tmp)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ModelAliases["debater-a"] != "gpt-4o" {
		t.Fatalf("aliases = %v", cfg.ModelAliases)
	}
	if cfg.ModelAliases["debater-b"] != "claude-3-5-sonnet" {
		t.Fatalf("aliases = %v", cfg.ModelAliases)
	}
}
