// Package config loads gateway settings from INI files with environment
// variable overrides. A base config/setting.ini selects the environment and
// supplies defaults; config/<env>/arena.ini overlays it; ARENA_* variables
// win over both.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/arena.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// ArenaConfig describes runtime options for the gateway daemon.
type ArenaConfig struct {
	Environment string
	ListenPort  int

	// StreamEnabled gates both streaming endpoints; false answers 503.
	StreamEnabled     bool
	SessionTTL        time.Duration
	HeartbeatInterval time.Duration

	// Provider selection: loopback (no upstream) or openai-compatible.
	ProviderKind  string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	// Model aliases: "debater-a=gpt-4o, debater-b=claude-3-5-sonnet"
	ModelAliases map[string]string

	// Turn store: memory, sqlite or postgres.
	TurnStoreDriver string
	SQLitePath      string
	PostgresDSN     string
	PGMaxOpenConns  int
	PGMaxIdleConns  int

	PricingPath string

	LogFile  string
	LogLevel string
}

// Load reads the current environment and assembles the arena config.
func Load(root string) (ArenaConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return ArenaConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return ArenaConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := ArenaConfig{
		Environment:     s.Environment,
		ListenPort:      parseOptionalInt(firstNonEmpty(os.Getenv("ARENA_PORT"), merged["port"]), 8090),
		StreamEnabled:   parseOptionalBool(firstNonEmpty(os.Getenv("ARENA_STREAM_ENABLED"), merged["stream_enabled"]), true),
		ProviderKind:    strings.ToLower(firstNonEmpty(os.Getenv("ARENA_PROVIDER"), merged["provider"], "loopback")),
		OpenAIAPIKey:    firstNonEmpty(os.Getenv("ARENA_OPENAI_API_KEY"), merged["openai_api_key"]),
		OpenAIBaseURL:   firstNonEmpty(os.Getenv("ARENA_OPENAI_BASE_URL"), merged["openai_base_url"], "https://api.openai.com"),
		ModelAliases:    parseMap(firstNonEmpty(os.Getenv("ARENA_MODEL_ALIASES"), merged["model_aliases"])),
		TurnStoreDriver: strings.ToLower(firstNonEmpty(os.Getenv("ARENA_TURNSTORE_DRIVER"), merged["turnstore_driver"], "sqlite")),
		SQLitePath:      firstNonEmpty(os.Getenv("ARENA_SQLITE_PATH"), merged["sqlite_path"], DefaultTurnStorePath()),
		PostgresDSN:     firstNonEmpty(os.Getenv("ARENA_POSTGRES_DSN"), merged["postgres_dsn"]),
		PGMaxOpenConns:  parseOptionalInt(firstNonEmpty(os.Getenv("ARENA_PG_MAX_OPEN_CONNS"), merged["pg_max_open_conns"]), 10),
		PGMaxIdleConns:  parseOptionalInt(firstNonEmpty(os.Getenv("ARENA_PG_MAX_IDLE_CONNS"), merged["pg_max_idle_conns"]), 5),
		PricingPath:     firstNonEmpty(os.Getenv("ARENA_PRICING_PATH"), merged["pricing_path"], "config/pricing.yaml"),
		LogFile:         firstNonEmpty(os.Getenv("ARENA_LOG_FILE"), merged["log_file"]),
		LogLevel:        firstNonEmpty(os.Getenv("ARENA_LOG_LEVEL"), merged["log_level"], "info"),
	}

	cfg.SessionTTL, err = parseOptionalDuration(firstNonEmpty(os.Getenv("ARENA_SESSION_TTL"), merged["session_ttl"]), 5*time.Minute)
	if err != nil {
		return ArenaConfig{}, fmt.Errorf("invalid session_ttl: %w", err)
	}
	cfg.HeartbeatInterval, err = parseOptionalDuration(firstNonEmpty(os.Getenv("ARENA_HEARTBEAT_INTERVAL"), merged["heartbeat_interval"]), 15*time.Second)
	if err != nil {
		return ArenaConfig{}, fmt.Errorf("invalid heartbeat_interval: %w", err)
	}

	switch cfg.ProviderKind {
	case "loopback", "openai":
	default:
		return ArenaConfig{}, fmt.Errorf("unknown provider %q", cfg.ProviderKind)
	}
	switch cfg.TurnStoreDriver {
	case "memory", "sqlite", "postgres":
	default:
		return ArenaConfig{}, fmt.Errorf("unknown turnstore driver %q", cfg.TurnStoreDriver)
	}
	if cfg.TurnStoreDriver == "postgres" && strings.TrimSpace(cfg.PostgresDSN) == "" {
		return ArenaConfig{}, errors.New("postgres driver selected but postgres_dsn is empty")
	}
	if cfg.ProviderKind == "openai" && strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return ArenaConfig{}, errors.New("openai provider selected but openai_api_key is empty")
	}
	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := firstNonEmpty(os.Getenv("ARENA_ENV"), values["environment"], defaultEnv)
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseOptionalDuration(v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	return time.ParseDuration(strings.TrimSpace(v))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseMap(input string) map[string]string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	entries := strings.Split(input, ",")
	result := make(map[string]string)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		if key != "" {
			result[key] = value
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// DefaultTurnStorePath returns the fallback sqlite location under the
// user's home directory.
func DefaultTurnStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "arena.db"
	}
	return filepath.Join(home, ".arena", "arena.db")
}
