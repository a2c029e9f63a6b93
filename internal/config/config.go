// Package config loads and validates the tracker TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Import backends.
const (
	BackendLocal    = "local"
	BackendTemporal = "temporal"
	BackendSync     = "sync"
)

type Config struct {
	General  General  `toml:"general"`
	API      API      `toml:"api"`
	Import   Import   `toml:"import"`
	Temporal Temporal `toml:"temporal"`
	Priority Priority `toml:"priority"`
}

type General struct {
	LogLevel string `toml:"log_level"`
	StateDB  string `toml:"state_db"`
}

type API struct {
	Bind       string      `toml:"bind"`
	UserHeader string      `toml:"user_header"` // trusted identity header set by a fronting proxy
	Security   APISecurity `toml:"security"`
}

type APISecurity struct {
	Enabled          bool              `toml:"enabled"`
	Tokens           map[string]string `toml:"tokens"` // token -> user
	RequireLocalOnly bool              `toml:"require_local_only"`
	AuditLog         string            `toml:"audit_log"`
}

type Import struct {
	Backend      string   `toml:"backend"` // local, temporal or sync
	Workers      int      `toml:"workers"`
	MaxAttempts  int      `toml:"max_attempts"`
	RetryBackoff Duration `toml:"retry_backoff"`
}

type Temporal struct {
	HostPort        string   `toml:"host_port"`
	Namespace       string   `toml:"namespace"`
	TaskQueue       string   `toml:"task_queue"`
	ActivityTimeout Duration `toml:"activity_timeout"`
	StartRate       float64  `toml:"start_rate"` // workflow starts per second; negative disables throttling
}

type Priority struct {
	Default int `toml:"default"` // bucket assigned by fixpriority when none is usable
}

// Load reads and validates a tracker TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.StateDB == "" {
		cfg.General.StateDB = "tracker.db"
	}

	if cfg.API.Bind == "" {
		cfg.API.Bind = "127.0.0.1:8900"
	}

	if cfg.Import.Backend == "" {
		cfg.Import.Backend = BackendLocal
	}
	cfg.Import.Backend = strings.ToLower(strings.TrimSpace(cfg.Import.Backend))
	if cfg.Import.Workers == 0 {
		cfg.Import.Workers = 4
	}
	if cfg.Import.MaxAttempts == 0 {
		cfg.Import.MaxAttempts = 3
	}
	if cfg.Import.RetryBackoff.Duration == 0 {
		cfg.Import.RetryBackoff.Duration = 2 * time.Second
	}

	if cfg.Temporal.HostPort == "" {
		cfg.Temporal.HostPort = "127.0.0.1:7233"
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "tracker-task-queue"
	}
	if cfg.Temporal.ActivityTimeout.Duration == 0 {
		cfg.Temporal.ActivityTimeout.Duration = 2 * time.Minute
	}
	if cfg.Temporal.StartRate == 0 {
		cfg.Temporal.StartRate = 50
	}

	if cfg.Priority.Default == 0 {
		cfg.Priority.Default = 4
	}
}

func validate(cfg *Config) error {
	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", cfg.General.LogLevel)
	}

	switch cfg.Import.Backend {
	case BackendLocal, BackendTemporal, BackendSync:
	default:
		return fmt.Errorf("unknown import backend %q (want local, temporal or sync)", cfg.Import.Backend)
	}
	if cfg.Import.Workers < 0 {
		return fmt.Errorf("import workers must not be negative")
	}
	if cfg.Import.MaxAttempts < 0 {
		return fmt.Errorf("import max_attempts must not be negative")
	}

	if cfg.Priority.Default < 1 || cfg.Priority.Default > 4 {
		return fmt.Errorf("priority default %d out of range 1..4", cfg.Priority.Default)
	}

	if cfg.API.Security.Enabled && len(cfg.API.Security.Tokens) == 0 {
		return fmt.Errorf("api security enabled but no tokens configured")
	}
	for token, user := range cfg.API.Security.Tokens {
		if strings.TrimSpace(token) == "" || strings.TrimSpace(user) == "" {
			return fmt.Errorf("api security tokens must map non-empty tokens to non-empty users")
		}
	}

	if cfg.General.StateDB != "" {
		dir := ExpandHome(filepath.Dir(cfg.General.StateDB))
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("state_db directory %q does not exist: %w", dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("state_db parent path %q is not a directory", dir)
		}
	}

	return nil
}

// Clone returns a deep copy of cfg.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}
	out := *cfg
	if cfg.API.Security.Tokens != nil {
		out.API.Security.Tokens = make(map[string]string, len(cfg.API.Security.Tokens))
		for k, v := range cfg.API.Security.Tokens {
			out.API.Security.Tokens[k] = v
		}
	}
	return &out
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
