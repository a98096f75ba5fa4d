package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Store   StoreConfig   `toml:"store"`
	Logging LoggingConfig `toml:"logging"`
	Auth    AuthConfig    `toml:"auth"`
	Host    HostConfig    `toml:"host"`
	Tasks   TasksConfig   `toml:"tasks"`
	Audit   AuditConfig   `toml:"audit"`
	Game    GameConfig    `toml:"game"`
}

type ServerConfig struct {
	Addr      string `toml:"addr"`
	DataDir   string `toml:"data_dir"`
	AdminHTTP bool   `toml:"admin_http"`
	// World selects the block source: "host" (remote calls over the host
	// connection) or "memory" (flat in-process terrain for local runs).
	World string `toml:"world"`
	// FlatWorlds are generated as flat ground when World is "memory".
	FlatWorlds []string `toml:"flat_worlds"`
	FlatGround int      `toml:"flat_ground"`
}

type StoreConfig struct {
	Backend         string        `toml:"backend"` // sqlite, postgres or memory
	Path            string        `toml:"path"`
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

type AuthConfig struct {
	// TokenHash is a bcrypt hash of the host token. Empty disables the check.
	TokenHash string `toml:"token_hash"`
}

type HostConfig struct {
	CommandsPerSecond float64       `toml:"commands_per_second"`
	Burst             int           `toml:"burst"`
	CallTimeout       time.Duration `toml:"call_timeout"`
	Workers           int           `toml:"workers"`
	OutQueueSize      int           `toml:"out_queue_size"`
}

type TasksConfig struct {
	Decay    time.Duration `toml:"decay"`
	Save     time.Duration `toml:"save"`
	Presence time.Duration `toml:"presence"`
	Effects  time.Duration `toml:"effects"`
	Cleanup  time.Duration `toml:"cleanup"`
}

type AuditConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type GameConfig struct {
	Tuning  string `toml:"tuning"`
	Scripts string `toml:"scripts"`
}

// Load reads path over the defaults and applies TB_* environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	applyEnv(cfg, os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv reads .env files into the process environment. Variables that
// are already set win; missing files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("TB_ADDR", &cfg.Server.Addr)
	str("TB_DATA_DIR", &cfg.Server.DataDir)
	str("TB_WORLD", &cfg.Server.World)
	str("TB_STORE_BACKEND", &cfg.Store.Backend)
	str("TB_STORE_PATH", &cfg.Store.Path)
	str("TB_STORE_DSN", &cfg.Store.DSN)
	str("TB_LOG_LEVEL", &cfg.Logging.Level)
	str("TB_LOG_FORMAT", &cfg.Logging.Format)
	str("TB_TOKEN_HASH", &cfg.Auth.TokenHash)
	if v, ok := lookup("TB_ADMIN_HTTP"); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			cfg.Server.AdminHTTP = true
		case "0", "false", "no", "off":
			cfg.Server.AdminHTTP = false
		}
	}
}

func (c *Config) Validate() error {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	switch c.Store.Backend {
	case "sqlite", "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.backend=postgres but store.dsn is empty")
		}
	default:
		return fmt.Errorf("unsupported store.backend %q", c.Store.Backend)
	}
	switch c.Server.World {
	case "host", "memory":
	default:
		return fmt.Errorf("unsupported server.world %q", c.Server.World)
	}
	for name, d := range map[string]time.Duration{
		"decay": c.Tasks.Decay, "save": c.Tasks.Save, "presence": c.Tasks.Presence,
		"effects": c.Tasks.Effects, "cleanup": c.Tasks.Cleanup,
	} {
		if d <= 0 {
			return fmt.Errorf("tasks.%s must be positive", name)
		}
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:       ":8080",
			DataDir:    "./data",
			AdminHTTP:  true,
			World:      "host",
			FlatWorlds: []string{"world"},
			FlatGround: 63,
		},
		Store: StoreConfig{
			Backend:         "sqlite",
			Path:            "./data/territories.sqlite",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Host: HostConfig{
			CommandsPerSecond: 200,
			Burst:             400,
			CallTimeout:       5 * time.Second,
			Workers:           4,
			OutQueueSize:      256,
		},
		Tasks: TasksConfig{
			Decay:    time.Hour,
			Save:     5 * time.Minute,
			Presence: time.Second,
			Effects:  4 * time.Second,
			Cleanup:  24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled: true,
			Dir:     "./data",
		},
		Game: GameConfig{
			Tuning:  "./configs/tuning.yaml",
			Scripts: "./configs/scripts",
		},
	}
}
