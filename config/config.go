/*
Package config loads taskledger configuration.

SOURCES (later wins):
  1. DefaultConfig()
  2. TOML file (default ./taskledger.toml; a missing file is not an error)
  3. .env file in the working directory, if present
  4. TASKLEDGER_* environment variables

  .env values never override variables already set in the process
  environment.

EXAMPLE:
  [server]
  port = 8080

  [database]
  path = "./data/taskledger.db"

  [session]
  tick_interval = "1s"
  heartbeat_timeout = "15s"

  [auth]
  jwt_secret = "change-me"
  token_ttl = "24h"

  [bootstrap]
  admin_username = "admin"
  admin_password = "admin"

  [withdrawals]
  min = "50"
  max = "10000"
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/warp/task-ledger/engine"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "taskledger.toml"

// Config is the full application configuration.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Database    DatabaseConfig    `toml:"database"`
	Session     SessionConfig     `toml:"session"`
	Auth        AuthConfig        `toml:"auth"`
	Bootstrap   BootstrapConfig   `toml:"bootstrap"`
	Withdrawals WithdrawalsConfig `toml:"withdrawals"`
}

type ServerConfig struct {
	Port int `toml:"port"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type SessionConfig struct {
	TickInterval     string `toml:"tick_interval"`
	HeartbeatTimeout string `toml:"heartbeat_timeout"`
}

type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
	TokenTTL  string `toml:"token_ttl"`
}

// BootstrapConfig describes the administrator created on first start.
type BootstrapConfig struct {
	AdminUsername string `toml:"admin_username"`
	AdminPassword string `toml:"admin_password"`
}

// WithdrawalsConfig seeds the limits of a brand new store. Once an
// administrator saves settings, the stored values win.
type WithdrawalsConfig struct {
	Min string `toml:"min"`
	Max string `toml:"max"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Path: "./data/taskledger.db"},
		Session: SessionConfig{
			TickInterval:     "1s",
			HeartbeatTimeout: "15s",
		},
		Auth: AuthConfig{
			JWTSecret: "",
			TokenTTL:  "24h",
		},
		Bootstrap: BootstrapConfig{
			AdminUsername: "admin",
			AdminPassword: "admin",
		},
		Withdrawals: WithdrawalsConfig{Min: "50", Max: "10000"},
	}
}

// Load reads path (may be missing), then .env, then the environment.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	loadDotEnv()
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadDotEnv copies .env entries into the environment without
// overriding variables that are already set.
func loadDotEnv() {
	envMap, err := godotenv.Read()
	if err != nil {
		return
	}
	for k, v := range envMap {
		if os.Getenv(k) == "" {
			os.Setenv(k, v)
		}
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TASKLEDGER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	setString(&cfg.Database.Path, "TASKLEDGER_DB_PATH")
	setString(&cfg.Session.TickInterval, "TASKLEDGER_TICK_INTERVAL")
	setString(&cfg.Session.HeartbeatTimeout, "TASKLEDGER_HEARTBEAT_TIMEOUT")
	setString(&cfg.Auth.JWTSecret, "TASKLEDGER_JWT_SECRET")
	setString(&cfg.Auth.TokenTTL, "TASKLEDGER_TOKEN_TTL")
	setString(&cfg.Bootstrap.AdminUsername, "TASKLEDGER_ADMIN_USERNAME")
	setString(&cfg.Bootstrap.AdminPassword, "TASKLEDGER_ADMIN_PASSWORD")
	setString(&cfg.Withdrawals.Min, "TASKLEDGER_MIN_WITHDRAWAL")
	setString(&cfg.Withdrawals.Max, "TASKLEDGER_MAX_WITHDRAWAL")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// Validate checks that every value parses. The JWT secret is only
// required by Serve; admin commands run without one.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database.path is required")
	}
	for name, v := range map[string]string{
		"session.tick_interval":     c.Session.TickInterval,
		"session.heartbeat_timeout": c.Session.HeartbeatTimeout,
		"auth.token_ttl":            c.Auth.TokenTTL,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if _, err := c.DefaultSettings(); err != nil {
		return err
	}
	return nil
}

// TickInterval returns the parsed session tick interval.
func (c Config) TickInterval() time.Duration {
	return mustDuration(c.Session.TickInterval)
}

// HeartbeatTimeout returns the parsed heartbeat timeout.
func (c Config) HeartbeatTimeout() time.Duration {
	return mustDuration(c.Session.HeartbeatTimeout)
}

// TokenTTL returns the parsed bearer token lifetime.
func (c Config) TokenTTL() time.Duration {
	return mustDuration(c.Auth.TokenTTL)
}

// DefaultSettings builds the engine settings used for a new store.
func (c Config) DefaultSettings() (engine.Settings, error) {
	s := engine.DefaultSettings()
	minW, err := decimal.NewFromString(c.Withdrawals.Min)
	if err != nil {
		return s, fmt.Errorf("withdrawals.min: %w", err)
	}
	maxW, err := decimal.NewFromString(c.Withdrawals.Max)
	if err != nil {
		return s, fmt.Errorf("withdrawals.max: %w", err)
	}
	if minW.IsNegative() || maxW.IsNegative() {
		return s, fmt.Errorf("withdrawals limits: %w", engine.ErrInvalidSettings)
	}
	s.MinWithdrawal = engine.Money(minW)
	s.MaxWithdrawal = engine.Money(maxW)
	return s, nil
}

// mustDuration is only called after Validate succeeded.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
