package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, time.Second, cfg.TickInterval())
	assert.Equal(t, 15*time.Second, cfg.HeartbeatTimeout())
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL())

	s, err := cfg.DefaultSettings()
	require.NoError(t, err)
	assert.Equal(t, "50.00", s.MinWithdrawal.StringFixed(2))
	assert.Equal(t, "10000.00", s.MaxWithdrawal.StringFixed(2))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))

	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Database.Path, cfg.Database.Path)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 9090

[database]
path = "/var/lib/taskledger.db"

[session]
tick_interval = "500ms"

[withdrawals]
min = "10"
max = "250.50"
`), 0o600))

	// GIVEN: The environment overrides the port and secret
	t.Setenv("TASKLEDGER_PORT", "7070")
	t.Setenv("TASKLEDGER_JWT_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	// THEN: Environment wins over the file, the file over defaults
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "/var/lib/taskledger.db", cfg.Database.Path)
	assert.Equal(t, 500*time.Millisecond, cfg.TickInterval())
	assert.Equal(t, 15*time.Second, cfg.HeartbeatTimeout(), "unset keys keep defaults")

	s, err := cfg.DefaultSettings()
	require.NoError(t, err)
	assert.Equal(t, "250.50", s.MaxWithdrawal.StringFixed(2))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"empty db path", func(c *Config) { c.Database.Path = " " }},
		{"bad tick", func(c *Config) { c.Session.TickInterval = "soon" }},
		{"negative ttl", func(c *Config) { c.Auth.TokenTTL = "-1h" }},
		{"bad min", func(c *Config) { c.Withdrawals.Min = "fifty" }},
		{"negative max", func(c *Config) { c.Withdrawals.Max = "-5" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nport = "), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
