package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("PLACE3D_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Game.GridExtent)
	assert.Equal(t, 20*time.Second, cfg.Game.Cooldown())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_OverridesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "place3d.yaml")
	yaml := `
game:
  grid_extent: 50
  cooldown_seconds: 0
backend:
  state: redis
  grid: sql
  bus: nats
sql:
  driver: mysql
  dsn: "user:pass@tcp(localhost:3306)/place3d"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Game.GridExtent)
	assert.Equal(t, time.Duration(0), cfg.Game.Cooldown())
	assert.Equal(t, "redis", cfg.Backend.State)
	assert.Equal(t, "mysql", cfg.SQL.Driver)
	// незаданные поля остаются по умолчанию
	assert.Equal(t, 6, cfg.Game.LeaderboardTopK)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"zero extent":       func(c *Config) { c.Game.GridExtent = 0 },
		"negative cooldown": func(c *Config) { c.Game.CooldownSeconds = -1 },
		"unknown grid":      func(c *Config) { c.Backend.Grid = "mongo" },
		"unknown bus":       func(c *Config) { c.Backend.Bus = "kafka" },
		"webhook without url": func(c *Config) {
			c.Webhooks.Outbound = []OutboundWebhookConfig{{Name: "scheduler"}}
		},
		"unknown driver": func(c *Config) {
			c.Backend.Grid = "sql"
			c.SQL.Driver = "postgres"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestPortFallbacks(t *testing.T) {
	s := ServerConfig{}
	t.Setenv("PLACE3D_HTTP_PORT", "9099")
	assert.Equal(t, 9099, s.GetHTTPPort())

	s.HTTPPort = 7000
	assert.Equal(t, 7000, s.GetHTTPPort())
}
