package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LEAVE_JWT_SECRET", "s3cret")

	cfg, err := config.Load("")

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "data/leave.db", cfg.Database.Path)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.Interval)
	assert.Equal(t, 10*time.Second, cfg.Notifications.Timeout)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "json", cfg.Logger.Logging().Format)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("LEAVE_JWT_SECRET", "s3cret")
	t.Setenv("LEAVE_SERVER_PORT", "9090")
	t.Setenv("LEAVE_DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://leave@localhost/leave")

	cfg, err := config.Load("")

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://leave@localhost/leave", cfg.Database.URL)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7000
database:
  driver: memory
auth:
  jwt_secret: from-file
scheduler:
  enabled: false
catalog:
  path: catalog.yaml
`), 0o600))

	cfg, err := config.Load(path)

	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "catalog.yaml", cfg.Catalog.Path)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		return config.Config{
			Server:    config.ServerConfig{Port: 8080},
			Database:  config.DatabaseConfig{Driver: "memory"},
			Auth:      config.AuthConfig{JWTSecret: "x"},
			Scheduler: config.SchedulerConfig{Enabled: true, Interval: time.Hour, Workers: 2},
		}
	}
	base := valid()
	require.NoError(t, base.Validate())

	cases := map[string]func(c *config.Config){
		"port out of range":      func(c *config.Config) { c.Server.Port = 70000 },
		"unknown driver":         func(c *config.Config) { c.Database.Driver = "mysql" },
		"sqlite without path":    func(c *config.Config) { c.Database.Driver = "sqlite" },
		"postgres without url":   func(c *config.Config) { c.Database.Driver = "postgres" },
		"no jwt secret":          func(c *config.Config) { c.Auth.JWTSecret = "" },
		"scheduler without pool": func(c *config.Config) { c.Scheduler.Workers = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
