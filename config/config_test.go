package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Server.Addr())
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:8080"}, cfg.Server.CORSOrigins)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "billing.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "0 2 * * *", cfg.Scheduler.Cron)
	assert.False(t, cfg.Scheduler.AutoCancel)
	assert.False(t, cfg.Seed.OnStart)
}

func TestLoad_Precedence(t *testing.T) {
	// GIVEN: A config file, env vars and flags that overlap
	// WHEN: Loading
	// THEN: Flags beat env, env beats the file, the file beats defaults

	dir := t.TempDir()
	path := filepath.Join(dir, "billing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
log:
  level: warn
scheduler:
  cron: "*/5 * * * *"
`), 0o600))

	t.Setenv("BILLING_LOG_LEVEL", "debug")
	t.Setenv("BILLING_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("BILLING_SCHEDULER_AUTO_CANCEL", "true")

	cfg, err := Load([]string{"--config", path, "--port", "3000", "--driver", "memory"})
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "*/5 * * * *", cfg.Scheduler.Cron)
	assert.True(t, cfg.Scheduler.AutoCancel)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{name: "port", args: []string{"--port", "0"}},
		{name: "driver", args: []string{"--driver", "postgres"}},
		{name: "log level", args: []string{"--log-level", "loud"}},
		{name: "log format", args: []string{"--log-format", "xml"}},
		{name: "cron", env: map[string]string{"BILLING_SCHEDULER_CRON": "every day"}},
		{name: "unknown flag", args: []string{"--nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestLoad_CronIgnoredWhenDisabled(t *testing.T) {
	t.Setenv("BILLING_SCHEDULER_CRON", "every day")
	cfg, err := Load([]string{"--sweep=false"})
	require.NoError(t, err)
	assert.False(t, cfg.Scheduler.Enabled)
}
