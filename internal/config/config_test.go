package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Empty(t, cfg.ConfigFile)
	assert.True(t, cfg.IsDev())
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 3*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "intertextual", cfg.Workflow.MandatoryStep)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Tiers["flash"])
	assert.Equal(t, 5, cfg.LLM.RPM["gemini-2.5-flash"])
	assert.Equal(t, []string{"localhost", "127.0.0.1"}, cfg.TLS.Hostnames)
	assert.Equal(t, "host=localhost port=5432 user=postgres password= dbname=theological_agent sslmode=disable", cfg.DSN())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: PROD
storage:
  driver: " Memory "
workflow:
  max_parallel: 2
auth:
  okta_domain: https://example.okta.com/oauth2/default/
llm:
  tiers:
    lite: lite-model
    flash: flash-model
    top: top-model
`), 0o644))
	t.Setenv("WORKFLOW_MANDATORY_STEP", "historical")
	t.Setenv("LLM_API_KEY", "secret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.ConfigFile)
	assert.False(t, cfg.IsDev())
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 2, cfg.Workflow.MaxParallel)
	assert.Equal(t, "historical", cfg.Workflow.MandatoryStep)
	assert.Equal(t, "secret", cfg.LLM.APIKey)
	assert.Equal(t, "top-model", cfg.LLM.Tiers["top"])
	assert.Equal(t, "https://example.okta.com/oauth2/default", cfg.Auth.OktaDomain)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "unknown driver",
			mutate: func(c *Config) { c.Storage.Driver = "sqlite" },
			want:   `unknown storage.driver "sqlite"`,
		},
		{
			name:   "postgres without host",
			mutate: func(c *Config) { c.DB.Host = "" },
			want:   "db.host and db.name are required",
		},
		{
			name:   "missing tier",
			mutate: func(c *Config) { delete(c.LLM.Tiers, "top") },
			want:   "llm.tiers.top is required",
		},
		{
			name:   "traces without endpoint",
			mutate: func(c *Config) { c.Traces.Enabled = true },
			want:   "traces.endpoint is required",
		},
		{
			name: "tls without key",
			mutate: func(c *Config) {
				c.TLS.Enable = true
				c.TLS.KeyFile = ""
			},
			want: "tls.cert_file and tls.key_file are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			cfg, err := LoadConfig("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
