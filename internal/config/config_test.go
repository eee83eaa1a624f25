// ABOUTME: Tests for configuration loading, env expansion, and validation
// ABOUTME: Covers defaults, missing required fields, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
server:
  http_addr: "localhost:8080"

database:
  path: "/tmp/scribe-test.db"

github:
  token: "ghp_testtoken"
  docs_owner: "acme"
  docs_repo: "product-docs"
  code_owner: "acme"
  code_repo: "product-api"

auth:
  admin_secret: "admin-secret"
  webhook_secret: "hook-secret"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/scribe-test.db", cfg.Database.Path)
	assert.Equal(t, "acme", cfg.GitHub.DocsOwner)
	assert.Equal(t, "product-docs", cfg.GitHub.DocsRepo)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "main", cfg.GitHub.BaseBranch)
	assert.Equal(t, AccessLevelMedium, cfg.Demo.AccessLevel)
	assert.Equal(t, time.Second, cfg.Demo.DelayUnit)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("SCRIBE_TEST_TOKEN", "ghp_fromenv")

	yaml := strings.ReplaceAll(validYAML, `"ghp_testtoken"`, `"${SCRIBE_TEST_TOKEN}"`)
	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "ghp_fromenv", cfg.GitHub.Token)
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	yaml := strings.ReplaceAll(validYAML, `"ghp_testtoken"`, `"${SCRIBE_TEST_TOKEN}"`)
	// SCRIBE_TEST_TOKEN not set: token expands to "" and validation fails
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "github.token is required")
}

func TestLoad_DelayUnit(t *testing.T) {
	yaml := validYAML + `
demo:
  delay_unit: "250ms"
`
	cfg, err := Load(writeConfig(t, yaml))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Demo.DelayUnit)
}

func TestLoad_InvalidDelayUnit(t *testing.T) {
	yaml := validYAML + `
demo:
  delay_unit: "soon"
`
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing durations")
}

func TestLoad_InvalidAccessLevel(t *testing.T) {
	yaml := validYAML + `
demo:
  access_level: "maximum"
`
	_, err := Load(writeConfig(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_level")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_RequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"missing db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"missing docs repo", func(c *Config) { c.GitHub.DocsRepo = "" }, "docs_repo"},
		{"missing code repo", func(c *Config) { c.GitHub.CodeRepo = "" }, "code_repo"},
		{"missing admin secret", func(c *Config) { c.Auth.AdminSecret = "" }, "admin_secret"},
		{"missing webhook secret", func(c *Config) { c.Auth.WebhookSecret = "" }, "webhook_secret"},
		{"tailscale without hostname", func(c *Config) {
			c.Tailscale.Enabled = true
			c.Tailscale.Hostname = ""
		}, "tailscale.hostname"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validYAML))
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_TailscaleReplacesHTTPAddr(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	cfg.Server.HTTPAddr = ""
	cfg.Tailscale.Enabled = true
	cfg.Tailscale.Hostname = "scribe-gateway"

	assert.NoError(t, cfg.Validate())
}
