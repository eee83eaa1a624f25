// ABOUTME: Configuration loading and parsing for scribe-gateway
// ABOUTME: Supports YAML files with environment variable expansion and validation

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Access levels controlling how documentation changes propagate.
const (
	AccessLevelHigh   = "high"   // auto-commit straight to the main line
	AccessLevelMedium = "medium" // open a review (branch + pull request) first
)

// Config represents the complete scribe-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	GitHub    GitHubConfig    `yaml:"github"`
	Auth      AuthConfig      `yaml:"auth"`
	Demo      DemoConfig      `yaml:"demo"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration for exposing the
// demo over a tailnet (or publicly via Funnel).
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GitHubConfig identifies the remote repositories the agent operates on.
type GitHubConfig struct {
	Token      string `yaml:"token"`
	DocsOwner  string `yaml:"docs_owner"`
	DocsRepo   string `yaml:"docs_repo"`
	CodeOwner  string `yaml:"code_owner"`
	CodeRepo   string `yaml:"code_repo"`
	BaseBranch string `yaml:"base_branch"`
}

// AuthConfig holds the shared secrets guarding mutating endpoints.
type AuthConfig struct {
	AdminSecret   string `yaml:"admin_secret"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// DemoConfig holds demo behavior configuration.
type DemoConfig struct {
	AccessLevel string `yaml:"access_level"`

	// DelayUnit scales every staged delay in the simulated analysis
	// pipeline. The schedule is purely presentational, so tests shrink
	// this to microseconds.
	DelayUnit    time.Duration `yaml:"-"`
	DelayUnitRaw string        `yaml:"delay_unit"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values that have sensible defaults.
func (c *Config) applyDefaults() {
	if c.GitHub.BaseBranch == "" {
		c.GitHub.BaseBranch = "main"
	}
	if c.Demo.AccessLevel == "" {
		c.Demo.AccessLevel = AccessLevelMedium
	}
	if c.Demo.DelayUnitRaw == "" {
		c.Demo.DelayUnitRaw = "1s"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale provides the listener
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.GitHub.Token == "" {
		return fmt.Errorf("github.token is required")
	}
	if c.GitHub.DocsOwner == "" || c.GitHub.DocsRepo == "" {
		return fmt.Errorf("github.docs_owner and github.docs_repo are required")
	}
	if c.GitHub.CodeOwner == "" || c.GitHub.CodeRepo == "" {
		return fmt.Errorf("github.code_owner and github.code_repo are required")
	}

	if c.Auth.AdminSecret == "" {
		return fmt.Errorf("auth.admin_secret is required")
	}
	if c.Auth.WebhookSecret == "" {
		return fmt.Errorf("auth.webhook_secret is required")
	}

	if c.Demo.AccessLevel != AccessLevelHigh && c.Demo.AccessLevel != AccessLevelMedium {
		return fmt.Errorf("demo.access_level must be %q or %q, got %q",
			AccessLevelHigh, AccessLevelMedium, c.Demo.AccessLevel)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func (c *Config) parseDurations() error {
	var err error

	if c.Demo.DelayUnitRaw != "" {
		c.Demo.DelayUnit, err = time.ParseDuration(c.Demo.DelayUnitRaw)
		if err != nil {
			return fmt.Errorf("parsing delay_unit %q: %w", c.Demo.DelayUnitRaw, err)
		}
	}

	return nil
}
