// Package config loads the dispatch service's environment inputs per spec.md §6.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config captures the service's external configuration. Fields are
// deserialized from the process environment by envconfig.Process.
type Config struct {
	BindHost string `env:"BIND_HOST,default=0.0.0.0"`
	BindPort int    `env:"BIND_PORT,default=8080"`

	StateDir        string `env:"STATE_DIR,default=./state"`
	RoutingFilePath string `env:"ROUTING_CONFIG_PATH,required"`

	WebhookSecret string `env:"GITHUB_WEBHOOK_SECRET,required"`
	ForgeToken    string `env:"GITHUB_TOKEN,required"`
	ForgeAPIBase  string `env:"GITHUB_API_BASE_URL,default=https://api.github.com"`
	ForgeGraphQL  string `env:"GITHUB_GRAPHQL_URL,default=https://api.github.com/graphql"`

	HookCommandTemplate string        `env:"HOOK_COMMAND_TEMPLATE,required"`
	DispatchTimeout     time.Duration `env:"DISPATCH_TIMEOUT,default=45s"`
	ForgeReadTimeout    time.Duration `env:"FORGE_READ_TIMEOUT,default=15s"`
	ForgeGraphQLTimeout time.Duration `env:"FORGE_GRAPHQL_TIMEOUT,default=20s"`
	CommentPostTimeout  time.Duration `env:"COMMENT_POST_TIMEOUT,default=15s"`

	AutoExecuteEnabled      bool `env:"AUTO_EXECUTE_ENABLED,default=true"`
	AutoExecuteOnlyOnOpened bool `env:"AUTO_EXECUTE_ONLY_ON_OPENED,default=true"`

	TriageForceLabel      string `env:"TRIAGE_FORCE_LABEL,default=force-triage"`
	SecurityOverrideLabel string `env:"SECURITY_OVERRIDE_LABEL,default=locktrace-override"`
	SecurityReviewerLogin string `env:"SECURITY_REVIEWER_LOGIN,default=locktrace-bot"`

	// SecuritySensitiveLabels and SecuritySensitivePathContains decide
	// whether a PR's follow-up task requires locktrace approval to close
	// (spec.md §4.6 step 4: "security-sensitive labels or paths").
	SecuritySensitiveLabels       []string `env:"SECURITY_SENSITIVE_LABELS,default=security"`
	SecuritySensitivePathContains []string `env:"SECURITY_SENSITIVE_PATH_CONTAINS,default=security/"`

	ReplayLookback   time.Duration `env:"REPLAY_LOOKBACK_WINDOW,default=24h"`
	ReplayMaxResults int           `env:"REPLAY_MAX_RESULTS,default=25"`

	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Load reads the configuration from the environment and validates it.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that required configuration is present and well-formed,
// mirroring the teacher's configuration.IsValid contract.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.WebhookSecret) == "" {
		return fmt.Errorf("GITHUB_WEBHOOK_SECRET is required")
	}
	if strings.TrimSpace(c.HookCommandTemplate) == "" {
		return fmt.Errorf("HOOK_COMMAND_TEMPLATE is required")
	}
	if c.DispatchTimeout <= 0 {
		return fmt.Errorf("DISPATCH_TIMEOUT must be positive, got %s", c.DispatchTimeout)
	}
	if c.ReplayMaxResults <= 0 {
		return fmt.Errorf("REPLAY_MAX_RESULTS must be positive, got %d", c.ReplayMaxResults)
	}
	if c.BindPort <= 0 || c.BindPort > 65535 {
		return fmt.Errorf("BIND_PORT out of range: %d", c.BindPort)
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindHost, c.BindPort)
}
