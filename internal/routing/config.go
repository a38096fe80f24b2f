// Package routing implements the declarative routing engine of spec.md §4.3.
//
// The rule-set itself is an external collaborator (spec.md §1): this package
// only loads and matches against it.
package routing

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// IssueRule matches an issue against any of its predicates.
type IssueRule struct {
	AnyLabels     []string `yaml:"any_labels"`
	TitleContains []string `yaml:"title_contains"`
	BodyContains  []string `yaml:"body_contains"`
	Role          string   `yaml:"role" validate:"required"`
}

// PRRule matches PR feedback against any of its predicates.
type PRRule struct {
	AnyLabels     []string `yaml:"any_labels"`
	AnyPaths      []string `yaml:"any_paths"`
	TitleContains []string `yaml:"title_contains"`
	BodyContains  []string `yaml:"body_contains"`
	Role          string   `yaml:"role" validate:"required"`
}

// Config is the routing rule-set, read-only. cmd/issue-dispatcher loads it
// once at startup via Load; edits to the file are not picked up until the
// process restarts.
type Config struct {
	DefaultRole   string      `yaml:"default_role" validate:"required"`
	DefaultPRRole string      `yaml:"default_pr_role" validate:"required"`
	Rules         []IssueRule `yaml:"rules" validate:"dive"`
	PRRules       []PRRule    `yaml:"pr_rules" validate:"dive"`
}

var validate = validator.New()

// Load reads and validates a routing rule-set from disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading routing config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing routing config %s: %w", path, err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid routing config %s: %w", path, err)
	}

	return &cfg, nil
}

// KnownRoles returns the set of roles the config is aware of: the two
// defaults plus every rule's role, used by normalize_role (spec.md §4.3).
func (c *Config) KnownRoles() map[string]bool {
	roles := map[string]bool{}
	if c.DefaultRole != "" {
		roles[c.DefaultRole] = true
	}
	if c.DefaultPRRole != "" {
		roles[c.DefaultPRRole] = true
	}
	for _, r := range c.Rules {
		roles[r.Role] = true
	}
	for _, r := range c.PRRules {
		roles[r.Role] = true
	}
	return roles
}
