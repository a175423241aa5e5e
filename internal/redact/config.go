package redact

import (
	"fmt"
	"regexp"
)

// Config configures a Redactor.
type Config struct {
	Rules []Rule `koanf:"rules"`

	// Credentials enables the gitleaks credential pass, which runs first.
	Credentials bool `koanf:"credentials"`

	// AllowlistPath is an optional TOML file excluding credential matches.
	AllowlistPath string `koanf:"allowlist_path"`
}

// DefaultConfig returns the built-in rules with credential detection on.
func DefaultConfig() *Config {
	return &Config{
		Rules:       DefaultRules(),
		Credentials: true,
	}
}

type compiledRule struct {
	Rule
	pattern *regexp.Regexp
}

// compile validates rules and returns them compiled, preserving order.
func (c *Config) compile() ([]compiledRule, error) {
	seen := make(map[string]bool, len(c.Rules))
	out := make([]compiledRule, 0, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("%w: rule %d: id is required", ErrInvalidRule, i)
		}
		if seen[rule.ID] || rule.ID == RuleCredentials {
			return nil, fmt.Errorf("%w: duplicate rule id %q", ErrInvalidRule, rule.ID)
		}
		seen[rule.ID] = true
		if rule.Pattern == "" {
			return nil, fmt.Errorf("%w: rule %s: pattern is required", ErrInvalidRule, rule.ID)
		}
		switch rule.Action {
		case "":
			rule.Action = ActionRedact
		case ActionRedact, ActionBlock, ActionSkip:
		default:
			return nil, fmt.Errorf("%w: rule %s: unknown action %q", ErrInvalidRule, rule.ID, rule.Action)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s: %v", ErrInvalidRegex, rule.ID, err)
		}
		out = append(out, compiledRule{Rule: rule, pattern: re})
	}
	return out, nil
}
