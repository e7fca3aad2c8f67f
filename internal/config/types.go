// Package config implements the configuration resolution model (§4.5):
// parsing container labels and the static YAML file into partial configs,
// merging them with static-file precedence, and resolving the result
// (plus defaults inheritance) into the effective per-registry Rule set
// the instance/scheduler layer runs.
package config

import "abwart/internal/rule"

// ruleConfig is one rule's partial, pre-merge configuration: schedule and
// tidy are optional scalars (nil = "not set at this scope"), Policies maps
// a policy identifier to its raw (unparsed) string value — including the
// empty string, which explicitly disables the policy at this scope (§3).
type ruleConfig struct {
	Schedule *string
	Tidy     *bool
	Policies map[string]string
}

func newRuleConfig() ruleConfig {
	return ruleConfig{Policies: make(map[string]string)}
}

// registryConfig is one instance's partial, pre-merge configuration, as
// parsed from either a label map or the static file.
type registryConfig struct {
	Enable   *bool
	Network  *string
	Port     *int
	Username *string
	Password *string
	Cleanup  *string
	Default  ruleConfig
	Rules    map[string]ruleConfig
}

func newRegistryConfig() registryConfig {
	return registryConfig{Default: newRuleConfig(), Rules: make(map[string]ruleConfig)}
}

// ResolvedRegistry is the effective, fully merged and defaulted
// configuration for one instance (§3's RegistryConfig, minus the
// connection-target fields that only the engine/instance layer can
// complete — see BaseURL).
type ResolvedRegistry struct {
	InstanceName    string
	Enabled         bool
	Network         string
	Port            int
	Username        string
	Password        string
	CleanupSchedule string
	Rules           map[string]rule.Rule
}

const defaultPort = 5000
