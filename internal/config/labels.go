package config

import (
	"strconv"
	"strings"

	"abwart/internal/policy"
)

const labelPrefix = "abwart."

// parseLabels parses one container's engine-reported label map into a
// registryConfig, per the path grammar in §6: dots nest except at policy
// identifier leaves, which stay dotted (age.min, tag.pattern, ...).
func parseLabels(labels map[string]string) registryConfig {
	cfg := newRegistryConfig()

	for key, value := range labels {
		if !strings.HasPrefix(key, labelPrefix) {
			continue
		}
		path := strings.TrimPrefix(key, labelPrefix)
		applyPath(&cfg, path, value)
	}
	return cfg
}

// applyPath sets the field named by a dotted path (already stripped of the
// "abwart." prefix) to value. Unrecognized paths are silently ignored
// (§4.5 rule 4, forward-compatibility).
func applyPath(cfg *registryConfig, path, value string) {
	switch {
	case path == "enable":
		cfg.Enable = boolPtr(value)
	case path == "network":
		cfg.Network = strPtr(value)
	case path == "port":
		if n, err := strconv.Atoi(value); err == nil {
			cfg.Port = &n
		}
	case path == "username":
		cfg.Username = strPtr(value)
	case path == "password":
		cfg.Password = strPtr(value)
	case path == "cleanup":
		cfg.Cleanup = strPtr(value)
	case strings.HasPrefix(path, "default."):
		applyScope(&cfg.Default, strings.TrimPrefix(path, "default."), value)
	case strings.HasPrefix(path, "rule."):
		rest := strings.TrimPrefix(path, "rule.")
		name, leaf, ok := splitOnce(rest)
		if !ok {
			return
		}
		rc, exists := cfg.Rules[name]
		if !exists {
			rc = newRuleConfig()
		}
		applyScope(&rc, leaf, value)
		cfg.Rules[name] = rc
	}
}

// applyScope assigns a "schedule" / "tidy" / policy-identifier leaf within
// one rule or default scope.
func applyScope(rc *ruleConfig, leaf, value string) {
	switch {
	case leaf == "schedule":
		rc.Schedule = strPtr(value)
	case leaf == "tidy":
		rc.Tidy = boolPtr(value)
	case policy.Known(leaf):
		rc.Policies[leaf] = value
	}
}

// splitOnce splits "name.rest" on the first dot, returning ("", "", false)
// if there is no remainder.
func splitOnce(s string) (head, rest string, ok bool) {
	idx := strings.IndexByte(s, '.')
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

func strPtr(s string) *string { return &s }

func boolPtr(raw string) *bool {
	b := raw == "true" || raw == "1"
	return &b
}
