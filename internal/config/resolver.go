package config

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"abwart/internal/policy"
	"abwart/internal/rule"
)

// Source is everything the resolver needs to recompute the desired
// instance set: the currently-known container label maps (keyed by
// container/instance name, engine-provided) and the path of the static
// file, which Resolve reads and parses afresh on every call (§4.5) — the
// resolver holds no mutable state of its own.
type Source struct {
	ContainerLabels map[string]map[string]string
	StaticPath      string
}

// Resolve merges labels and the static file into the effective, fully
// resolved registry configs, restricted to instances that currently have
// a running container (§4.6: config only ever targets a container that
// exists) and whose merged enable resolves true (the "still need the
// enable label" filtering gate).
func Resolve(src Source, log *logrus.Entry) (map[string]ResolvedRegistry, error) {
	static, err := loadStaticFile(src.StaticPath)
	if err != nil {
		return nil, err
	}

	out := make(map[string]ResolvedRegistry, len(src.ContainerLabels))
	for name, labels := range src.ContainerLabels {
		labelCfg := parseLabels(labels)
		staticCfg, ok := static[name]
		if !ok {
			staticCfg = newRegistryConfig()
		}
		merged := mergeRegistry(labelCfg, staticCfg)

		enabled := merged.Enable != nil && *merged.Enable
		if !enabled {
			continue
		}

		out[name] = resolveRegistry(name, merged, log)
	}
	return out, nil
}

func resolveRegistry(name string, cfg registryConfig, log *logrus.Entry) ResolvedRegistry {
	entry := log.WithField("instance", name)

	rr := ResolvedRegistry{
		InstanceName: name,
		Enabled:      true,
		Port:         defaultPort,
		Rules:        make(map[string]rule.Rule),
	}
	if cfg.Network != nil {
		rr.Network = *cfg.Network
	}
	if cfg.Port != nil {
		rr.Port = *cfg.Port
	}
	if cfg.Cleanup != nil && *cfg.Cleanup != "" {
		rr.CleanupSchedule = *cfg.Cleanup
		entry.Warn("config: cleanup schedule configured; registry garbage collection can corrupt storage on affected registry versions if run against a registry still accepting writes")
	}

	username, password := "", ""
	if cfg.Username != nil {
		username = *cfg.Username
	}
	if cfg.Password != nil {
		password = *cfg.Password
	}
	if (username == "") != (password == "") {
		entry.Warn("config: username and password must both be set to enable basic auth; ignoring")
	} else {
		rr.Username, rr.Password = username, password
	}

	for ruleName, rc := range cfg.Rules {
		r, ok := resolveRule(ruleName, rc, cfg.Default, entry)
		if ok {
			rr.Rules[ruleName] = r
		}
	}
	return rr
}

func resolveRule(name string, rc, defaults ruleConfig, log *logrus.Entry) (rule.Rule, bool) {
	entry := log.WithField("rule", name)

	schedule := ""
	switch {
	case rc.Schedule != nil:
		schedule = *rc.Schedule
	case defaults.Schedule != nil:
		schedule = *defaults.Schedule
	}
	if schedule == "" {
		entry.Warn("config: rule has no schedule (neither rule nor default); skipping")
		return rule.Rule{}, false
	}

	tidy := false
	switch {
	case rc.Tidy != nil:
		tidy = *rc.Tidy
	case defaults.Tidy != nil:
		tidy = *defaults.Tidy
	}

	policies := make(map[string]policy.Policy)
	for _, id := range policy.Identifiers() {
		raw, present := rc.Policies[id]
		if !present {
			raw, present = defaults.Policies[id]
		}
		if !present {
			raw = policy.Default(id)
		}
		if raw == "" {
			continue // disabled, or no default: absent is equivalent to disabled (§3)
		}
		p, err := policy.Build(id, raw, false)
		if err != nil {
			entry.WithField("policy", id).WithError(err).Warn("config: invalid policy parameter; invalidating just this policy")
			continue
		}
		policies[id] = p
	}

	return rule.Rule{Name: name, Schedule: schedule, Tidy: tidy, Policies: policies}, true
}

// BaseURL derives the connection target for r's registry client (§4.3):
// when Network is configured, the instance is reachable by its container
// name on that network; otherwise the engine-reported container address
// (containerAddr) is used directly.
func (r ResolvedRegistry) BaseURL(containerAddr string) string {
	host := containerAddr
	if r.Network != "" {
		host = r.InstanceName
	}
	return fmt.Sprintf("http://%s:%d", host, r.Port)
}
