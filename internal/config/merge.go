package config

// mergeRegistry merges a label-derived and a static-file-derived partial
// config for the same instance. The static file wins on every
// scalar/policy conflict (§4.5 rule 3); rules present in one and absent
// in the other are both retained, and policy parameters within a rule are
// merged key-by-key with the same static-wins rule.
func mergeRegistry(label, static registryConfig) registryConfig {
	out := registryConfig{
		Enable:   pickBool(label.Enable, static.Enable),
		Network:  pickString(label.Network, static.Network),
		Port:     pickInt(label.Port, static.Port),
		Username: pickString(label.Username, static.Username),
		Password: pickString(label.Password, static.Password),
		Cleanup:  pickString(label.Cleanup, static.Cleanup),
		Default:  mergeRuleConfig(label.Default, static.Default),
		Rules:    make(map[string]ruleConfig),
	}

	names := make(map[string]bool)
	for n := range label.Rules {
		names[n] = true
	}
	for n := range static.Rules {
		names[n] = true
	}
	for n := range names {
		out.Rules[n] = mergeRuleConfig(label.Rules[n], static.Rules[n])
	}
	return out
}

func mergeRuleConfig(label, static ruleConfig) ruleConfig {
	out := ruleConfig{
		Schedule: pickString(label.Schedule, static.Schedule),
		Tidy:     pickBool(label.Tidy, static.Tidy),
		Policies: make(map[string]string),
	}
	for id, v := range label.Policies {
		out.Policies[id] = v
	}
	// static wins per policy key, including overwriting a label-set value.
	for id, v := range static.Policies {
		out.Policies[id] = v
	}
	return out
}

func pickString(label, static *string) *string {
	if static != nil {
		return static
	}
	return label
}

func pickBool(label, static *bool) *bool {
	if static != nil {
		return static
	}
	return label
}

func pickInt(label, static *int) *int {
	if static != nil {
		return static
	}
	return label
}
