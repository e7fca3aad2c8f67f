package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// staticFile is the top-level shape of the YAML static configuration
// (§6): a single "registries" map keyed by instance name. Everything below
// one registry entry is decoded generically and flattened through the
// same dotted-path grammar parseLabels uses, so both sources share one
// merge/resolve implementation.
type staticFile struct {
	Registries map[string]map[string]interface{} `yaml:"registries"`
}

// loadStaticFile reads and parses the static config file at path. A
// missing file is treated as an empty static config (§7, Config-file-IO):
// the daemon proceeds on labels alone rather than failing startup, unless
// the caller explicitly set CONFIG_PATH (that distinction is enforced by
// the caller, not here).
func loadStaticFile(path string) (map[string]registryConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]registryConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var doc staticFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	out := make(map[string]registryConfig, len(doc.Registries))
	for name, raw := range doc.Registries {
		out[name] = flattenRegistry(raw)
	}
	return out, nil
}

func flattenRegistry(raw map[string]interface{}) registryConfig {
	cfg := newRegistryConfig()
	for key, val := range raw {
		switch key {
		case "enable", "network", "port", "username", "password", "cleanup":
			applyPath(&cfg, key, toString(val))
		case "default":
			if sub, ok := val.(map[string]interface{}); ok {
				for leaf, v := range sub {
					applyPath(&cfg, "default."+leaf, toString(v))
				}
			}
		case "rule":
			if sub, ok := val.(map[string]interface{}); ok {
				for name, v := range sub {
					leafMap, ok := v.(map[string]interface{})
					if !ok {
						continue
					}
					for leaf, lv := range leafMap {
						applyPath(&cfg, "rule."+name+"."+leaf, toString(lv))
					}
				}
			}
		}
	}
	return cfg
}

// toString renders a decoded YAML scalar the same way a docker label value
// would already appear: plain text, so the rest of the grammar parser
// never needs to know which source it came from.
func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
