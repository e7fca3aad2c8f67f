package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abwart/internal/model"
	"abwart/internal/policy"
)

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func writeStatic(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "abwart.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

// S6: static file overrides the label-set default.revisions.
func TestResolveStaticOverridesLabelDefault(t *testing.T) {
	static := writeStatic(t, `
registries:
  registry-a:
    default:
      revisions: "10"
`)

	src := Source{
		ContainerLabels: map[string]map[string]string{
			"registry-a": {
				"abwart.enable":           "true",
				"abwart.default.revisions": "5",
				"abwart.rule.nightly.schedule": "0 2 * * *",
			},
		},
		StaticPath: static,
	}

	resolved, err := Resolve(src, discardLogger())
	require.NoError(t, err)

	reg, ok := resolved["registry-a"]
	require.True(t, ok)
	r, ok := reg.Rules["nightly"]
	require.True(t, ok)
	p, ok := r.Policies[policy.Revisions]
	require.True(t, ok)
	assert.Equal(t, policy.Revisions, p.Identifier)

	// The static value (10) must win over the label value (5): a set of
	// exactly 10 tags should be a no-op under the resolved policy, which
	// would not hold if the label's 5 had taken precedence.
	now := time.Now()
	tags := make([]model.Tag, 10)
	for i := range tags {
		tags[i] = model.Tag{Name: string(rune('a' + i)), CreatedAt: now.Add(time.Duration(i) * time.Hour)}
	}
	assert.Empty(t, p.ApplyTags(tags, now))
}

func TestResolveEmptyStringDisablesWithoutFallback(t *testing.T) {
	static := writeStatic(t, `
registries:
  registry-b:
    rule:
      nightly:
        revisions: ""
`)

	src := Source{
		ContainerLabels: map[string]map[string]string{
			"registry-b": {
				"abwart.enable":                "true",
				"abwart.rule.nightly.schedule": "0 2 * * *",
			},
		},
		StaticPath: static,
	}

	resolved, err := Resolve(src, discardLogger())
	require.NoError(t, err)

	r := resolved["registry-b"].Rules["nightly"]
	_, ok := r.Policies[policy.Revisions]
	assert.False(t, ok, "explicit empty string must disable, not fall back to the global default")
}

func TestResolveFallsBackToGlobalDefaultWhenUnset(t *testing.T) {
	static := writeStatic(t, `registries: {}`)

	src := Source{
		ContainerLabels: map[string]map[string]string{
			"registry-c": {
				"abwart.enable":                "true",
				"abwart.rule.nightly.schedule": "0 2 * * *",
			},
		},
		StaticPath: static,
	}

	resolved, err := Resolve(src, discardLogger())
	require.NoError(t, err)

	r := resolved["registry-c"].Rules["nightly"]
	_, ok := r.Policies[policy.Revisions]
	assert.True(t, ok, "revisions has a non-empty global default and should apply when nothing overrides it")
}

func TestResolveDisabledInstanceExcluded(t *testing.T) {
	static := writeStatic(t, `registries: {}`)

	src := Source{
		ContainerLabels: map[string]map[string]string{
			"registry-d": {
				"abwart.rule.nightly.schedule": "0 2 * * *",
			},
		},
		StaticPath: static,
	}

	resolved, err := Resolve(src, discardLogger())
	require.NoError(t, err)

	_, ok := resolved["registry-d"]
	assert.False(t, ok, "instances without enable=true must not appear in the resolved set")
}

func TestResolveIsPure(t *testing.T) {
	static := writeStatic(t, `
registries:
  registry-e:
    default:
      revisions: "7"
`)

	src := Source{
		ContainerLabels: map[string]map[string]string{
			"registry-e": {
				"abwart.enable":                "true",
				"abwart.rule.nightly.schedule": "0 2 * * *",
			},
		},
		StaticPath: static,
	}

	log := discardLogger()
	first, err := Resolve(src, log)
	require.NoError(t, err)
	second, err := Resolve(src, log)
	require.NoError(t, err)

	assert.Equal(t, len(first), len(second))
	assert.Equal(t, first["registry-e"].Rules["nightly"].Schedule, second["registry-e"].Rules["nightly"].Schedule)
}

func TestResolveRejectsMismatchedBasicAuth(t *testing.T) {
	static := writeStatic(t, `registries: {}`)

	src := Source{
		ContainerLabels: map[string]map[string]string{
			"registry-f": {
				"abwart.enable":                "true",
				"abwart.username":              "admin",
				"abwart.rule.nightly.schedule": "0 2 * * *",
			},
		},
		StaticPath: static,
	}

	resolved, err := Resolve(src, discardLogger())
	require.NoError(t, err)

	reg := resolved["registry-f"]
	assert.Empty(t, reg.Username, "username alone without a password must not be honored")
	assert.Empty(t, reg.Password)
}

func TestBaseURLPrefersNetworkNameOverContainerAddress(t *testing.T) {
	reg := ResolvedRegistry{InstanceName: "registry-g", Network: "registries_net", Port: 5000}
	assert.Equal(t, "http://registry-g:5000", reg.BaseURL("10.0.0.4"))

	noNetwork := ResolvedRegistry{InstanceName: "registry-h", Port: 5000}
	assert.Equal(t, "http://10.0.0.4:5000", noNetwork.BaseURL("10.0.0.4"))
}
