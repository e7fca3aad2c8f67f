package rule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abwart/internal/model"
	"abwart/internal/policy"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return ts
}

func appTags(t *testing.T) []model.Tag {
	t.Helper()
	return []model.Tag{
		{Name: "v1", CreatedAt: mustTime(t, "2024-01-01")},
		{Name: "v2", CreatedAt: mustTime(t, "2024-01-02")},
		{Name: "v3", CreatedAt: mustTime(t, "2024-01-03")},
		{Name: "v4", CreatedAt: mustTime(t, "2024-01-04")},
		{Name: "v5", CreatedAt: mustTime(t, "2024-01-05")},
	}
}

func names(tags []model.Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.Name
	}
	return out
}

// S1 — revisions alone.
func TestSelectTagsRevisionsOnly(t *testing.T) {
	revisions, err := policy.NewCount(policy.Revisions, 2, false)
	require.NoError(t, err)

	r := Rule{Name: "r", Policies: map[string]policy.Policy{policy.Revisions: revisions}}
	selected := r.SelectTags(appTags(t), time.Now())
	assert.ElementsMatch(t, []string{"v1", "v2", "v3"}, names(selected))
}

// S2 — revisions with an age.min guard narrows the union.
func TestSelectTagsRevisionsWithAgeMinGuard(t *testing.T) {
	now := mustTime(t, "2024-01-05").Add(12 * time.Hour)
	revisions, err := policy.NewCount(policy.Revisions, 2, false)
	require.NoError(t, err)
	ageMin, err := policy.NewDuration(policy.AgeMin, 2*24*time.Hour, false)
	require.NoError(t, err)

	r := Rule{Name: "r", Policies: map[string]policy.Policy{
		policy.Revisions: revisions,
		policy.AgeMin:    ageMin,
	}}
	selected := r.SelectTags(appTags(t), now)
	assert.ElementsMatch(t, []string{"v1", "v2", "v3"}, names(selected))

	ageMin3d, err := policy.NewDuration(policy.AgeMin, 3*24*time.Hour, false)
	require.NoError(t, err)
	r.Policies[policy.AgeMin] = ageMin3d
	selected = r.SelectTags(appTags(t), now)
	assert.ElementsMatch(t, []string{"v1", "v2"}, names(selected))
}

// S3 — age.max alone.
func TestSelectTagsAgeMaxOnly(t *testing.T) {
	now := mustTime(t, "2024-01-05").Add(12 * time.Hour)
	ageMax, err := policy.NewDuration(policy.AgeMax, 3*24*time.Hour, false)
	require.NoError(t, err)

	r := Rule{Name: "r", Policies: map[string]policy.Policy{policy.AgeMax: ageMax}}
	selected := r.SelectTags(appTags(t), now)
	assert.ElementsMatch(t, []string{"v1", "v2"}, names(selected))
}

// S4 — tag.pattern and revisions are both Target policies and union,
// they never intersect with each other (only Requirement policies do).
func TestSelectTagsUnionsMultipleTargets(t *testing.T) {
	tags := []model.Tag{
		{Name: "release-1", CreatedAt: mustTime(t, "2024-01-01")},
		{Name: "release-2", CreatedAt: mustTime(t, "2024-01-02")},
		{Name: "nightly-1", CreatedAt: mustTime(t, "2024-01-03")},
		{Name: "nightly-2", CreatedAt: mustTime(t, "2024-01-04")},
	}

	pattern, err := policy.ParsePattern("nightly-.+")
	require.NoError(t, err)
	tagPattern, err := policy.NewPattern(policy.TagPattern, pattern, false)
	require.NoError(t, err)
	revisions, err := policy.NewCount(policy.Revisions, 1, false)
	require.NoError(t, err)

	r := Rule{Name: "r", Policies: map[string]policy.Policy{
		policy.TagPattern: tagPattern,
		policy.Revisions:  revisions,
	}}
	selected := r.SelectTags(tags, time.Now())
	assert.ElementsMatch(t, []string{"release-1", "release-2", "nightly-1", "nightly-2"}, names(selected))
}

// S5 — a Requirement-only rule matches nothing.
func TestSelectTagsRequirementOnlyMatchesNothing(t *testing.T) {
	ageMin, err := policy.NewDuration(policy.AgeMin, 24*time.Hour, false)
	require.NoError(t, err)

	r := Rule{Name: "r", Policies: map[string]policy.Policy{policy.AgeMin: ageMin}}
	selected := r.SelectTags(appTags(t), time.Now())
	assert.Empty(t, selected)
}

func TestSelectRepositoriesDefaultsToAll(t *testing.T) {
	allPattern, err := policy.ParsePattern(".+")
	require.NoError(t, err)
	imagePattern, err := policy.NewPattern(policy.ImagePattern, allPattern, false)
	require.NoError(t, err)

	r := Rule{Name: "r", Policies: map[string]policy.Policy{policy.ImagePattern: imagePattern}}
	repos := []model.Repository{{Name: "a"}, {Name: "b"}}
	assert.ElementsMatch(t, repos, r.SelectRepositories(repos))
}

func TestSelectRepositoriesNoTargetMatchesNothing(t *testing.T) {
	r := Rule{Name: "r", Policies: map[string]policy.Policy{}}
	repos := []model.Repository{{Name: "a"}}
	assert.Empty(t, r.SelectRepositories(repos))
}

func TestAppliedTidyOrsRuleAndPolicy(t *testing.T) {
	revisions, err := policy.NewCount(policy.Revisions, 1, true)
	require.NoError(t, err)
	r := Rule{Name: "r", Tidy: false, Policies: map[string]policy.Policy{policy.Revisions: revisions}}

	assert.True(t, r.AppliedTidy([]string{policy.Revisions}))
	assert.False(t, r.AppliedTidy(nil))
}
