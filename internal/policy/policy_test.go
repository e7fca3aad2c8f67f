package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abwart/internal/model"
)

func mustParseTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return ts
}

func appTags(t *testing.T) []model.Tag {
	t.Helper()
	return []model.Tag{
		{Name: "v1", CreatedAt: mustParseTime(t, "2024-01-01")},
		{Name: "v2", CreatedAt: mustParseTime(t, "2024-01-02")},
		{Name: "v3", CreatedAt: mustParseTime(t, "2024-01-03")},
		{Name: "v4", CreatedAt: mustParseTime(t, "2024-01-04")},
		{Name: "v5", CreatedAt: mustParseTime(t, "2024-01-05")},
	}
}

func names(tags []model.Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.Name
	}
	return out
}

// S1 — revisions keeps the newest N, selecting the oldest len-N.
func TestRevisionsSelectsOldest(t *testing.T) {
	p, err := NewCount(Revisions, 2, false)
	require.NoError(t, err)

	selected := p.ApplyTags(appTags(t), time.Now())
	assert.ElementsMatch(t, []string{"v1", "v2", "v3"}, names(selected))
}

func TestRevisionsNoOpWhenUnderLimit(t *testing.T) {
	p, err := NewCount(Revisions, 10, false)
	require.NoError(t, err)
	assert.Empty(t, p.ApplyTags(appTags(t), time.Now()))
}

// S3 — age.max selects tags strictly older than the duration.
func TestAgeMaxSelectsOlderThan(t *testing.T) {
	now := mustParseTime(t, "2024-01-05").Add(12 * time.Hour)
	p, err := NewDuration(AgeMax, 3*24*time.Hour, false)
	require.NoError(t, err)

	selected := p.ApplyTags(appTags(t), now)
	assert.ElementsMatch(t, []string{"v1", "v2"}, names(selected))
}

// S2 — age.min is a Requirement guard, same predicate shape as age.max.
func TestAgeMinKeepsOlderThan(t *testing.T) {
	now := mustParseTime(t, "2024-01-05").Add(12 * time.Hour)
	p, err := NewDuration(AgeMin, 2*24*time.Hour, false)
	require.NoError(t, err)
	assert.Equal(t, Requirement, p.Affection)

	selected := p.ApplyTags(appTags(t), now)
	assert.ElementsMatch(t, []string{"v1", "v2", "v3"}, names(selected))
}

func TestTagPatternFullMatch(t *testing.T) {
	re, err := ParsePattern("nightly-.+")
	require.NoError(t, err)
	p, err := NewPattern(TagPattern, re, false)
	require.NoError(t, err)

	tags := []model.Tag{{Name: "release-1"}, {Name: "nightly-1"}, {Name: "nightly-release-2"}}
	selected := p.ApplyTags(tags, time.Now())
	assert.ElementsMatch(t, []string{"nightly-1", "nightly-release-2"}, names(selected))
}

func TestSizeSelectsLarger(t *testing.T) {
	p, err := NewSize(Size, 10<<20, false) // 10 MiB
	require.NoError(t, err)

	tags := []model.Tag{
		{Name: "small", TotalBlobSize: 1 << 20},
		{Name: "big", TotalBlobSize: 50 << 20},
	}
	selected := p.ApplyTags(tags, time.Now())
	assert.ElementsMatch(t, []string{"big"}, names(selected))
}

func TestImagePatternMatchesRepositoryName(t *testing.T) {
	re, err := ParsePattern("app-.+")
	require.NoError(t, err)
	p, err := NewPattern(ImagePattern, re, false)
	require.NoError(t, err)

	repos := []model.Repository{{Name: "app-a"}, {Name: "other"}}
	selected := p.ApplyRepositories(repos)
	require.Len(t, selected, 1)
	assert.Equal(t, "app-a", selected[0].Name)
}

func TestParseDurationUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"2h":  2 * time.Hour,
		"3d":  3 * 24 * time.Hour,
		"2w":  2 * 7 * 24 * time.Hour,
	}
	for raw, want := range cases {
		got, err := ParseDuration(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
}

func TestParseSizeBinaryUnits(t *testing.T) {
	got, err := ParseSize("1MiB")
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), got)
}

func TestBuildRejectsEmptyParameter(t *testing.T) {
	_, err := Build(AgeMax, "", false)
	assert.Error(t, err)
}

func TestBuildRejectsUnknownIdentifier(t *testing.T) {
	_, err := Build("bogus", "1h", false)
	assert.Error(t, err)
}
