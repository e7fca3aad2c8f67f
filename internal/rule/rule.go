// Package rule implements the two-phase Target/Requirement selection
// algebra (§4.2 of the spec) over a rule's configured policies.
package rule

import (
	"time"

	"abwart/internal/model"
	"abwart/internal/policy"
)

// Rule is a named, scheduled bundle of policies.
type Rule struct {
	Name     string
	Schedule string
	Tidy     bool
	Policies map[string]policy.Policy
}

// SelectRepositories and SelectTags each partition Policies by affection
// (targets, requirements) for their own subject. No built-in policy is a
// Requirement on the repository subject, so the repository-level
// requirements list is always empty today, but it is applied the same way
// should one be added.

// SelectRepositories runs the repository-level two-phase algorithm: the
// union of Target selections, intersected by any Requirement selections.
// A rule with no repository Target policy falls back to the default
// image.pattern = .+ (handled by the caller supplying it in defaults).
func (r Rule) SelectRepositories(repos []model.Repository) []model.Repository {
	var targets, requirements []policy.Policy
	for _, p := range r.Policies {
		if !p.AffectsRepositories() {
			continue
		}
		if p.Affection == policy.Target {
			targets = append(targets, p)
		} else {
			requirements = append(requirements, p)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	selected := unionRepos(targets, repos)
	for _, p := range requirements {
		selected = intersectRepos(selected, p.ApplyRepositories(repos))
	}
	return selected
}

// SelectTags runs the tag-level two-phase algorithm for one repository's
// tag snapshot: union of every Target policy's selection, intersected by
// every Requirement policy's selection. A rule with no tag Target policy
// selects nothing — Requirement-only rules never match (§4.2 step 2).
func (r Rule) SelectTags(tags []model.Tag, now time.Time) []model.Tag {
	var targets, requirements []policy.Policy
	for _, p := range r.Policies {
		if !p.AffectsTags() {
			continue
		}
		if p.Affection == policy.Target {
			targets = append(targets, p)
		} else {
			requirements = append(requirements, p)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	selected := unionTags(targets, tags, now)
	for _, p := range requirements {
		selected = intersectTags(selected, p.ApplyTags(tags, now))
	}
	return selected
}

// AppliedTidy reports whether the rule's own tidy flag or any policy
// actually selected in this execution carries tidy=true. Per §4.2/§9 the
// rule-level tidy is authoritative; per-policy tidy is an extension point
// that ORs in on top of it.
func (r Rule) AppliedTidy(appliedIdentifiers []string) bool {
	if r.Tidy {
		return true
	}
	applied := make(map[string]bool, len(appliedIdentifiers))
	for _, id := range appliedIdentifiers {
		applied[id] = true
	}
	for id, p := range r.Policies {
		if applied[id] && p.Tidy {
			return true
		}
	}
	return false
}

func unionTags(targets []policy.Policy, tags []model.Tag, now time.Time) []model.Tag {
	seen := make(map[string]model.Tag)
	for _, p := range targets {
		for _, t := range p.ApplyTags(tags, now) {
			seen[t.Name] = t
		}
	}
	return tagValues(seen)
}

func intersectTags(selected, constraint []model.Tag) []model.Tag {
	allowed := make(map[string]bool, len(constraint))
	for _, t := range constraint {
		allowed[t.Name] = true
	}
	var out []model.Tag
	for _, t := range selected {
		if allowed[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

func unionRepos(targets []policy.Policy, repos []model.Repository) []model.Repository {
	seen := make(map[string]model.Repository)
	for _, p := range targets {
		for _, r := range p.ApplyRepositories(repos) {
			seen[r.Name] = r
		}
	}
	return repoValues(seen)
}

func intersectRepos(selected, constraint []model.Repository) []model.Repository {
	allowed := make(map[string]bool, len(constraint))
	for _, r := range constraint {
		allowed[r.Name] = true
	}
	var out []model.Repository
	for _, r := range selected {
		if allowed[r.Name] {
			out = append(out, r)
		}
	}
	return out
}

func tagValues(m map[string]model.Tag) []model.Tag {
	out := make([]model.Tag, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	return out
}

func repoValues(m map[string]model.Repository) []model.Repository {
	out := make([]model.Repository, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	return out
}
