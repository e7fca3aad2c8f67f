// Package policy implements the predicates that decide which tags and
// repositories are eligible for deletion. A policy is a small, closed set
// of tagged variants (one per identifier) rather than an open interface
// hierarchy: the set is fixed at build time, so dispatch is a switch over
// the identifier instead of per-policy dynamic dispatch in the hot loop.
package policy

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"abwart/internal/model"
)

// Affection classifies whether a policy contributes to the initial
// candidate union (Target) or narrows it afterwards (Requirement).
type Affection int

const (
	Target Affection = iota
	Requirement
)

func (a Affection) String() string {
	if a == Target {
		return "target"
	}
	return "requirement"
}

// Subject is what a policy is evaluated against.
type Subject int

const (
	SubjectTag Subject = iota
	SubjectRepository
)

// Identifiers for the built-in policies (§4.1 of the spec).
const (
	Revisions    = "revisions"
	AgeMax       = "age.max"
	AgeMin       = "age.min"
	TagPattern   = "tag.pattern"
	Size         = "size"
	ImagePattern = "image.pattern"
)

// defaultParam holds each built-in's default, pre-parse, value. An empty
// string means "no default" (the policy does nothing until configured).
var defaultParam = map[string]string{
	Revisions:    "15",
	AgeMax:       "",
	AgeMin:       "",
	TagPattern:   ".+",
	Size:         "",
	ImagePattern: ".+",
}

// builtins describes the fixed metadata of every identifier this build
// knows about. Adding a policy means adding an entry here and a case in
// ApplyTags/ApplyRepositories.
var builtins = map[string]struct {
	affection Affection
	subject   Subject
}{
	Revisions:    {Target, SubjectTag},
	AgeMax:       {Target, SubjectTag},
	AgeMin:       {Requirement, SubjectTag},
	TagPattern:   {Target, SubjectTag},
	Size:         {Target, SubjectTag},
	ImagePattern: {Target, SubjectRepository},
}

// Known reports whether identifier names a built-in policy.
func Known(identifier string) bool {
	_, ok := builtins[identifier]
	return ok
}

// Identifiers returns every built-in policy identifier this build knows
// about, in a stable order, for callers that need to walk the full set
// (e.g. the config resolver's defaults-chain lookup).
func Identifiers() []string {
	return []string{Revisions, AgeMax, AgeMin, TagPattern, Size, ImagePattern}
}

// Default returns the unparsed default parameter for identifier.
func Default(identifier string) string {
	return defaultParam[identifier]
}

// Policy is one configured, already-parsed predicate.
type Policy struct {
	Identifier string
	Affection  Affection
	Subject    Subject
	Tidy       bool

	duration time.Duration
	size     int64
	count    int
	pattern  *regexp.Regexp
}

// newPolicy builds a Policy's common fields from its identifier's
// metadata. Callers get the already-parsed parameter into the right field
// via one of the New* constructors below;
// this keeps parsing (which can fail) in the config layer and construction
// (which cannot) here.
func newPolicy(identifier string, tidy bool) (Policy, error) {
	meta, ok := builtins[identifier]
	if !ok {
		return Policy{}, fmt.Errorf("policy: unknown identifier %q", identifier)
	}
	return Policy{
		Identifier: identifier,
		Affection:  meta.affection,
		Subject:    meta.subject,
		Tidy:       tidy,
	}, nil
}

// NewDuration builds a duration-parameterized policy (age.max, age.min).
func NewDuration(identifier string, d time.Duration, tidy bool) (Policy, error) {
	p, err := newPolicy(identifier, tidy)
	if err != nil {
		return Policy{}, err
	}
	p.duration = d
	return p, nil
}

// NewSize builds the size policy.
func NewSize(identifier string, bytes int64, tidy bool) (Policy, error) {
	p, err := newPolicy(identifier, tidy)
	if err != nil {
		return Policy{}, err
	}
	p.size = bytes
	return p, nil
}

// NewCount builds the revisions policy.
func NewCount(identifier string, n int, tidy bool) (Policy, error) {
	p, err := newPolicy(identifier, tidy)
	if err != nil {
		return Policy{}, err
	}
	p.count = n
	return p, nil
}

// NewPattern builds a regex-parameterized policy (tag.pattern, image.pattern).
func NewPattern(identifier string, re *regexp.Regexp, tidy bool) (Policy, error) {
	p, err := newPolicy(identifier, tidy)
	if err != nil {
		return Policy{}, err
	}
	p.pattern = re
	return p, nil
}

// AffectsTags reports whether this policy is evaluated over tags.
func (p Policy) AffectsTags() bool { return p.Subject == SubjectTag }

// AffectsRepositories reports whether this policy is evaluated over repositories.
func (p Policy) AffectsRepositories() bool { return p.Subject == SubjectRepository }

// ApplyTags evaluates the policy against a tag set and returns the
// selected subset. now is captured once per rule execution by the caller
// and reused for every age comparison so a run is internally consistent.
func (p Policy) ApplyTags(tags []model.Tag, now time.Time) []model.Tag {
	switch p.Identifier {
	case Revisions:
		return applyRevisions(tags, p.count)
	case AgeMax:
		return filterTags(tags, func(t model.Tag) bool {
			if t.CreatedAtUnknown {
				return false // treated as newest: never selected for deletion
			}
			return now.Sub(t.CreatedAt) > p.duration
		})
	case AgeMin:
		return filterTags(tags, func(t model.Tag) bool {
			if t.CreatedAtUnknown {
				return true // treated as epoch: always satisfies the min-age guard
			}
			return now.Sub(t.CreatedAt) > p.duration
		})
	case TagPattern:
		return filterTags(tags, func(t model.Tag) bool {
			return p.pattern.MatchString(t.Name)
		})
	case Size:
		return filterTags(tags, func(t model.Tag) bool {
			return t.TotalBlobSize > p.size
		})
	default:
		return nil
	}
}

// ApplyRepositories evaluates a repository-subject policy.
func (p Policy) ApplyRepositories(repos []model.Repository) []model.Repository {
	switch p.Identifier {
	case ImagePattern:
		var out []model.Repository
		for _, r := range repos {
			if p.pattern.MatchString(r.Name) {
				out = append(out, r)
			}
		}
		return out
	default:
		return nil
	}
}

func filterTags(tags []model.Tag, keep func(model.Tag) bool) []model.Tag {
	var out []model.Tag
	for _, t := range tags {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

// applyRevisions sorts tags by CreatedAt ascending (ties broken by name)
// and selects the oldest len(tags)-n for deletion.
func applyRevisions(tags []model.Tag, n int) []model.Tag {
	if len(tags) <= n {
		return nil
	}
	sorted := make([]model.Tag, len(tags))
	copy(sorted, tags)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return sorted[:len(sorted)-n]
}
