// Package model holds the value types shared by the policy engine, the
// rule executor and the registry client adapter.
package model

import "time"

// Tag is one manifest reference within a Repository.
type Tag struct {
	Name          string
	CreatedAt     time.Time
	TotalBlobSize int64

	// CreatedAtUnknown is set when neither the manifest nor its newest
	// referenced blob carried a creation timestamp. Age policies must
	// never delete a tag they cannot evaluate (spec §3): age.max treats
	// such a tag as infinitely new, age.min treats it as infinitely old,
	// so a single sentinel CreatedAt value can't represent both — this
	// flag lets each policy pick its own direction.
	CreatedAtUnknown bool
}

// Repository is a named group of tags in a registry.
type Repository struct {
	Name string
	Tags []Tag
}
