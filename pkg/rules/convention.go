// Package rules describes normalization rules that translate cross-reference
// identifiers between the conventions of two model variants.
package rules

import (
	"fmt"
	"strings"
)

// Convention identifies the class of reference a rule side matches.
type Convention uint8

const (
	_ Convention = iota // zero value is invalid

	ConventionMeshID
	ConventionAttachment
	ConventionBone
	ConventionTexture

	conventionEnd
)

var conventionNames = [...]string{
	ConventionMeshID:     "mesh_id",
	ConventionAttachment: "attachment",
	ConventionBone:       "bone",
	ConventionTexture:    "texture",
}

// String returns the configuration name of the convention.
func (c Convention) String() string {
	if c.Valid() {
		return conventionNames[c]
	}
	return fmt.Sprintf("Unknown(%d)", c)
}

// Valid reports whether c is one of the defined conventions.
func (c Convention) Valid() bool {
	return c > 0 && c < conventionEnd
}

// Conventions returns every defined convention in tag order.
func Conventions() []Convention {
	out := make([]Convention, 0, int(conventionEnd)-1)
	for c := ConventionMeshID; c < conventionEnd; c++ {
		out = append(out, c)
	}
	return out
}

// ParseConvention parses a configuration name such as "mesh_id".
func ParseConvention(name string) (Convention, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, c := range Conventions() {
		if conventionNames[c] == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown convention %q", ErrInvalidGrammar, name)
}

// schema lists what a convention's matchers may contain.
type schema struct {
	ids   bool
	maxID uint32
	names bool
	globs bool
}

func (c Convention) schema() schema {
	switch c {
	case ConventionMeshID:
		return schema{ids: true, maxID: 65535}
	case ConventionAttachment:
		return schema{ids: true, maxID: 255}
	case ConventionBone:
		return schema{ids: true, maxID: 65535, names: true}
	case ConventionTexture:
		return schema{globs: true}
	default:
		return schema{}
	}
}
