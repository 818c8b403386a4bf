package platform

import (
	"fmt"

	"github.com/roach88/grantlink/internal/access"
)

// IdentityField names the GrantedAccess field that carries the agency
// identity on a platform.
type IdentityField string

const (
	IdentityEmail      IdentityField = "agency_email"
	IdentityIdentifier IdentityField = "agency_identifier"
)

// Apply stores identity in the field f names.
func (f IdentityField) Apply(g *access.GrantedAccess, identity string) {
	switch f {
	case IdentityEmail:
		g.AgencyEmail = identity
	default:
		g.AgencyIdentifier = identity
	}
}

// ComparatorKind selects how a service grades permissions.
type ComparatorKind string

const (
	ComparatorBinary ComparatorKind = "binary"
	ComparatorGraded ComparatorKind = "graded"
)

// Config is the on-disk form of the descriptor table.
type Config struct {
	Platforms []Descriptor `yaml:"platforms" json:"platforms"`
}

// Descriptor describes one platform.
type Descriptor struct {
	Name          access.Platform     `yaml:"name" json:"name"`
	IdentityField IdentityField       `yaml:"identity_field" json:"identity_field"`
	Services      []ServiceDescriptor `yaml:"services" json:"services"`
}

// ServiceDescriptor describes one service of a platform.
type ServiceDescriptor struct {
	Name       string         `yaml:"name" json:"name"`
	Comparator ComparatorKind `yaml:"comparator" json:"comparator"`

	// Levels are ordered least to most privileged. Graded services only.
	Levels []string `yaml:"levels,omitempty" json:"levels,omitempty"`

	// Expected maps "view" and "manage" to a level. Graded services only.
	Expected map[string]string `yaml:"expected,omitempty" json:"expected,omitempty"`
}

// comparator builds the Comparator for the service.
func (s ServiceDescriptor) comparator() (Comparator, error) {
	switch s.Comparator {
	case ComparatorBinary:
		return BinaryComparator{}, nil
	case ComparatorGraded:
		expected := make(map[access.AccessType]string, len(s.Expected))
		for k, v := range s.Expected {
			at, err := access.ParseAccessType(k)
			if err != nil {
				return nil, fmt.Errorf("service %s: %w", s.Name, err)
			}
			expected[at] = v
		}
		return NewGradedComparator(s.Levels, expected)
	default:
		return nil, fmt.Errorf("service %s: unknown comparator %q", s.Name, s.Comparator)
	}
}
