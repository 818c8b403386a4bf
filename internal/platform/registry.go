package platform

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/grantlink/internal/access"
)

//go:embed platforms.yaml
var defaultDescriptors []byte

// Service is a registry entry for one service.
type Service struct {
	Name          string
	Platform      access.Platform
	IdentityField IdentityField
	Comparator    Comparator
}

// Registry is the lookup table of platform descriptors.
type Registry struct {
	descriptors []Descriptor
	byPlatform  map[access.Platform]Descriptor
	services    map[string]Service
}

// Default returns the registry of built-in descriptors.
func Default() *Registry {
	r, err := Parse(defaultDescriptors)
	if err != nil {
		panic(fmt.Sprintf("platform: built-in descriptors are invalid: %v", err))
	}
	return r
}

// DefaultDescriptors returns the embedded descriptor YAML.
func DefaultDescriptors() []byte {
	out := make([]byte, len(defaultDescriptors))
	copy(out, defaultDescriptors)
	return out
}

// LoadFile reads descriptors from a YAML file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor file: %w", err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Parse decodes YAML descriptors, rejecting unknown fields, validates them
// against the schema and builds a Registry.
func Parse(data []byte) (*Registry, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateSchema(cfg); err != nil {
		return nil, err
	}
	return NewRegistry(cfg)
}

// NewRegistry builds a Registry. Platform names and service names must be
// unique; service names are unique across platforms so a service alone
// identifies its platform.
func NewRegistry(cfg Config) (*Registry, error) {
	r := &Registry{
		byPlatform: make(map[access.Platform]Descriptor, len(cfg.Platforms)),
		services:   map[string]Service{},
	}
	for _, d := range cfg.Platforms {
		if d.Name == "" {
			return nil, fmt.Errorf("platform name is required")
		}
		if _, dup := r.byPlatform[d.Name]; dup {
			return nil, fmt.Errorf("duplicate platform %q", d.Name)
		}
		for _, sd := range d.Services {
			if prev, dup := r.services[sd.Name]; dup {
				return nil, fmt.Errorf("service %q declared by both %s and %s", sd.Name, prev.Platform, d.Name)
			}
			cmp, err := sd.comparator()
			if err != nil {
				return nil, fmt.Errorf("platform %s: %w", d.Name, err)
			}
			r.services[sd.Name] = Service{
				Name:          sd.Name,
				Platform:      d.Name,
				IdentityField: d.IdentityField,
				Comparator:    cmp,
			}
		}
		r.byPlatform[d.Name] = d
		r.descriptors = append(r.descriptors, d)
	}
	return r, nil
}

// Platforms returns platform names in declaration order.
func (r *Registry) Platforms() []access.Platform {
	out := make([]access.Platform, len(r.descriptors))
	for i, d := range r.descriptors {
		out[i] = d.Name
	}
	return out
}

// Descriptor returns the descriptor of p.
func (r *Registry) Descriptor(p access.Platform) (Descriptor, bool) {
	d, ok := r.byPlatform[p]
	return d, ok
}

// Service returns the entry for a service name.
func (r *Registry) Service(name string) (Service, bool) {
	s, ok := r.services[name]
	return s, ok
}

// Services returns every service in declaration order.
func (r *Registry) Services() []Service {
	var out []Service
	for _, d := range r.descriptors {
		for _, sd := range d.Services {
			out = append(out, r.services[sd.Name])
		}
	}
	return out
}
