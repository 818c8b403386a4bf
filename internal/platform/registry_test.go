package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/grantlink/internal/access"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()

	assert.Equal(t, []access.Platform{"meta", "google"}, r.Platforms())

	svc, ok := r.Service("searchConsole")
	require.True(t, ok)
	assert.Equal(t, access.Platform("google"), svc.Platform)
	assert.Equal(t, IdentityEmail, svc.IdentityField)
	assert.IsType(t, &GradedComparator{}, svc.Comparator)

	svc, ok = r.Service("pixel")
	require.True(t, ok)
	assert.Equal(t, access.Platform("meta"), svc.Platform)
	assert.Equal(t, IdentityIdentifier, svc.IdentityField)
	assert.IsType(t, BinaryComparator{}, svc.Comparator)

	_, ok = r.Service("unknown")
	assert.False(t, ok)

	d, ok := r.Descriptor("google")
	require.True(t, ok)
	assert.Len(t, d.Services, 4)
	assert.Len(t, r.Services(), 8)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(`
platforms:
  - name: meta
    identity_feld: agency_identifier
    services:
      - name: pixel
        comparator: binary
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "bad identity field",
			yaml: `
platforms:
  - name: meta
    identity_field: agency_phone
    services:
      - name: pixel
        comparator: binary
`,
		},
		{
			name: "unknown comparator",
			yaml: `
platforms:
  - name: meta
    identity_field: agency_identifier
    services:
      - name: pixel
        comparator: fuzzy
`,
		},
		{
			name: "graded without expected",
			yaml: `
platforms:
  - name: google
    identity_field: agency_email
    services:
      - name: analytics
        comparator: graded
        levels: [viewer, administrator]
`,
		},
		{
			name: "expected level not in levels",
			yaml: `
platforms:
  - name: google
    identity_field: agency_email
    services:
      - name: analytics
        comparator: graded
        levels: [viewer, administrator]
        expected:
          view: viewer
          manage: superuser
`,
		},
		{
			name: "no services",
			yaml: `
platforms:
  - name: google
    identity_field: agency_email
    services: []
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "schema")
		})
	}
}

func TestParseChecksLeadingEntries(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		path string
	}{
		{
			name: "first platform identity field",
			path: "platforms.0.identity_field",
			yaml: `
platforms:
  - name: meta
    identity_field: bogus
    services:
      - name: pixel
        comparator: binary
  - name: google
    identity_field: agency_email
    services:
      - name: ads
        comparator: binary
`,
		},
		{
			name: "first service comparator",
			path: "platforms.1.services.0.comparator",
			yaml: `
platforms:
  - name: meta
    identity_field: agency_identifier
    services:
      - name: pixel
        comparator: binary
  - name: google
    identity_field: agency_email
    services:
      - name: ads
        comparator: ranked
      - name: analytics
        comparator: binary
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "schema")
			assert.Contains(t, err.Error(), tt.path)
		})
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(Config{Platforms: []Descriptor{
		{Name: "meta", IdentityField: IdentityIdentifier, Services: []ServiceDescriptor{{Name: "pixel", Comparator: ComparatorBinary}}},
		{Name: "other", IdentityField: IdentityIdentifier, Services: []ServiceDescriptor{{Name: "pixel", Comparator: ComparatorBinary}}},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `service "pixel"`)

	_, err = NewRegistry(Config{Platforms: []Descriptor{
		{Name: "meta", IdentityField: IdentityIdentifier},
		{Name: "meta", IdentityField: IdentityIdentifier},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate platform")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platforms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
platforms:
  - name: crm
    identity_field: agency_email
    services:
      - name: workspace
        comparator: graded
        levels: [guest, member, admin]
        expected:
          view: member
          manage: admin
`), 0644))

	r, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []access.Platform{"crm"}, r.Platforms())

	svc, ok := r.Service("workspace")
	require.True(t, ok)
	v := svc.Comparator.Compare(access.AccessView, []string{"Member"})
	assert.True(t, v.Match)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultDescriptorsParse(t *testing.T) {
	_, err := Parse(DefaultDescriptors())
	assert.NoError(t, err)
}

func TestIdentityFieldApply(t *testing.T) {
	var g access.GrantedAccess
	IdentityEmail.Apply(&g, "agency@example.com")
	assert.Equal(t, "agency@example.com", g.AgencyEmail)
	assert.Empty(t, g.AgencyIdentifier)

	g = access.GrantedAccess{}
	IdentityIdentifier.Apply(&g, "biz-1")
	assert.Equal(t, "biz-1", g.AgencyIdentifier)
	assert.Empty(t, g.AgencyEmail)
}
