package platform

import (
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// descriptorSchema constrains the descriptor table. Uniqueness of platform
// and service names is checked in Go by NewRegistry.
const descriptorSchema = `
#Service: {
	name:       =~"^[A-Za-z][A-Za-z0-9_]*$"
	comparator: "binary" | "graded"
	levels?: [...string]
	expected?: {
		view?:   string
		manage?: string
	}
	if comparator == "graded" {
		levels: [string, ...string]
		expected: {
			view:   or(levels)
			manage: or(levels)
		}
	}
}

#Platform: {
	name:           =~"^[a-z][a-z0-9_]*$"
	identity_field: "agency_email" | "agency_identifier"
	services: [#Service, ...#Service]
}

#Config: {
	platforms: [#Platform, ...#Platform]
}
`

// validateSchema checks cfg against the CUE schema.
func validateSchema(cfg Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode descriptors: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(descriptorSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile descriptor schema: %w", err)
	}

	value := ctx.CompileBytes(data)
	if err := value.Err(); err != nil {
		return fmt.Errorf("decode descriptors: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("descriptors do not match schema: %w", err)
	}
	return nil
}
