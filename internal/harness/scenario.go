package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/grantlink/internal/access"
)

// Scenario is one replayable client visit, or several.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Link and Agency are used by every step that does not override them.
	Link   string `yaml:"link"`
	Agency string `yaml:"agency"`

	// IDs are handed out, in order, to records the scenario creates.
	IDs []string `yaml:"ids"`

	// Credentials lists the platforms every session holds a credential for.
	Credentials []access.Platform `yaml:"credentials,omitempty"`

	// EntityUsers seeds the fake platform.
	EntityUsers []EntityFixture `yaml:"entity_users,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// EntityFixture is the users list of one entity on the fake platform.
type EntityFixture struct {
	Service string        `yaml:"service"`
	Entity  string        `yaml:"entity"`
	Users   []UserFixture `yaml:"users"`
}

// UserFixture is one entity user.
type UserFixture struct {
	Identity string   `yaml:"identity"`
	Levels   []string `yaml:"levels"`
}

// Step operations.
const (
	OpResolve = "resolve"
	OpAttach  = "attach"
	OpUpsert  = "upsert"
	OpRemove  = "remove"
	OpVerify  = "verify"
)

// Step is one engine call.
type Step struct {
	Op      string `yaml:"op"`
	Session string `yaml:"session"`

	Platform access.Platform `yaml:"platform,omitempty"`
	User     string          `yaml:"user,omitempty"`
	Link     string          `yaml:"link,omitempty"`
	Agency   string          `yaml:"agency,omitempty"`
	Access   string          `yaml:"access,omitempty"`

	Service  string `yaml:"service,omitempty"`
	Entity   string `yaml:"entity,omitempty"`
	Identity string `yaml:"identity,omitempty"`

	// Success defaults to true for upsert steps.
	Success *bool `yaml:"success,omitempty"`

	Expect *StepExpect `yaml:"expect,omitempty"`
}

// StepExpect is checked against the step's outcome. Without an expect
// clause a step must succeed.
type StepExpect struct {
	// State is the expected verification state (verify steps only).
	State string `yaml:"state,omitempty"`

	// Error is the expected engine error code, e.g. CONFLICT_ON_MERGE.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the final stored records.
type Assertion struct {
	Type string `yaml:"type"`

	// Count is the expected number of records (record_count).
	Count int `yaml:"count,omitempty"`

	// Link overrides the scenario link (record_count).
	Link string `yaml:"link,omitempty"`

	// Record is the record id the assertion inspects.
	Record string `yaml:"record,omitempty"`

	Platform access.Platform `yaml:"platform,omitempty"`
	User     string          `yaml:"user,omitempty"`
	Service  string          `yaml:"service,omitempty"`
	Entity   string          `yaml:"entity,omitempty"`

	// Expect holds entry fields to compare (access). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertRecordCount  = "record_count"
	AssertRecordAbsent = "record_absent"
	AssertIdentity     = "identity"
	AssertAccess       = "access"
	AssertNoAccess     = "no_access"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Link == "" {
		return fmt.Errorf("link is required")
	}
	if s.Agency == "" {
		return fmt.Errorf("agency is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	seen := map[string]bool{}
	for i, id := range s.IDs {
		if id == "" {
			return fmt.Errorf("ids[%d]: empty id", i)
		}
		if seen[id] {
			return fmt.Errorf("ids[%d]: duplicate id %q", i, id)
		}
		seen[id] = true
	}

	for i, e := range s.EntityUsers {
		if e.Service == "" || e.Entity == "" {
			return fmt.Errorf("entity_users[%d]: service and entity are required", i)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	if step.Session == "" {
		return fmt.Errorf("session is required")
	}
	need := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("%s is required for %s", field, step.Op)
		}
		return nil
	}

	var checks []error
	switch step.Op {
	case OpResolve:
		checks = append(checks, need("platform", string(step.Platform)), need("user", step.User), need("access", step.Access))
	case OpAttach:
		checks = append(checks, need("platform", string(step.Platform)), need("user", step.User))
	case OpUpsert:
		checks = append(checks, need("platform", string(step.Platform)), need("service", step.Service),
			need("entity", step.Entity), need("access", step.Access))
	case OpRemove:
		checks = append(checks, need("platform", string(step.Platform)), need("service", step.Service), need("entity", step.Entity))
	case OpVerify:
		checks = append(checks, need("service", step.Service), need("entity", step.Entity),
			need("access", step.Access), need("identity", step.Identity))
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}

	if step.Expect != nil {
		if step.Expect.State == "" && step.Expect.Error == "" {
			return fmt.Errorf("expect needs state or error")
		}
		if step.Expect.State != "" && step.Op != OpVerify {
			return fmt.Errorf("expect.state only applies to verify")
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertRecordCount:
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative")
		}
	case AssertRecordAbsent:
		if a.Record == "" {
			return fmt.Errorf("record is required for %s", a.Type)
		}
	case AssertIdentity:
		if a.Record == "" || a.Platform == "" || a.User == "" {
			return fmt.Errorf("record, platform and user are required for %s", a.Type)
		}
	case AssertAccess, AssertNoAccess:
		if a.Record == "" || a.Platform == "" || a.Service == "" || a.Entity == "" {
			return fmt.Errorf("record, platform, service and entity are required for %s", a.Type)
		}
		if a.Type == AssertAccess && len(a.Expect) == 0 {
			return fmt.Errorf("expect is required for %s", a.Type)
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
