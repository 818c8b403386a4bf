package harness

import "github.com/roach88/grantlink/internal/access"

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Op      string `json:"op"`
	Session string `json:"session"`

	// Result is "ok" or the engine error code.
	Result string `json:"result"`

	// RecordID is the held record after the step, if any.
	RecordID string `json:"record_id,omitempty"`

	// Verification outcome fields (verify steps only).
	State         string `json:"state,omitempty"`
	ExpectedLevel string `json:"expected_level,omitempty"`
	ActualLevel   string `json:"actual_level,omitempty"`
	Cycle         int64  `json:"cycle,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step met its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// Records are the stored records of the scenario's links, by id.
	Records []access.ConnectionResult `json:"records"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Records: []access.ConnectionResult{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
