package policy

import (
	"fmt"
	"time"

	"github.com/openfroyo/catletctl/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are reported but do not block.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the machine from being created.
	SeverityError Severity = "error"
)

// Validate checks the severity.
func (s Severity) Validate() error {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return nil
	default:
		return fmt.Errorf("invalid severity: %q", s)
	}
}

// Blocking reports whether a violation of this severity denies the request.
func (s Severity) Blocking() bool {
	return s == SeverityError
}

// Policy is a named Rego module. Its violations are the members of the
// deny set of the module's package.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description,omitempty"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is a single deny result.
type Violation struct {
	Policy   string   `json:"policy"`
	Machine  string   `json:"machine,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (v Violation) String() string {
	return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Policy, v.Message)
}

// Result is the outcome of evaluating every enabled policy against one
// input.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations,omitempty"`

	// Evaluated lists the policies that ran, in evaluation order.
	Evaluated []string `json:"evaluated"`

	Duration time.Duration `json:"duration"`
}

// Blocking returns the violations that deny the request.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Input is the document policies see as input.
type Input struct {
	// Machine is the declared machine name.
	Machine string `json:"machine"`

	// Action is the lifecycle action about to run, e.g. "up".
	Action string `json:"action"`

	// Catlet is the resolved catlet configuration.
	Catlet engine.CatletSpec `json:"catlet"`

	// Fodder describes the resolved fodder without its content.
	Fodder []FodderRef `json:"fodder,omitempty"`
}

// FodderRef names one resolved fodder item.
type FodderRef struct {
	Name   string `json:"name,omitempty"`
	Type   string `json:"type,omitempty"`
	Source string `json:"source,omitempty"`
}

// NewInput builds the policy input for a resolved creation request. Fodder
// content is left out so secrets never reach policy code.
func NewInput(machine string, action engine.Action, req *engine.CreateRequest) *Input {
	in := &Input{Machine: machine, Action: string(action)}
	if req == nil {
		return in
	}
	in.Catlet = req.Spec
	for _, f := range req.Fodder {
		in.Fodder = append(in.Fodder, FodderRef{Name: f.Name, Type: string(f.Type), Source: f.Source})
	}
	return in
}
