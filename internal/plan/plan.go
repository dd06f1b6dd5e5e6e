// Package plan holds the compiler's output model: per-route step sequences
// plus the derived application-state record.
package plan

import (
	"fmt"
	"sort"
	"strings"
)

// StepKind discriminates plan steps.
type StepKind int

const (
	// StepInput binds an externally supplied value.
	StepInput StepKind = iota
	// StepBind invokes a computation and binds its output.
	StepBind
	// StepBranch dispatches on a previously bound fallible result.
	StepBranch
)

// Arg is one argument of a bind step.
type Arg struct {
	// Binding names the previously bound value being passed.
	Binding string
	// Borrow marks the argument as passed by reference; otherwise the
	// value is consumed (or trivially copied).
	Borrow bool
}

func (a Arg) String() string {
	if a.Borrow {
		return "&" + a.Binding
	}
	return a.Binding
}

// Step is one entry of a route plan. Bindings are assigned in emission
// order (v0, v1, ...), so equal graphs always produce identical plans.
type Step struct {
	Kind StepKind
	// Binding is the name the step introduces; empty for branch steps.
	Binding string
	// Label is what runs or arrives: the component name for binds, the
	// supplied type for inputs.
	Label string
	Async bool
	Args  []Arg
	// On is the binding holding the fallible result a branch dispatches
	// on; Ok and Err are the branch bodies.
	On  string
	Ok  []Step
	Err []Step
}

// RoutePlan is the compiled step sequence for one route.
type RoutePlan struct {
	Route   string
	Handler string
	Steps   []Step
}

// StateField is one slot of the application-state record.
type StateField struct {
	Name        string
	Type        string
	Constructor string
}

// ApplicationState is the derived record of singleton values constructed
// once at process start and shared across request workers.
type ApplicationState struct {
	Fields []StateField
}

// Plan is the full output of one compiler run.
type Plan struct {
	RunID  string
	State  ApplicationState
	Routes []RoutePlan
}

// Sort puts routes and state fields into their canonical order. Format
// assumes a sorted plan.
func (p *Plan) Sort() {
	sort.Slice(p.Routes, func(i, j int) bool { return p.Routes[i].Route < p.Routes[j].Route })
	sort.Slice(p.State.Fields, func(i, j int) bool { return p.State.Fields[i].Name < p.State.Fields[j].Name })
}

// Format renders the plan as deterministic text. The run id is deliberately
// excluded: two runs over identical inputs must render byte-identically.
func (p *Plan) Format() string {
	var sb strings.Builder
	sb.WriteString("state {\n")
	for _, f := range p.State.Fields {
		fmt.Fprintf(&sb, "  %s: %s = %s()\n", f.Name, f.Type, f.Constructor)
	}
	sb.WriteString("}\n")
	for _, r := range p.Routes {
		fmt.Fprintf(&sb, "route %q {\n", r.Route)
		writeSteps(&sb, r.Steps, 1)
		sb.WriteString("}\n")
	}
	return sb.String()
}

func writeSteps(sb *strings.Builder, steps []Step, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, s := range steps {
		switch s.Kind {
		case StepInput:
			fmt.Fprintf(sb, "%s%s = input %s\n", indent, s.Binding, s.Label)
		case StepBind:
			call := "call"
			if s.Async {
				call = "await"
			}
			args := make([]string, len(s.Args))
			for i, a := range s.Args {
				args[i] = a.String()
			}
			fmt.Fprintf(sb, "%s%s = %s %s(%s)\n", indent, s.Binding, call, s.Label, strings.Join(args, ", "))
		case StepBranch:
			fmt.Fprintf(sb, "%smatch %s {\n", indent, s.On)
			fmt.Fprintf(sb, "%s  ok:\n", indent)
			writeSteps(sb, s.Ok, depth+2)
			fmt.Fprintf(sb, "%s  err:\n", indent)
			writeSteps(sb, s.Err, depth+2)
			fmt.Fprintf(sb, "%s}\n", indent)
		}
	}
}
