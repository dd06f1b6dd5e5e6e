// Package component holds the user-facing registrations that wrap
// computations with lifecycle, scope and policy metadata, plus the database
// that interns them.
package component

import (
	"fmt"

	"github.com/vk/planc/internal/compute"
	"github.com/vk/planc/internal/diagnostics"
	"github.com/vk/planc/internal/scopes"
)

// Id identifies a component in the database.
type Id int

// Invalid is the sentinel for "no component".
const Invalid Id = -1

// Kind discriminates what a component was registered as.
type Kind int

const (
	KindConstructor Kind = iota
	KindRequestHandler
	KindMiddleware
	KindFallback
	KindErrorHandler
	KindConfig
	KindPrebuilt
	// KindTransformer marks synthetic components the compiler interns on
	// its own behalf: clone nodes and fallible-result splits.
	KindTransformer
)

func (k Kind) String() string {
	switch k {
	case KindConstructor:
		return "constructor"
	case KindRequestHandler:
		return "handler"
	case KindMiddleware:
		return "middleware"
	case KindFallback:
		return "fallback"
	case KindErrorHandler:
		return "error handler"
	case KindConfig:
		return "config"
	case KindPrebuilt:
		return "prebuilt"
	case KindTransformer:
		return "transformer"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Lifecycle governs how many times a component's computation may run.
type Lifecycle int

const (
	// Singleton components run at most once per process; their values live
	// in the shared application state.
	Singleton Lifecycle = iota
	// RequestScoped components run at most once per request.
	RequestScoped
	// Transient components run every time their output is needed.
	Transient
)

func (l Lifecycle) String() string {
	switch l {
	case Singleton:
		return "singleton"
	case RequestScoped:
		return "request_scoped"
	case Transient:
		return "transient"
	default:
		return fmt.Sprintf("lifecycle(%d)", int(l))
	}
}

// ParseLifecycle converts a blueprint attribute value into a Lifecycle.
func ParseLifecycle(s string) (Lifecycle, error) {
	switch s {
	case "singleton":
		return Singleton, nil
	case "request_scoped", "":
		return RequestScoped, nil
	case "transient":
		return Transient, nil
	default:
		return 0, fmt.Errorf("invalid lifecycle %q: must be 'singleton', 'request_scoped' or 'transient'", s)
	}
}

// InvocationLimit is the graph-level consequence of a lifecycle: whether a
// later consumer may re-borrow an already produced value or must trigger a
// fresh computation.
type InvocationLimit int

const (
	// AtMostOnce: the node is shared; a second request for its output
	// reuses the existing graph node.
	AtMostOnce InvocationLimit = iota
	// Unlimited: every request allocates a fresh node and a fresh
	// invocation.
	Unlimited
)

// AllowedInvocations maps a lifecycle to its invocation limit.
func (l Lifecycle) AllowedInvocations() InvocationLimit {
	if l == Transient {
		return Unlimited
	}
	return AtMostOnce
}

// CloningPolicy states whether the ownership resolver may duplicate a
// component's output to satisfy competing consumers.
type CloningPolicy int

const (
	NeverClone CloningPolicy = iota
	CloneIfNecessary
)

func (p CloningPolicy) String() string {
	if p == CloneIfNecessary {
		return "clone_if_necessary"
	}
	return "never"
}

// ParseCloningPolicy converts a blueprint attribute value into a policy.
func ParseCloningPolicy(s string) (CloningPolicy, error) {
	switch s {
	case "never", "":
		return NeverClone, nil
	case "clone_if_necessary":
		return CloneIfNecessary, nil
	default:
		return 0, fmt.Errorf("invalid cloning policy %q: must be 'never' or 'clone_if_necessary'", s)
	}
}

// Component is one registration: a computation plus the metadata that
// governs how the compiler may schedule it.
type Component struct {
	Kind        Kind
	Name        string
	Computation compute.Id
	Lifecycle   Lifecycle
	Scope       scopes.Id
	Cloning     CloningPolicy
	// ErrorHandler points at the error-handler component associated with a
	// fallible registration, Invalid if none.
	ErrorHandler Id
	// Site is the blueprint registration location, used for diagnostics.
	Site diagnostics.Site
	// DerivedFrom points at the component a synthetic or specialized copy
	// was produced from, Invalid for user registrations.
	DerivedFrom Id
}
