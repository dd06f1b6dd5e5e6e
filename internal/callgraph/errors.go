package callgraph

import (
	"fmt"
	"strings"

	"github.com/vk/planc/internal/component"
	"github.com/vk/planc/internal/diagnostics"
	"github.com/vk/planc/internal/language"
)

// RouteError is implemented by every failure a route compilation can
// surface. Errors carry enough structure for the compiler to render a
// diagnostic without re-deriving anything from the graph.
type RouteError interface {
	error
	Diagnostic(db *component.Db, route string) diagnostics.Diagnostic
}

// MissingConstructorError: a required input type has no constructor visible
// from the requesting component's scope.
type MissingConstructorError struct {
	Requested   language.TypeRef
	RequestedBy component.Id
}

func (e *MissingConstructorError) Error() string {
	return fmt.Sprintf("no constructor for %s", e.Requested)
}

func (e *MissingConstructorError) Diagnostic(db *component.Db, route string) diagnostics.Diagnostic {
	by := db.Get(e.RequestedBy)
	return diagnostics.Diagnostic{
		Code:     diagnostics.CodeMissingConstructor,
		Severity: diagnostics.SeverityError,
		Route:    route,
		Summary:  fmt.Sprintf("no constructor is visible for %s, required by %s %q", e.Requested, by.Kind, by.Name),
		Help:     fmt.Sprintf("register a constructor for %s in a scope that %q can see", e.Requested, by.Name),
		Site:     by.Site,
	}
}

// AmbiguousConstructorError: two or more constructors for the same type are
// registered at the same distance from the requesting scope.
type AmbiguousConstructorError struct {
	Requested   language.TypeRef
	RequestedBy component.Id
	Candidates  []component.Id
}

func (e *AmbiguousConstructorError) Error() string {
	return fmt.Sprintf("%d constructors for %s", len(e.Candidates), e.Requested)
}

func (e *AmbiguousConstructorError) Diagnostic(db *component.Db, route string) diagnostics.Diagnostic {
	by := db.Get(e.RequestedBy)
	d := diagnostics.Diagnostic{
		Code:     diagnostics.CodeAmbiguousConstructor,
		Severity: diagnostics.SeverityError,
		Route:    route,
		Summary:  fmt.Sprintf("%d constructors for %s are equally close to %s %q", len(e.Candidates), e.Requested, by.Kind, by.Name),
		Help:     "move one of the candidates into a more specific scope, or remove it",
		Site:     by.Site,
	}
	for _, cid := range e.Candidates {
		c := db.Get(cid)
		d.Related = append(d.Related, diagnostics.Label{
			Message: fmt.Sprintf("candidate %q registered here", c.Name),
			Site:    c.Site,
		})
	}
	return d
}

// CycleError: a dependency chain that loops back onto itself. Chain holds
// the requested types in order, first element repeated at the end.
type CycleError struct {
	Chain  []language.TypeRef
	Anchor component.Id
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Chain))
	for i, t := range e.Chain {
		parts[i] = t.String()
	}
	return "dependency cycle: " + strings.Join(parts, " -> ")
}

func (e *CycleError) Diagnostic(db *component.Db, route string) diagnostics.Diagnostic {
	anchor := db.Get(e.Anchor)
	return diagnostics.Diagnostic{
		Code:     diagnostics.CodeCycle,
		Severity: diagnostics.SeverityError,
		Route:    route,
		Summary:  e.Error(),
		Help:     "break the cycle by taking one of the participating types by reference, or restructure the constructors",
		Site:     anchor.Site,
	}
}

// UnreachableErrorBranchError: a fallible computation participates in the
// graph but has no error handler to terminate its err branch.
type UnreachableErrorBranchError struct {
	Fallible component.Id
	ErrType  language.TypeRef
}

func (e *UnreachableErrorBranchError) Error() string {
	return fmt.Sprintf("fallible component has no error handler for %s", e.ErrType)
}

func (e *UnreachableErrorBranchError) Diagnostic(db *component.Db, route string) diagnostics.Diagnostic {
	c := db.Get(e.Fallible)
	return diagnostics.Diagnostic{
		Code:     diagnostics.CodeUnreachableErrorBranch,
		Severity: diagnostics.SeverityError,
		Route:    route,
		Summary:  fmt.Sprintf("%s %q can fail with %s but no error handler is attached", c.Kind, c.Name, e.ErrType),
		Help:     fmt.Sprintf("attach an error_handler accepting %s to %q", e.ErrType, c.Name),
		Site:     c.Site,
	}
}

// BorrowConflictError: a value is needed by-value in more than one place
// and duplication is not permitted (or not possible) for its type.
type BorrowConflictError struct {
	Type      language.TypeRef
	Producer  component.Id
	Consumers []component.Id
}

func (e *BorrowConflictError) Error() string {
	return fmt.Sprintf("%s is consumed by %d components but cannot be duplicated", e.Type, len(e.Consumers))
}

func (e *BorrowConflictError) Diagnostic(db *component.Db, route string) diagnostics.Diagnostic {
	producer := db.Get(e.Producer)
	d := diagnostics.Diagnostic{
		Code:     diagnostics.CodeBorrowConflict,
		Severity: diagnostics.SeverityError,
		Route:    route,
		Summary:  fmt.Sprintf("%s, produced by %q, is consumed by value in %d places but cannot be duplicated", e.Type, producer.Name, len(e.Consumers)),
		Help:     fmt.Sprintf("take %s by reference where possible, or allow cloning on %q", e.Type, producer.Name),
		Site:     producer.Site,
	}
	for _, cid := range e.Consumers {
		c := db.Get(cid)
		d.Related = append(d.Related, diagnostics.Label{
			Message: fmt.Sprintf("consumed by value in %s %q", c.Kind, c.Name),
			Site:    c.Site,
		})
	}
	return d
}
