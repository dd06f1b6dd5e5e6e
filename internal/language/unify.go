package language

import (
	"fmt"
	"sort"
)

// Bindings maps a generic parameter name to the concrete type it was
// unified against.
type Bindings map[string]TypeRef

// Unify matches a template type against a concrete type.
//
// params is the set of generic parameter names declared by the template's
// owner; a template leaf whose head is in params binds the entire concrete
// subtree. Unification is purely structural: the same parameter appearing
// twice must bind to the same concrete type. A reference template only
// matches a reference concrete type, and vice versa.
//
// The second return value is false when the shapes do not line up; this is
// not an error, it simply means "no match".
func Unify(template TypeRef, params map[string]struct{}, concrete TypeRef) (Bindings, bool) {
	bindings := Bindings{}
	if !unify(template, params, concrete, bindings) {
		return nil, false
	}
	return bindings, true
}

func unify(template TypeRef, params map[string]struct{}, concrete TypeRef, bindings Bindings) bool {
	if _, isParam := params[template.Name]; isParam && len(template.Args) == 0 {
		if template.Ref != concrete.Ref {
			return false
		}
		target := concrete.Deref()
		if prior, seen := bindings[template.Name]; seen {
			return prior.Equal(target)
		}
		bindings[template.Name] = target
		return true
	}
	if template.Ref != concrete.Ref || template.Name != concrete.Name || len(template.Args) != len(concrete.Args) {
		return false
	}
	for i := range template.Args {
		if !unify(template.Args[i], params, concrete.Args[i], bindings) {
			return false
		}
	}
	return true
}

// Substitute replaces every occurrence of a bound parameter in t with its
// binding, preserving reference markers on the substituted position.
func Substitute(t TypeRef, bindings Bindings) TypeRef {
	if replacement, ok := bindings[t.Name]; ok && len(t.Args) == 0 {
		if t.Ref {
			replacement = RefTo(replacement)
		}
		return replacement
	}
	if len(t.Args) == 0 {
		return t
	}
	out := TypeRef{Name: t.Name, Ref: t.Ref, Args: make([]TypeRef, len(t.Args))}
	for i, a := range t.Args {
		out.Args[i] = Substitute(a, bindings)
	}
	return out
}

// IsTemplate reports whether t mentions at least one of the given generic
// parameters.
func IsTemplate(t TypeRef, params map[string]struct{}) bool {
	if _, ok := params[t.Name]; ok && len(t.Args) == 0 {
		return true
	}
	for _, a := range t.Args {
		if IsTemplate(a, params) {
			return true
		}
	}
	return false
}

// CollectParams returns the subset of params that occur in t, sorted.
func CollectParams(t TypeRef, params map[string]struct{}) []string {
	seen := map[string]struct{}{}
	collectParams(t, params, seen)
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func collectParams(t TypeRef, params, seen map[string]struct{}) {
	if _, ok := params[t.Name]; ok && len(t.Args) == 0 {
		seen[t.Name] = struct{}{}
	}
	for _, a := range t.Args {
		collectParams(a, params, seen)
	}
}

// ParamSet builds the set form of a declared generic parameter list,
// rejecting duplicates.
func ParamSet(names []string) (map[string]struct{}, error) {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, dup := set[n]; dup {
			return nil, fmt.Errorf("generic parameter %q declared more than once", n)
		}
		set[n] = struct{}{}
	}
	return set, nil
}
