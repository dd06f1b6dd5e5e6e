// Package scopes implements the visibility tree that every component is
// registered into.
//
// A component registered in a scope is visible to that scope and to all of
// its descendants; siblings cannot see each other. Scopes are created only
// when the blueprint nests, are never deleted, and live for the whole
// compilation run.
package scopes

import "fmt"

// Id identifies a scope. Ids are dense indices into the tree's backing
// arrays, which keeps the cross-referencing structures (component db,
// constructible index) free of pointer cycles.
type Id int

// Root is the id of the root scope. It always exists.
const Root Id = 0

// Tree is the scope hierarchy. It is built during the single-threaded
// registration phase and read-only afterwards.
type Tree struct {
	parents []Id
	labels  []string
}

// NewTree creates a tree containing only the root scope.
func NewTree() *Tree {
	return &Tree{parents: []Id{Root}, labels: []string{""}}
}

// AddScope creates a new scope nested under parent and returns its id.
func (t *Tree) AddScope(parent Id, label string) Id {
	if int(parent) >= len(t.parents) {
		panic(fmt.Sprintf("scopes: unknown parent scope %d", parent))
	}
	id := Id(len(t.parents))
	t.parents = append(t.parents, parent)
	t.labels = append(t.labels, label)
	return id
}

// Parent returns the parent of the given scope. The root has no parent.
func (t *Tree) Parent(id Id) (Id, bool) {
	if id == Root {
		return Root, false
	}
	return t.parents[id], true
}

// Label returns the blueprint label the scope was declared with. The root
// scope's label is empty.
func (t *Tree) Label(id Id) string {
	return t.labels[id]
}

// Len returns the number of scopes, root included.
func (t *Tree) Len() int {
	return len(t.parents)
}

// IsVisibleFrom reports whether a component registered in candidate is
// visible from scope, i.e. candidate is scope itself or one of its proper
// ancestors.
func (t *Tree) IsVisibleFrom(scope, candidate Id) bool {
	for {
		if scope == candidate {
			return true
		}
		parent, ok := t.Parent(scope)
		if !ok {
			return false
		}
		scope = parent
	}
}

// ChainToRoot returns the scope itself followed by its ancestors up to and
// including the root, in lookup order for shadowing resolution.
func (t *Tree) ChainToRoot(scope Id) []Id {
	chain := []Id{scope}
	for {
		parent, ok := t.Parent(scope)
		if !ok {
			return chain
		}
		chain = append(chain, parent)
		scope = parent
	}
}

// Path renders the dotted label path from the root, e.g. "api.v1".
// The root scope renders as "".
func (t *Tree) Path(scope Id) string {
	if scope == Root {
		return ""
	}
	parent, _ := t.Parent(scope)
	prefix := t.Path(parent)
	if prefix == "" {
		return t.labels[scope]
	}
	return prefix + "." + t.labels[scope]
}
