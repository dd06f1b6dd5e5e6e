// Package constructible indexes which computations can produce a value of
// a given type, scoped by visibility.
//
// The index is populated during the single-threaded registration phase: a
// specialization fixed point walks every registered component's inputs and
// instantiates templated constructors (generic outputs) against the
// concrete types actually requested. After Freeze the index is a read-only
// lookup shared by the per-route compilation workers.
package constructible

import (
	"sort"

	"github.com/vk/planc/internal/component"
	"github.com/vk/planc/internal/language"
	"github.com/vk/planc/internal/scopes"
)

// ResolutionKind discriminates the outcome of a lookup.
type ResolutionKind int

const (
	// Unconstructible: no visible producer for the requested type.
	Unconstructible ResolutionKind = iota
	// ConstructibleBy: exactly one producer at the closest scope level.
	ConstructibleBy
	// Ambiguous: multiple unrelated producers at the same scope level.
	Ambiguous
)

// Resolution is the outcome of Find.
type Resolution struct {
	Kind      ResolutionKind
	Candidate component.Id
	// Candidates lists every producer at the offending scope level when
	// Kind is Ambiguous, sorted by component id.
	Candidates []component.Id
}

// Index maps (type, scope) to the constructors able to produce that type.
type Index struct {
	tree *scopes.Tree
	db   *component.Db
	// byScope[scope][canonical type] lists the producers registered
	// directly in that scope.
	byScope map[scopes.Id]map[string][]component.Id
	// templated[scope] lists constructors whose output still has
	// unassigned generic parameters.
	templated map[scopes.Id][]component.Id
	frozen    bool
}

// NewIndex creates an empty index over the given scope tree and component
// database.
func NewIndex(tree *scopes.Tree, db *component.Db) *Index {
	return &Index{
		tree:      tree,
		db:        db,
		byScope:   make(map[scopes.Id]map[string][]component.Id),
		templated: make(map[scopes.Id][]component.Id),
	}
}

// Add registers a producer: a constructor, config leaf or prebuilt leaf.
// Templated constructors are kept aside and specialized on demand during
// Populate.
func (ix *Index) Add(id component.Id) {
	if ix.frozen {
		panic("constructible: index is frozen")
	}
	comp := ix.db.Get(id)
	computation := ix.db.Computation(id)

	if computation.IsTemplated() && language.IsTemplate(producedType(computation.Output), computation.ParamSet()) {
		ix.templated[comp.Scope] = append(ix.templated[comp.Scope], id)
		return
	}
	ix.insert(comp.Scope, producedType(computation.Output), id)
}

// producedType is the type a producer makes available to consumers: the
// success branch for fallible constructors, the raw output otherwise.
func producedType(output language.TypeRef) language.TypeRef {
	if output.IsResult() {
		return output.OkType()
	}
	return output
}

func (ix *Index) insert(scope scopes.Id, t language.TypeRef, id component.Id) {
	bucket, ok := ix.byScope[scope]
	if !ok {
		bucket = make(map[string][]component.Id)
		ix.byScope[scope] = bucket
	}
	key := t.String()
	bucket[key] = append(bucket[key], id)
}

// Find resolves the producer for a concrete type visible from scope.
//
// Resolution walks up the scope tree and stops at the first level that
// yields one or more matches: closer-scope producers shadow farther ones.
// Multiple producers at that level is an ambiguity, reported with every
// candidate.
func (ix *Index) Find(t language.TypeRef, scope scopes.Id) Resolution {
	key := t.Deref().String()
	for _, level := range ix.tree.ChainToRoot(scope) {
		bucket, ok := ix.byScope[level]
		if !ok {
			continue
		}
		ids := bucket[key]
		switch len(ids) {
		case 0:
			continue
		case 1:
			return Resolution{Kind: ConstructibleBy, Candidate: ids[0]}
		default:
			candidates := make([]component.Id, len(ids))
			copy(candidates, ids)
			sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
			return Resolution{Kind: Ambiguous, Candidates: candidates}
		}
	}
	return Resolution{Kind: Unconstructible}
}

// Populate runs the specialization fixed point: for every registered
// component, every concrete input type that has no visible producer is
// checked against the templated constructors visible from the component's
// scope; successful unifications intern a specialized copy of the
// constructor into the template's own scope. Specialized constructors have
// inputs of their own, so the loop continues until no new components
// appear.
//
// Populate never emits diagnostics: a type that stays unconstructible here
// is reported by the call-graph builder, per route, with the requesting
// component named.
func (ix *Index) Populate() {
	processed := 0
	for {
		total := ix.db.Len()
		for raw := processed; raw < total; raw++ {
			id := component.Id(raw)
			computation := ix.db.Computation(id)
			if computation.IsTemplated() {
				// A template's own inputs only make sense once its
				// parameters are bound.
				continue
			}
			scope := ix.db.Get(id).Scope
			for _, input := range computation.Inputs {
				requested := input.Deref()
				if ix.Find(requested, scope).Kind != Unconstructible {
					continue
				}
				ix.specialize(requested, scope)
			}
		}
		processed = total
		if ix.db.Len() == total {
			return
		}
	}
}

// specialize instantiates templated constructors against a concrete
// requested type. The first scope level (walking up from scope) with at
// least one unifying template wins; every unifying template at that level
// is instantiated, so a genuine ambiguity still surfaces through Find.
func (ix *Index) specialize(requested language.TypeRef, scope scopes.Id) {
	for _, level := range ix.tree.ChainToRoot(scope) {
		var bound []component.Id
		for _, templateID := range ix.templated[level] {
			computation := ix.db.Computation(templateID)
			bindings, ok := language.Unify(producedType(computation.Output), computation.ParamSet(), requested)
			if !ok {
				continue
			}
			specialized := computation.Specialize(bindings)
			if specialized.IsTemplated() {
				// Leftover parameters mean the template was
				// underconstrained; registration already rejected it.
				continue
			}
			base := ix.db.Get(templateID)
			specializedID := ix.db.GetOrIntern(component.Component{
				Kind:         base.Kind,
				Name:         base.Name + "<" + requested.String() + ">",
				Computation:  ix.db.Interner().GetOrIntern(specialized),
				Lifecycle:    base.Lifecycle,
				Scope:        base.Scope,
				Cloning:      base.Cloning,
				ErrorHandler: base.ErrorHandler,
				Site:         base.Site,
				DerivedFrom:  templateID,
			})
			bound = append(bound, specializedID)
		}
		if len(bound) == 0 {
			continue
		}
		for _, id := range bound {
			ix.insert(level, requested, id)
		}
		return
	}
}

// Freeze ends the registration phase; the index is immutable afterwards.
func (ix *Index) Freeze() {
	ix.frozen = true
}
