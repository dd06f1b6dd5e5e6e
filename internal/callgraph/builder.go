package callgraph

import (
	"fmt"

	"github.com/vk/planc/internal/component"
	"github.com/vk/planc/internal/constructible"
	"github.com/vk/planc/internal/language"
)

// Builder assembles the call graph for one root component out of the frozen
// component database and constructible index. A Builder holds no mutable
// state of its own, so one instance can serve every route worker.
type Builder struct {
	db    *component.Db
	index *constructible.Index
}

// NewBuilder creates a builder over the frozen registration artifacts.
func NewBuilder(db *component.Db, index *constructible.Index) *Builder {
	return &Builder{db: db, index: index}
}

// Build assembles the graph rooted at the given component, typically a
// request handler. The returned graph satisfies: every computation input is
// fed by exactly one edge, and the graph is acyclic. The first resolution
// failure aborts the route with a RouteError.
func (b *Builder) Build(root component.Id) (*Graph, error) {
	s := &buildState{
		b:        b,
		g:        NewGraph(),
		resolved: make(map[component.Id]NodeId),
		inflight: make(map[string]int),
	}
	rootNode, err := s.instantiate(root)
	if err != nil {
		return nil, err
	}
	s.g.Root = rootNode
	return s.g, nil
}

// buildState is the per-Build working set: the graph under construction,
// the reuse table for at-most-once components, and the resolution stack
// used for cycle detection.
type buildState struct {
	b        *Builder
	g        *Graph
	resolved map[component.Id]NodeId
	stack    []stackEntry
	inflight map[string]int
}

type stackEntry struct {
	requested language.TypeRef
	by        component.Id
}

// resolve finds the producer for a requested input type and instantiates it
// (or reuses an existing node), returning the node whose output satisfies
// the request. References resolve against the owned form of the type.
func (s *buildState) resolve(requested language.TypeRef, by component.Id) (NodeId, error) {
	owned := requested.Deref()
	key := owned.String()

	if start, busy := s.inflight[key]; busy {
		chain := make([]language.TypeRef, 0, len(s.stack)-start+1)
		for _, entry := range s.stack[start:] {
			chain = append(chain, entry.requested)
		}
		chain = append(chain, owned)
		return 0, &CycleError{Chain: chain, Anchor: s.stack[start].by}
	}

	scope := s.b.db.Get(by).Scope
	res := s.b.index.Find(owned, scope)
	switch res.Kind {
	case constructible.Unconstructible:
		return 0, &MissingConstructorError{Requested: owned, RequestedBy: by}
	case constructible.Ambiguous:
		return 0, &AmbiguousConstructorError{Requested: owned, RequestedBy: by, Candidates: res.Candidates}
	}

	s.inflight[key] = len(s.stack)
	s.stack = append(s.stack, stackEntry{requested: owned, by: by})
	node, err := s.instantiate(res.Candidate)
	s.stack = s.stack[:len(s.stack)-1]
	delete(s.inflight, key)

	return node, err
}

// instantiate materializes the node(s) for a component and returns the node
// that provides its value to consumers. For fallible components that is the
// ok-branch node, three synthetic nodes downstream of the invocation.
func (s *buildState) instantiate(cid component.Id) (NodeId, error) {
	comp := s.b.db.Get(cid)
	limit := comp.Lifecycle.AllowedInvocations()

	if limit == component.AtMostOnce {
		if node, done := s.resolved[cid]; done {
			return node, nil
		}
	}
	if comp.Lifecycle == component.Singleton {
		s.g.MarkSingleton(cid)
	}

	computation := s.b.db.Computation(cid)

	if comp.Kind == component.KindPrebuilt {
		node := s.g.AddNode(Node{
			Kind:        NodeInputParameter,
			Component:   cid,
			Type:        computation.Output,
			Invocations: limit,
		})
		if limit == component.AtMostOnce {
			s.resolved[cid] = node
		}
		return node, nil
	}

	node := s.g.AddNode(Node{
		Kind:        NodeCompute,
		Component:   cid,
		Type:        computation.Output,
		Invocations: limit,
	})
	for _, input := range computation.Inputs {
		child, err := s.resolve(input, cid)
		if err != nil {
			return 0, err
		}
		s.g.AddEdge(child, node, modeFor(input))
	}

	value := node
	if computation.IsFallible() {
		var err error
		value, err = s.splitResult(cid, node, computation.Output)
		if err != nil {
			return 0, err
		}
	}

	if limit == component.AtMostOnce {
		s.resolved[cid] = value
	}
	return value, nil
}

// splitResult hangs the branching machinery off a fallible invocation: a
// branching node consuming the Result, an ok-extraction node feeding the
// rest of the graph, and an err-extraction node feeding the error handler.
func (s *buildState) splitResult(cid component.Id, invocation NodeId, result language.TypeRef) (NodeId, error) {
	comp := s.b.db.Get(cid)
	limit := comp.Lifecycle.AllowedInvocations()
	errType := result.ErrType()

	if comp.ErrorHandler == component.Invalid {
		return 0, &UnreachableErrorBranchError{Fallible: cid, ErrType: errType}
	}
	okID, errID, ok := s.b.db.MatchFor(cid)
	if !ok {
		panic(fmt.Sprintf("callgraph: no match transformers interned for fallible component %q", comp.Name))
	}

	match := s.g.AddNode(Node{
		Kind:        NodeMatchBranching,
		Component:   component.Invalid,
		Type:        result,
		Invocations: limit,
	})
	s.g.AddEdge(invocation, match, ModeMove)

	okNode := s.g.AddNode(Node{
		Kind:        NodeCompute,
		Component:   okID,
		Type:        result.OkType(),
		Invocations: limit,
	})
	s.g.AddEdge(match, okNode, ModeMove)

	errNode := s.g.AddNode(Node{
		Kind:        NodeCompute,
		Component:   errID,
		Type:        errType,
		Invocations: limit,
	})
	s.g.AddEdge(match, errNode, ModeMove)

	if err := s.attachErrorHandler(comp.ErrorHandler, errNode, errType, cid); err != nil {
		return 0, err
	}
	return okNode, nil
}

// attachErrorHandler instantiates the error handler downstream of the
// err-extraction node. The handler input matching the error type is fed
// from errNode; every other input resolves as usual.
func (s *buildState) attachErrorHandler(hid component.Id, errNode NodeId, errType language.TypeRef, fallible component.Id) error {
	computation := s.b.db.Computation(hid)
	handler := s.g.AddNode(Node{
		Kind:        NodeCompute,
		Component:   hid,
		Type:        computation.Output,
		Invocations: component.Unlimited,
	})
	wired := false
	for _, input := range computation.Inputs {
		if !wired && input.Deref().Equal(errType) {
			s.g.AddEdge(errNode, handler, modeFor(input))
			wired = true
			continue
		}
		child, err := s.resolve(input, hid)
		if err != nil {
			return err
		}
		s.g.AddEdge(child, handler, modeFor(input))
	}
	if !wired {
		// Registration validates this; kept as a backstop for synthetic
		// error types introduced by specialization.
		return &UnreachableErrorBranchError{Fallible: fallible, ErrType: errType}
	}
	return nil
}

func modeFor(input language.TypeRef) EdgeMode {
	if input.Ref {
		return ModeBorrow
	}
	return ModeMove
}
