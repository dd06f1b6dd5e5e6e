// Package callgraph builds, ownership-checks and linearizes the per-route
// computation graphs.
//
// A call graph is created fresh for every route/middleware/fallback, is
// private to the worker compiling that route, and is discarded once its
// step sequence has been extracted. The only state shared across routes is
// the frozen component database and constructible index.
package callgraph

import (
	"fmt"

	"github.com/vk/planc/internal/component"
	"github.com/vk/planc/internal/language"
)

// NodeId indexes a node within one graph. Ids are allocated densely in
// creation order, which is what all deterministic tie-breaks lean on.
type NodeId int

// NodeKind discriminates graph nodes.
type NodeKind int

const (
	// NodeCompute invokes a component's computation.
	NodeCompute NodeKind = iota
	// NodeInputParameter is a value supplied from outside the plan, e.g.
	// the incoming request.
	NodeInputParameter
	// NodeMatchBranching is the fan-out point downstream of a fallible
	// computation; exactly one of its branches runs per execution.
	NodeMatchBranching
)

// Node is one vertex of a call graph.
type Node struct {
	Kind NodeKind
	// Component backs NodeCompute and NodeInputParameter nodes;
	// component.Invalid for NodeMatchBranching.
	Component component.Id
	// Type is the value the node makes available downstream: the owned
	// output for computations, the supplied type for input parameters,
	// and the full Result wrapper for branching nodes.
	Type language.TypeRef
	// Invocations mirrors the component lifecycle: AtMostOnce nodes are
	// shared between consumers, Unlimited nodes are re-created per
	// consumer.
	Invocations component.InvocationLimit
}

// EdgeMode states how a consumer takes the producer's value.
type EdgeMode int

const (
	// ModeMove: the value is consumed; the producer cannot feed anyone
	// afterwards.
	ModeMove EdgeMode = iota
	// ModeBorrow: a read-only reference is handed out; the producer
	// remains usable.
	ModeBorrow
)

func (m EdgeMode) String() string {
	if m == ModeBorrow {
		return "borrow"
	}
	return "move"
}

// Edge is a producer→consumer dependency. Edges keep their index for the
// whole life of the graph so the ownership resolver can redirect them in
// place without disturbing argument order.
type Edge struct {
	From NodeId
	To   NodeId
	Mode EdgeMode
}

// Graph is the directed acyclic computation graph for one root component.
type Graph struct {
	Root  NodeId
	nodes []Node
	edges []Edge
	out   map[NodeId][]int
	in    map[NodeId][]int
	// singletons records which Singleton-lifecycle components this graph
	// invokes; the compiler aggregates them into the application state.
	singletons map[component.Id]struct{}
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		out:        make(map[NodeId][]int),
		in:         make(map[NodeId][]int),
		singletons: make(map[component.Id]struct{}),
	}
}

// AddNode appends a node and returns its id.
func (g *Graph) AddNode(n Node) NodeId {
	id := NodeId(len(g.nodes))
	g.nodes = append(g.nodes, n)
	return id
}

// Node returns the node for an id.
func (g *Graph) Node(id NodeId) Node {
	return g.nodes[id]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// AddEdge wires producer from into consumer to and returns the edge index.
// In-edges accumulate in call order, which is also the consumer's argument
// order.
func (g *Graph) AddEdge(from, to NodeId, mode EdgeMode) int {
	if from == to {
		panic(fmt.Sprintf("callgraph: self-referential edge on node %d", from))
	}
	idx := len(g.edges)
	g.edges = append(g.edges, Edge{From: from, To: to, Mode: mode})
	g.out[from] = append(g.out[from], idx)
	g.in[to] = append(g.in[to], idx)
	return idx
}

// Edge returns the edge at the given index.
func (g *Graph) Edge(idx int) Edge {
	return g.edges[idx]
}

// In returns the indices of the consumer's in-edges, in argument order.
func (g *Graph) In(id NodeId) []int {
	return g.in[id]
}

// Out returns the indices of the producer's out-edges, in creation order.
func (g *Graph) Out(id NodeId) []int {
	return g.out[id]
}

// RedirectSource re-points an existing edge at a new producer, keeping its
// position in the consumer's argument list. Used when a synthesized clone
// takes over feeding a consumer.
func (g *Graph) RedirectSource(idx int, newFrom NodeId) {
	edge := g.edges[idx]
	oldOut := g.out[edge.From]
	for i, e := range oldOut {
		if e == idx {
			g.out[edge.From] = append(oldOut[:i], oldOut[i+1:]...)
			break
		}
	}
	g.edges[idx].From = newFrom
	g.out[newFrom] = append(g.out[newFrom], idx)
}

// MarkSingleton records that the graph invokes the given singleton.
func (g *Graph) MarkSingleton(id component.Id) {
	g.singletons[id] = struct{}{}
}

// Singletons returns the singleton components the graph invokes.
func (g *Graph) Singletons() map[component.Id]struct{} {
	return g.singletons
}
