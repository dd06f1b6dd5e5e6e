package callgraph

import (
	"fmt"

	"github.com/vk/planc/internal/component"
	"github.com/vk/planc/internal/metadata"
)

// Constraint is a scheduling obligation the ownership pass hands to the
// linearizer: the borrower must be bound before the mover destroys the
// value both depend on.
type Constraint struct {
	Borrower NodeId
	Mover    NodeId
}

// Resolver rewrites a built graph until every value has at most one
// by-value consumer. Competing consumers are satisfied by synthesizing
// clone nodes where the producer's policy and the type's capabilities
// permit; otherwise the route fails with a BorrowConflictError.
type Resolver struct {
	db       *component.Db
	provider metadata.Provider
}

// NewResolver creates a resolver over the frozen database and a capability
// provider.
func NewResolver(db *component.Db, provider metadata.Provider) *Resolver {
	return &Resolver{db: db, provider: provider}
}

// pending is the per-producer outcome of the fan-out pass: the surviving
// move edge plus every borrower that must be scheduled before it.
type pending struct {
	producer  NodeId
	moveEdge  int
	mover     NodeId
	borrowers []NodeId
}

// Resolve runs the two ownership passes.
//
// Pass one walks producers in node order: values with several by-value
// consumers keep a single direct move (async consumers take priority, then
// the latest-created node) and every other by-value consumer is redirected
// through a fresh clone node, so the number of clones stays minimal.
//
// Pass two turns borrow/move coexistence into scheduling constraints. A
// constraint that would contradict the dataflow order (the mover feeds the
// borrower, directly or not) cannot be satisfied by scheduling, so the
// mover is demoted to a clone as well; if the producer does not permit
// cloning, that is a borrow conflict.
func (r *Resolver) Resolve(g *Graph) ([]Constraint, error) {
	var queue []pending

	for raw := 0; raw < g.Len(); raw++ {
		id := NodeId(raw)
		node := g.Node(id)
		if node.Kind == NodeMatchBranching {
			// The two branches are mutually exclusive at runtime; their
			// competing moves of the Result are not a conflict.
			continue
		}
		p, err := r.resolveFanOut(g, id)
		if err != nil {
			return nil, err
		}
		if p != nil {
			queue = append(queue, *p)
		}
	}

	var constraints []Constraint
	for _, p := range queue {
		kept, err := r.applyConstraints(g, p, constraints)
		if err != nil {
			return nil, err
		}
		constraints = kept
	}
	return constraints, nil
}

// resolveFanOut reduces the producer's by-value consumers to at most one
// and reports the surviving move together with the current borrowers.
func (r *Resolver) resolveFanOut(g *Graph, id NodeId) (*pending, error) {
	node := g.Node(id)

	var moves []int
	for _, idx := range g.Out(id) {
		edge := g.Edge(idx)
		if edge.Mode == ModeMove && g.Node(edge.To).Kind != NodeMatchBranching {
			moves = append(moves, idx)
		}
	}
	if len(moves) == 0 {
		return nil, nil
	}

	// Trivially copyable values are duplicated for free at every move.
	copyable, err := r.provider.Supports(node.Type, metadata.CapabilityCopy)
	if err != nil {
		return nil, err
	}
	if copyable {
		return nil, nil
	}

	if len(moves) > 1 {
		keep := r.pickKeeper(g, moves)
		for _, idx := range moves {
			if idx == keep {
				continue
			}
			if err := r.cloneFeed(g, id, idx); err != nil {
				return nil, err
			}
		}
		moves = []int{keep}
	}

	mover := g.Edge(moves[0]).To
	var borrowers []NodeId
	for _, idx := range g.Out(id) {
		edge := g.Edge(idx)
		// A consumer taking the value and a reference to it in the same
		// call is not in conflict with itself.
		if edge.Mode == ModeBorrow && edge.To != mover {
			borrowers = append(borrowers, edge.To)
		}
	}
	if len(borrowers) == 0 {
		return nil, nil
	}
	return &pending{
		producer:  id,
		moveEdge:  moves[0],
		mover:     mover,
		borrowers: borrowers,
	}, nil
}

// pickKeeper selects which by-value consumer receives the original value.
// Consumers on an async boundary cannot hold borrows across suspension
// points, so they win; ties go to the latest-created node, i.e. the last
// registered dependency edge.
func (r *Resolver) pickKeeper(g *Graph, moves []int) int {
	best := moves[0]
	for _, idx := range moves[1:] {
		a, b := r.moveRank(g, idx), r.moveRank(g, best)
		if a[0] > b[0] || (a[0] == b[0] && (a[1] > b[1] || (a[1] == b[1] && a[2] > b[2]))) {
			best = idx
		}
	}
	return best
}

func (r *Resolver) moveRank(g *Graph, idx int) [3]int {
	to := g.Edge(idx).To
	async := 0
	if n := g.Node(to); n.Kind == NodeCompute && n.Component != component.Invalid {
		if r.db.Computation(n.Component).Async {
			async = 1
		}
	}
	return [3]int{async, int(to), idx}
}

// cloneFeed redirects one move edge through a freshly inserted clone node
// borrowing the producer.
func (r *Resolver) cloneFeed(g *Graph, producer NodeId, moveEdge int) error {
	cloneID, err := r.cloneComponent(g, producer)
	if err != nil {
		return err
	}
	node := g.Node(producer)
	cloneNode := g.AddNode(Node{
		Kind:        NodeCompute,
		Component:   cloneID,
		Type:        node.Type,
		Invocations: component.Unlimited,
	})
	g.AddEdge(producer, cloneNode, ModeBorrow)
	g.RedirectSource(moveEdge, cloneNode)
	return nil
}

// cloneComponent checks policy and capability, then returns the
// pre-interned clone transformer for the producer's component.
func (r *Resolver) cloneComponent(g *Graph, producer NodeId) (component.Id, error) {
	node := g.Node(producer)
	comp := r.db.Get(node.Component)

	conflict := func() error {
		var consumers []component.Id
		for _, idx := range g.Out(producer) {
			edge := g.Edge(idx)
			if edge.Mode != ModeMove {
				continue
			}
			if to := g.Node(edge.To); to.Component != component.Invalid {
				consumers = append(consumers, to.Component)
			}
		}
		return &BorrowConflictError{
			Type:      node.Type,
			Producer:  componentOrBase(r.db, node.Component),
			Consumers: consumers,
		}
	}

	if comp.Cloning != component.CloneIfNecessary {
		return component.Invalid, conflict()
	}
	clonable, err := r.provider.Supports(node.Type, metadata.CapabilityClone)
	if err != nil {
		return component.Invalid, err
	}
	if !clonable {
		return component.Invalid, conflict()
	}

	if cloneID, ok := r.db.CloneFor(node.Component); ok {
		return cloneID, nil
	}
	// Branch-extraction nodes carry a synthetic transformer component; the
	// clone was interned against the fallible registration behind it.
	if comp.DerivedFrom != component.Invalid {
		if cloneID, ok := r.db.CloneFor(comp.DerivedFrom); ok {
			return cloneID, nil
		}
	}
	panic(fmt.Sprintf("callgraph: no clone transformer interned for component %q", comp.Name))
}

// componentOrBase reports the user-facing registration behind a possibly
// synthetic component.
func componentOrBase(db *component.Db, id component.Id) component.Id {
	c := db.Get(id)
	if c.Kind == component.KindTransformer && c.DerivedFrom != component.Invalid {
		return c.DerivedFrom
	}
	return id
}

// applyConstraints admits the producer's borrower-before-mover constraints
// one by one. A constraint whose mover already (transitively) feeds the
// borrower cannot be scheduled, so the mover is demoted to a clone and the
// producer ends up with no direct move at all.
func (r *Resolver) applyConstraints(g *Graph, p pending, acc []Constraint) ([]Constraint, error) {
	admitted := len(acc)
	for _, borrower := range p.borrowers {
		if !reaches(g, acc, p.mover, borrower) {
			acc = append(acc, Constraint{Borrower: borrower, Mover: p.mover})
			continue
		}
		if err := r.cloneFeed(g, p.producer, p.moveEdge); err != nil {
			return nil, err
		}
		// The producer no longer has a by-value consumer; constraints
		// admitted for it so far are void.
		return acc[:admitted], nil
	}
	return acc, nil
}

// reaches reports whether from can reach to through dependency edges plus
// the constraints admitted so far.
func reaches(g *Graph, constraints []Constraint, from, to NodeId) bool {
	if from == to {
		return true
	}
	seen := make(map[NodeId]bool)
	stack := []NodeId{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		for _, idx := range g.Out(n) {
			stack = append(stack, g.Edge(idx).To)
		}
		for _, c := range constraints {
			if c.Borrower == n {
				stack = append(stack, c.Mover)
			}
		}
	}
	return false
}
