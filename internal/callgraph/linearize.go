package callgraph

import (
	"fmt"

	"github.com/vk/planc/internal/component"
	"github.com/vk/planc/internal/compute"
	"github.com/vk/planc/internal/plan"
)

// Linearizer flattens an ownership-resolved graph into an executable step
// sequence. The order is a deterministic topological sort: among schedulable
// nodes the lowest node id wins, branching nodes are deferred until nothing
// else can run, and the ownership constraints (borrowers before movers) are
// honored as extra precedence edges.
type Linearizer struct {
	db *component.Db
}

// NewLinearizer creates a linearizer over the frozen database.
func NewLinearizer(db *component.Db) *Linearizer {
	return &Linearizer{db: db}
}

// Linearize emits the step sequence for the graph. Fallible computations
// become branch steps: the err body holds the error-extraction node and its
// dependents, the ok body holds everything else still outstanding, so the
// plan short-circuits on the first failure.
func (l *Linearizer) Linearize(g *Graph, constraints []Constraint) ([]plan.Step, error) {
	s := &linState{
		l:           l,
		g:           g,
		constraints: constraints,
		indeg:       make([]int, g.Len()),
		names:       make([]string, g.Len()),
	}
	pending := make(map[NodeId]bool, g.Len())
	for raw := 0; raw < g.Len(); raw++ {
		id := NodeId(raw)
		pending[id] = true
		s.indeg[id] = len(g.In(id))
	}
	for _, c := range constraints {
		s.indeg[c.Mover]++
	}
	return s.emit(pending)
}

type linState struct {
	l           *Linearizer
	g           *Graph
	constraints []Constraint
	indeg       []int
	names       []string
	counter     int
}

func (s *linState) emit(pending map[NodeId]bool) ([]plan.Step, error) {
	var steps []plan.Step
	for len(pending) > 0 {
		id, ok := s.pickReady(pending)
		if !ok {
			return nil, fmt.Errorf("internal: no schedulable node among %d pending", len(pending))
		}
		delete(pending, id)

		if s.g.Node(id).Kind != NodeMatchBranching {
			steps = append(steps, s.bind(id))
			s.release(id)
			continue
		}

		// Dispatch point. Everything bound so far is shared; the err body
		// takes the error-extraction subtree, the ok body the rest.
		branch, err := s.branch(id, pending)
		if err != nil {
			return nil, err
		}
		return append(steps, branch), nil
	}
	return steps, nil
}

// pickReady returns the lowest-id pending node with no outstanding
// prerequisites, preferring non-branching nodes so shared work is bound
// before the plan forks.
func (s *linState) pickReady(pending map[NodeId]bool) (NodeId, bool) {
	branch, haveBranch := NodeId(0), false
	for raw := 0; raw < s.g.Len(); raw++ {
		id := NodeId(raw)
		if !pending[id] || s.indeg[id] != 0 {
			continue
		}
		if s.g.Node(id).Kind != NodeMatchBranching {
			return id, true
		}
		if !haveBranch {
			branch, haveBranch = id, true
		}
	}
	return branch, haveBranch
}

// release marks the node as bound, unblocking its dependents.
func (s *linState) release(id NodeId) {
	for _, idx := range s.g.Out(id) {
		s.indeg[s.g.Edge(idx).To]--
	}
	for _, c := range s.constraints {
		if c.Borrower == id {
			s.indeg[c.Mover]--
		}
	}
}

// bind emits the step for a compute or input node and assigns its binding
// name.
func (s *linState) bind(id NodeId) plan.Step {
	node := s.g.Node(id)
	name := fmt.Sprintf("v%d", s.counter)
	s.counter++
	s.names[id] = name

	if node.Kind == NodeInputParameter {
		return plan.Step{
			Kind:    plan.StepInput,
			Binding: name,
			Label:   node.Type.String(),
		}
	}

	comp := s.l.db.Get(node.Component)
	computation := s.l.db.Computation(node.Component)
	step := plan.Step{
		Kind:    plan.StepBind,
		Binding: name,
		Label:   comp.Name,
		Async:   computation.Async,
	}
	for _, idx := range s.g.In(id) {
		edge := s.g.Edge(idx)
		step.Args = append(step.Args, plan.Arg{
			Binding: s.names[edge.From],
			Borrow:  edge.Mode == ModeBorrow,
		})
	}
	return step
}

// branch emits the dispatch step for a branching node: the err-extraction
// node and its pending dependents form the err body, everything else still
// pending forms the ok body.
func (s *linState) branch(id NodeId, pending map[NodeId]bool) (plan.Step, error) {
	// The branch dispatches on the fallible invocation's binding.
	producer := s.g.Edge(s.g.In(id)[0]).From
	s.names[id] = s.names[producer]
	s.release(id)

	errNode, found := s.errExtraction(id)
	if !found {
		return plan.Step{}, fmt.Errorf("internal: branching node %d has no err extraction", id)
	}

	errSet := s.dependents(errNode, pending)
	for n := range errSet {
		delete(pending, n)
	}
	// A constraint between mutually exclusive branches is moot at runtime;
	// drop it so neither body waits on the other.
	for _, c := range s.constraints {
		if errSet[c.Mover] && !errSet[c.Borrower] && pending[c.Borrower] {
			s.indeg[c.Mover]--
		}
	}

	errSteps, err := s.emit(errSet)
	if err != nil {
		return plan.Step{}, err
	}
	okSteps, err := s.emit(pending)
	if err != nil {
		return plan.Step{}, err
	}
	return plan.Step{
		Kind: plan.StepBranch,
		On:   s.names[id],
		Ok:   okSteps,
		Err:  errSteps,
	}, nil
}

// errExtraction finds the err-side MatchResult consumer of a branching
// node.
func (s *linState) errExtraction(id NodeId) (NodeId, bool) {
	for _, idx := range s.g.Out(id) {
		to := s.g.Edge(idx).To
		node := s.g.Node(to)
		if node.Component == component.Invalid {
			continue
		}
		computation := s.l.db.Computation(node.Component)
		if computation.Kind == compute.KindMatchResult && computation.Branch == compute.MatchErr {
			return to, true
		}
	}
	return 0, false
}

// dependents collects the pending transitive dependents of a node,
// including the node itself.
func (s *linState) dependents(root NodeId, pending map[NodeId]bool) map[NodeId]bool {
	set := map[NodeId]bool{root: true}
	stack := []NodeId{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, idx := range s.g.Out(n) {
			to := s.g.Edge(idx).To
			if pending[to] && !set[to] {
				set[to] = true
				stack = append(stack, to)
			}
		}
	}
	return set
}
