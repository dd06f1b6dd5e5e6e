package callgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/planc/internal/component"
	"github.com/vk/planc/internal/compute"
	"github.com/vk/planc/internal/constructible"
	"github.com/vk/planc/internal/language"
	"github.com/vk/planc/internal/metadata"
	"github.com/vk/planc/internal/plan"
	"github.com/vk/planc/internal/scopes"
)

const testCaps = `
types:
  A: [clone, share]
  B: [clone]
  F: [clone]
  G: [clone]
  M: [clone]
  W: [clone]
  T: [clone]
  U: [clone]
  P: [clone]
  u8: [copy, clone, share]
  Page: [clone]
  Session: [clone, share]
  AuthError: [clone]
  Query: [clone]
  ParseError: [clone]
  Response: [clone]
wrappers:
  Json: [clone]
`

type fixture struct {
	tree  *scopes.Tree
	db    *component.Db
	index *constructible.Index
	caps  metadata.Provider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tree := scopes.NewTree()
	db := component.NewDb(compute.NewInterner())
	caps, err := metadata.ParseTable([]byte(testCaps), "caps.yaml")
	require.NoError(t, err)
	return &fixture{tree: tree, db: db, index: constructible.NewIndex(tree, db), caps: caps}
}

// reg is the test shorthand for one registration. Lifecycle must be set
// explicitly: the zero value is Singleton, which is rarely what a test
// means.
type reg struct {
	kind      component.Kind
	name      string
	inputs    []string
	output    string
	lifecycle component.Lifecycle
	cloning   component.CloningPolicy
	async     bool
	scope     scopes.Id
	// errorHandler references a previously registered error handler by
	// its blueprint name.
	errorHandler string
	generics     []string
}

func (f *fixture) add(t *testing.T, r reg) component.Id {
	t.Helper()
	var ins []language.TypeRef
	for _, in := range r.inputs {
		ins = append(ins, language.MustParse(in))
	}
	errHandler := component.Invalid
	if r.errorHandler != "" {
		var found bool
		errHandler, found = f.db.ByName(r.errorHandler)
		require.True(t, found, "error handler %q not registered", r.errorHandler)
	}
	id, err := f.db.Register(component.Component{
		Kind:         r.kind,
		Name:         r.name,
		Computation:  f.db.Interner().GetOrIntern(compute.Callable(r.name, ins, language.MustParse(r.output), r.async, r.generics)),
		Lifecycle:    r.lifecycle,
		Scope:        r.scope,
		Cloning:      r.cloning,
		ErrorHandler: errHandler,
		DerivedFrom:  component.Invalid,
	})
	require.NoError(t, err)
	if r.kind == component.KindConstructor {
		f.index.Add(id)
	}
	return id
}

func (f *fixture) constructor(t *testing.T, name string, inputs []string, output string) component.Id {
	t.Helper()
	return f.add(t, reg{
		kind:      component.KindConstructor,
		name:      name,
		inputs:    inputs,
		output:    output,
		lifecycle: component.RequestScoped,
	})
}

func (f *fixture) handler(t *testing.T, name string, inputs []string) component.Id {
	t.Helper()
	return f.add(t, reg{
		kind:      component.KindRequestHandler,
		name:      name,
		inputs:    inputs,
		output:    "Response",
		lifecycle: component.RequestScoped,
	})
}

// freeze runs the same pre-compilation steps the compiler does: populate
// the index, intern the support transformers, then freeze everything.
func (f *fixture) freeze() {
	f.index.Populate()
	for i := 0; i < f.db.Len(); i++ {
		id := component.Id(i)
		if f.db.Get(id).Cloning == component.CloneIfNecessary {
			f.db.InternCloneFor(id)
		}
		if f.db.Computation(id).IsFallible() && f.db.Get(id).Kind != component.KindTransformer {
			f.db.InternMatchFor(id)
		}
	}
	f.db.Freeze()
	f.index.Freeze()
}

func (f *fixture) compile(t *testing.T, root component.Id) ([]plan.Step, error) {
	t.Helper()
	f.freeze()
	g, err := NewBuilder(f.db, f.index).Build(root)
	if err != nil {
		return nil, err
	}
	constraints, err := NewResolver(f.db, f.caps).Resolve(g)
	if err != nil {
		return nil, err
	}
	return NewLinearizer(f.db).Linearize(g, constraints)
}

// flatten walks branch bodies too.
func flatten(steps []plan.Step) []plan.Step {
	var out []plan.Step
	for _, s := range steps {
		out = append(out, s)
		out = append(out, flatten(s.Ok)...)
		out = append(out, flatten(s.Err)...)
	}
	return out
}

func byLabel(steps []plan.Step, label string) []plan.Step {
	var out []plan.Step
	for _, s := range flatten(steps) {
		if s.Label == label {
			out = append(out, s)
		}
	}
	return out
}

func TestBuild_MissingConstructor(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	h := f.handler(t, "home", []string{"A"})

	_, err := f.compile(t, h)
	var missing *MissingConstructorError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "A", missing.Requested.String())
	assert.Equal(t, h, missing.RequestedBy)
}

func TestBuild_SiblingScopeConstructorIsInvisible(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	api := f.tree.AddScope(scopes.Root, "api")
	admin := f.tree.AddScope(scopes.Root, "admin")
	f.add(t, reg{
		kind: component.KindConstructor, name: "make_a", output: "A",
		lifecycle: component.RequestScoped, scope: api,
	})
	h := f.add(t, reg{
		kind: component.KindRequestHandler, name: "admin_home", inputs: []string{"A"},
		output: "Response", lifecycle: component.RequestScoped, scope: admin,
	})

	_, err := f.compile(t, h)
	var missing *MissingConstructorError
	require.ErrorAs(t, err, &missing)
}

func TestBuild_AmbiguousConstructor(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first := f.constructor(t, "a_one", nil, "A")
	second := f.constructor(t, "a_two", nil, "A")
	h := f.handler(t, "home", []string{"A"})

	_, err := f.compile(t, h)
	var ambiguous *AmbiguousConstructorError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, []component.Id{first, second}, ambiguous.Candidates)
}

func TestBuild_CycleIsReportedWithFullChain(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.constructor(t, "make_a", []string{"B"}, "A")
	f.constructor(t, "make_b", []string{"A"}, "B")
	h := f.handler(t, "home", []string{"A"})

	_, err := f.compile(t, h)
	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	require.Len(t, cycle.Chain, 3)
	assert.Equal(t, "A", cycle.Chain[0].String())
	assert.Equal(t, "B", cycle.Chain[1].String())
	assert.Equal(t, "A", cycle.Chain[2].String())
}

func TestCompile_RequestScopedValueIsComputedOnce(t *testing.T) {
	t.Parallel()

	// Both the handler and make_b read A by reference: one invocation,
	// no clones.
	f := newFixture(t)
	f.constructor(t, "make_a", nil, "A")
	f.constructor(t, "make_b", []string{"&A"}, "B")
	h := f.handler(t, "home", []string{"&A", "B"})

	steps, err := f.compile(t, h)
	require.NoError(t, err)

	assert.Len(t, byLabel(steps, "make_a"), 1)
	assert.Empty(t, byLabel(steps, "clone<A>"))
}

func TestCompile_TransientValueIsRecomputedPerConsumer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, reg{
		kind: component.KindConstructor, name: "fresh_t", output: "T",
		lifecycle: component.Transient,
	})
	f.constructor(t, "make_u", []string{"T"}, "U")
	h := f.handler(t, "home", []string{"T", "U"})

	steps, err := f.compile(t, h)
	require.NoError(t, err)

	// Each by-value consumer triggers a fresh invocation, so there is no
	// fan-out and nothing to clone.
	assert.Len(t, byLabel(steps, "fresh_t"), 2)
	assert.Empty(t, byLabel(steps, "clone<T>"))
}

func TestCompile_SharedValueIsClonedExactlyOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, reg{
		kind: component.KindConstructor, name: "make_a", output: "A",
		lifecycle: component.RequestScoped, cloning: component.CloneIfNecessary,
	})
	f.constructor(t, "make_b", []string{"A"}, "B")
	h := f.handler(t, "home", []string{"A", "B"})

	steps, err := f.compile(t, h)
	require.NoError(t, err)

	makes := byLabel(steps, "make_a")
	clones := byLabel(steps, "clone<A>")
	require.Len(t, makes, 1)
	require.Len(t, clones, 1)

	// The clone reads the original by reference.
	require.Len(t, clones[0].Args, 1)
	assert.True(t, clones[0].Args[0].Borrow)
	assert.Equal(t, makes[0].Binding, clones[0].Args[0].Binding)

	// One consumer receives the original, the other the clone.
	bSteps := byLabel(steps, "make_b")
	hSteps := byLabel(steps, "home")
	require.Len(t, bSteps, 1)
	require.Len(t, hSteps, 1)
	got := map[string]bool{
		bSteps[0].Args[0].Binding: true,
		hSteps[0].Args[0].Binding: true,
	}
	assert.True(t, got[makes[0].Binding])
	assert.True(t, got[clones[0].Binding])
}

func TestCompile_NeverCloneFanOutIsAConflict(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.constructor(t, "make_a", nil, "A")
	b := f.constructor(t, "make_b", []string{"A"}, "B")
	h := f.handler(t, "home", []string{"A", "B"})

	_, err := f.compile(t, h)
	var conflict *BorrowConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, a, conflict.Producer)
	assert.ElementsMatch(t, []component.Id{b, h}, conflict.Consumers)
}

func TestCompile_UnclonableTypeIsAConflictDespitePolicy(t *testing.T) {
	t.Parallel()

	// Secret is absent from the capability table, so even a
	// clone_if_necessary registration cannot be duplicated.
	f := newFixture(t)
	f.add(t, reg{
		kind: component.KindConstructor, name: "secret", output: "Secret",
		lifecycle: component.RequestScoped, cloning: component.CloneIfNecessary,
	})
	f.constructor(t, "make_b", []string{"Secret"}, "B")
	h := f.handler(t, "home", []string{"Secret", "B"})

	_, err := f.compile(t, h)
	var conflict *BorrowConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestCompile_CopyTypesAreNeverClonedOrConflicting(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.constructor(t, "byte_val", nil, "u8")
	f.constructor(t, "make_p", []string{"u8"}, "P")
	h := f.handler(t, "home", []string{"u8", "P"})

	steps, err := f.compile(t, h)
	require.NoError(t, err)
	assert.Len(t, byLabel(steps, "byte_val"), 1)
	assert.Empty(t, byLabel(steps, "clone<u8>"))
}

func TestCompile_BorrowerIsScheduledBeforeMover(t *testing.T) {
	t.Parallel()

	// watch borrows A, make_m consumes it. Plain lowest-id order would run
	// make_m first; the ownership constraint forces watch ahead of it.
	f := newFixture(t)
	f.constructor(t, "make_a", nil, "A")
	f.constructor(t, "make_m", []string{"A"}, "M")
	f.constructor(t, "watch", []string{"&A"}, "W")
	h := f.handler(t, "home", []string{"M", "W"})

	steps, err := f.compile(t, h)
	require.NoError(t, err)

	order := map[string]int{}
	for i, s := range flatten(steps) {
		order[s.Label] = i
	}
	assert.Less(t, order["watch"], order["make_m"])
}

func TestCompile_AsyncConsumerKeepsTheOriginal(t *testing.T) {
	t.Parallel()

	// Both fetch and make_g consume A. fetch is async, so it must receive
	// the original even though make_g was wired later.
	f := newFixture(t)
	f.add(t, reg{
		kind: component.KindConstructor, name: "make_a", output: "A",
		lifecycle: component.RequestScoped, cloning: component.CloneIfNecessary,
	})
	f.add(t, reg{
		kind: component.KindConstructor, name: "fetch", inputs: []string{"A"},
		output: "F", lifecycle: component.RequestScoped, async: true,
	})
	f.constructor(t, "make_g", []string{"A"}, "G")
	h := f.handler(t, "home", []string{"F", "G"})

	steps, err := f.compile(t, h)
	require.NoError(t, err)

	makes := byLabel(steps, "make_a")
	clones := byLabel(steps, "clone<A>")
	fetches := byLabel(steps, "fetch")
	gs := byLabel(steps, "make_g")
	require.Len(t, makes, 1)
	require.Len(t, clones, 1)
	require.Len(t, fetches, 1)
	require.Len(t, gs, 1)

	assert.True(t, fetches[0].Async)
	assert.Equal(t, makes[0].Binding, fetches[0].Args[0].Binding)
	assert.Equal(t, clones[0].Binding, gs[0].Args[0].Binding)
}

func TestCompile_FallibleWithoutErrorHandlerIsRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	auth := f.constructor(t, "auth", nil, "Result<Session, AuthError>")
	h := f.handler(t, "home", []string{"Session"})

	_, err := f.compile(t, h)
	var unhandled *UnreachableErrorBranchError
	require.ErrorAs(t, err, &unhandled)
	assert.Equal(t, auth, unhandled.Fallible)
	assert.Equal(t, "AuthError", unhandled.ErrType.String())
}

func TestCompile_FallibleConstructorBranchesThePlan(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, reg{
		kind: component.KindErrorHandler, name: "auth_failed",
		inputs: []string{"&AuthError"}, output: "Response",
		lifecycle: component.Transient,
	})
	f.add(t, reg{
		kind: component.KindConstructor, name: "auth",
		output: "Result<Session, AuthError>", lifecycle: component.RequestScoped,
		errorHandler: "auth_failed",
	})
	h := f.handler(t, "home", []string{"Session"})

	steps, err := f.compile(t, h)
	require.NoError(t, err)

	// The invocation is bound, then the plan forks on its result.
	require.Len(t, steps, 2)
	invocation := steps[0]
	branch := steps[1]
	assert.Equal(t, "auth", invocation.Label)
	require.Equal(t, plan.StepBranch, branch.Kind)
	assert.Equal(t, invocation.Binding, branch.On)

	assert.Len(t, byLabel(branch.Err, "auth.err"), 1)
	assert.Len(t, byLabel(branch.Err, "auth_failed"), 1)
	assert.Len(t, byLabel(branch.Ok, "auth.ok"), 1)
	assert.Len(t, byLabel(branch.Ok, "home"), 1)
	assert.Empty(t, byLabel(branch.Ok, "auth_failed"))
}

func TestCompile_NestedFalliblesNestTheirBranches(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, reg{
		kind: component.KindErrorHandler, name: "auth_failed",
		inputs: []string{"&AuthError"}, output: "Response",
		lifecycle: component.Transient,
	})
	f.add(t, reg{
		kind: component.KindErrorHandler, name: "parse_failed",
		inputs: []string{"&ParseError"}, output: "Response",
		lifecycle: component.Transient,
	})
	f.add(t, reg{
		kind: component.KindConstructor, name: "auth",
		output: "Result<Session, AuthError>", lifecycle: component.RequestScoped,
		errorHandler: "auth_failed",
	})
	f.add(t, reg{
		kind: component.KindConstructor, name: "parse",
		inputs: []string{"&Session"}, output: "Result<Query, ParseError>",
		lifecycle: component.RequestScoped, errorHandler: "parse_failed",
	})
	h := f.handler(t, "home", []string{"Query"})

	steps, err := f.compile(t, h)
	require.NoError(t, err)

	require.Len(t, steps, 2)
	outer := steps[1]
	require.Equal(t, plan.StepBranch, outer.Kind)

	var inner *plan.Step
	for i := range outer.Ok {
		if outer.Ok[i].Kind == plan.StepBranch {
			inner = &outer.Ok[i]
		}
	}
	require.NotNil(t, inner, "the second fallible must branch inside the ok body")
	assert.Len(t, byLabel(inner.Err, "parse_failed"), 1)
	assert.Len(t, byLabel(inner.Ok, "home"), 1)
}

func TestCompile_SpecializedConstructorsGetDistinctSteps(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.add(t, reg{
		kind: component.KindConstructor, name: "json", output: "Json<T>",
		lifecycle: component.RequestScoped, generics: []string{"T"},
	})
	f.constructor(t, "byte_val", nil, "u8")
	f.constructor(t, "render", []string{"Json<u8>", "&Json<Vec<u8>>"}, "Page")
	h := f.handler(t, "home", []string{"Page"})

	steps, err := f.compile(t, h)
	require.NoError(t, err)

	assert.Len(t, byLabel(steps, "json<Json<u8>>"), 1)
	assert.Len(t, byLabel(steps, "json<Json<Vec<u8>>>"), 1)
}

func TestCompile_IsDeterministic(t *testing.T) {
	t.Parallel()

	build := func() []plan.Step {
		f := newFixture(t)
		f.add(t, reg{
			kind: component.KindConstructor, name: "make_a", output: "A",
			lifecycle: component.RequestScoped, cloning: component.CloneIfNecessary,
		})
		f.constructor(t, "make_b", []string{"A", "&A"}, "B")
		f.constructor(t, "watch", []string{"&A"}, "W")
		h := f.handler(t, "home", []string{"A", "B", "W"})
		steps, err := f.compile(t, h)
		require.NoError(t, err)
		return steps
	}

	first := build()
	second := build()
	assert.Equal(t, first, second)
}

func TestCompile_SingletonUsageIsRecorded(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pool := f.add(t, reg{
		kind: component.KindConstructor, name: "pool", output: "A",
		lifecycle: component.Singleton,
	})
	h := f.handler(t, "home", []string{"&A"})

	f.freeze()
	g, err := NewBuilder(f.db, f.index).Build(h)
	require.NoError(t, err)
	assert.Contains(t, g.Singletons(), pool)
}
