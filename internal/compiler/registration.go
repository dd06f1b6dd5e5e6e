package compiler

import (
	"fmt"

	"github.com/vk/planc/internal/blueprint"
	"github.com/vk/planc/internal/component"
	"github.com/vk/planc/internal/compute"
	"github.com/vk/planc/internal/constructible"
	"github.com/vk/planc/internal/diagnostics"
	"github.com/vk/planc/internal/language"
	"github.com/vk/planc/internal/scopes"
)

// registry holds the registration-phase artifacts. Once frozen it is
// shared read-only by every route worker.
type registry struct {
	tree  *scopes.Tree
	db    *component.Db
	index *constructible.Index
}

// rootJob is one graph to compile: a route handler, a middleware or a
// fallback, with the label diagnostics are filed under.
type rootJob struct {
	label string
	root  component.Id
}

// placed pairs a syntactic registration with the scope it was declared in.
type placed struct {
	reg   blueprint.Registration
	scope scopes.Id
}

type placedRoute struct {
	route blueprint.Route
	scope scopes.Id
}

// register runs the single-threaded registration phase: scope tree,
// component database and constructible index are populated, with every
// authoring mistake filed into the batch. Error handlers register first so
// constructors can reference them regardless of declaration order.
func register(bp *blueprint.Blueprint, batch *diagnostics.Batch) (*registry, []rootJob) {
	reg := &registry{tree: scopes.NewTree()}
	reg.db = component.NewDb(compute.NewInterner())
	reg.index = constructible.NewIndex(reg.tree, reg.db)

	var entries []placed
	var routes []placedRoute
	var collect func(s *blueprint.Scope, id scopes.Id)
	collect = func(s *blueprint.Scope, id scopes.Id) {
		for _, r := range s.Registrations {
			entries = append(entries, placed{reg: r, scope: id})
		}
		for _, r := range s.Routes {
			routes = append(routes, placedRoute{route: r, scope: id})
		}
		for _, child := range s.Children {
			collect(child, reg.tree.AddScope(id, child.Label))
		}
	}
	collect(bp.Root, scopes.Root)

	for _, e := range entries {
		if e.reg.Block == "error_handler" {
			reg.registerCallable(e, component.KindErrorHandler, component.Transient, batch)
		}
	}
	for _, e := range entries {
		switch e.reg.Block {
		case "constructor":
			reg.registerConstructor(e, batch)
		case "config":
			reg.registerConfig(e, batch)
		case "prebuilt":
			reg.registerPrebuilt(e, batch)
		case "handler":
			reg.registerCallable(e, component.KindRequestHandler, component.RequestScoped, batch)
		case "middleware":
			reg.registerCallable(e, component.KindMiddleware, component.RequestScoped, batch)
		case "fallback":
			reg.registerCallable(e, component.KindFallback, component.RequestScoped, batch)
		}
	}

	return reg, reg.collectJobs(routes, batch)
}

func (r *registry) registerConstructor(e placed, batch *diagnostics.Batch) {
	inputs, output, ok := parseSignature(e.reg, batch)
	if !ok {
		return
	}
	lifecycle, err := component.ParseLifecycle(e.reg.Lifecycle)
	if err != nil {
		addAuthoringError(batch, e.reg, err)
		return
	}
	cloning, err := component.ParseCloningPolicy(e.reg.Cloning)
	if err != nil {
		addAuthoringError(batch, e.reg, err)
		return
	}

	params, err := language.ParamSet(e.reg.Generics)
	if err != nil {
		addAuthoringError(batch, e.reg, err)
		return
	}
	if len(params) > 0 {
		// Every generic parameter must be inferable from the produced
		// type; anything else can never be specialized.
		bound, _ := language.ParamSet(language.CollectParams(producedType(output), params))
		for _, p := range e.reg.Generics {
			if _, ok := bound[p]; !ok {
				batch.Add(diagnostics.Diagnostic{
					Code:     diagnostics.CodeUnderconstrainedGenerics,
					Severity: diagnostics.SeverityError,
					Summary:  fmt.Sprintf("generic parameter %q of constructor %q does not appear in its output type %s", p, e.reg.Name, output),
					Help:     "only parameters mentioned in the output can be inferred from a request",
					Site:     e.reg.Site,
				})
				return
			}
		}
	}

	errHandler := component.Invalid
	if e.reg.ErrorHandler != "" {
		errHandler, err = r.resolveErrorHandler(e.reg, output, params)
		if err != nil {
			addAuthoringError(batch, e.reg, err)
			return
		}
	}

	id, err := r.db.Register(component.Component{
		Kind:         component.KindConstructor,
		Name:         e.reg.Name,
		Computation:  r.db.Interner().GetOrIntern(compute.Callable(e.reg.Name, inputs, output, e.reg.Async, e.reg.Generics)),
		Lifecycle:    lifecycle,
		Scope:        e.scope,
		Cloning:      cloning,
		ErrorHandler: errHandler,
		Site:         e.reg.Site,
		DerivedFrom:  component.Invalid,
	})
	if err != nil {
		addAuthoringError(batch, e.reg, err)
		return
	}
	r.index.Add(id)
}

// resolveErrorHandler checks that the referenced handler exists and can
// actually receive the registration's error type. Templated error types are
// checked after specialization, by the graph builder.
func (r *registry) resolveErrorHandler(reg blueprint.Registration, output language.TypeRef, params map[string]struct{}) (component.Id, error) {
	id, found := r.db.ByName(reg.ErrorHandler)
	if !found {
		return component.Invalid, fmt.Errorf("error handler %q is not registered", reg.ErrorHandler)
	}
	if r.db.Get(id).Kind != component.KindErrorHandler {
		return component.Invalid, fmt.Errorf("%q is not an error_handler block", reg.ErrorHandler)
	}
	if !output.IsResult() {
		return component.Invalid, fmt.Errorf("%s %q is infallible, it cannot have an error handler", reg.Block, reg.Name)
	}
	errType := output.ErrType()
	if language.IsTemplate(errType, params) {
		return id, nil
	}
	for _, in := range r.db.Computation(id).Inputs {
		if in.Deref().Equal(errType) {
			return id, nil
		}
	}
	return component.Invalid, fmt.Errorf("error handler %q has no input accepting %s", reg.ErrorHandler, errType)
}

func (r *registry) registerConfig(e placed, batch *diagnostics.Batch) {
	_, output, ok := parseSignature(e.reg, batch)
	if !ok {
		return
	}
	lifecycle, err := component.ParseLifecycle(e.reg.Lifecycle)
	if err != nil {
		addAuthoringError(batch, e.reg, err)
		return
	}
	cloning, err := component.ParseCloningPolicy(e.reg.Cloning)
	if err != nil {
		addAuthoringError(batch, e.reg, err)
		return
	}
	id, err := r.db.Register(component.Component{
		Kind:         component.KindConfig,
		Name:         e.reg.Name,
		Computation:  r.db.Interner().GetOrIntern(compute.Config(e.reg.Key, output)),
		Lifecycle:    lifecycle,
		Scope:        e.scope,
		Cloning:      cloning,
		ErrorHandler: component.Invalid,
		Site:         e.reg.Site,
		DerivedFrom:  component.Invalid,
	})
	if err != nil {
		addAuthoringError(batch, e.reg, err)
		return
	}
	r.index.Add(id)
}

func (r *registry) registerPrebuilt(e placed, batch *diagnostics.Batch) {
	_, output, ok := parseSignature(e.reg, batch)
	if !ok {
		return
	}
	lifecycle, err := component.ParseLifecycle(e.reg.Lifecycle)
	if err != nil {
		addAuthoringError(batch, e.reg, err)
		return
	}
	cloning, err := component.ParseCloningPolicy(e.reg.Cloning)
	if err != nil {
		addAuthoringError(batch, e.reg, err)
		return
	}
	id, err := r.db.Register(component.Component{
		Kind:         component.KindPrebuilt,
		Name:         e.reg.Name,
		Computation:  r.db.Interner().GetOrIntern(compute.Prebuilt(output)),
		Lifecycle:    lifecycle,
		Scope:        e.scope,
		Cloning:      cloning,
		ErrorHandler: component.Invalid,
		Site:         e.reg.Site,
		DerivedFrom:  component.Invalid,
	})
	if err != nil {
		addAuthoringError(batch, e.reg, err)
		return
	}
	r.index.Add(id)
}

func (r *registry) registerCallable(e placed, kind component.Kind, lifecycle component.Lifecycle, batch *diagnostics.Batch) {
	inputs, output, ok := parseSignature(e.reg, batch)
	if !ok {
		return
	}
	errHandler := component.Invalid
	if e.reg.ErrorHandler != "" {
		if kind == component.KindErrorHandler {
			addAuthoringError(batch, e.reg, fmt.Errorf("an error_handler cannot have an error handler of its own"))
			return
		}
		var err error
		errHandler, err = r.resolveErrorHandler(e.reg, output, nil)
		if err != nil {
			addAuthoringError(batch, e.reg, err)
			return
		}
	}
	_, err := r.db.Register(component.Component{
		Kind:         kind,
		Name:         e.reg.Name,
		Computation:  r.db.Interner().GetOrIntern(compute.Callable(e.reg.Name, inputs, output, e.reg.Async, nil)),
		Lifecycle:    lifecycle,
		Scope:        e.scope,
		ErrorHandler: errHandler,
		Site:         e.reg.Site,
		DerivedFrom:  component.Invalid,
	})
	if err != nil {
		addAuthoringError(batch, e.reg, err)
	}
}

// collectJobs resolves route, middleware and fallback references into the
// set of graphs to compile. Middleware graphs are deduplicated: a
// middleware shared by many routes compiles once.
func (r *registry) collectJobs(routes []placedRoute, batch *diagnostics.Batch) []rootJob {
	var jobs []rootJob
	seenMiddleware := map[string]bool{}

	for _, pr := range routes {
		handlerID, found := r.db.ByName(pr.route.Handler)
		if !found {
			batch.Add(diagnostics.Diagnostic{
				Code:     diagnostics.CodeUnknownReference,
				Severity: diagnostics.SeverityError,
				Route:    pr.route.Pattern,
				Summary:  fmt.Sprintf("route %q references unknown handler %q", pr.route.Pattern, pr.route.Handler),
				Site:     pr.route.Site,
			})
			continue
		}
		if r.db.Get(handlerID).Kind != component.KindRequestHandler {
			batch.Add(diagnostics.Diagnostic{
				Code:     diagnostics.CodeUnknownReference,
				Severity: diagnostics.SeverityError,
				Route:    pr.route.Pattern,
				Summary:  fmt.Sprintf("route %q references %q, which is not a handler block", pr.route.Pattern, pr.route.Handler),
				Site:     pr.route.Site,
			})
			continue
		}
		jobs = append(jobs, rootJob{label: pr.route.Pattern, root: handlerID})

		for _, mw := range pr.route.Middleware {
			if seenMiddleware[mw] {
				continue
			}
			seenMiddleware[mw] = true
			mwID, found := r.db.ByName(mw)
			if !found || r.db.Get(mwID).Kind != component.KindMiddleware {
				batch.Add(diagnostics.Diagnostic{
					Code:     diagnostics.CodeUnknownReference,
					Severity: diagnostics.SeverityError,
					Route:    pr.route.Pattern,
					Summary:  fmt.Sprintf("route %q references unknown middleware %q", pr.route.Pattern, mw),
					Site:     pr.route.Site,
				})
				continue
			}
			jobs = append(jobs, rootJob{label: "middleware " + mw, root: mwID})
		}
	}

	for _, id := range r.db.All() {
		if r.db.Get(id).Kind == component.KindFallback {
			jobs = append(jobs, rootJob{label: "fallback " + r.db.Get(id).Name, root: id})
		}
	}
	return jobs
}

func parseSignature(reg blueprint.Registration, batch *diagnostics.Batch) ([]language.TypeRef, language.TypeRef, bool) {
	var inputs []language.TypeRef
	for _, raw := range reg.Inputs {
		t, err := language.Parse(raw)
		if err != nil {
			addAuthoringError(batch, reg, fmt.Errorf("input %q: %w", raw, err))
			return nil, language.TypeRef{}, false
		}
		inputs = append(inputs, t)
	}
	output, err := language.Parse(reg.Output)
	if err != nil {
		addAuthoringError(batch, reg, fmt.Errorf("output %q: %w", reg.Output, err))
		return nil, language.TypeRef{}, false
	}
	return inputs, output, true
}

func addAuthoringError(batch *diagnostics.Batch, reg blueprint.Registration, err error) {
	batch.Add(diagnostics.Diagnostic{
		Code:     diagnostics.CodeInvalidRegistration,
		Severity: diagnostics.SeverityError,
		Summary:  fmt.Sprintf("%s %q: %v", reg.Block, reg.Name, err),
		Site:     reg.Site,
	})
}

func producedType(output language.TypeRef) language.TypeRef {
	if output.IsResult() {
		return output.OkType()
	}
	return output
}
