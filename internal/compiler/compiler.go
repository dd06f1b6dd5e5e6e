// Package compiler orchestrates a full compile run: registration, index
// population, the freeze, and the parallel per-route graph pipelines.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vk/planc/internal/appstate"
	"github.com/vk/planc/internal/blueprint"
	"github.com/vk/planc/internal/callgraph"
	"github.com/vk/planc/internal/component"
	"github.com/vk/planc/internal/ctxlog"
	"github.com/vk/planc/internal/diagnostics"
	"github.com/vk/planc/internal/metadata"
	"github.com/vk/planc/internal/plan"
)

// Options tunes a compile run.
type Options struct {
	// Workers caps the number of concurrent route pipelines; zero or
	// negative means one per CPU.
	Workers int
}

// Result is the outcome of one run: the plan (complete for every route
// that compiled) and the batch of diagnostics for everything that did not.
type Result struct {
	Plan  *plan.Plan
	Batch *diagnostics.Batch
}

// Compile runs the pipeline over a parsed blueprint.
//
// Registration is single-threaded; it ends with the specialization fixed
// point, the pre-interning of clone and branch transformers, and the
// freeze. After the freeze the component database and constructible index
// are immutable, so the per-route workers share them without locking. A
// route that fails analysis files its diagnostics and is dropped from the
// plan; the remaining routes are unaffected.
func Compile(ctx context.Context, bp *blueprint.Blueprint, caps metadata.Provider, opts Options) (*Result, error) {
	logger := ctxlog.FromContext(ctx)
	runID := uuid.NewString()
	batch := diagnostics.NewBatch(runID)
	logger.Info("Compile run starting.", "run_id", runID)

	reg, jobs := register(bp, batch)
	if batch.HasErrors() {
		logger.Warn("Registration failed, skipping route compilation.", "diagnostics", batch.Len())
		return &Result{Plan: &plan.Plan{RunID: runID}, Batch: batch}, nil
	}

	reg.index.Populate()
	internSupportTransformers(reg.db)
	reg.db.Freeze()
	reg.index.Freeze()
	logger.Debug("Registration frozen.", "components", reg.db.Len(), "jobs", len(jobs))

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	builder := callgraph.NewBuilder(reg.db, reg.index)
	resolver := callgraph.NewResolver(reg.db, caps)
	linearizer := callgraph.NewLinearizer(reg.db)

	var mu sync.Mutex
	var routes []plan.RoutePlan
	singletons := map[component.Id]struct{}{}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for _, job := range jobs {
		job := job
		eg.Go(func() error {
			steps, used, err := compileRoute(builder, resolver, linearizer, job)
			if err != nil {
				var routeErr callgraph.RouteError
				if !errors.As(err, &routeErr) {
					return fmt.Errorf("route %q: %w", job.label, err)
				}
				batch.Add(routeErr.Diagnostic(reg.db, job.label))
				ctxlog.FromContext(ctx).Warn("Route failed analysis.", "route", job.label, "error", err)
				return nil
			}
			mu.Lock()
			routes = append(routes, plan.RoutePlan{
				Route:   job.label,
				Handler: reg.db.Get(job.root).Name,
				Steps:   steps,
			})
			for id := range used {
				singletons[id] = struct{}{}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	state, err := appstate.Derive(reg.db, caps, singletons, batch)
	if err != nil {
		return nil, err
	}

	p := &plan.Plan{RunID: runID, State: state, Routes: routes}
	p.Sort()
	logger.Info("Compile run finished.",
		"run_id", runID,
		"routes", len(routes),
		"failed", len(jobs)-len(routes),
		"diagnostics", batch.Len(),
	)
	return &Result{Plan: p, Batch: batch}, nil
}

// compileRoute runs the three per-route passes and reports the singletons
// the graph touched.
func compileRoute(
	builder *callgraph.Builder,
	resolver *callgraph.Resolver,
	linearizer *callgraph.Linearizer,
	job rootJob,
) ([]plan.Step, map[component.Id]struct{}, error) {
	g, err := builder.Build(job.root)
	if err != nil {
		return nil, nil, err
	}
	constraints, err := resolver.Resolve(g)
	if err != nil {
		return nil, nil, err
	}
	steps, err := linearizer.Linearize(g, constraints)
	if err != nil {
		return nil, nil, err
	}
	return steps, g.Singletons(), nil
}

// internSupportTransformers pre-interns the synthetic components the route
// workers may need, so nothing mutates the database after the freeze. The
// loop tolerates growth: transformers interned for specialized components
// are revisited and settle immediately.
func internSupportTransformers(db *component.Db) {
	for i := 0; i < db.Len(); i++ {
		id := component.Id(i)
		c := db.Get(id)
		if c.Cloning == component.CloneIfNecessary {
			db.InternCloneFor(id)
		}
		if c.Kind != component.KindTransformer && db.Computation(id).IsFallible() {
			db.InternMatchFor(id)
		}
	}
}
