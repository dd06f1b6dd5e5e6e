package app

import (
	"context"
	"fmt"
	"os"

	"github.com/vk/planc/internal/compiler"
	"github.com/vk/planc/internal/ctxlog"
	"github.com/vk/planc/internal/diagnostics"
)

// Run executes one compile run based on the provided configuration.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	result, err := compiler.Compile(ctx, a.bp, a.caps, compiler.Options{
		Workers: a.config.WorkerCount,
	})
	if err != nil {
		return fmt.Errorf("compilation aborted: %w", err)
	}

	if result.Batch.Len() > 0 {
		color := false
		if f, ok := a.outW.(*os.File); ok {
			color = diagnostics.ShouldColorize(f)
		}
		diagnostics.Render(a.outW, result.Batch, color)
	}

	if err := a.writePlan(result.Plan.Format()); err != nil {
		return err
	}

	if result.Batch.HasErrors() {
		return fmt.Errorf("compilation finished with errors (run %s)", result.Batch.RunID())
	}
	a.logger.Debug("App.Run method finished.")
	return nil
}

// writePlan sends the rendered plan to the configured destination. The
// failed routes are already absent from it; partial output is the point.
func (a *App) writePlan(rendered string) error {
	if a.config.OutPath == "" || a.config.OutPath == "-" {
		_, err := fmt.Fprint(a.outW, rendered)
		return err
	}
	if err := os.WriteFile(a.config.OutPath, []byte(rendered), 0o644); err != nil {
		return fmt.Errorf("failed to write plan to %s: %w", a.config.OutPath, err)
	}
	a.logger.Info("Plan written.", "path", a.config.OutPath)
	return nil
}
