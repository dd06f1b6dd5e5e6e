// Package app wires the compiler's pieces into a runnable application: it
// owns the logger, loads the blueprint and the capability metadata, and
// drives a compile run end to end.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/planc/internal/blueprint"
	"github.com/vk/planc/internal/ctxlog"
	"github.com/vk/planc/internal/metadata"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config

	bp   *blueprint.Blueprint
	caps metadata.Provider
	// closeCaps releases the capability cache, if one was opened.
	closeCaps func() error
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger, the parsed
// blueprint, and the capability provider stack.
func NewApp(outW io.Writer, config *Config) *App {
	logger := newLogger(config.LogLevel, config.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	bp, err := blueprint.NewLoader().Load(ctx, config.BlueprintPath)
	if err != nil {
		// A failure to load the blueprint is a fatal startup error.
		panic(fmt.Errorf("failed to load blueprint: %w", err))
	}
	logger.Debug("Blueprint loaded.")

	table, err := metadata.LoadTable(config.CapsPath)
	if err != nil {
		panic(fmt.Errorf("failed to load capability manifest: %w", err))
	}

	var caps metadata.Provider = table
	closeCaps := func() error { return nil }
	if config.CachePath != "" {
		cache, err := metadata.OpenCache(config.CachePath, table)
		if err != nil {
			panic(fmt.Errorf("failed to open capability cache: %w", err))
		}
		caps = cache
		closeCaps = cache.Close
		logger.Debug("Capability cache attached.", "path", config.CachePath)
	}

	return &App{
		outW:      outW,
		logger:    logger,
		config:    config,
		bp:        bp,
		caps:      caps,
		closeCaps: closeCaps,
	}
}

// Blueprint returns the parsed blueprint. This is primarily for testing.
func (a *App) Blueprint() *blueprint.Blueprint {
	return a.bp
}

// Close releases resources held by the app.
func (a *App) Close() error {
	return a.closeCaps()
}
