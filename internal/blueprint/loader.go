package blueprint

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/planc/internal/ctxlog"
	"github.com/vk/planc/internal/diagnostics"
	"github.com/vk/planc/internal/fsutil"
)

// Loader parses blueprint files into the syntactic model.
type Loader struct{}

// NewLoader creates a new blueprint loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every .hcl file under the given paths and merges the results
// into one blueprint. A parse or decode failure is fatal: unlike per-route
// analysis errors, a malformed blueprint leaves nothing to compile.
func (l *Loader) Load(ctx context.Context, paths ...string) (*Blueprint, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := fsutil.FindFilesByExtension(paths, ".hcl")
	if err != nil {
		return nil, fmt.Errorf("failed to discover blueprint files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl blueprint files found under %v", paths)
	}
	logger.Debug("Discovered blueprint files.", "count", len(files))

	parser := hclparse.NewParser()
	root := &Scope{}
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse blueprint file %s: %w", file, diags)
		}
		if err := l.decodeScope(hclFile.Body, root); err != nil {
			return nil, err
		}
	}

	logger.Debug("Blueprint loading complete.",
		"registrations", len(root.Registrations),
		"routes", len(root.Routes),
		"scopes", len(root.Children),
	)
	return &Blueprint{Root: root}, nil
}

// Parse decodes blueprint content from memory; file names show up only in
// error messages and sites.
func (l *Loader) Parse(src []byte, filename string) (*Blueprint, error) {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse blueprint %s: %w", filename, diags)
	}
	root := &Scope{}
	if err := l.decodeScope(hclFile.Body, root); err != nil {
		return nil, err
	}
	return &Blueprint{Root: root}, nil
}

// decodeScope pulls the block headers out via the body schema, so every
// registration keeps its definition range, then decodes each block body
// into its argument shape.
func (l *Loader) decodeScope(body hcl.Body, into *Scope) error {
	content, diags := body.Content(scopeSchema)
	if diags.HasErrors() {
		return fmt.Errorf("failed to decode blueprint scope: %w", diags)
	}

	for _, block := range content.Blocks {
		site := diagnostics.SiteFromRange(block.DefRange)
		switch block.Type {
		case "constructor":
			var args constructorArgs
			if err := decodeArgs(block, &args); err != nil {
				return err
			}
			into.Registrations = append(into.Registrations, Registration{
				Block:        block.Type,
				Name:         block.Labels[0],
				Inputs:       args.Inputs,
				Output:       args.Output,
				Lifecycle:    args.Lifecycle,
				Cloning:      args.Cloning,
				Async:        args.Async,
				Generics:     args.Generics,
				ErrorHandler: args.ErrorHandler,
				Site:         site,
			})
		case "handler", "middleware", "fallback", "error_handler":
			var args callableArgs
			if err := decodeArgs(block, &args); err != nil {
				return err
			}
			output := args.Output
			if output == "" {
				output = "Response"
			}
			into.Registrations = append(into.Registrations, Registration{
				Block:        block.Type,
				Name:         block.Labels[0],
				Inputs:       args.Inputs,
				Output:       output,
				Async:        args.Async,
				ErrorHandler: args.ErrorHandler,
				Site:         site,
			})
		case "config":
			var args configArgs
			if err := decodeArgs(block, &args); err != nil {
				return err
			}
			lifecycle := args.Lifecycle
			if lifecycle == "" {
				// Configuration is read once at startup.
				lifecycle = "singleton"
			}
			into.Registrations = append(into.Registrations, Registration{
				Block:     block.Type,
				Name:      block.Labels[0],
				Output:    args.Output,
				Lifecycle: lifecycle,
				Cloning:   args.Cloning,
				Key:       args.Key,
				Site:      site,
			})
		case "prebuilt":
			var args prebuiltArgs
			if err := decodeArgs(block, &args); err != nil {
				return err
			}
			into.Registrations = append(into.Registrations, Registration{
				Block:     block.Type,
				Name:      block.Labels[0],
				Output:    args.Output,
				Lifecycle: args.Lifecycle,
				Cloning:   args.Cloning,
				Site:      site,
			})
		case "route":
			var args routeArgs
			if err := decodeArgs(block, &args); err != nil {
				return err
			}
			into.Routes = append(into.Routes, Route{
				Pattern:    block.Labels[0],
				Handler:    args.Handler,
				Middleware: args.Middleware,
				Site:       site,
			})
		case "scope":
			child := &Scope{Label: block.Labels[0], Site: site}
			if err := l.decodeScope(block.Body, child); err != nil {
				return err
			}
			into.Children = append(into.Children, child)
		}
	}
	return nil
}

func decodeArgs(block *hcl.Block, into any) error {
	if diags := gohcl.DecodeBody(block.Body, nil, into); diags.HasErrors() {
		return fmt.Errorf("failed to decode %s %q at %s: %w",
			block.Type, block.Labels[0], block.DefRange, diags)
	}
	return nil
}
