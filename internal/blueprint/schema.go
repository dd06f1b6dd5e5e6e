// Package blueprint parses the HCL application blueprint: the declarative
// inventory of constructors, handlers, routes and scopes the compiler
// turns into request plans.
package blueprint

import (
	"github.com/hashicorp/hcl/v2"

	"github.com/vk/planc/internal/diagnostics"
)

// Registration is one component declaration, still syntactic: types are
// unparsed strings and references are unresolved names.
type Registration struct {
	Block        string
	Name         string
	Inputs       []string
	Output       string
	Lifecycle    string
	Cloning      string
	Async        bool
	Generics     []string
	ErrorHandler string
	// Key is the configuration key backing a config block.
	Key  string
	Site diagnostics.Site
}

// Route binds a method-and-path pattern to a handler and its middleware
// chain.
type Route struct {
	Pattern    string
	Handler    string
	Middleware []string
	Site       diagnostics.Site
}

// Scope is one visibility level of the blueprint. The root scope has an
// empty label; nested scope blocks form the tree.
type Scope struct {
	Label         string
	Registrations []Registration
	Routes        []Route
	Children      []*Scope
	Site          diagnostics.Site
}

// Blueprint is the parse result of one or more .hcl files, merged into a
// single root scope.
type Blueprint struct {
	Root *Scope
}

// Block argument shapes, decoded with gohcl once the block headers (and
// their ranges) have been pulled out via the body schema.

type constructorArgs struct {
	Inputs       []string `hcl:"inputs,optional"`
	Output       string   `hcl:"output"`
	Lifecycle    string   `hcl:"lifecycle,optional"`
	Cloning      string   `hcl:"cloning,optional"`
	Async        bool     `hcl:"async,optional"`
	Generics     []string `hcl:"generics,optional"`
	ErrorHandler string   `hcl:"error_handler,optional"`
}

type callableArgs struct {
	Inputs       []string `hcl:"inputs,optional"`
	Output       string   `hcl:"output,optional"`
	Async        bool     `hcl:"async,optional"`
	ErrorHandler string   `hcl:"error_handler,optional"`
}

type configArgs struct {
	Key       string `hcl:"key"`
	Output    string `hcl:"output"`
	Lifecycle string `hcl:"lifecycle,optional"`
	Cloning   string `hcl:"cloning,optional"`
}

type prebuiltArgs struct {
	Output    string `hcl:"output"`
	Lifecycle string `hcl:"lifecycle,optional"`
	Cloning   string `hcl:"cloning,optional"`
}

type routeArgs struct {
	Handler    string   `hcl:"handler"`
	Middleware []string `hcl:"middleware,optional"`
}

// scopeSchema lists every block a scope body (including the file root) may
// contain.
var scopeSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "constructor", LabelNames: []string{"name"}},
		{Type: "config", LabelNames: []string{"name"}},
		{Type: "prebuilt", LabelNames: []string{"name"}},
		{Type: "handler", LabelNames: []string{"name"}},
		{Type: "middleware", LabelNames: []string{"name"}},
		{Type: "fallback", LabelNames: []string{"name"}},
		{Type: "error_handler", LabelNames: []string{"name"}},
		{Type: "route", LabelNames: []string{"pattern"}},
		{Type: "scope", LabelNames: []string{"label"}},
	},
}
