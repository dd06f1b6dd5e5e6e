// Package metadata answers capability queries about the types that flow
// through the compiler: can a value be trivially copied, duplicated via
// clone, or shared across concurrent request-handling workers?
//
// The compiler core only ever talks to the Provider interface; where the
// answers come from (a YAML manifest, an on-disk cache, a future
// introspection backend) is a plugging concern.
package metadata

import (
	"github.com/vk/planc/internal/language"
)

// Capability names one type-level property the compiler may ask about.
type Capability string

const (
	// CapabilityCopy: duplicable at zero cost; ownership analysis never
	// needs to synthesize anything for these types.
	CapabilityCopy Capability = "copy"
	// CapabilityClone: duplicable via an explicit clone invocation.
	CapabilityClone Capability = "clone"
	// CapabilityShare: safe to share across concurrent workers; required
	// of every field of the application state record.
	CapabilityShare Capability = "share"
)

// Capabilities is the full set, in a stable order.
var Capabilities = []Capability{CapabilityCopy, CapabilityClone, CapabilityShare}

// Provider answers capability queries. Implementations must be safe for
// concurrent use: providers are queried from the parallel per-route
// compilation workers.
type Provider interface {
	Supports(t language.TypeRef, capability Capability) (bool, error)
}

// supportsRef applies the built-in rules for shared references before
// delegating to per-type data: a reference is always trivially copyable
// and clonable (it is an alias, not the value), and it is shareable
// exactly when the referenced type is.
func supportsRef(p Provider, t language.TypeRef, capability Capability) (bool, bool, error) {
	if !t.Ref {
		return false, false, nil
	}
	switch capability {
	case CapabilityCopy, CapabilityClone:
		return true, true, nil
	default:
		ok, err := p.Supports(t.Deref(), capability)
		return ok, true, err
	}
}
