package metadata

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vk/planc/internal/language"
)

// manifest is the YAML shape of a capability table.
//
//	types:
//	  u8: [copy, clone, share]
//	  HttpClient: [clone, share]
//	  "Json<u8>": [copy, clone, share]   # exact generic override
//	wrappers:
//	  Vec: [clone, share]                # holds iff all arguments hold it
type manifest struct {
	Types    map[string][]string `yaml:"types"`
	Wrappers map[string][]string `yaml:"wrappers"`
}

// TableProvider answers capability queries from a static table loaded out
// of a YAML manifest. The maps are built once and never mutated, so the
// provider is safe for concurrent use.
type TableProvider struct {
	exact    map[string]map[Capability]bool
	wrappers map[string]map[Capability]bool
}

// LoadTable reads and parses a capability manifest file.
func LoadTable(path string) (*TableProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading capability manifest %s: %w", path, err)
	}
	return ParseTable(data, path)
}

// ParseTable parses capability manifest content. The path argument is used
// only for error messages.
func ParseTable(data []byte, path string) (*TableProvider, error) {
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing capability manifest %s: %w", path, err)
	}
	p := &TableProvider{
		exact:    make(map[string]map[Capability]bool, len(m.Types)),
		wrappers: make(map[string]map[Capability]bool, len(m.Wrappers)),
	}
	for name, caps := range m.Types {
		set, err := capSet(caps)
		if err != nil {
			return nil, fmt.Errorf("in capability manifest %s, type %q: %w", path, name, err)
		}
		p.exact[name] = set
	}
	for name, caps := range m.Wrappers {
		set, err := capSet(caps)
		if err != nil {
			return nil, fmt.Errorf("in capability manifest %s, wrapper %q: %w", path, name, err)
		}
		p.wrappers[name] = set
	}
	return p, nil
}

func capSet(names []string) (map[Capability]bool, error) {
	set := make(map[Capability]bool, len(names))
	for _, n := range names {
		switch c := Capability(n); c {
		case CapabilityCopy, CapabilityClone, CapabilityShare:
			set[c] = true
		default:
			return nil, fmt.Errorf("unknown capability %q", n)
		}
	}
	return set, nil
}

// Supports implements Provider.
//
// Lookup order: built-in reference rules, then an exact canonical-form
// entry, then a plain-name entry for non-generic types, then the wrapper
// rule (the wrapper grants a capability iff every generic argument
// supports it). Types the table knows nothing about support nothing.
func (p *TableProvider) Supports(t language.TypeRef, capability Capability) (bool, error) {
	if ok, handled, err := supportsRef(p, t, capability); handled {
		return ok, err
	}
	if set, found := p.exact[t.String()]; found {
		return set[capability], nil
	}
	if len(t.Args) == 0 {
		return false, nil
	}
	set, found := p.wrappers[t.Name]
	if !found || !set[capability] {
		return false, nil
	}
	for _, arg := range t.Args {
		ok, err := p.Supports(arg, capability)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
