// Package compute models the individual input→output transformations that
// call graphs are assembled from, and the interner that deduplicates them.
package compute

import (
	"fmt"
	"strings"

	"github.com/vk/planc/internal/language"
)

// Id is the interned handle for a Computation. Two structurally identical
// computations always receive the same Id.
type Id int

// Invalid is the zero-value sentinel for "no computation".
const Invalid Id = -1

// Kind discriminates the computation variants.
type Kind int

const (
	// KindCallable is a user-registered function or method.
	KindCallable Kind = iota
	// KindMatchResult is a synthetic split of a fallible output into one
	// of its branches.
	KindMatchResult
	// KindClone is a synthetic duplication of a borrowed value.
	KindClone
	// KindPrebuilt is a zero-input leaf supplied by the embedding
	// application before the request pipeline starts.
	KindPrebuilt
	// KindConfig is a zero-input leaf read from application configuration.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindCallable:
		return "callable"
	case KindMatchResult:
		return "match_result"
	case KindClone:
		return "clone"
	case KindPrebuilt:
		return "prebuilt"
	case KindConfig:
		return "config"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MatchBranch selects which side of a fallible output a MatchResult
// computation extracts.
type MatchBranch int

const (
	MatchOk MatchBranch = iota
	MatchErr
)

func (b MatchBranch) String() string {
	if b == MatchOk {
		return "ok"
	}
	return "err"
}

// Computation is one node-recipe: an ordered list of required input types
// and a single output type. Variants are discriminated by Kind; fields not
// listed for a variant are zero.
//
//   - KindCallable: Name, Inputs, Output, Async, Generics.
//   - KindMatchResult: Name of the fallible callable, one Input (the
//     Result type), Output (the selected branch type), Branch.
//   - KindClone: one Input (a shared reference), Output (the owned copy).
//   - KindPrebuilt / KindConfig: zero Inputs, Output; KindConfig also
//     carries the configuration Key.
type Computation struct {
	Kind     Kind
	Name     string
	Inputs   []language.TypeRef
	Output   language.TypeRef
	Async    bool
	Generics []string
	Branch   MatchBranch
	Key      string
}

// Callable builds a user-callable computation.
func Callable(name string, inputs []language.TypeRef, output language.TypeRef, async bool, generics []string) Computation {
	return Computation{
		Kind:     KindCallable,
		Name:     name,
		Inputs:   inputs,
		Output:   output,
		Async:    async,
		Generics: generics,
	}
}

// MatchResult builds the synthetic branch-selection computation for the
// fallible callable named name.
func MatchResult(name string, result language.TypeRef, branch MatchBranch) Computation {
	output := result.OkType()
	if branch == MatchErr {
		output = result.ErrType()
	}
	return Computation{
		Kind:   KindMatchResult,
		Name:   name,
		Inputs: []language.TypeRef{result},
		Output: output,
		Branch: branch,
	}
}

// Clone builds the synthetic duplication computation for the given type.
// Its single input is a shared reference; its output is an owned copy.
func Clone(of language.TypeRef) Computation {
	return Computation{
		Kind:   KindClone,
		Inputs: []language.TypeRef{language.RefTo(of)},
		Output: of,
	}
}

// Prebuilt builds the zero-input leaf for an externally supplied value.
func Prebuilt(output language.TypeRef) Computation {
	return Computation{Kind: KindPrebuilt, Output: output}
}

// Config builds the zero-input leaf for a configuration value.
func Config(key string, output language.TypeRef) Computation {
	return Computation{Kind: KindConfig, Key: key, Output: output}
}

// IsFallible reports whether the computation's output is the Result
// fallibility wrapper.
func (c Computation) IsFallible() bool {
	return c.Kind == KindCallable && c.Output.IsResult()
}

// IsTemplated reports whether the computation still has unassigned generic
// parameters.
func (c Computation) IsTemplated() bool {
	return len(c.Generics) > 0
}

// ParamSet returns the declared generic parameters as a set.
func (c Computation) ParamSet() map[string]struct{} {
	set, err := language.ParamSet(c.Generics)
	if err != nil {
		// Duplicates are rejected at registration time.
		panic(err)
	}
	return set
}

// Specialize substitutes the given bindings into the computation's inputs
// and output and drops the bound parameters from the generic list.
func (c Computation) Specialize(bindings language.Bindings) Computation {
	out := c
	out.Inputs = make([]language.TypeRef, len(c.Inputs))
	for i, in := range c.Inputs {
		out.Inputs[i] = language.Substitute(in, bindings)
	}
	out.Output = language.Substitute(c.Output, bindings)
	out.Generics = nil
	for _, g := range c.Generics {
		if _, bound := bindings[g]; !bound {
			out.Generics = append(out.Generics, g)
		}
	}
	return out
}

// key is the canonical identity used for structural deduplication.
func (c Computation) key() string {
	var sb strings.Builder
	sb.WriteString(c.Kind.String())
	sb.WriteByte('|')
	sb.WriteString(c.Name)
	sb.WriteByte('|')
	for _, in := range c.Inputs {
		sb.WriteString(in.String())
		sb.WriteByte(',')
	}
	sb.WriteByte('|')
	sb.WriteString(c.Output.String())
	if c.Async {
		sb.WriteString("|async")
	}
	if c.Kind == KindMatchResult {
		sb.WriteByte('|')
		sb.WriteString(c.Branch.String())
	}
	if c.Kind == KindConfig {
		sb.WriteByte('|')
		sb.WriteString(c.Key)
	}
	for _, g := range c.Generics {
		sb.WriteByte('|')
		sb.WriteString(g)
	}
	return sb.String()
}
