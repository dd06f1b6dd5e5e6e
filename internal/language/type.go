// Package language models the type expressions that flow through the
// compiler: named types with optional generic arguments, shared-reference
// markers, and the Result<Ok, Err> fallibility wrapper.
//
// Type expressions are parsed from blueprint strings and compared via their
// canonical string form, which doubles as the interning and index key.
package language

import (
	"fmt"
	"strings"
)

// TypeRef is a parsed type expression.
//
// A TypeRef is a value type: it is copied freely and never mutated after
// construction. Identity is defined by the canonical String() form.
type TypeRef struct {
	// Name is the head of the type, e.g. "Json" in "Json<u8>".
	Name string
	// Args holds the generic arguments, in declaration order.
	Args []TypeRef
	// Ref marks a shared reference ("&T"). A reference is read-only;
	// consumers reached through a Ref input borrow rather than consume.
	Ref bool
}

// Named builds a concrete TypeRef with the given head and arguments.
func Named(name string, args ...TypeRef) TypeRef {
	return TypeRef{Name: name, Args: args}
}

// RefTo returns the shared-reference form of t.
func RefTo(t TypeRef) TypeRef {
	t.Ref = true
	return t
}

// Deref strips the reference marker, if any.
func (t TypeRef) Deref() TypeRef {
	t.Ref = false
	return t
}

// String renders the canonical form, e.g. "&Json<Vec<u8>>".
func (t TypeRef) String() string {
	var sb strings.Builder
	t.write(&sb)
	return sb.String()
}

func (t TypeRef) write(sb *strings.Builder) {
	if t.Ref {
		sb.WriteByte('&')
	}
	sb.WriteString(t.Name)
	if len(t.Args) > 0 {
		sb.WriteByte('<')
		for i, a := range t.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			a.write(sb)
		}
		sb.WriteByte('>')
	}
}

// Equal reports structural equality, which coincides with canonical-form
// equality.
func (t TypeRef) Equal(other TypeRef) bool {
	if t.Ref != other.Ref || t.Name != other.Name || len(t.Args) != len(other.Args) {
		return false
	}
	for i := range t.Args {
		if !t.Args[i].Equal(other.Args[i]) {
			return false
		}
	}
	return true
}

// IsResult reports whether t is the fallibility wrapper, Result<Ok, Err>.
func (t TypeRef) IsResult() bool {
	return !t.Ref && t.Name == "Result" && len(t.Args) == 2
}

// OkType returns the success branch of a Result type.
// It panics if t is not a Result.
func (t TypeRef) OkType() TypeRef {
	if !t.IsResult() {
		panic(fmt.Sprintf("language: OkType called on non-Result type %s", t))
	}
	return t.Args[0]
}

// ErrType returns the error branch of a Result type.
// It panics if t is not a Result.
func (t TypeRef) ErrType() TypeRef {
	if !t.IsResult() {
		panic(fmt.Sprintf("language: ErrType called on non-Result type %s", t))
	}
	return t.Args[1]
}

// Parse turns a type expression string into a TypeRef.
//
// Grammar:
//
//	type  = ["&"] ident [ "<" type { "," type } ">" ]
//	ident = letter { letter | digit | "_" | ":" }
func Parse(input string) (TypeRef, error) {
	p := &parser{input: input}
	t, err := p.parseType()
	if err != nil {
		return TypeRef{}, err
	}
	p.skipSpaces()
	if p.pos != len(p.input) {
		return TypeRef{}, fmt.Errorf("unexpected trailing input at offset %d in type expression %q", p.pos, input)
	}
	return t, nil
}

// MustParse is Parse for statically known expressions, e.g. in tests.
func MustParse(input string) TypeRef {
	t, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return t
}

type parser struct {
	input string
	pos   int
}

func (p *parser) skipSpaces() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) parseType() (TypeRef, error) {
	p.skipSpaces()
	var t TypeRef
	if p.pos < len(p.input) && p.input[p.pos] == '&' {
		t.Ref = true
		p.pos++
		p.skipSpaces()
	}
	name, err := p.parseIdent()
	if err != nil {
		return TypeRef{}, err
	}
	t.Name = name

	p.skipSpaces()
	if p.pos < len(p.input) && p.input[p.pos] == '<' {
		p.pos++
		for {
			arg, err := p.parseType()
			if err != nil {
				return TypeRef{}, err
			}
			t.Args = append(t.Args, arg)
			p.skipSpaces()
			if p.pos >= len(p.input) {
				return TypeRef{}, fmt.Errorf("unterminated generic argument list in type expression %q", p.input)
			}
			switch p.input[p.pos] {
			case ',':
				p.pos++
				continue
			case '>':
				p.pos++
			default:
				return TypeRef{}, fmt.Errorf("expected ',' or '>' at offset %d in type expression %q", p.pos, p.input)
			}
			break
		}
	}
	return t, nil
}

func (p *parser) parseIdent() (string, error) {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == ':' {
			p.pos++
			continue
		}
		break
	}
	if p.pos == start {
		return "", fmt.Errorf("expected a type name at offset %d in type expression %q", start, p.input)
	}
	return p.input[start:p.pos], nil
}
