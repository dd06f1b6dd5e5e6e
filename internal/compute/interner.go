package compute

import "fmt"

// Interner is the deduplicating store for computations.
//
// It is populated during the single-threaded registration phase and must be
// frozen before per-route compilation fans out; after Freeze any attempt to
// intern a new computation panics, while re-interning an existing one is a
// read-only lookup and remains safe from concurrent goroutines.
type Interner struct {
	computations []Computation
	ids          map[string]Id
	frozen       bool
}

// NewInterner creates an empty interner.
func NewInterner() *Interner {
	return &Interner{ids: make(map[string]Id)}
}

// GetOrIntern returns the id for a structurally identical computation,
// inserting it first if it has never been seen.
func (in *Interner) GetOrIntern(c Computation) Id {
	key := c.key()
	if id, ok := in.ids[key]; ok {
		return id
	}
	if in.frozen {
		panic(fmt.Sprintf("compute: interner is frozen, cannot intern %s %q", c.Kind, c.Name))
	}
	id := Id(len(in.computations))
	in.computations = append(in.computations, c)
	in.ids[key] = id
	return id
}

// Lookup returns the id for a computation without inserting it.
func (in *Interner) Lookup(c Computation) (Id, bool) {
	id, ok := in.ids[c.key()]
	return id, ok
}

// Get returns the computation for an interned id.
func (in *Interner) Get(id Id) Computation {
	return in.computations[id]
}

// Len returns the number of distinct interned computations.
func (in *Interner) Len() int {
	return len(in.computations)
}

// Freeze marks the end of the registration phase. The interner is treated
// as immutable afterwards, which is what makes it safe to share across the
// per-route compilation workers without locking.
func (in *Interner) Freeze() {
	in.frozen = true
}
