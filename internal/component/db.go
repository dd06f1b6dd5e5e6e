package component

import (
	"fmt"

	"github.com/vk/planc/internal/compute"
	"github.com/vk/planc/internal/language"
)

// Db is the component database. Like the computation interner it is filled
// during the single-threaded registration phase, frozen, and then shared
// read-only across the per-route compilation workers.
type Db struct {
	interner   *compute.Interner
	components []Component
	byKey      map[string]Id
	byName     map[string]Id
	// clones maps a constructor to the synthetic transformer that calls
	// clone on its output. Populated before the freeze so the ownership
	// resolver never has to mutate shared state.
	clones map[Id]Id
	// matches maps a fallible component to its ok/err branch transformers,
	// also pre-interned so graph builders only read.
	matches map[Id][2]Id
	frozen  bool
}

// NewDb creates an empty database backed by the given interner.
func NewDb(interner *compute.Interner) *Db {
	return &Db{
		interner: interner,
		byKey:    make(map[string]Id),
		byName:   make(map[string]Id),
		clones:   make(map[Id]Id),
		matches:  make(map[Id][2]Id),
	}
}

// Interner exposes the computation interner the database was built on.
func (db *Db) Interner() *compute.Interner {
	return db.interner
}

// Register adds a user registration under its blueprint name. Two
// registrations with the same name are a blueprint authoring error.
func (db *Db) Register(c Component) (Id, error) {
	if db.frozen {
		panic("component: database is frozen")
	}
	if c.Name == "" {
		return Invalid, fmt.Errorf("component registration is missing a name")
	}
	if prior, dup := db.byName[c.Name]; dup {
		return Invalid, fmt.Errorf("component %q is registered twice (first registration at %s)", c.Name, db.components[prior].Site)
	}
	id := db.intern(c)
	db.byName[c.Name] = id
	return id, nil
}

// GetOrIntern deduplicates synthetic and specialized components: the same
// computation registered in the same scope with the same metadata resolves
// to the same id.
func (db *Db) GetOrIntern(c Component) Id {
	key := db.key(c)
	if id, ok := db.byKey[key]; ok {
		return id
	}
	if db.frozen {
		panic(fmt.Sprintf("component: database is frozen, cannot intern %s computation %d", c.Kind, c.Computation))
	}
	return db.intern(c)
}

func (db *Db) intern(c Component) Id {
	id := Id(len(db.components))
	db.components = append(db.components, c)
	db.byKey[db.key(c)] = id
	return id
}

func (db *Db) key(c Component) string {
	return fmt.Sprintf("%d|%d|%d|%d|%d|%s", c.Kind, c.Computation, c.Scope, c.Lifecycle, c.Cloning, c.Name)
}

// Get returns the component for an id.
func (db *Db) Get(id Id) Component {
	return db.components[id]
}

// ByName looks a user registration up by its blueprint name.
func (db *Db) ByName(name string) (Id, bool) {
	id, ok := db.byName[name]
	return id, ok
}

// Len returns the number of interned components.
func (db *Db) Len() int {
	return len(db.components)
}

// All iterates component ids in interning order.
func (db *Db) All() []Id {
	out := make([]Id, len(db.components))
	for i := range db.components {
		out[i] = Id(i)
	}
	return out
}

// Computation returns the interned computation behind a component.
func (db *Db) Computation(id Id) compute.Computation {
	return db.interner.Get(db.components[id].Computation)
}

// OutputType returns the type the component produces. For fallible
// callables this is the full Result wrapper.
func (db *Db) OutputType(id Id) language.TypeRef {
	return db.Computation(id).Output
}

// InternCloneFor creates (or returns) the synthetic transformer component
// that duplicates the output of the given constructor. Must be called
// before Freeze; the ownership resolver only reads the result.
func (db *Db) InternCloneFor(of Id) Id {
	if cloneID, ok := db.clones[of]; ok {
		return cloneID
	}
	base := db.Get(of)
	output := db.OutputType(of)
	if output.IsResult() {
		output = output.OkType()
	}
	computationID := db.interner.GetOrIntern(compute.Clone(output.Deref()))
	cloneID := db.GetOrIntern(Component{
		Kind:         KindTransformer,
		Name:         fmt.Sprintf("clone<%s>", output.Deref()),
		Computation:  computationID,
		Lifecycle:    Transient,
		Scope:        base.Scope,
		Cloning:      NeverClone,
		ErrorHandler: Invalid,
		Site:         base.Site,
		DerivedFrom:  of,
	})
	db.clones[of] = cloneID
	return cloneID
}

// CloneFor returns the pre-interned clone transformer for a constructor,
// if one was created during registration.
func (db *Db) CloneFor(of Id) (Id, bool) {
	id, ok := db.clones[of]
	return id, ok
}

// InternMatchFor creates (or returns) the pair of synthetic transformers
// that split the Result output of a fallible component into its ok and err
// branches. Must be called before Freeze.
func (db *Db) InternMatchFor(of Id) (okID, errID Id) {
	if pair, ok := db.matches[of]; ok {
		return pair[0], pair[1]
	}
	base := db.Get(of)
	computation := db.Computation(of)
	result := computation.Output
	intern := func(branch compute.MatchBranch) Id {
		cid := db.interner.GetOrIntern(compute.MatchResult(computation.Name, result, branch))
		return db.GetOrIntern(Component{
			Kind:         KindTransformer,
			Name:         fmt.Sprintf("%s.%s", base.Name, branch),
			Computation:  cid,
			Lifecycle:    base.Lifecycle,
			Scope:        base.Scope,
			Cloning:      base.Cloning,
			ErrorHandler: Invalid,
			Site:         base.Site,
			DerivedFrom:  of,
		})
	}
	okID = intern(compute.MatchOk)
	errID = intern(compute.MatchErr)
	db.matches[of] = [2]Id{okID, errID}
	return okID, errID
}

// MatchFor returns the pre-interned branch transformers for a fallible
// component, if they were created during registration.
func (db *Db) MatchFor(of Id) (okID, errID Id, ok bool) {
	pair, found := db.matches[of]
	if !found {
		return Invalid, Invalid, false
	}
	return pair[0], pair[1], true
}

// Freeze ends the registration phase. The database is immutable afterwards
// and safe to share without locking.
func (db *Db) Freeze() {
	db.frozen = true
	db.interner.Freeze()
}
