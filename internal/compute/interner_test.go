package compute

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/planc/internal/language"
)

func TestInterner_Deduplicates(t *testing.T) {
	t.Parallel()

	in := NewInterner()

	a := Callable("make_a", nil, language.MustParse("A"), false, nil)
	first := in.GetOrIntern(a)
	second := in.GetOrIntern(Callable("make_a", nil, language.MustParse("A"), false, nil))
	assert.Equal(t, first, second)
	assert.Equal(t, 1, in.Len())

	other := in.GetOrIntern(Callable("make_a", nil, language.MustParse("B"), false, nil))
	assert.NotEqual(t, first, other)
	assert.Equal(t, 2, in.Len())
}

func TestInterner_DistinguishesVariants(t *testing.T) {
	t.Parallel()

	in := NewInterner()
	result := language.MustParse("Result<A, E>")

	okID := in.GetOrIntern(MatchResult("fallible", result, MatchOk))
	errID := in.GetOrIntern(MatchResult("fallible", result, MatchErr))
	assert.NotEqual(t, okID, errID)

	assert.Equal(t, "A", in.Get(okID).Output.String())
	assert.Equal(t, "E", in.Get(errID).Output.String())

	cloneID := in.GetOrIntern(Clone(language.MustParse("A")))
	clone := in.Get(cloneID)
	require.Len(t, clone.Inputs, 1)
	assert.Equal(t, "&A", clone.Inputs[0].String())
	assert.Equal(t, "A", clone.Output.String())

	prebuiltID := in.GetOrIntern(Prebuilt(language.MustParse("A")))
	configID := in.GetOrIntern(Config("db", language.MustParse("A")))
	assert.NotEqual(t, prebuiltID, configID)
}

func TestInterner_FrozenPanicsOnNewEntry(t *testing.T) {
	t.Parallel()

	in := NewInterner()
	id := in.GetOrIntern(Prebuilt(language.MustParse("Request")))
	in.Freeze()

	// Existing entries are still retrievable.
	assert.Equal(t, id, in.GetOrIntern(Prebuilt(language.MustParse("Request"))))

	assert.Panics(t, func() {
		in.GetOrIntern(Prebuilt(language.MustParse("Response")))
	})
}

func TestComputation_Specialize(t *testing.T) {
	t.Parallel()

	c := Callable(
		"json",
		[]language.TypeRef{language.MustParse("&Codec<T>")},
		language.MustParse("Json<T>"),
		false,
		[]string{"T"},
	)
	require.True(t, c.IsTemplated())

	bound := c.Specialize(language.Bindings{"T": language.MustParse("Vec<u8>")})
	assert.False(t, bound.IsTemplated())
	assert.Equal(t, "Json<Vec<u8>>", bound.Output.String())
	require.Len(t, bound.Inputs, 1)
	assert.Equal(t, "&Codec<Vec<u8>>", bound.Inputs[0].String())
}

func TestComputation_IsFallible(t *testing.T) {
	t.Parallel()

	fallible := Callable("auth", nil, language.MustParse("Result<Session, AuthError>"), false, nil)
	assert.True(t, fallible.IsFallible())

	plain := Callable("make_a", nil, language.MustParse("A"), false, nil)
	assert.False(t, plain.IsFallible())

	// A prebuilt Result is a value, not a fallible invocation.
	leaf := Prebuilt(language.MustParse("Result<A, E>"))
	assert.False(t, leaf.IsFallible())
}
