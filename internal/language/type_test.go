package language

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("plain name", func(t *testing.T) {
		got, err := Parse("HttpClient")
		require.NoError(t, err)
		assert.Equal(t, TypeRef{Name: "HttpClient"}, got)
	})

	t.Run("reference", func(t *testing.T) {
		got, err := Parse("&DbPool")
		require.NoError(t, err)
		assert.Equal(t, TypeRef{Name: "DbPool", Ref: true}, got)
	})

	t.Run("nested generics", func(t *testing.T) {
		got, err := Parse("Json<Vec<u8>>")
		require.NoError(t, err)
		assert.Equal(t, Named("Json", Named("Vec", Named("u8"))), got)
	})

	t.Run("result with two arguments", func(t *testing.T) {
		got, err := Parse("Result<Session, AuthError>")
		require.NoError(t, err)
		require.True(t, got.IsResult())
		assert.Equal(t, "Session", got.OkType().Name)
		assert.Equal(t, "AuthError", got.ErrType().Name)
	})

	t.Run("spaces are tolerated", func(t *testing.T) {
		got, err := Parse("Map< String , u64 >")
		require.NoError(t, err)
		assert.Equal(t, "Map<String, u64>", got.String())
	})

	t.Run("errors", func(t *testing.T) {
		for _, input := range []string{"", "&", "Vec<", "Vec<u8", "Vec<u8>x", "<u8>"} {
			_, err := Parse(input)
			assert.Error(t, err, "input %q", input)
		}
	})
}

func TestString_RoundTrips(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"A", "&A", "Json<u8>", "&Json<Vec<u8>>", "Result<A, E>"} {
		parsed, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, s, parsed.String())
	}
}

func TestUnify(t *testing.T) {
	t.Parallel()

	params := map[string]struct{}{"T": {}}

	t.Run("parameter binds whole subtree", func(t *testing.T) {
		bindings, ok := Unify(MustParse("Json<T>"), params, MustParse("Json<Vec<u8>>"))
		require.True(t, ok)
		assert.Equal(t, "Vec<u8>", bindings["T"].String())
	})

	t.Run("mismatched heads do not unify", func(t *testing.T) {
		_, ok := Unify(MustParse("Json<T>"), params, MustParse("Xml<u8>"))
		assert.False(t, ok)
	})

	t.Run("repeated parameter must bind consistently", func(t *testing.T) {
		p, err := ParamSet([]string{"T"})
		require.NoError(t, err)
		_, ok := Unify(MustParse("Pair<T, T>"), p, MustParse("Pair<u8, u16>"))
		assert.False(t, ok)

		bindings, ok := Unify(MustParse("Pair<T, T>"), p, MustParse("Pair<u8, u8>"))
		require.True(t, ok)
		assert.Equal(t, "u8", bindings["T"].String())
	})

	t.Run("reference markers must agree", func(t *testing.T) {
		_, ok := Unify(MustParse("&T"), params, MustParse("A"))
		assert.False(t, ok)

		bindings, ok := Unify(MustParse("&T"), params, MustParse("&A"))
		require.True(t, ok)
		assert.Equal(t, "A", bindings["T"].String())
	})

	t.Run("concrete template requires exact match", func(t *testing.T) {
		_, ok := Unify(MustParse("Vec<u8>"), params, MustParse("Vec<u16>"))
		assert.False(t, ok)
	})
}

func TestSubstitute(t *testing.T) {
	t.Parallel()

	bindings := Bindings{"T": MustParse("Vec<u8>")}
	assert.Equal(t, "Json<Vec<u8>>", Substitute(MustParse("Json<T>"), bindings).String())
	assert.Equal(t, "&Vec<u8>", Substitute(MustParse("&T"), bindings).String())
	assert.Equal(t, "u32", Substitute(MustParse("u32"), bindings).String())
}

func TestCollectParams(t *testing.T) {
	t.Parallel()

	params, err := ParamSet([]string{"T", "E"})
	require.NoError(t, err)
	assert.Equal(t, []string{"E", "T"}, CollectParams(MustParse("Result<Json<T>, E>"), params))
	assert.Empty(t, CollectParams(MustParse("u8"), params))
	assert.True(t, IsTemplate(MustParse("Box<T>"), params))
	assert.False(t, IsTemplate(MustParse("Box<u8>"), params))
}

func TestParamSet_RejectsDuplicates(t *testing.T) {
	t.Parallel()

	_, err := ParamSet([]string{"T", "T"})
	assert.ErrorContains(t, err, "declared more than once")
}
