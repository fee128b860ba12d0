package value

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeJSONRoundTrip(t *testing.T) {
	v, err := DecodeJSON([]byte(`{"a":1,"b":"x","c":[true,null],"d":{"e":2.5}}`))
	require.NoError(t, err)
	require.Equal(t, KindStruct, v.Kind())

	a, ok := v.Get("a")
	require.True(t, ok)
	n, ok := a.AsNumber()
	require.True(t, ok)
	require.Equal(t, float64(1), n)

	c, ok := v.Get("c")
	require.True(t, ok)
	list, ok := c.AsList()
	require.True(t, ok)
	require.Len(t, list, 2)
	b, ok := list[0].AsBool()
	require.True(t, ok)
	require.True(t, b)
	require.True(t, list[1].IsNull())
}

func TestStringify(t *testing.T) {
	s, ok := Bool(true).Stringify()
	require.True(t, ok)
	require.Equal(t, "true", s)

	s, ok = Number(3.14).Stringify()
	require.True(t, ok)
	require.Equal(t, "3.14", s)

	s, ok = Null().Stringify()
	require.True(t, ok)
	require.Equal(t, "null", s)

	_, ok = List(String("a")).Stringify()
	require.False(t, ok)

	_, ok = EmptyStruct().Stringify()
	require.False(t, ok)
}

func TestEqualStructural(t *testing.T) {
	a := Struct(Field("x", Number(1)), Field("y", List(String("a"), String("b"))))
	b := Struct(Field("y", List(String("a"), String("b"))), Field("x", Number(1)))
	require.True(t, Equal(a, b))

	c := Struct(Field("x", Number(2)))
	require.False(t, Equal(a, c))
}

func TestStructpbRoundTrip(t *testing.T) {
	original := Struct(
		Field("name", String("seven")),
		Field("ok", Bool(true)),
		Field("n", Number(42)),
		Field("nil", Null()),
		Field("list", List(Number(1), Number(2))),
	)
	pb, err := ToStructpb(original)
	require.NoError(t, err)
	back := FromStructpb(pb)
	require.True(t, Equal(original, back))
}

func TestDottedFieldLookupHelpers(t *testing.T) {
	v := Struct(Field("a", Struct(Field("b", Struct(Field("c", Number(9)))))))
	a, ok := v.Get("a")
	require.True(t, ok)
	b, ok := a.Get("b")
	require.True(t, ok)
	c, ok := b.Get("c")
	require.True(t, ok)
	n, ok := c.AsNumber()
	require.True(t, ok)
	require.Equal(t, float64(9), n)
}
