package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInternalEncodingRoundTrip(t *testing.T) {
	cases := []Value{
		Null(),
		Int(-9001),
		Float(3.5),
		Bool_(true),
		Str("hello"),
		Bin([]byte{0x00, 0xff, 0x10}),
		Arr(Int(1), Str("two"), Bool_(false)),
		{Kind: KindSet, Set: []Value{Int(1), Int(2), Int(2)}},
		{Kind: KindMap, Map: []MapEntry{{Key: Str("a"), Value: Int(1)}}},
		ObjOf(Field("name", Str("ada")), Field("age", Int(30))),
	}
	for _, v := range cases {
		raw, err := EncodeInternal(v)
		require.NoError(t, err)
		got, err := DecodeInternal(raw)
		require.NoError(t, err)
		require.True(t, Equal(v, got), "round trip mismatch for %s: got %s", v, got)
	}
}

func TestCleanEncodingIsPureFunctionOfValue(t *testing.T) {
	v := ObjOf(Field("id", Int(42)), Field("name", Str("x")))
	a, err := EncodeClean(v)
	require.NoError(t, err)
	b, err := EncodeClean(v)
	require.NoError(t, err)
	require.JSONEq(t, string(a), string(b))
}

func TestIntervalContainsAndIntersects(t *testing.T) {
	iv := Prefix([]byte("user:"))
	require.True(t, iv.Contains([]byte("user:123")))
	require.False(t, iv.Contains([]byte("vser:123")))

	a := Interval{Start: []byte("a"), StartIncluded: true, End: Excluded([]byte("m"))}
	b := Interval{Start: []byte("m"), StartIncluded: true, End: Excluded([]byte("z"))}
	require.False(t, Intersects(a, b))

	c := Interval{Start: []byte("f"), StartIncluded: true, End: Excluded([]byte("z"))}
	require.True(t, Intersects(a, c))
}

func TestWriteSetPreservesFirstPreviousImage(t *testing.T) {
	ws := NewWriteSet()
	id := DocumentID{Tablet: "t1", InternalID: "d1"}
	original := &Document{ID: id, Value: Int(1)}
	ws.SetPrevious(id, original)
	ws.Stage(id, &Document{ID: id, Value: Int(2)})
	ws.SetPrevious(id, &Document{ID: id, Value: Int(99)}) // should be ignored

	w, ok := ws.Get(id)
	require.True(t, ok)
	require.Same(t, original, w.Previous)
	require.Equal(t, int64(2), w.New.Value.Int64)
}
