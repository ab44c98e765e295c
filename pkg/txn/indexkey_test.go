package txn

import (
	"bytes"
	"testing"

	"github.com/relaydb/relay/pkg/types"
	"github.com/stretchr/testify/require"
)

func keyFor(t *testing.T, v types.Value) []byte {
	t.Helper()
	k, err := EncodeFieldPrefix([]types.Value{v})
	require.NoError(t, err)
	return k
}

func TestEncodeFieldPrefixOrdersAcrossKinds(t *testing.T) {
	null := keyFor(t, types.Null())
	boolFalse := keyFor(t, types.Bool_(false))
	boolTrue := keyFor(t, types.Bool_(true))
	i := keyFor(t, types.Int(5))
	f := keyFor(t, types.Float(5.5))
	s := keyFor(t, types.Str("x"))
	b := keyFor(t, types.Bin([]byte("x")))

	require.True(t, bytes.Compare(null, boolFalse) < 0)
	require.True(t, bytes.Compare(boolFalse, boolTrue) < 0)
	require.True(t, bytes.Compare(boolTrue, i) < 0)
	require.True(t, bytes.Compare(i, f) < 0)
	require.True(t, bytes.Compare(f, s) < 0)
	require.True(t, bytes.Compare(s, b) < 0)
}

func TestEncodeFieldPrefixOrdersIntegers(t *testing.T) {
	neg := keyFor(t, types.Int(-5))
	zero := keyFor(t, types.Int(0))
	pos := keyFor(t, types.Int(5))
	require.True(t, bytes.Compare(neg, zero) < 0)
	require.True(t, bytes.Compare(zero, pos) < 0)
}

func TestEncodeFieldPrefixOrdersFloats(t *testing.T) {
	neg := keyFor(t, types.Float(-1.5))
	zero := keyFor(t, types.Float(0))
	pos := keyFor(t, types.Float(1.5))
	require.True(t, bytes.Compare(neg, zero) < 0)
	require.True(t, bytes.Compare(zero, pos) < 0)
}

func TestEncodeDocumentKeySharesPrefixAcrossDocuments(t *testing.T) {
	doc := types.ObjOf(types.Field("status", types.Str("active")))
	k1, err := EncodeDocumentKey([]string{"status"}, doc, "doc-a")
	require.NoError(t, err)
	k2, err := EncodeDocumentKey([]string{"status"}, doc, "doc-b")
	require.NoError(t, err)
	require.NotEqual(t, k1, k2)

	prefix, err := EncodeFieldPrefix([]types.Value{types.Str("active")})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(k1, prefix))
	require.True(t, bytes.HasPrefix(k2, prefix))

	iv := types.Prefix(prefix)
	require.True(t, iv.Contains(k1))
	require.True(t, iv.Contains(k2))
}

func TestEncodeIndexedValueRejectsCompositeKinds(t *testing.T) {
	_, err := EncodeFieldPrefix([]types.Value{types.Arr(types.Int(1))})
	require.Error(t, err)
}
