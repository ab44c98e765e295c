package facade

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"

	"github.com/relaydb/relay/pkg/types"
)

// Fingerprint produces a stable, content-addressed identifier for a
// function's argument value, used as cache.QueryKey.ArgFingerprint.
// Unlike types.Value.String() (documented as logging-only, and lossy
// for array/set/map/object), this recurses into every element so that
// two calls with the same arguments always collide and two calls with
// different arguments practically never do. Object field order is not
// semantically meaningful (per types.ObjectField's doc comment), so
// fields are sorted before hashing; Set/Map are unordered bags, so
// each element (each key/value pair for a Map) is hashed independently,
// the SHA-256 digests are sorted and concatenated, giving the same
// fingerprint regardless of insertion order.
func Fingerprint(v types.Value) string {
	h := sha256.New()
	writeValue(h, v)
	return hex.EncodeToString(h.Sum(nil))
}

type byteWriter interface {
	Write(p []byte) (int, error)
}

func writeValue(w byteWriter, v types.Value) {
	var tag [1]byte
	tag[0] = byte(v.Kind)
	w.Write(tag[:])

	switch v.Kind {
	case types.KindNull:
	case types.KindInt64:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(v.Int64))
		w.Write(buf[:])
	case types.KindFloat64:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(v.Float64))
		w.Write(buf[:])
	case types.KindBool:
		if v.Bool {
			w.Write([]byte{1})
		} else {
			w.Write([]byte{0})
		}
	case types.KindString:
		writeLenPrefixed(w, []byte(v.Str))
	case types.KindBytes:
		writeLenPrefixed(w, v.Bytes)
	case types.KindArray:
		writeLen(w, len(v.Array))
		for _, e := range v.Array {
			writeValue(w, e)
		}
	case types.KindSet:
		writeUnordered(w, v.Set)
	case types.KindMap:
		encoded := make([][]byte, len(v.Map))
		for i, e := range v.Map {
			buf := sha256.New()
			writeValue(buf, e.Key)
			writeValue(buf, e.Value)
			encoded[i] = buf.Sum(nil)
		}
		sort.Slice(encoded, func(i, j int) bool { return lessBytes(encoded[i], encoded[j]) })
		writeLen(w, len(encoded))
		for _, b := range encoded {
			w.Write(b)
		}
	case types.KindObject:
		sorted := types.SortObjectFields(v.Object)
		writeLen(w, len(sorted))
		for _, f := range sorted {
			writeLenPrefixed(w, []byte(f.Name))
			writeValue(w, f.Value)
		}
	}
}

func writeUnordered(w byteWriter, vs []types.Value) {
	encoded := make([][]byte, len(vs))
	for i, e := range vs {
		buf := sha256.New()
		writeValue(buf, e)
		encoded[i] = buf.Sum(nil)
	}
	sort.Slice(encoded, func(i, j int) bool { return lessBytes(encoded[i], encoded[j]) })
	writeLen(w, len(encoded))
	for _, b := range encoded {
		w.Write(b)
	}
}

func writeLen(w byteWriter, n int) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	w.Write(buf[:])
}

func writeLenPrefixed(w byteWriter, b []byte) {
	writeLen(w, len(b))
	w.Write(b)
}

func lessBytes(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
