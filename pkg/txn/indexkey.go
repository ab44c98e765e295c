package txn

import (
	"encoding/binary"
	"math"

	"github.com/relaydb/relay/pkg/apperr"
	"github.com/relaydb/relay/pkg/types"
)

// Index key tags. Ordering the tag space this way makes byte comparison
// of encoded keys agree with the natural ordering of the underlying
// values across kinds, not just within one kind.
const (
	tagNull byte = iota
	tagFalse
	tagTrue
	tagInt64
	tagFloat64
	tagString
	tagBytes
)

// fieldValue resolves a (possibly dotted) field path against a document
// value, one Object level per segment.
func fieldValue(doc types.Value, path string) (types.Value, bool) {
	current := doc
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		segment := path[start:i]
		v, ok := current.Get(segment)
		if !ok {
			return types.Value{}, false
		}
		current = v
		start = i + 1
	}
	return current, true
}

// encodeIndexedValue appends the sortable byte encoding of v to buf.
// Arrays, sets, maps, and objects cannot be indexed field values: for
// them it returns a BadRequest, which Transaction.computeIndexUpdates
// passes back to reject the insert/replace.
func encodeIndexedValue(buf []byte, v types.Value) ([]byte, error) {
	switch v.Kind {
	case types.KindNull:
		return append(buf, tagNull), nil
	case types.KindBool:
		if v.Bool {
			return append(buf, tagTrue), nil
		}
		return append(buf, tagFalse), nil
	case types.KindInt64:
		buf = append(buf, tagInt64)
		return binary.BigEndian.AppendUint64(buf, uint64(v.Int64)^0x8000000000000000), nil
	case types.KindFloat64:
		buf = append(buf, tagFloat64)
		bits := math.Float64bits(v.Float64)
		if bits&0x8000000000000000 != 0 {
			bits = ^bits
		} else {
			bits |= 0x8000000000000000
		}
		return binary.BigEndian.AppendUint64(buf, bits), nil
	case types.KindString:
		buf = append(buf, tagString)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.Str)))
		return append(buf, v.Str...), nil
	case types.KindBytes:
		buf = append(buf, tagBytes)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.Bytes)))
		return append(buf, v.Bytes...), nil
	default:
		return nil, apperr.New(apperr.BadRequest, "indexed field has unsupported kind %v; only scalar values may be indexed", v.Kind)
	}
}

// EncodeFieldPrefix builds the sortable byte prefix for an equality
// lookup on the first len(values) indexed fields. Used for both point
// lookups and as the start of a range scan.
func EncodeFieldPrefix(values []types.Value) ([]byte, error) {
	var buf []byte
	var err error
	for _, v := range values {
		buf, err = encodeIndexedValue(buf, v)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// EncodeDocumentKey builds the full index key for one document's value
// at a given set of indexed fields: the field-value encoding followed by
// the document's internal id, so that distinct documents sharing the
// same indexed field values still produce distinct keys while every key
// sharing the field-value prefix remains contiguous in byte order for a
// range scan.
func EncodeDocumentKey(fields []string, doc types.Value, id types.InternalID) ([]byte, error) {
	values := make([]types.Value, len(fields))
	for i, f := range fields {
		v, ok := fieldValue(doc, f)
		if !ok {
			v = types.Null()
		}
		values[i] = v
	}
	prefix, err := EncodeFieldPrefix(values)
	if err != nil {
		return nil, err
	}
	key := make([]byte, 0, len(prefix)+1+len(id))
	key = append(key, prefix...)
	key = append(key, 0x00)
	key = append(key, id...)
	return key, nil
}
