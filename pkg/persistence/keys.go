package persistence

import (
	"encoding/binary"

	"github.com/relaydb/relay/pkg/types"
)

// MaxIndexKeyBytes bounds the length of an index key accepted by Write.
// The transaction layer enforces this at the source (a document whose
// indexed field would overflow this bound is rejected before it ever
// reaches persistence), so encodeIndexKey never needs to truncate.
const MaxIndexKeyBytes = 1024

const docKeySep = 0x00
const indexKeySep = 0x00

// encodeDocKey builds the bbolt key for one document log row:
// tablet || 0x00 || uint16(len(id)) || id || ts(8 BE). The internal id
// is length-prefixed because InternalID is an opaque string, not a
// fixed-width integer; ts is fixed-width and big-endian last, so for a
// fixed (tablet, id) prefix bbolt's native cursor order is also log
// order.
func encodeDocKey(tablet types.TabletID, id types.InternalID, ts types.Timestamp) []byte {
	buf := make([]byte, 0, len(tablet)+1+2+len(id)+8)
	buf = append(buf, tablet...)
	buf = append(buf, docKeySep)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(id)))
	buf = append(buf, id...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(ts))
	return buf
}

// docKeyPrefix returns the bbolt prefix covering every version of every
// document in tablet.
func docKeyPrefix(tablet types.TabletID) []byte {
	buf := make([]byte, 0, len(tablet)+1)
	buf = append(buf, tablet...)
	buf = append(buf, docKeySep)
	return buf
}

// docKeyForID returns the prefix covering every version of a single
// document.
func docKeyForID(tablet types.TabletID, id types.InternalID) []byte {
	buf := docKeyPrefix(tablet)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(id)))
	buf = append(buf, id...)
	return buf
}

func decodeDocKey(key []byte) (tablet types.TabletID, id types.InternalID, ts types.Timestamp, ok bool) {
	sepAt := -1
	for i, b := range key {
		if b == docKeySep {
			sepAt = i
			break
		}
	}
	if sepAt < 0 || len(key) < sepAt+1+2 {
		return "", "", 0, false
	}
	tablet = types.TabletID(key[:sepAt])
	idLen := int(binary.BigEndian.Uint16(key[sepAt+1 : sepAt+3]))
	idStart := sepAt + 3
	idEnd := idStart + idLen
	if len(key) < idEnd+8 {
		return "", "", 0, false
	}
	id = types.InternalID(key[idStart:idEnd])
	ts = types.Timestamp(binary.BigEndian.Uint64(key[idEnd : idEnd+8]))
	return tablet, id, ts, true
}

// encodeIndexKey builds the bbolt key for one index log row:
// indexID || 0x00 || key || ts(8 BE). Grouping every version of a key
// under the same prefix lets a point lookup seek once and walk that
// key's versions in ascending timestamp order.
func encodeIndexKey(indexID string, key []byte, ts types.Timestamp) []byte {
	buf := make([]byte, 0, len(indexID)+1+len(key)+8)
	buf = append(buf, indexID...)
	buf = append(buf, indexKeySep)
	buf = append(buf, key...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(ts))
	return buf
}

// indexScanBounds turns a logical Interval over one index's keys into
// the [lower, upper) bbolt byte bounds that contain every version row
// for every key in the interval.
func indexScanBounds(indexID string, iv types.Interval) (lower, upper []byte, upperUnbounded bool) {
	prefix := append([]byte(indexID), indexKeySep)
	lower = append(append([]byte{}, prefix...), iv.Start...)
	if iv.End.Kind == types.EndUnbounded || iv.End.Bytes == nil {
		upper = types.ImmediateSuccessor(prefix)
		return lower, upper, upper == nil
	}
	upper = append(append([]byte{}, prefix...), iv.End.Bytes...)
	return lower, upper, false
}

func globalKeyBytes(key GlobalKey) []byte { return []byte(key) }
