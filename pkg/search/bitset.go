package search

import (
	"encoding/binary"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// DeletedBitset tracks, per segment, which of its document ordinals have
// been superseded by a later delete or replace. Mutation goes through
// the roaring bitmap for O(1) add/remove; MarshalBinary/UnmarshalBinary
// serialize to the fixed wire format segments are flushed with, so an
// old segment written before a roaring upgrade still reads back the
// same way.
type DeletedBitset struct {
	bits *roaring.Bitmap
}

// NewDeletedBitset returns an empty bitset.
func NewDeletedBitset() *DeletedBitset {
	return &DeletedBitset{bits: roaring.New()}
}

// Delete marks ordinal as deleted.
func (d *DeletedBitset) Delete(ordinal uint32) { d.bits.Add(ordinal) }

// IsDeleted reports whether ordinal has been marked deleted.
func (d *DeletedBitset) IsDeleted(ordinal uint32) bool { return d.bits.Contains(ordinal) }

// Cardinality returns the number of deleted ordinals.
func (d *DeletedBitset) Cardinality() uint64 { return d.bits.GetCardinality() }

// Merge folds other's deleted ordinals into d, for compaction.
func (d *DeletedBitset) Merge(other *DeletedBitset) {
	if other == nil {
		return
	}
	d.bits.Or(other.bits)
}

const bitsetWireVersion = 1

// MarshalBinary writes the wire format documented for the persisted
// index record: a version byte, the document count, the deleted count,
// then ceil(count/64) little-endian u64 blocks, one bit per ordinal.
func (d *DeletedBitset) MarshalBinary(count uint32) ([]byte, error) {
	numDeleted := uint32(d.bits.GetCardinality())
	numBlocks := (count + 63) / 64
	buf := make([]byte, 1+4+4+int(numBlocks)*8)
	buf[0] = bitsetWireVersion
	binary.LittleEndian.PutUint32(buf[1:5], count)
	binary.LittleEndian.PutUint32(buf[5:9], numDeleted)

	it := d.bits.Iterator()
	for it.HasNext() {
		ordinal := it.Next()
		block := ordinal / 64
		bit := ordinal % 64
		off := 9 + int(block)*8
		v := binary.LittleEndian.Uint64(buf[off : off+8])
		v |= 1 << bit
		binary.LittleEndian.PutUint64(buf[off:off+8], v)
	}
	return buf, nil
}

// UnmarshalBinary parses the wire format MarshalBinary produces.
func (d *DeletedBitset) UnmarshalBinary(data []byte) error {
	if len(data) < 9 {
		return fmt.Errorf("search: deleted bitset too short: %d bytes", len(data))
	}
	if data[0] != bitsetWireVersion {
		return fmt.Errorf("search: unsupported deleted bitset version %d", data[0])
	}
	count := binary.LittleEndian.Uint32(data[1:5])
	numBlocks := (count + 63) / 64
	want := 9 + int(numBlocks)*8
	if len(data) < want {
		return fmt.Errorf("search: deleted bitset truncated: want %d bytes, got %d", want, len(data))
	}

	d.bits = roaring.New()
	for block := uint32(0); block < numBlocks; block++ {
		off := 9 + int(block)*8
		v := binary.LittleEndian.Uint64(data[off : off+8])
		for bit := 0; bit < 64; bit++ {
			if v&(1<<uint(bit)) != 0 {
				ordinal := block*64 + uint32(bit)
				if ordinal < count {
					d.bits.Add(ordinal)
				}
			}
		}
	}
	return nil
}
