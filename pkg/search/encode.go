package search

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// wireSegment is the flat, gob-friendly shape a Segment is serialized
// to for blob storage: term postings expanded back into plain slices,
// since *TermTable's radix trie isn't itself serializable.
type wireSegment struct {
	ID      string
	Count   uint32
	Deleted []byte
	Terms   map[string][]DocRef
	Vectors []Vector
}

// EncodeSegment serializes a segment for content-addressed blob
// storage.
func EncodeSegment(seg *Segment) ([]byte, error) {
	w := wireSegment{ID: seg.ID, Count: seg.Count, Vectors: seg.Vectors}
	deleted, err := seg.Deleted.MarshalBinary(seg.Count)
	if err != nil {
		return nil, err
	}
	w.Deleted = deleted

	w.Terms = make(map[string][]DocRef)
	seg.Terms.trie.Walk(func(k []byte, v interface{}) bool {
		p := v.(*posting)
		refs := make([]DocRef, 0, len(p.docs))
		for ref := range p.docs {
			refs = append(refs, ref)
		}
		w.Terms[string(k)] = refs
		return false
	})

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil, fmt.Errorf("search: encode segment %s: %w", seg.ID, err)
	}
	return buf.Bytes(), nil
}

// DecodeSegment rebuilds a Segment from bytes EncodeSegment produced.
func DecodeSegment(data []byte) (*Segment, error) {
	var w wireSegment
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return nil, fmt.Errorf("search: decode segment: %w", err)
	}

	seg := &Segment{ID: w.ID, Count: w.Count, Vectors: w.Vectors, Terms: NewTermTable()}
	for term, refs := range w.Terms {
		for _, ref := range refs {
			seg.Terms.Incref(term, ref)
		}
	}
	seg.Deleted = NewDeletedBitset()
	if len(w.Deleted) > 0 {
		if err := seg.Deleted.UnmarshalBinary(w.Deleted); err != nil {
			return nil, err
		}
	}
	return seg, nil
}
