package search

import (
	"context"

	"github.com/relaydb/relay/pkg/metrics"
)

// CompactionCandidates picks, in list order, up to maxSmallCount
// segments whose Count is at most smallThreshold (larger segments in
// between are skipped) to merge; a simple
// size threshold is enough here since segment count on one index stays
// small relative to a whole deployment's document count.
func CompactionCandidates(segments []*Segment, maxSmallCount int, smallThreshold uint32) []*Segment {
	var small []*Segment
	for _, s := range segments {
		if s.Count <= smallThreshold {
			small = append(small, s)
		}
		if len(small) >= maxSmallCount {
			break
		}
	}
	return small
}

// Compact merges the listed segments into one: postings are reference
// counted per document, so merging just replays every live (non
// deleted) document's Incref calls into a fresh term table rather than
// byte-copying postings. A document deleted in an input segment is left
// out of the merged one (terms and vectors alike), so the merged
// segment's deleted bitset starts empty and live documents get new,
// dense ordinals.
func Compact(ctx context.Context, segments []*Segment) *Segment {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SearchCompactDuration)

	merged := NewSegment()
	var nextOrdinal uint32

	for _, seg := range segments {
		remap := make(map[uint32]uint32)
		seg.Terms.trie.Walk(func(k []byte, v interface{}) bool {
			term := string(k)
			p := v.(*posting)
			for ref := range p.docs {
				if seg.Deleted.IsDeleted(ref.Ordinal) {
					continue
				}
				newOrd, ok := remap[ref.Ordinal]
				if !ok {
					newOrd = nextOrdinal
					nextOrdinal++
					remap[ref.Ordinal] = newOrd
				}
				merged.Terms.Incref(term, DocRef{Ordinal: newOrd, Field: ref.Field})
			}
			return false
		})
		for _, vec := range seg.Vectors {
			if seg.Deleted.IsDeleted(vec.Ordinal) {
				continue
			}
			newOrd, ok := remap[vec.Ordinal]
			if !ok {
				newOrd = nextOrdinal
				nextOrdinal++
				remap[vec.Ordinal] = newOrd
			}
			merged.Vectors = append(merged.Vectors, Vector{Ordinal: newOrd, Values: vec.Values, Filter: vec.Filter})
		}
	}

	merged.Count = nextOrdinal
	metrics.SearchSegmentsTotal.Add(float64(1 - len(segments)))
	return merged
}
