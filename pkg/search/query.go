package search

import (
	"container/heap"
	"context"
	"sort"

	"github.com/relaydb/relay/pkg/log"
)

// Hit is one result: a document ordinal, which segment (or the live
// delta, SegmentID == "") produced it, and a score where higher is
// better (term hits score by match count, vector hits score by
// 1-cosine_distance).
type Hit struct {
	SegmentID string
	Ordinal   uint32
	Score     float64
}

// Index is a queryable collection of immutable segments plus the live
// delta every commit lands in first.
type Index struct {
	Delta    *Delta
	Segments []*Segment
}

// SearchText runs term across every segment and the delta, merging
// their per-source hit lists into a global top-K without materializing
// every candidate: each source is fully scored (postings lists are
// already small relative to a whole index) but only the first k results
// of the merged, descending-score stream are kept.
func (ix *Index) SearchText(ctx context.Context, term string, fuzzy int, k int) ([]Hit, error) {
	var streams [][]Hit
	var failures int

	if refs := ix.Delta.terms.Lookup(term); len(refs) > 0 {
		streams = append(streams, hitsFromRefs("", refs))
	}
	if fuzzy > 0 {
		for _, refs := range ix.Delta.terms.FuzzyLookup(term, fuzzy) {
			streams = append(streams, hitsFromRefs("", refs))
		}
	}

	for _, seg := range ix.Segments {
		hits, err := searchSegment(seg, term, fuzzy)
		if err != nil {
			failures++
			log.WithComponent("search").Warn().Err(err).Str("segment", seg.ID).Msg("segment search failed")
			continue
		}
		if len(hits) > 0 {
			streams = append(streams, hits)
		}
	}

	if failures > 0 && failures == len(ix.Segments) {
		return nil, errAllSegmentsFailed
	}
	return mergeTopK(streams, k), nil
}

func searchSegment(seg *Segment, term string, fuzzy int) ([]Hit, error) {
	refs := seg.Terms.Lookup(term)
	if fuzzy > 0 {
		for _, more := range seg.Terms.FuzzyLookup(term, fuzzy) {
			refs = append(refs, more...)
		}
	}
	live := make([]DocRef, 0, len(refs))
	for _, r := range refs {
		if !seg.Deleted.IsDeleted(r.Ordinal) {
			live = append(live, r)
		}
	}
	return hitsFromRefs(seg.ID, live), nil
}

func hitsFromRefs(segID string, refs []DocRef) []Hit {
	counts := make(map[uint32]int)
	for _, r := range refs {
		counts[r.Ordinal]++
	}
	hits := make([]Hit, 0, len(counts))
	for ord, n := range counts {
		hits = append(hits, Hit{SegmentID: segID, Ordinal: ord, Score: float64(n)})
	}
	return hits
}

// SearchVector runs a cosine-distance nearest-neighbor search over every
// segment's and the delta's vectors, honoring an optional field filter.
func (ix *Index) SearchVector(ctx context.Context, query []float32, filter map[string]string, k int) ([]Hit, error) {
	var streams [][]Hit

	streams = append(streams, vectorHits("", ix.Delta.vectors, query, filter))

	for _, seg := range ix.Segments {
		byOrd := make(map[uint32]Vector, len(seg.Vectors))
		for _, v := range seg.Vectors {
			if !seg.Deleted.IsDeleted(v.Ordinal) {
				byOrd[v.Ordinal] = v
			}
		}
		streams = append(streams, vectorHits(seg.ID, byOrd, query, filter))
	}

	return mergeTopK(streams, k), nil
}

func vectorHits(segID string, vectors map[uint32]Vector, query []float32, filter map[string]string) []Hit {
	hits := make([]Hit, 0, len(vectors))
	for ord, v := range vectors {
		if !matchesFilter(v, filter) {
			continue
		}
		dist := cosineDistance(query, v.Values)
		hits = append(hits, Hit{SegmentID: segID, Ordinal: ord, Score: 1 - dist})
	}
	return hits
}

// mergeTopK sorts each per-source hit list by descending score, then
// merges them through a min-heap bounded to size k (unbounded when k is
// 0), returning the kept hits in descending score order.
func mergeTopK(streams [][]Hit, k int) []Hit {
	for i := range streams {
		sort.Slice(streams[i], func(a, b int) bool { return streams[i][a].Score > streams[i][b].Score })
	}

	h := &hitHeap{}
	heap.Init(h)
	for _, s := range streams {
		for _, hit := range s {
			if h.Len() < k || k == 0 {
				heap.Push(h, hit)
			} else if hit.Score > (*h)[0].Score {
				heap.Pop(h)
				heap.Push(h, hit)
			}
		}
	}

	out := make([]Hit, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Hit)
	}
	return out
}

type hitHeap []Hit

func (h hitHeap) Len() int            { return len(h) }
func (h hitHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score } // min-heap
func (h hitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x interface{}) { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}
