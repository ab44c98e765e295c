package search

import (
	"math"

	"github.com/google/uuid"
)

// Vector is a stored embedding plus the filter field values a query can
// restrict a vector search to.
type Vector struct {
	Ordinal uint32
	Values  []float32
	Filter  map[string]string
}

// Segment is an immutable unit of the search index once the flusher has
// rolled a delta into it: its own term dictionary, vectors, and deleted
// bitset. A segment is never mutated after creation - compaction
// produces a new segment and atomically replaces the ones it merged,
// rather than editing one in place, so a query holding a reference to a
// segment never observes a half-written one.
type Segment struct {
	ID      string
	Terms   *TermTable
	Vectors []Vector
	Deleted *DeletedBitset
	Count   uint32
}

// NewSegment returns an empty segment with a fresh id.
func NewSegment() *Segment {
	return &Segment{
		ID:      uuid.NewString(),
		Terms:   NewTermTable(),
		Deleted: NewDeletedBitset(),
	}
}

// cosineDistance returns 1 - cosine similarity, so 0 is identical and 2
// is opposite; vectors of mismatched length are treated as infinitely
// distant rather than panicking, since a schema change can leave stale
// segments holding a shorter embedding than the query's.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return math.Inf(1)
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return 1 - cos
}

// matchesFilter reports whether v's filter fields are a superset of
// want - an empty want always matches.
func matchesFilter(v Vector, want map[string]string) bool {
	for k, val := range want {
		if v.Filter[k] != val {
			return false
		}
	}
	return true
}
