package search

import (
	"strings"
	"sync"
)

// DocDiff is one commit's effect on a searchable document: the field
// text/vectors it now has (nil on delete) versus what it had before,
// translated into term inc/decref calls rather than a full reindex.
type DocDiff struct {
	Ordinal    uint32
	OldText    map[string]string
	NewText    map[string]string
	NewVector  []float32
	NewFilter  map[string]string
	HasVector  bool
	Deleted    bool
}

// Delta is the mutable, in-memory tail of the search index: every write
// since the last flush. It is mutated from two places per spec's
// concurrency model - the flusher draining it and commit post-hooks
// feeding it new diffs - both serialized through mu.
type Delta struct {
	mu      sync.Mutex
	terms   *TermTable
	vectors map[uint32]Vector
}

// NewDelta returns an empty delta.
func NewDelta() *Delta {
	return &Delta{terms: NewTermTable(), vectors: make(map[uint32]Vector)}
}

// Apply folds one document diff into the delta: decref every term the
// document's old text contributed, incref every term its new text
// contributes, and replace its vector entry (or remove it on delete).
func (d *Delta) Apply(diff DocDiff) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for field, text := range diff.OldText {
		for _, term := range tokenize(text) {
			d.terms.Decref(term, DocRef{Ordinal: diff.Ordinal, Field: field})
		}
	}
	if diff.Deleted {
		delete(d.vectors, diff.Ordinal)
		return
	}
	for field, text := range diff.NewText {
		for _, term := range tokenize(text) {
			d.terms.Incref(term, DocRef{Ordinal: diff.Ordinal, Field: field})
		}
	}
	if diff.HasVector {
		d.vectors[diff.Ordinal] = Vector{Ordinal: diff.Ordinal, Values: diff.NewVector, Filter: diff.NewFilter}
	} else {
		delete(d.vectors, diff.Ordinal)
	}
}

// Drain atomically swaps in a fresh, empty delta and returns the old
// one's contents as a Segment, for the flusher to write to blob
// storage. Taking mu for the whole swap is what makes this safe against
// a concurrent Apply landing in neither the old nor the new delta.
func (d *Delta) Drain() *Segment {
	d.mu.Lock()
	defer d.mu.Unlock()

	seg := NewSegment()
	seg.Terms = d.terms
	seg.Vectors = make([]Vector, 0, len(d.vectors))
	for _, v := range d.vectors {
		seg.Vectors = append(seg.Vectors, v)
	}
	seg.Count = uint32(len(d.vectors))

	d.terms = NewTermTable()
	d.vectors = make(map[uint32]Vector)
	return seg
}

// Size approximates the delta's memory footprint by its distinct term
// count plus its vector count, the
// signal the flusher polls to decide whether to roll a new segment.
func (d *Delta) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.terms.Len() + len(d.vectors)
}

// tokenize lowercases and splits on whitespace/punctuation. Good enough
// for the term index's unit of indexing; language-aware stemming is out
// of scope here.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}
