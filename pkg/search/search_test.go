package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTermTableIncrefDecref(t *testing.T) {
	tbl := NewTermTable()
	tbl.Incref("hello", DocRef{Ordinal: 1, Field: "title"})
	tbl.Incref("hello", DocRef{Ordinal: 2, Field: "title"})
	require.Len(t, tbl.Lookup("hello"), 2)

	tbl.Decref("hello", DocRef{Ordinal: 1, Field: "title"})
	require.Len(t, tbl.Lookup("hello"), 1)

	tbl.Decref("hello", DocRef{Ordinal: 2, Field: "title"})
	require.Empty(t, tbl.Lookup("hello"))
}

func TestFuzzyLookupFindsNearMiss(t *testing.T) {
	tbl := NewTermTable()
	tbl.Incref("hello", DocRef{Ordinal: 1, Field: "title"})
	tbl.Incref("world", DocRef{Ordinal: 2, Field: "title"})

	matches := tbl.FuzzyLookup("hallo", 1)
	require.Contains(t, matches, "hello")
	require.NotContains(t, matches, "world")
}

func TestWithinLevenshteinBound(t *testing.T) {
	require.True(t, withinLevenshteinBound("hello", "hello", 0))
	require.True(t, withinLevenshteinBound("hello", "hallo", 1))
	require.False(t, withinLevenshteinBound("hello", "hallo", 0))
	require.False(t, withinLevenshteinBound("hello", "xyzzy", 2))
}

func TestDeletedBitsetRoundTrip(t *testing.T) {
	d := NewDeletedBitset()
	d.Delete(3)
	d.Delete(130)

	data, err := d.MarshalBinary(200)
	require.NoError(t, err)

	got := NewDeletedBitset()
	require.NoError(t, got.UnmarshalBinary(data))
	require.True(t, got.IsDeleted(3))
	require.True(t, got.IsDeleted(130))
	require.False(t, got.IsDeleted(4))
}

func TestDeltaApplyThenDrain(t *testing.T) {
	d := NewDelta()
	d.Apply(DocDiff{
		Ordinal: 1,
		NewText: map[string]string{"title": "hello world"},
	})
	d.Apply(DocDiff{
		Ordinal: 2,
		NewText: map[string]string{"title": "hello there"},
	})

	seg := d.Drain()
	require.Len(t, seg.Terms.Lookup("hello"), 2)
	require.Equal(t, 0, d.Size())
}

func TestIndexSearchTextMergesDeltaAndSegments(t *testing.T) {
	delta := NewDelta()
	delta.Apply(DocDiff{Ordinal: 1, NewText: map[string]string{"title": "hello hello"}})

	seg := NewSegment()
	seg.Terms.Incref("hello", DocRef{Ordinal: 9, Field: "title"})
	seg.Count = 10

	ix := &Index{Delta: delta, Segments: []*Segment{seg}}
	hits, err := ix.SearchText(context.Background(), "hello", 0, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
}

func TestSegmentDeletedOrdinalExcludedFromResults(t *testing.T) {
	seg := NewSegment()
	seg.Terms.Incref("hello", DocRef{Ordinal: 1, Field: "title"})
	seg.Deleted.Delete(1)

	ix := &Index{Delta: NewDelta(), Segments: []*Segment{seg}}
	hits, err := ix.SearchText(context.Background(), "hello", 0, 10)
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestSegmentEncodeDecodeRoundTrip(t *testing.T) {
	seg := NewSegment()
	seg.Terms.Incref("hello", DocRef{Ordinal: 1, Field: "title"})
	seg.Count = 5
	seg.Deleted.Delete(2)

	data, err := EncodeSegment(seg)
	require.NoError(t, err)

	got, err := DecodeSegment(data)
	require.NoError(t, err)
	require.Equal(t, seg.ID, got.ID)
	require.Len(t, got.Terms.Lookup("hello"), 1)
	require.True(t, got.Deleted.IsDeleted(2))
}

func TestCompactMergesSegmentsAndDropsDeleted(t *testing.T) {
	a := NewSegment()
	a.Terms.Incref("hello", DocRef{Ordinal: 0, Field: "title"})
	a.Terms.Incref("world", DocRef{Ordinal: 1, Field: "title"})
	a.Deleted.Delete(1)
	a.Count = 2

	b := NewSegment()
	b.Terms.Incref("hello", DocRef{Ordinal: 0, Field: "title"})
	b.Count = 1

	merged := Compact(context.Background(), []*Segment{a, b})
	require.Len(t, merged.Terms.Lookup("hello"), 2)
	require.Empty(t, merged.Terms.Lookup("world"))
}
