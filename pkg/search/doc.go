/*
Package search is the text and vector search index: a sequence of
immutable, blob-stored segments plus an in-memory delta that absorbs
recent commits until the flusher rolls it into a new segment. Term
postings are reference-counted so the delta's memory footprint tracks
live documents rather than the deletion history, and deleted documents
are tracked per segment as a compact bitset rather than rewritten out of
the segment's postings immediately - that rewrite is the compactor's
job, not the commit path's.

Query() fans a search out across every segment plus the delta, merges
their lazily-produced top-K streams with a min-heap, and tolerates
individual segment failures as long as at least one segment answered.
*/
package search
