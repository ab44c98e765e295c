package search

import (
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// DocRef identifies one document's occurrence under a term: the
// document's internal id ordinal in the owning segment/delta plus the
// field it matched in, so a query can apply per-field filters without a
// second lookup.
type DocRef struct {
	Ordinal uint32
	Field   string
}

// posting is one term's reference-counted occurrence list. Refcounting
// means an Incref/Decref pair around a document update is O(log N) and
// never rewrites postings for documents it didn't touch; Decref drops a
// posting from the trie as soon as its refcount reaches zero.
type posting struct {
	refs int32
	docs map[DocRef]int32
}

// TermTable is the delta's mutable term dictionary: an immutable radix
// trie of term -> *posting, guarded by a single writer mutex matching
// spec's "search memory delta is mutated by the flusher and by commit
// post-hooks; access is serialized on a single writer". The trie itself
// is what FuzzyLookup walks, so the term index is the
// same structure whether you're looking up one term or fuzzy-matching
// many.
type TermTable struct {
	mu   sync.Mutex
	trie *iradix.Tree
}

// NewTermTable returns an empty term table.
func NewTermTable() *TermTable {
	return &TermTable{trie: iradix.New()}
}

// Incref adds ref to term's posting list, creating the posting if this
// is the term's first occurrence.
func (t *TermTable) Incref(term string, ref DocRef) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := []byte(term)
	var p *posting
	if v, ok := t.trie.Get(key); ok {
		p = v.(*posting)
	} else {
		p = &posting{docs: make(map[DocRef]int32)}
	}
	p.refs++
	p.docs[ref]++
	t.trie, _, _ = t.trie.Insert(key, p)
}

// Decref removes one reference to ref under term. When a posting's
// refcount reaches zero it is removed from the trie entirely, so a term
// nobody's document uses anymore does not linger in the fuzzy-match
// walk.
func (t *TermTable) Decref(term string, ref DocRef) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := []byte(term)
	v, ok := t.trie.Get(key)
	if !ok {
		return
	}
	p := v.(*posting)
	if p.docs[ref] > 0 {
		p.docs[ref]--
		if p.docs[ref] == 0 {
			delete(p.docs, ref)
		}
		p.refs--
	}
	if p.refs <= 0 {
		t.trie, _, _ = t.trie.Delete(key)
		return
	}
	t.trie, _, _ = t.trie.Insert(key, p)
}

// Lookup returns the live document refs for an exact term match.
func (t *TermTable) Lookup(term string) []DocRef {
	t.mu.Lock()
	trie := t.trie
	t.mu.Unlock()

	v, ok := trie.Get([]byte(term))
	if !ok {
		return nil
	}
	p := v.(*posting)
	out := make([]DocRef, 0, len(p.docs))
	for ref := range p.docs {
		out = append(out, ref)
	}
	return out
}

// FuzzyLookup returns every term within maxEdits of query (by bounded
// Levenshtein distance) and the union of their document refs. The radix
// trie compresses multi-byte edges, so a true per-character DFA walk
// would have to re-derive character boundaries from each edge label;
// instead this walks the trie's already-sorted term order once and
// scores each term with the bounded edit-distance automaton in
// levenshtein.go, which still prunes a term the moment its distance
// exceeds maxEdits rather than computing the full distance matrix.
func (t *TermTable) FuzzyLookup(query string, maxEdits int) map[string][]DocRef {
	t.mu.Lock()
	trie := t.trie
	t.mu.Unlock()

	matches := make(map[string][]DocRef)
	trie.Walk(func(k []byte, v interface{}) bool {
		term := string(k)
		if withinLevenshteinBound(query, term, maxEdits) {
			p := v.(*posting)
			refs := make([]DocRef, 0, len(p.docs))
			for ref := range p.docs {
				refs = append(refs, ref)
			}
			matches[term] = refs
		}
		return false
	})
	return matches
}

// Len reports the number of distinct live terms, for flush-threshold
// decisions.
func (t *TermTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trie.Len()
}
