package facade

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/relaydb/relay/pkg/apperr"
	"github.com/relaydb/relay/pkg/types"
)

// mutationOutcome is the recorded result of a committed (or permanently
// failed) mutation, keyed by (session, request) so a retried client
// request returns the same answer instead of re-executing the guest
// code: a repeated request_id must return the previously committed
// result without re-executing.
type mutationOutcome struct {
	Result *types.Value
	Err    *apperr.Error
	Ts     types.Timestamp
}

// idempotencyKey scopes a request id by session, since request ids are
// only guaranteed unique within one client session.
type idempotencyKey struct {
	SessionID string
	RequestID string
}

// idempotencyStore bounds at-most-once memoization to the most recent N
// mutations per deployment - unbounded retention would leak memory
// forever, and a client that wants at-most-once beyond the LRU's
// horizon is expected to not retry that stale a request.
type idempotencyStore struct {
	mu    sync.Mutex
	cache *lru.Cache[idempotencyKey, mutationOutcome]
}

func newIdempotencyStore(size int) (*idempotencyStore, error) {
	c, err := lru.New[idempotencyKey, mutationOutcome](size)
	if err != nil {
		return nil, err
	}
	return &idempotencyStore{cache: c}, nil
}

func (s *idempotencyStore) lookup(sessionID, requestID string) (mutationOutcome, bool) {
	if requestID == "" {
		return mutationOutcome{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Get(idempotencyKey{SessionID: sessionID, RequestID: requestID})
}

func (s *idempotencyStore) record(sessionID, requestID string, outcome mutationOutcome) {
	if requestID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(idempotencyKey{SessionID: sessionID, RequestID: requestID}, outcome)
}
