package subscription

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/relaydb/relay/pkg/log"
	"github.com/relaydb/relay/pkg/metrics"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/types"
	"github.com/rs/zerolog"
)

// ID identifies one live subscription.
type ID string

// Token is the opaque handle a client presents to ask "has anything my
// last query read changed since then". It is only ever compared against
// the subscription it was minted for; two tokens for different
// subscriptions are not comparable.
type Token struct {
	ID       ID
	Snapshot types.Timestamp
}

type entry struct {
	readSet  types.ReadSet
	snapshot types.Timestamp
	staleAt  *types.Timestamp // nil until a commit invalidates it
	notify   chan struct{}
}

// Engine is the interval map from commit writes to affected subscribers.
// Subscribe/Unsubscribe/invalidation are all serialized on mu, matching
// the single-writer contract the read-set checks need to stay consistent;
// RefreshToken takes the same lock for a read, since marking a
// subscription stale and checking it otherwise race.
type Engine struct {
	mu     sync.Mutex
	subs   map[ID]*entry
	nextID uint64
	logger zerolog.Logger
}

// New returns an empty subscription engine.
func New() *Engine {
	return &Engine{
		subs:   make(map[ID]*entry),
		logger: log.WithComponent("subscription"),
	}
}

// Subscribe registers readSet as the dependency set of a live query
// whose result was computed as of snapshot. It returns a token the
// caller can later pass to RefreshToken, and a channel that receives a
// non-blocking notification the first time a commit invalidates the
// subscription.
func (e *Engine) Subscribe(readSet types.ReadSet, snapshot types.Timestamp) (Token, <-chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := ID(strconv.FormatUint(atomic.AddUint64(&e.nextID, 1), 10))
	e.subs[id] = &entry{
		readSet:  readSet,
		snapshot: snapshot,
		notify:   make(chan struct{}, 1),
	}
	metrics.SubscriptionsActive.Inc()
	return Token{ID: id, Snapshot: snapshot}, e.subs[id].notify
}

// Unsubscribe removes a subscription. It is idempotent: unsubscribing
// twice, or unsubscribing an id that was never registered, is a no-op.
func (e *Engine) Unsubscribe(id ID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub, ok := e.subs[id]
	if !ok {
		return
	}
	delete(e.subs, id)
	close(sub.notify)
	metrics.SubscriptionsActive.Dec()
}

// RefreshToken reports whether token's read set survived unchanged
// through newTs: if no commit between token.Snapshot and newTs wrote an
// index key the subscription's read set covers, it returns a token
// advanced to newTs and true. Otherwise it returns false and the caller
// must re-run the query to get a fresh read set.
func (e *Engine) RefreshToken(token Token, newTs types.Timestamp) (Token, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub, ok := e.subs[token.ID]
	if !ok {
		return Token{}, false
	}
	if sub.staleAt != nil && *sub.staleAt <= newTs {
		return Token{}, false
	}
	return Token{ID: token.ID, Snapshot: newTs}, true
}

// NotifyCommit implements committer.Notifier. Every still-fresh
// subscription is checked against every index entry the commit wrote;
// the first intersection marks it stale and wakes its notify channel.
// Subscriptions already marked stale are skipped - once invalid, a
// subscription stays invalid until the client resubscribes with a fresh
// read set, so there is nothing left to check.
func (e *Engine) NotifyCommit(_ context.Context, ts types.Timestamp, entries []persistence.IndexEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, sub := range e.subs {
		if sub.staleAt != nil {
			continue
		}
		for _, ent := range entries {
			if sub.readSet.Intersects(ent.IndexID, types.Point(ent.Key)) {
				invalidated := ts
				sub.staleAt = &invalidated
				metrics.SubscriptionInvalidationsTotal.Inc()
				notify(sub.notify)
				break
			}
		}
	}
}

// notify sends a non-blocking wakeup, matching pkg/events' broadcast:
// a subscriber that hasn't drained its previous notification yet just
// misses this one, since the channel only ever means "something
// changed, re-check", not "here is what changed".
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Count returns the number of live subscriptions, for diagnostics.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}
