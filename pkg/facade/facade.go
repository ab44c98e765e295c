package facade

import (
	"context"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/relaydb/relay/pkg/apperr"
	"github.com/relaydb/relay/pkg/cache"
	"github.com/relaydb/relay/pkg/config"
	"github.com/relaydb/relay/pkg/log"
	"github.com/relaydb/relay/pkg/metrics"
	"github.com/relaydb/relay/pkg/persistence"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/relaydb/relay/pkg/sandbox"
	"github.com/relaydb/relay/pkg/subscription"
	"github.com/relaydb/relay/pkg/txn"
	"github.com/relaydb/relay/pkg/types"
	"github.com/rs/zerolog"
)

// Committer is the slice of pkg/committer's API the façade needs: a
// snapshot to read at, retention-expiry rejection for that snapshot,
// and a place to commit mutations to. Kept narrow for the same reason
// sandbox.Committer and committer.Notifier are - the façade never
// imports pkg/committer's concrete type.
type Committer interface {
	Snapshot(ctx context.Context) (types.RepeatableTimestamp, error)
	CheckSnapshot(snapshot types.RepeatableTimestamp) error
	Commit(ctx context.Context, tx *txn.Transaction) (types.Timestamp, error)
}

// LogEmitter fans a function invocation's console output out to
// configured log sinks, independently of the client sync protocol.
// Satisfied by *logstream.Manager; nil by default (SetLogEmitter wires
// it in), in which case log lines are produced by the sandbox but never
// forwarded anywhere beyond it.
type LogEmitter interface {
	Emit(path string, lines []string)
}

// cachedQuery is what the façade's query cache stores: the computed
// result, the read set it depended on, and the snapshot it was computed
// at - everything Subscribe needs to register a subscription without
// re-running the query.
type cachedQuery struct {
	Value    types.Value
	ReadSet  types.ReadSet
	Snapshot types.Timestamp
}

// CallRequest is the common shape of a query, mutation, or action
// invocation.
type CallRequest struct {
	Identity  txn.Identity
	SessionID string
	RequestID string // mutations only; empty disables the idempotent fast path
	Component string
	Path      string
	Args      types.Value
	Admin     bool
	EnvVars   map[string]string
}

// QueryResult is returned by Query: the computed value plus the
// subscription token/channel a client can hold to learn when the result
// is stale.
type QueryResult struct {
	Value  types.Value
	Token  subscription.Token
	Notify <-chan struct{}
}

// MutationResult is returned by Mutation: the function's return value
// and the commit timestamp it landed at.
type MutationResult struct {
	Value *types.Value
	Ts    types.Timestamp
}

// Facade wires the committer, sandbox, cache, and subscription engine
// into the request-level operations: query, mutation, and action.
type Facade struct {
	reg       *registry.Registry
	reader    persistence.PersistenceReader
	committer Committer
	functions *FunctionTable
	gate      *StateGate
	cache     *cache.Cache[cache.QueryKey, cachedQuery]
	subs      *subscription.Engine
	idem      *idempotencyStore

	sandboxCfg config.SandboxLimits
	txnLimits  config.TransactionLimits

	maxMutationRetries int
	retryBaseDelay     time.Duration

	logs LogEmitter

	logger zerolog.Logger
}

// SetLogEmitter wires function log fan-out. Nil by default, in which
// case executed functions' console output is simply discarded once the
// sandbox run returns.
func (f *Facade) SetLogEmitter(logs LogEmitter) {
	f.logs = logs
}

func (f *Facade) emitLogs(path string, lines []string) {
	if f.logs == nil || len(lines) == 0 {
		return
	}
	f.logs.Emit(path, lines)
}

// New constructs a Facade. cacheCfg sizes the query result cache;
// idempotencySize bounds how many recent mutation outcomes are
// remembered for the at-most-once fast path. Both the query cache and
// the idempotency store are owned and built internally, since their
// value types are façade-internal.
func New(
	reg *registry.Registry,
	reader persistence.PersistenceReader,
	committer Committer,
	functions *FunctionTable,
	subs *subscription.Engine,
	cacheCfg config.CacheConfig,
	idempotencySize int,
	sandboxCfg config.SandboxLimits,
	txnLimits config.TransactionLimits,
) (*Facade, error) {
	queryCache, err := cache.New[cache.QueryKey, cachedQuery](cacheCfg.MaxEntries, cacheCfg.MaxBytes, cacheCfg.EntryTTL)
	if err != nil {
		return nil, err
	}
	idem, err := newIdempotencyStore(idempotencySize)
	if err != nil {
		return nil, err
	}
	return &Facade{
		reg:                reg,
		reader:             reader,
		committer:          committer,
		functions:          functions,
		gate:               NewStateGate(),
		cache:              queryCache,
		subs:               subs,
		idem:               idem,
		sandboxCfg:         sandboxCfg,
		txnLimits:          txnLimits,
		maxMutationRetries: 5,
		retryBaseDelay:     5 * time.Millisecond,
		logger:             log.WithComponent("facade"),
	}, nil
}

// State returns the backend state gate, for an admin endpoint to flip.
func (f *Facade) State() *StateGate { return f.gate }

// Functions returns the function table, for a schema-push endpoint to
// populate.
func (f *Facade) Functions() *FunctionTable { return f.functions }

// NotifyCommit implements committer.Notifier: every commit both wakes
// affected subscriptions and lazily invalidates affected cache entries,
// matching spec's "commits elsewhere refresh or invalidate the token"
// data-flow description.
func (f *Facade) NotifyCommit(ctx context.Context, ts types.Timestamp, entries []persistence.IndexEntry) {
	f.subs.NotifyCommit(ctx, ts, entries)
	for _, e := range entries {
		f.cache.Invalidate(e.IndexID, e.Key)
	}
}

// Query resolves req.Path as a query function, serving a cached result
// when possible and registering a subscription over whatever read set
// produced the answer.
func (f *Facade) Query(ctx context.Context, req CallRequest) (QueryResult, error) {
	if err := f.gate.Check(); err != nil {
		return QueryResult{}, err
	}
	reqLog := log.WithRequestID(req.RequestID)

	spec, err := f.functions.Resolve(req.Path)
	if err != nil {
		return QueryResult{}, err
	}
	if err := checkCall(spec, FunctionQuery, req.Admin); err != nil {
		return QueryResult{}, err
	}

	key := cache.QueryKey{Component: req.Component, UDFPath: req.Path, ArgFingerprint: Fingerprint(req.Args)}
	cached, err := f.cache.GetOrBuild(key, func() (cachedQuery, types.ReadSet, int, error) {
		return f.runQuery(ctx, req, spec)
	})
	if err != nil {
		reqLog.Error().Str("path", req.Path).Err(err).Msg("query failed")
		return QueryResult{}, err
	}

	token, notifyCh := f.subs.Subscribe(cached.ReadSet, cached.Snapshot)
	return QueryResult{Value: cached.Value, Token: token, Notify: notifyCh}, nil
}

func (f *Facade) runQuery(ctx context.Context, req CallRequest, spec FunctionSpec) (cachedQuery, types.ReadSet, int, error) {
	timer := metrics.NewTimer()
	snapshot, err := f.committer.Snapshot(ctx)
	if err != nil {
		return cachedQuery{}, types.ReadSet{}, 0, err
	}
	if err := f.committer.CheckSnapshot(snapshot); err != nil {
		return cachedQuery{}, types.ReadSet{}, 0, err
	}

	tx := txn.Begin(req.Identity, snapshot, f.reg, f.reader, f.txnLimits)
	iso := sandbox.NewIsolate(tx, sandbox.Environment{Now: time.Now(), Seed: seedFor(snapshot, req.RequestID), EnvVars: req.EnvVars}, f.limitsFor(FunctionQuery))
	outcome := iso.Run(spec.Source)
	metrics.FunctionExecutionDuration.WithLabelValues(string(FunctionQuery)).Observe(timer.Duration().Seconds())
	f.emitLogs(req.Path, outcome.LogLines)

	if outcome.Err != nil {
		metrics.FunctionExecutionsTotal.WithLabelValues(string(FunctionQuery), "error").Inc()
		return cachedQuery{}, types.ReadSet{}, 0, outcome.Err
	}
	metrics.FunctionExecutionsTotal.WithLabelValues(string(FunctionQuery), "success").Inc()

	var result types.Value
	if outcome.Result != nil {
		result = *outcome.Result
	}
	cq := cachedQuery{Value: result, ReadSet: tx.ReadSet(), Snapshot: types.Timestamp(snapshot)}
	return cq, tx.ReadSet(), int(types.Size(result)), nil
}

// Mutation resolves req.Path as a mutation function and runs the OCC
// retry loop: a conflicting commit is retried with jittered backoff up
// to maxMutationRetries times, and a repeated (session, request) pair
// returns the previously committed outcome instead of re-executing.
func (f *Facade) Mutation(ctx context.Context, req CallRequest) (MutationResult, error) {
	if err := f.gate.Check(); err != nil {
		return MutationResult{}, err
	}
	reqLog := log.WithRequestID(req.RequestID)

	if outcome, ok := f.idem.lookup(req.SessionID, req.RequestID); ok {
		reqLog.Debug().Str("path", req.Path).Msg("mutation served from idempotency cache")
		if outcome.Err != nil {
			return MutationResult{}, outcome.Err
		}
		return MutationResult{Value: outcome.Result, Ts: outcome.Ts}, nil
	}

	spec, err := f.functions.Resolve(req.Path)
	if err != nil {
		return MutationResult{}, err
	}
	if err := checkCall(spec, FunctionMutation, req.Admin); err != nil {
		return MutationResult{}, err
	}

	for attempt := 0; ; attempt++ {
		timer := metrics.NewTimer()
		snapshot, err := f.committer.Snapshot(ctx)
		if err != nil {
			return MutationResult{}, err
		}
		if err := f.committer.CheckSnapshot(snapshot); err != nil {
			f.idem.record(req.SessionID, req.RequestID, mutationOutcome{Err: asAppErr(err)})
			return MutationResult{}, err
		}

		tx := txn.Begin(req.Identity, snapshot, f.reg, f.reader, f.txnLimits)
		iso := sandbox.NewIsolate(tx, sandbox.Environment{Now: time.Now(), Seed: seedFor(snapshot, req.RequestID), EnvVars: req.EnvVars}, f.limitsFor(FunctionMutation))
		outcome := iso.Run(spec.Source)
		metrics.FunctionExecutionDuration.WithLabelValues(string(FunctionMutation)).Observe(timer.Duration().Seconds())
		f.emitLogs(req.Path, outcome.LogLines)

		if outcome.Err != nil {
			metrics.FunctionExecutionsTotal.WithLabelValues(string(FunctionMutation), "error").Inc()
			f.idem.record(req.SessionID, req.RequestID, mutationOutcome{Err: outcome.Err})
			return MutationResult{}, outcome.Err
		}

		ts, err := f.committer.Commit(ctx, tx)
		if err != nil {
			if apperr.CodeOf(err) == apperr.Conflict && attempt < f.maxMutationRetries {
				metrics.OCCRetriesTotal.Inc()
				reqLog.Debug().Str("path", req.Path).Int("attempt", attempt).Msg("mutation retrying after OCC conflict")
				time.Sleep(jitteredBackoff(f.retryBaseDelay, attempt))
				continue
			}
			metrics.FunctionExecutionsTotal.WithLabelValues(string(FunctionMutation), "error").Inc()
			f.idem.record(req.SessionID, req.RequestID, mutationOutcome{Err: asAppErr(err)})
			return MutationResult{}, err
		}

		metrics.FunctionExecutionsTotal.WithLabelValues(string(FunctionMutation), "success").Inc()
		f.idem.record(req.SessionID, req.RequestID, mutationOutcome{Result: outcome.Result, Ts: ts})
		return MutationResult{Value: outcome.Result, Ts: ts}, nil
	}
}

// Action resolves req.Path as an action function and runs it as a
// single sandbox sub-invocation: a fresh transaction against the
// committer's current snapshot, committed once the guest returns.
// Under this concurrency model, an OCC conflict here is reported to the
// caller as a developer error rather than retried by the façade - an
// action is expected to decide for itself whether to re-issue a
// sub-call, not have the façade silently re-run side-effecting guest
// code. pkg/sandbox binds no guest-callable sub-query or sub-mutation
// call (its guest bindings are db, envGet, now, random, console and
// scheduler.runAfter/runAt), so an action's entire body runs as the one
// sub-invocation and is not split into independent sub-calls.
func (f *Facade) Action(ctx context.Context, req CallRequest) (MutationResult, error) {
	if err := f.gate.Check(); err != nil {
		return MutationResult{}, err
	}

	spec, err := f.functions.Resolve(req.Path)
	if err != nil {
		return MutationResult{}, err
	}
	if err := checkCall(spec, FunctionAction, req.Admin); err != nil {
		return MutationResult{}, err
	}

	var result *types.Value
	begin := func(snapshot types.RepeatableTimestamp) *txn.Transaction {
		return txn.Begin(req.Identity, snapshot, f.reg, f.reader, f.txnLimits)
	}
	ts, err := sandbox.RunSubInvocation(ctx, f.committer, begin, func(tx *txn.Transaction) error {
		iso := sandbox.NewIsolate(tx, sandbox.Environment{Now: time.Now(), Seed: seedFor(tx.Snapshot(), req.RequestID), EnvVars: req.EnvVars}, f.limitsFor(FunctionAction))
		outcome := iso.Run(spec.Source)
		f.emitLogs(req.Path, outcome.LogLines)
		if outcome.Err != nil {
			return outcome.Err
		}
		result = outcome.Result
		return nil
	})
	if err != nil {
		metrics.FunctionExecutionsTotal.WithLabelValues(string(FunctionAction), "error").Inc()
		return MutationResult{}, err
	}
	metrics.FunctionExecutionsTotal.WithLabelValues(string(FunctionAction), "success").Inc()
	return MutationResult{Value: result, Ts: ts}, nil
}

// seedFor derives the isolate's deterministic RNG seed from the
// transaction's snapshot and the request id: the snapshot XORed with an
// FNV-64a hash of the request id. The request id stays the same across
// an OCC retry, but a retry only follows a conflicting commit, so its
// snapshot (and therefore its seed) differs; the same snapshot and
// request id always yield the same seed.
func seedFor(snapshot types.RepeatableTimestamp, requestID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(requestID))
	return int64(snapshot) ^ int64(h.Sum64())
}

// limitsFor builds the sandbox.Limits a function type runs under from
// the deployment's configured timeouts/instruction budgets, falling
// back to sandbox's own conservative defaults for the fields
// config.SandboxLimits does not carry (call-stack depth, array length).
func (f *Facade) limitsFor(t FunctionType) sandbox.Limits {
	switch t {
	case FunctionMutation:
		l := sandbox.DefaultMutationLimits()
		l.WallClock = f.sandboxCfg.MutationTimeout
		l.MaxSyscalls = f.sandboxCfg.MutationMaxInstructions
		return l
	case FunctionAction:
		l := sandbox.DefaultActionLimits()
		l.WallClock = f.sandboxCfg.ActionTimeout
		return l
	default:
		l := sandbox.DefaultQueryLimits()
		l.WallClock = f.sandboxCfg.QueryTimeout
		l.MaxSyscalls = f.sandboxCfg.QueryMaxInstructions
		return l
	}
}

func asAppErr(err error) *apperr.Error {
	if ae, ok := err.(*apperr.Error); ok {
		return ae
	}
	return apperr.Wrap(apperr.System, err, "facade: unclassified error")
}

// jitteredBackoff returns a delay growing exponentially with attempt,
// capped at 500ms, with up to 50% random jitter so that a burst of
// transactions conflicting on the same commit don't all retry in
// lockstep and conflict again.
func jitteredBackoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > 500*time.Millisecond {
			d = 500 * time.Millisecond
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d + jitter
}
