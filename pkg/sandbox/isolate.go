package sandbox

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/relaydb/relay/pkg/apperr"
	"github.com/relaydb/relay/pkg/registry"
	"github.com/relaydb/relay/pkg/schema"
	"github.com/relaydb/relay/pkg/txn"
	"github.com/relaydb/relay/pkg/types"
)

// Environment is the deterministic context fixed at transaction begin:
// time, a randomness seed, and a fallback map of environment variables.
// Recording Now and Seed once and never re-reading them mid-transaction
// is what keeps a guest invocation deterministic across retries. EnvVars
// is only a fixture of last resort - envGet resolves a name against the
// persisted `_env_vars` system table through the transaction first
// (staging an ordinary by_id read-set entry the same as any document
// read), and only consults this map when no row exists.
type Environment struct {
	Now     time.Time
	Seed    int64
	EnvVars map[string]string
}

// Outcome is what a guest invocation reports back: either a result
// value or a structured error, plus log lines emitted via console.log.
type Outcome struct {
	Result   *types.Value
	Err      *apperr.Error
	LogLines []string
}

// Isolate is one deterministic, single-threaded guest invocation bound
// to a transaction. It is not safe for concurrent use, and is meant to
// be used once and discarded - a fresh Isolate per call, matching a
// single-threaded, cooperative execution model.
type Isolate struct {
	rt     *goja.Runtime
	tx     *txn.Transaction
	env    Environment
	limits Limits
	rng    *rand.Rand

	syscalls   atomic.Int64
	logLines   []string
	pendingErr *apperr.Error // set just before a syscall panics, read back in outcomeFromError
}

// NewIsolate builds a guest runtime wired to tx, with every syscall
// bound as a native function and the call stack capped per limits.
func NewIsolate(tx *txn.Transaction, env Environment, limits Limits) *Isolate {
	rt := goja.New()
	rt.SetMaxCallStackSize(limits.MaxCallStack)

	iso := &Isolate{
		rt:     rt,
		tx:     tx,
		env:    env,
		limits: limits,
		rng:    rand.New(rand.NewSource(env.Seed)),
	}
	iso.bind()
	return iso
}

// bind installs every host primitive as a native JS function. Each one
// increments the syscall counter first and throws a Timeout-classed error
// the moment the budget is exhausted, so a runaway guest is cut off at the
// boundary rather than after the fact.
func (iso *Isolate) bind() {
	db := iso.rt.NewObject()
	_ = db.Set("get", iso.wrap(iso.dbGet))
	_ = db.Set("insert", iso.wrap(iso.dbInsert))
	_ = db.Set("replace", iso.wrap(iso.dbReplace))
	_ = db.Set("patch", iso.wrap(iso.dbPatch))
	_ = db.Set("delete", iso.wrap(iso.dbDelete))
	_ = iso.rt.Set("db", db)

	_ = iso.rt.Set("envGet", iso.wrap(iso.envGet))
	_ = iso.rt.Set("now", iso.wrap(iso.now))
	_ = iso.rt.Set("random", iso.wrap(iso.random))

	sched := iso.rt.NewObject()
	_ = sched.Set("runAfter", iso.wrap(iso.schedulerRunAfter))
	_ = sched.Set("runAt", iso.wrap(iso.schedulerRunAt))
	_ = iso.rt.Set("scheduler", sched)

	console := iso.rt.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		iso.log(call)
		return goja.Undefined()
	})
	_ = iso.rt.Set("console", console)
}

// wrap meters every syscall against the syscall budget before running
// it, turning a budget-exhausted guest into a Timeout-classed host error
// rather than a silent hang.
func (iso *Isolate) wrap(fn func(goja.FunctionCall) (interface{}, error)) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		n := iso.syscalls.Add(1)
		if n > iso.limits.MaxSyscalls {
			iso.panicWith(apperr.New(apperr.Timeout, "sandbox: syscall budget exceeded"))
		}
		result, err := fn(call)
		if err != nil {
			iso.panicWith(err)
		}
		return iso.rt.ToValue(result)
	}
}

// panicWith records err as the pending structured error and throws a JS
// exception for it, so a native syscall's Go error surfaces to the
// guest as a normal catchable exception while outcomeFromError can
// still recover the original apperr.Error without depending on how
// goja's GoError wrapping round-trips through Export().
func (iso *Isolate) panicWith(err error) {
	appErr, ok := err.(*apperr.Error)
	if !ok {
		appErr = apperr.Wrap(apperr.System, err, "sandbox: syscall failed")
	}
	iso.pendingErr = appErr
	panic(iso.rt.NewGoError(err))
}

func (iso *Isolate) log(call goja.FunctionCall) {
	parts := make([]string, 0, len(call.Arguments))
	for _, arg := range call.Arguments {
		parts = append(parts, arg.String())
	}
	line := ""
	for i, p := range parts {
		if i > 0 {
			line += " "
		}
		line += p
	}
	iso.logLines = append(iso.logLines, line)
}

func (iso *Isolate) now(call goja.FunctionCall) (interface{}, error) {
	return iso.env.Now.UnixMilli(), nil
}

func (iso *Isolate) random(call goja.FunctionCall) (interface{}, error) {
	return iso.rng.Float64(), nil
}

// envGet reads a persisted `_env_vars` row through the transaction like
// any other document, which is what stages the read-set entry Bind's
// doc comment promises: a query that reads a name now invalidates when
// that name is later created, changed, or deleted, the same as a read
// against a user table. A name with no persisted row falls back to the
// static fixture map Environment carries, still after staging the read
// so a var created after the fact still invalidates.
func (iso *Isolate) envGet(call goja.FunctionCall) (interface{}, error) {
	if len(call.Arguments) < 1 {
		return nil, apperr.New(apperr.BadRequest, "sandbox: envGet requires a name")
	}
	name := call.Arguments[0].String()
	id := types.DocumentID{Tablet: registry.EnvVarsTablet, InternalID: types.InternalID(name)}
	v, err := iso.tx.Get(context.Background(), id)
	if err != nil {
		return nil, err
	}
	if v != nil {
		return registry.DecodeEnvVar(*v)
	}
	val, ok := iso.env.EnvVars[name]
	if !ok {
		return nil, nil
	}
	return val, nil
}

func (iso *Isolate) dbGet(call goja.FunctionCall) (interface{}, error) {
	id, err := documentIDArg(call)
	if err != nil {
		return nil, err
	}
	v, err := iso.tx.Get(context.Background(), id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return toJS(iso.rt, *v).Export(), nil
}

func (iso *Isolate) dbInsert(call goja.FunctionCall) (interface{}, error) {
	if len(call.Arguments) < 3 {
		return nil, apperr.New(apperr.BadRequest, "sandbox: insert requires (tablet, id, value)")
	}
	tablet := types.TabletID(call.Arguments[0].String())
	id := types.InternalID(call.Arguments[1].String())
	value, err := fromJS(call.Arguments[2])
	if err != nil {
		return nil, err
	}
	docID, err := iso.tx.Insert(context.Background(), tablet, id, value)
	if err != nil {
		return nil, err
	}
	return docID.String(), nil
}

func (iso *Isolate) dbReplace(call goja.FunctionCall) (interface{}, error) {
	id, err := documentIDArg(call)
	if err != nil {
		return nil, err
	}
	if len(call.Arguments) < 3 {
		return nil, apperr.New(apperr.BadRequest, "sandbox: replace requires (tablet, id, value)")
	}
	value, err := fromJS(call.Arguments[2])
	if err != nil {
		return nil, err
	}
	return nil, iso.tx.Replace(context.Background(), id, value)
}

func (iso *Isolate) dbPatch(call goja.FunctionCall) (interface{}, error) {
	id, err := documentIDArg(call)
	if err != nil {
		return nil, err
	}
	if len(call.Arguments) < 3 {
		return nil, apperr.New(apperr.BadRequest, "sandbox: patch requires (tablet, id, fields)")
	}
	patch, err := fromJS(call.Arguments[2])
	if err != nil {
		return nil, err
	}
	return nil, iso.tx.Patch(context.Background(), id, patch)
}

func (iso *Isolate) dbDelete(call goja.FunctionCall) (interface{}, error) {
	id, err := documentIDArg(call)
	if err != nil {
		return nil, err
	}
	return nil, iso.tx.Delete(context.Background(), id)
}

// schedulerRunAfter defers path to run delayMs after the transaction's
// fixed Now, inserting a `_scheduled_jobs` row into this same
// transaction so the deferral commits atomically with the rest of the
// guest's writes - it is never scheduled if the enclosing transaction
// conflicts and retries or rolls back.
func (iso *Isolate) schedulerRunAfter(call goja.FunctionCall) (interface{}, error) {
	if len(call.Arguments) < 2 {
		return nil, apperr.New(apperr.BadRequest, "sandbox: scheduler.runAfter requires (path, args[, delayMs])")
	}
	delayMs := int64(0)
	if len(call.Arguments) >= 3 {
		delayMs = call.Arguments[2].ToInteger()
	}
	executeAt := iso.env.Now.UnixMilli() + delayMs
	return iso.scheduleJob(call, executeAt)
}

// schedulerRunAt defers path to run at the given absolute wall-clock
// millisecond timestamp, the `runAt` counterpart to runAfter.
func (iso *Isolate) schedulerRunAt(call goja.FunctionCall) (interface{}, error) {
	if len(call.Arguments) < 3 {
		return nil, apperr.New(apperr.BadRequest, "sandbox: scheduler.runAt requires (path, args, executeAtMs)")
	}
	executeAt := call.Arguments[2].ToInteger()
	return iso.scheduleJob(call, executeAt)
}

func (iso *Isolate) scheduleJob(call goja.FunctionCall, executeAtMs int64) (interface{}, error) {
	path := call.Arguments[0].String()
	args, err := fromJS(call.Arguments[1])
	if err != nil {
		return nil, err
	}

	id := types.InternalID(uuid.NewString())
	job := schema.ScheduledJob{
		ID:              string(id),
		Path:            path,
		Args:            args,
		IdentitySubject: iso.tx.Identity().Subject,
		Status:          schema.JobPending,
		ScheduledAt:     types.Timestamp(iso.env.Now.UnixMilli()),
		ExecuteAt:       types.Timestamp(executeAtMs),
		MaxRetries:      0,
	}
	if _, err := iso.tx.Insert(context.Background(), registry.ScheduledJobsTablet, id, registry.EncodeScheduledJob(job)); err != nil {
		return nil, err
	}
	return string(id), nil
}

// documentIDArg reads the (tablet, id) pair every db syscall but insert
// takes as its first two arguments.
func documentIDArg(call goja.FunctionCall) (types.DocumentID, error) {
	if len(call.Arguments) < 2 {
		return types.DocumentID{}, apperr.New(apperr.BadRequest, "sandbox: document id must be supplied as (tablet, id)")
	}
	return types.DocumentID{
		Tablet:     types.TabletID(call.Arguments[0].String()),
		InternalID: types.InternalID(call.Arguments[1].String()),
	}, nil
}
