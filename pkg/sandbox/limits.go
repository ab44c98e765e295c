package sandbox

import "time"

// Limits bounds one guest invocation. goja exposes no per-opcode
// instruction counter, so "instruction count" is approximated by a
// syscall budget (every db, envGet, now, random and scheduler call is
// metered) backed by
// the same wall-clock watchdog that enforces WallClock - a guest stuck
// in a pure-JS loop with no syscalls still gets terminated by the
// watchdog, just later than one that trips the syscall budget first.
type Limits struct {
	WallClock      time.Duration
	MaxSyscalls    int64
	MaxCallStack   int
	MaxArrayLength int
}

// DefaultQueryLimits are conservative bounds for the deterministic
// query isolate.
func DefaultQueryLimits() Limits {
	return Limits{
		WallClock:      time.Second,
		MaxSyscalls:    10_000,
		MaxCallStack:   256,
		MaxArrayLength: 1 << 20,
	}
}

// DefaultMutationLimits match the query isolate's bounds - mutations run
// in the same deterministic, single-threaded isolate pool and get the
// same hard timeout: user function timeouts are hard.
func DefaultMutationLimits() Limits {
	return DefaultQueryLimits()
}

// DefaultActionLimits are looser than query/mutation limits: actions may
// perform real external I/O and run on the separate action environment,
// so they get a much longer wall clock and syscall budget.
func DefaultActionLimits() Limits {
	return Limits{
		WallClock:      10 * time.Minute,
		MaxSyscalls:    1_000_000,
		MaxCallStack:   256,
		MaxArrayLength: 1 << 20,
	}
}
