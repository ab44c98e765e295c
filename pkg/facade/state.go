package facade

import (
	"sync/atomic"

	"github.com/relaydb/relay/pkg/apperr"
)

// BackendState is the tenant-level gate the façade checks before any
// call: requests are rejected when the backend is {paused, disabled,
// suspended}.
type BackendState string

const (
	// BackendActive serves every request normally.
	BackendActive BackendState = "active"
	// BackendPaused is a reversible, developer-initiated halt (e.g. to
	// stop a runaway function or freeze state during a migration).
	BackendPaused BackendState = "paused"
	// BackendDisabled is an operator-initiated halt (billing, abuse).
	BackendDisabled BackendState = "disabled"
	// BackendSuspended is a platform-initiated halt pending review.
	BackendSuspended BackendState = "suspended"
)

// StateGate holds the current backend state behind an atomic.Value so
// every request can check it without taking a lock; Set is called by
// the admin backend_state endpoint (httpapi's HandleAdminBackendState).
type StateGate struct {
	v atomic.Value // BackendState
}

// NewStateGate returns a gate defaulting to BackendActive.
func NewStateGate() *StateGate {
	g := &StateGate{}
	g.v.Store(BackendActive)
	return g
}

// Set updates the backend state.
func (g *StateGate) Set(s BackendState) {
	g.v.Store(s)
}

// Get returns the current backend state.
func (g *StateGate) Get() BackendState {
	return g.v.Load().(BackendState)
}

// Check returns a BackendUnavailable error naming the current state if
// it is anything other than active.
func (g *StateGate) Check() error {
	if s := g.Get(); s != BackendActive {
		return apperr.New(apperr.BackendUnavailable, "backend is %s", s)
	}
	return nil
}
