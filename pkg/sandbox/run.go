package sandbox

import (
	"time"

	"github.com/dop251/goja"
	"github.com/relaydb/relay/pkg/apperr"
)

// Run compiles and executes source, expecting it to evaluate to the
// guest's result value. A watchdog goroutine interrupts the runtime if
// it is still executing after limits.WallClock, surfacing a timeout
// error instead of hanging the host thread forever - crossing the
// boundary terminates the guest.
func (iso *Isolate) Run(source string) Outcome {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-time.After(iso.limits.WallClock):
			iso.rt.Interrupt(apperr.New(apperr.Timeout, "sandbox: wall clock limit exceeded"))
		case <-done:
		}
	}()

	result, err := iso.rt.RunString(source)
	if err != nil {
		return iso.outcomeFromError(err)
	}

	v, convErr := fromJS(result)
	if convErr != nil {
		return Outcome{Err: apperr.Wrap(apperr.DeveloperError, convErr, "sandbox: could not convert guest result"), LogLines: iso.logLines}
	}
	return Outcome{Result: &v, LogLines: iso.logLines}
}

func (iso *Isolate) outcomeFromError(err error) Outcome {
	if iso.pendingErr != nil {
		return Outcome{Err: iso.pendingErr, LogLines: iso.logLines}
	}
	if interrupted, ok := err.(*goja.InterruptedError); ok {
		if appErr, ok := interrupted.Value().(*apperr.Error); ok {
			return Outcome{Err: appErr, LogLines: iso.logLines}
		}
		return Outcome{Err: apperr.New(apperr.Timeout, "sandbox: guest interrupted"), LogLines: iso.logLines}
	}
	if exc, ok := err.(*goja.Exception); ok {
		return Outcome{Err: iso.errorFromException(exc), LogLines: iso.logLines}
	}
	return Outcome{Err: apperr.Wrap(apperr.System, err, "sandbox: guest execution failed"), LogLines: iso.logLines}
}

// errorFromException captures a guest throw's message, stack, and the
// thrown value as a structured payload: the host captures message,
// source-mapped stack, and payload. Source-mapping itself
// (guest stack frames back to original TS/JS source lines) belongs to
// the build pipeline that compiles a developer's functions, not this
// runtime boundary, so the stack recorded here is the raw goja stack.
func (iso *Isolate) errorFromException(exc *goja.Exception) *apperr.Error {
	appErr := apperr.New(apperr.DeveloperError, "%s", exc.Error())
	if goErr, ok := exc.Value().Export().(*apperr.Error); ok {
		return goErr
	}
	payload, convErr := fromJS(exc.Value())
	if convErr == nil {
		appErr = appErr.WithPayload(payload)
	}
	return appErr
}
